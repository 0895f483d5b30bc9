package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// fakeServer scripts an in-memory MCP server for session and client tests.
// Each Dial produces a fresh fakeTransport bound to it, so reconnect paths
// can be exercised by closing the current transport.
type fakeServer struct {
	mu        sync.Mutex
	tools     []fakeTool
	resources []fakeResource

	callDelay    time.Duration
	silenceCalls atomic.Bool // swallow tools/call requests (simulates a stall)

	methodCounts map[string]*atomic.Int64
	transports   []*fakeTransport
}

type fakeTool struct {
	name, description, schema string
	handler                   func(args map[string]interface{}) (string, bool)
}

type fakeResource struct {
	uri, mimeType, text string
}

func newFakeServer() *fakeServer {
	return &fakeServer{methodCounts: make(map[string]*atomic.Int64)}
}

func (s *fakeServer) addTool(name, description, schema string, handler func(map[string]interface{}) (string, bool)) {
	s.mu.Lock()
	s.tools = append(s.tools, fakeTool{name: name, description: description, schema: schema, handler: handler})
	s.mu.Unlock()
}

func (s *fakeServer) addResource(uri, mimeType, text string) {
	s.mu.Lock()
	s.resources = append(s.resources, fakeResource{uri: uri, mimeType: mimeType, text: text})
	s.mu.Unlock()
}

func (s *fakeServer) calls(method string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.methodCounts[method]; ok {
		return c.Load()
	}
	return 0
}

func (s *fakeServer) record(method string) {
	s.mu.Lock()
	c, ok := s.methodCounts[method]
	if !ok {
		c = &atomic.Int64{}
		s.methodCounts[method] = c
	}
	s.mu.Unlock()
	c.Add(1)
}

func (s *fakeServer) dialer() Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		t := &fakeTransport{server: s, recv: make(chan []byte, 32)}
		s.mu.Lock()
		s.transports = append(s.transports, t)
		s.mu.Unlock()
		return t, nil
	})
}

func (s *fakeServer) current() *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transports) == 0 {
		return nil
	}
	return s.transports[len(s.transports)-1]
}

func (s *fakeServer) handle(t *fakeTransport, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return
	}
	s.record(req.Method)

	switch req.Method {
	case "initialize":
		t.respond(req.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"serverInfo":      map[string]interface{}{"name": "fake", "version": "0.0.1"},
		}, nil)
	case "notifications/initialized":
		// notification, no reply
	case "tools/list":
		s.mu.Lock()
		tools := make([]map[string]interface{}, 0, len(s.tools))
		for _, tool := range s.tools {
			tools = append(tools, map[string]interface{}{
				"name":        tool.name,
				"description": tool.description,
				"inputSchema": json.RawMessage(tool.schema),
			})
		}
		s.mu.Unlock()
		t.respond(req.ID, map[string]interface{}{"tools": tools}, nil)
	case "resources/list":
		s.mu.Lock()
		resources := make([]map[string]interface{}, 0, len(s.resources))
		for _, r := range s.resources {
			resources = append(resources, map[string]interface{}{"uri": r.uri, "mimeType": r.mimeType})
		}
		s.mu.Unlock()
		t.respond(req.ID, map[string]interface{}{"resources": resources}, nil)
	case "tools/call":
		if s.silenceCalls.Load() {
			return
		}
		go s.handleToolCall(t, req)
	case "resources/read":
		go s.handleResourceRead(t, req)
	default:
		t.respond(req.ID, nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method})
	}
}

func (s *fakeServer) handleToolCall(t *fakeTransport, req Request) {
	if s.callDelay > 0 {
		time.Sleep(s.callDelay)
	}

	params, _ := req.Params.(map[string]interface{})
	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]interface{})

	s.mu.Lock()
	var tool *fakeTool
	for i := range s.tools {
		if s.tools[i].name == name {
			tool = &s.tools[i]
			break
		}
	}
	s.mu.Unlock()

	if tool == nil {
		t.respond(req.ID, nil, &RPCError{Code: CodeInvalidParams, Message: "unknown tool: " + name})
		return
	}
	text, isErr := "", false
	if tool.handler != nil {
		text, isErr = tool.handler(args)
	}
	t.respond(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
		"isError": isErr,
	}, nil)
}

func (s *fakeServer) handleResourceRead(t *fakeTransport, req Request) {
	if s.callDelay > 0 {
		time.Sleep(s.callDelay)
	}

	params, _ := req.Params.(map[string]interface{})
	uri, _ := params["uri"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.resources {
		if r.uri == uri {
			t.respond(req.ID, map[string]interface{}{
				"contents": []map[string]interface{}{{"uri": r.uri, "mimeType": r.mimeType, "text": r.text}},
			}, nil)
			return
		}
	}
	t.respond(req.ID, nil, &RPCError{Code: CodeInvalidParams, Message: "unknown resource: " + uri})
}

// notifyListChanged pushes a catalog change notification to the client.
func (s *fakeServer) notifyListChanged() {
	t := s.current()
	if t == nil {
		return
	}
	payload, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "notifications/tools/list_changed"})
	t.deliver(payload)
}

// fakeTransport is an in-memory Transport wired to a fakeServer.
type fakeTransport struct {
	server *fakeServer

	mu     sync.Mutex
	closed bool
	recv   chan []byte
}

func (t *fakeTransport) Start(ctx context.Context) error { return nil }

func (t *fakeTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport closed")
	}
	t.server.handle(t, payload)
	return nil
}

func (t *fakeTransport) Receive() <-chan []byte { return t.recv }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recv)
	}
	return nil
}

func (t *fakeTransport) respond(id interface{}, result interface{}, rpcErr *RPCError) {
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	payload, _ := json.Marshal(resp)
	t.deliver(payload)
}

func (t *fakeTransport) deliver(payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.recv <- payload
}

const addSchema = `{
	"type": "object",
	"properties": {
		"a": {"type": "integer", "description": "first addend"},
		"b": {"type": "integer", "description": "second addend"}
	},
	"required": ["a", "b"]
}`

// standardServer builds a fake server with the builtin demo catalog.
func standardServer() *fakeServer {
	s := newFakeServer()
	s.addTool("add", "Add two numbers", addSchema, func(args map[string]interface{}) (string, bool) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return fmt.Sprintf("%d", int(a)+int(b)), false
	})
	s.addTool("greet", "Greet someone", `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
		func(args map[string]interface{}) (string, bool) {
			name, _ := args["name"].(string)
			return "Hello, " + name + "!", false
		})
	s.addResource("data://example/greeting", "application/json", `{"message":"welcome"}`)
	s.addResource("data://example/high_temperature_prompt", "text/plain", "prompt text")
	return s
}

// startTestSession spins up a session against the server with fast timers.
func startTestSession(tb interface {
	Helper()
	Cleanup(func())
	Fatalf(string, ...interface{})
}, server *fakeServer) *Session {
	tb.Helper()

	sess, err := NewSession(SessionConfig{
		Dialer:         server.dialer(),
		CallTimeout:    2 * time.Second,
		ReconnectBase:  5 * time.Millisecond,
		ReconnectCap:   20 * time.Millisecond,
		ExpireInterval: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
	if err != nil {
		tb.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		tb.Fatalf("Start: %v", err)
	}
	tb.Cleanup(func() { _ = sess.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.WaitReady(ctx); err != nil {
		tb.Fatalf("WaitReady: %v", err)
	}
	return sess
}
