package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDemoServer(t *testing.T) *Server {
	t.Helper()
	registry, err := NewDemoRegistry()
	require.NoError(t, err)
	srv, err := NewServer(Config{Name: "test", Registry: registry, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return srv
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID interface{} `json:"id"`
}

func call(t *testing.T, srv *Server, method string, params interface{}) rpcReply {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	require.NoError(t, err)

	respBytes := srv.Handle(context.Background(), payload)
	require.NotNil(t, respBytes)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(respBytes, &reply))
	return reply
}

func TestServer_Initialize(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]interface{}{"name": "test-client"},
	})
	require.Nil(t, reply.Error)
	assert.Contains(t, string(reply.Result), "serverInfo")
}

func TestServer_ToolsList(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "tools/list", nil)
	require.Nil(t, reply.Error)

	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"add", "greet", "get_time", "get_time_zone", "duck_duck_go", "get_cat_image"}, names)
	assert.Contains(t, string(result.Tools[0].InputSchema), `"required"`)
}

func TestServer_ToolsCall(t *testing.T) {
	srv := newDemoServer(t)

	tests := []struct {
		name     string
		tool     string
		args     map[string]interface{}
		expected string
	}{
		{name: "add", tool: "add", args: map[string]interface{}{"a": 5, "b": 3}, expected: "8"},
		{name: "greet default language", tool: "greet", args: map[string]interface{}{"name": "Ana"}, expected: "Hello, Ana!"},
		{name: "greet zh", tool: "greet", args: map[string]interface{}{"name": "Ana", "language": "zh"}, expected: "你好，Ana！"},
		{name: "search", tool: "duck_duck_go", args: map[string]interface{}{"query": "golang"}, expected: "DuckDuckGo search: golang"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := call(t, srv, "tools/call", map[string]interface{}{
				"name": tt.tool, "arguments": tt.args,
			})
			require.Nil(t, reply.Error)

			var result struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
				IsError bool `json:"isError"`
			}
			require.NoError(t, json.Unmarshal(reply.Result, &result))
			assert.False(t, result.IsError)
			require.Len(t, result.Content, 1)
			assert.Equal(t, tt.expected, result.Content[0].Text)
		})
	}
}

func TestServer_ToolsCallUnknownTool(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "tools/call", map[string]interface{}{"name": "nope"})
	require.NotNil(t, reply.Error)
	assert.Contains(t, reply.Error.Message, "unknown tool")
}

func TestServer_ToolsCallInvalidArguments(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "tools/call", map[string]interface{}{
		"name": "add", "arguments": map[string]interface{}{"a": "five"},
	})
	require.NotNil(t, reply.Error)
	assert.Contains(t, reply.Error.Message, "invalid arguments")
}

func TestServer_ResourcesRead(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "resources/read", map[string]interface{}{"uri": "data://example/greeting"})
	require.Nil(t, reply.Error)

	var result struct {
		Contents []struct {
			URI      string `json:"uri"`
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	assert.Contains(t, result.Contents[0].Text, "Welcome to mcpbridge!")
}

func TestServer_UnknownMethod(t *testing.T) {
	srv := newDemoServer(t)

	reply := call(t, srv, "bogus/method", nil)
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
}

func TestServer_NotificationGetsNoReply(t *testing.T) {
	srv := newDemoServer(t)

	payload := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Nil(t, srv.Handle(context.Background(), payload))
}

func TestServer_ServeStdio(t *testing.T) {
	srv := newDemoServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":2}}}`,
	}, "\n") + "\n"

	var out strings.Builder
	err := srv.ServeStdio(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"text":"4"`)
}

func TestServer_SSEHandshake(t *testing.T) {
	srv := newDemoServer(t)
	ts := httptest.NewServer(srv.HTTPHandler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	lines := []string{}
	for len(lines) < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for endpoint event")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	assert.Equal(t, "event: endpoint", lines[0])
	assert.Contains(t, lines[1], "data: /messages?session_id=")
}

func TestRegistry_RejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "d", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}},
		{name: "empty description", def: ToolDefinition{Name: "x", Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil }}},
		{name: "nil handler", def: ToolDefinition{Name: "x", Description: "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.RegisterTool(tt.def))
		})
	}
}
