package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mcpbridge/pkg/agent"
	"github.com/harun/mcpbridge/pkg/llm"
	"github.com/harun/mcpbridge/pkg/mcp"
)

type fakeBridge struct {
	healthy   bool
	tools     []mcp.ToolDescriptor
	resources []mcp.ResourceDescriptor
	callErr   error
	callFn    func(name string, args map[string]interface{}) (*mcp.ToolOutput, error)
	readFn    func(uri string) (*mcp.ResourceContent, error)
	lastURI   string
}

func (b *fakeBridge) Healthy() bool { return b.healthy }

func (b *fakeBridge) ListTools(context.Context) ([]mcp.ToolDescriptor, error) {
	return b.tools, nil
}

func (b *fakeBridge) ListResources(context.Context) ([]mcp.ResourceDescriptor, error) {
	return b.resources, nil
}

func (b *fakeBridge) CallTool(_ context.Context, name string, args map[string]interface{}, _ time.Duration) (*mcp.ToolOutput, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	return b.callFn(name, args)
}

func (b *fakeBridge) ReadResource(_ context.Context, uri string, _ time.Duration) (*mcp.ResourceContent, error) {
	b.lastURI = uri
	return b.readFn(uri)
}

type fakeProcessor struct {
	result  agent.Result
	err     error
	lastReq agent.Request
}

func (p *fakeProcessor) Process(_ context.Context, req agent.Request) (agent.Result, error) {
	p.lastReq = req
	return p.result, p.err
}

// fixedProvider answers every request with the same text.
type fixedProvider struct {
	text string
	err  error
}

func (p *fixedProvider) Generate(context.Context, llm.Request) (*llm.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{Text: p.text}, nil
}

func (p *fixedProvider) Name() string { return "fixed" }

func demoBridge() *fakeBridge {
	return &fakeBridge{
		healthy: true,
		tools: []mcp.ToolDescriptor{{
			Name:        "add",
			Description: "Add two numbers",
			Parameters: []mcp.ToolParameter{
				{Name: "a", Type: "integer", Description: "First addend", Required: true},
				{Name: "b", Type: "integer", Description: "Second addend", Required: true},
			},
		}},
		resources: []mcp.ResourceDescriptor{
			{URI: "data://example/greeting", MIMEType: "application/json"},
			{URI: "data://example/high_temperature_prompt"},
		},
		callFn: func(name string, args map[string]interface{}) (*mcp.ToolOutput, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return &mcp.ToolOutput{Content: []mcp.ContentBlock{
				{Type: "text", Text: fmt.Sprintf("%d", int(a)+int(b))},
			}}, nil
		},
		readFn: func(uri string) (*mcp.ResourceContent, error) {
			if uri != "data://example/greeting" {
				return nil, &mcp.UnknownResourceError{URI: uri}
			}
			return &mcp.ResourceContent{
				URI:      uri,
				MIMEType: "application/json",
				Text:     `{"message":"Welcome!"}`,
			}, nil
		},
	}
}

func newTestServer(t *testing.T, opts ...func(*Config)) (*Server, *fakeBridge, *fakeProcessor) {
	t.Helper()
	bridge := demoBridge()
	processor := &fakeProcessor{result: agent.Result{Answer: "done", Steps: []agent.Step{}, Iterations: 1}}

	cfg := Config{
		Port:      8080,
		Bridge:    bridge,
		Processor: processor,
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv, bridge, processor
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestBridgeHealth(t *testing.T) {
	srv, bridge, _ := newTestServer(t)

	w := doJSON(t, srv.Router(), http.MethodGet, "/api/tools/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	bridge.healthy = false
	w = doJSON(t, srv.Router(), http.MethodGet, "/api/tools/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"mcp_connected":false`)
}

func TestListTools(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/api/tools", "")

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tools []toolInfo `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "add", resp.Tools[0].Name)
	require.Len(t, resp.Tools[0].Parameters, 2)
	assert.True(t, resp.Tools[0].Parameters[0].Required)
}

func TestCallTool(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", `{"params":{"a":5,"b":3}}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp callToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "8", resp.Result)
	assert.Empty(t, resp.LLMExplanation)
}

func TestCallTool_EmptyBody(t *testing.T) {
	srv, bridge, _ := newTestServer(t)
	bridge.callFn = func(name string, args map[string]interface{}) (*mcp.ToolOutput, error) {
		assert.Empty(t, args)
		return &mcp.ToolOutput{Content: []mcp.ContentBlock{{Type: "text", Text: "ok"}}}, nil
	}

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallTool_UseLLM(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.Explainer = &fixedProvider{text: "Five plus three makes eight."}
	})

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", `{"params":{"a":5,"b":3},"use_llm":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp callToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "8", resp.Result)
	assert.Equal(t, "Five plus three makes eight.", resp.LLMExplanation)
}

func TestCallTool_UseLLMFailureOmitsExplanation(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.Explainer = &fixedProvider{err: fmt.Errorf("%w: rate limited", llm.ErrUnavailable)}
	})

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", `{"params":{"a":5,"b":3},"use_llm":true}`)

	// The tool result still comes back; only the explanation is dropped.
	require.Equal(t, http.StatusOK, w.Code)

	var resp callToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "8", resp.Result)
	assert.Empty(t, resp.LLMExplanation)
}

func TestCallTool_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "not ready", err: mcp.ErrNotReady, wantStatus: 503, wantKind: "bridge_not_ready"},
		{name: "not connected", err: mcp.ErrNotConnected, wantStatus: 503, wantKind: "bridge_not_ready"},
		{name: "disconnected", err: mcp.ErrDisconnected, wantStatus: 502, wantKind: "bridge_disconnected"},
		{name: "timeout", err: mcp.ErrTimeout, wantStatus: 504, wantKind: "tool_timeout"},
		{name: "unknown tool", err: &mcp.UnknownToolError{Name: "nope"}, wantStatus: 404, wantKind: "unknown_tool"},
		{name: "tool error", err: &mcp.ToolError{Code: mcp.CodeInternalError, Message: "boom"}, wantStatus: 502, wantKind: "tool_error"},
		{name: "duplicate id", err: mcp.ErrDuplicateID, wantStatus: 500, wantKind: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, bridge, _ := newTestServer(t)
			bridge.callErr = tt.err

			w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", `{"params":{}}`)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Error)
		})
	}
}

func TestListResources(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/api/resources", "")

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Resources []resourceInfo `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Resources, 2)
	assert.Equal(t, "application/json", resp.Resources[0].Type)
	// Missing mime type falls back to text/plain.
	assert.Equal(t, "text/plain", resp.Resources[1].Type)
}

func TestReadResource_PrefixesScheme(t *testing.T) {
	srv, bridge, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/api/resources/example/greeting", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data://example/greeting", bridge.lastURI)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Welcome!")
}

func TestReadResource_Unknown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodGet, "/api/resources/example/missing", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_resource")
}

func TestAgentProcess(t *testing.T) {
	srv, _, processor := newTestServer(t)
	processor.result = agent.Result{
		Answer:     "The sum is 8.",
		Steps:      []agent.Step{{Tool: "add", Output: "8"}},
		Iterations: 2,
	}

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/agent/process",
		`{"prompt":"add 5 and 3","system_message":"be brief","max_iterations":5}`)

	require.Equal(t, http.StatusOK, w.Code)

	var resp agentProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "The sum is 8.", resp.Answer)
	assert.Equal(t, 2, resp.Iterations)
	require.Len(t, resp.Steps, 1)

	assert.Equal(t, "add 5 and 3", processor.lastReq.Prompt)
	assert.Equal(t, "be brief", processor.lastReq.SystemPrompt)
	assert.Equal(t, 5, processor.lastReq.MaxIterations)
}

func TestAgentProcess_EmptyPrompt(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/agent/process", `{"prompt":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentProcess_IterationLimit(t *testing.T) {
	srv, _, processor := newTestServer(t)
	processor.err = fmt.Errorf("%w after 8 iterations", agent.ErrIterationLimit)

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/agent/process", `{"prompt":"loop"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "iteration_limit_exceeded")
}

func TestAgentProcess_NoProcessor(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) { c.Processor = nil })

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/agent/process", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "agent_unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	// Generate one request so the counters exist.
	doJSON(t, router, http.MethodGet, "/health", "")

	w := doJSON(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCallTool_ErrorCountsByKind(t *testing.T) {
	srv, bridge, _ := newTestServer(t)
	router := srv.Router()

	bridge.callErr = mcp.ErrTimeout
	doJSON(t, router, http.MethodPost, "/api/tools/add", `{"params":{}}`)
	bridge.callErr = mcp.ErrDisconnected
	doJSON(t, router, http.MethodPost, "/api/tools/add", `{"params":{}}`)
	doJSON(t, router, http.MethodPost, "/api/tools/add", `{"params":{}}`)

	w := doJSON(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `tool_call_errors_total{error_type="tool_timeout",tool_name="add"} 1`)
	assert.Contains(t, body, `tool_call_errors_total{error_type="bridge_disconnected",tool_name="add"} 2`)
}

func TestListenAddr(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) { c.Host = "127.0.0.1" })
	assert.Equal(t, "127.0.0.1:8080", srv.ListenAddr())

	// An empty host binds all interfaces.
	srv, _, _ = newTestServer(t)
	assert.Equal(t, ":8080", srv.ListenAddr())
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, bridge, _ := newTestServer(t)
	bridge.callFn = func(string, map[string]interface{}) (*mcp.ToolOutput, error) {
		panic("boom")
	}

	w := doJSON(t, srv.Router(), http.MethodPost, "/api/tools/add", `{"params":{}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
