package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *fakeServer) *Client {
	t.Helper()
	sess := startTestSession(t, server)
	client, err := NewClient(ClientConfig{Session: sess, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return client
}

func TestClient_CallTool(t *testing.T) {
	server := standardServer()
	client := newTestClient(t, server)

	out, err := client.CallTool(context.Background(), "add",
		map[string]interface{}{"a": 5, "b": 3}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "8", out.Text())
}

func TestClient_UnknownToolSkipsTransport(t *testing.T) {
	server := standardServer()
	client := newTestClient(t, server)

	_, err := client.CallTool(context.Background(), "no_such_tool", nil, time.Second)

	var unknownErr *UnknownToolError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "no_such_tool", unknownErr.Name)
	assert.Zero(t, server.calls("tools/call"), "unknown tool must never reach the transport")
}

func TestClient_SchemaMismatchSkipsTransport(t *testing.T) {
	server := standardServer()
	client := newTestClient(t, server)

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "wrong type", args: map[string]interface{}{"a": "five", "b": 3}},
		{name: "missing required", args: map[string]interface{}{"a": 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CallTool(context.Background(), "add", tt.args, time.Second)

			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, CodeInvalidParams, toolErr.Code)
		})
	}
	assert.Zero(t, server.calls("tools/call"))
}

func TestClient_RemoteToolErrorBecomesToolError(t *testing.T) {
	server := standardServer()
	server.addTool("explode", "always fails", `{"type":"object","properties":{}}`,
		func(map[string]interface{}) (string, bool) {
			return "boom", true
		})
	client := newTestClient(t, server)

	_, err := client.CallTool(context.Background(), "explode", map[string]interface{}{}, time.Second)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "boom")
}

func TestClient_ReadResource(t *testing.T) {
	server := standardServer()
	client := newTestClient(t, server)

	content, err := client.ReadResource(context.Background(), "data://example/greeting", time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"welcome"}`, content.Text)
	assert.Equal(t, "application/json", content.MIMEType)
}

func TestClient_ReadResourceUnknownURI(t *testing.T) {
	server := standardServer()
	client := newTestClient(t, server)

	_, err := client.ReadResource(context.Background(), "data://nope", time.Second)

	var unknownErr *UnknownResourceError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "data://nope", unknownErr.URI)
}

func TestClient_ConcurrentResourceReadsDoNotSerialize(t *testing.T) {
	server := standardServer()
	server.callDelay = 100 * time.Millisecond
	client := newTestClient(t, server)

	uris := []string{"data://example/greeting", "data://example/high_temperature_prompt"}

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, len(uris))
	for i, uri := range uris {
		wg.Add(1)
		go func(i int, uri string) {
			defer wg.Done()
			_, errs[i] = client.ReadResource(context.Background(), uri, time.Second)
		}(i, uri)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, elapsed, 180*time.Millisecond,
		"concurrent fetches must not serialize on each other")
}

func TestClient_NotReadyBeforeFirstCatalog(t *testing.T) {
	sess, err := NewSession(SessionConfig{
		Dialer: DialerFunc(func(ctx context.Context) (Transport, error) {
			return nil, errors.New("unreachable")
		}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	client, err := NewClient(ClientConfig{Session: sess, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = client.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = client.CallTool(context.Background(), "add", nil, time.Second)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, client.Healthy())
}
