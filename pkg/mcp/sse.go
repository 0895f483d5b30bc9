package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SSETransport speaks the SSE flavor of MCP: a long-lived GET stream carries
// inbound frames, and an endpoint event early in the stream names the URL
// outbound frames are POSTed to.
type SSETransport struct {
	streamURL  string
	httpClient *http.Client
	logger     zerolog.Logger

	mu         sync.Mutex
	endpoint   string
	endpointCh chan struct{}
	cancel     context.CancelFunc
	recv       chan []byte

	closeOnce sync.Once
}

// NewSSETransport prepares a client for the given /sse stream URL.
func NewSSETransport(streamURL string, logger zerolog.Logger) *SSETransport {
	return &SSETransport{
		streamURL:  streamURL,
		httpClient: &http.Client{},
		logger:     logger.With().Str("transport", "sse").Logger(),
		endpointCh: make(chan struct{}),
		recv:       make(chan []byte, 16),
	}
}

// SSEDialer returns a Dialer producing a fresh stream per attempt.
func SSEDialer(streamURL string, logger zerolog.Logger) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return NewSSETransport(streamURL, logger), nil
	})
}

// Start opens the event stream and blocks until the server announces the
// message endpoint.
func (t *SSETransport) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp: sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp: sse connect: unexpected status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.readLoop(resp.Body)

	select {
	case <-t.endpointCh:
		return nil
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		t.Close()
		return fmt.Errorf("mcp: sse connect: no endpoint event")
	}
}

func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer close(t.recv)
	defer body.Close()

	var event, data string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			t.dispatchEvent(event, data)
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		}
	}
	if err := scanner.Err(); err != nil && !bytes.Contains([]byte(err.Error()), []byte("context canceled")) {
		t.logger.Warn().Err(err).Msg("SSE stream closed")
	}
}

func (t *SSETransport) dispatchEvent(event, data string) {
	switch event {
	case "endpoint":
		resolved, err := t.resolveEndpoint(data)
		if err != nil {
			t.logger.Error().Err(err).Str("endpoint", data).Msg("Unusable endpoint event")
			return
		}
		t.mu.Lock()
		first := t.endpoint == ""
		t.endpoint = resolved
		t.mu.Unlock()
		if first {
			close(t.endpointCh)
		}
	case "message":
		if data != "" {
			t.recv <- []byte(data)
		}
	}
}

func (t *SSETransport) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.streamURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Send POSTs one message to the announced endpoint.
func (t *SSETransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("mcp: sse transport has no endpoint yet")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: sse post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mcp: sse post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the inbound frame channel.
func (t *SSETransport) Receive() <-chan []byte {
	return t.recv
}

// Close tears the stream down.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	return nil
}
