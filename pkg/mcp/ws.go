package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketTransport frames JSON-RPC messages as websocket text messages.
type WebSocketTransport struct {
	url    string
	logger zerolog.Logger

	mu   sync.Mutex // serializes writes; gorilla allows one concurrent writer
	conn *websocket.Conn
	recv chan []byte

	closeOnce sync.Once
}

// NewWebSocketTransport prepares a client for the given ws:// URL.
func NewWebSocketTransport(url string, logger zerolog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		url:    url,
		logger: logger.With().Str("transport", "websocket").Logger(),
		recv:   make(chan []byte, 16),
	}
}

// WebSocketDialer returns a Dialer producing a fresh connection per attempt.
func WebSocketDialer(url string, logger zerolog.Logger) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return NewWebSocketTransport(url, logger), nil
	})
}

// Start dials the server and begins the read loop.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("mcp: websocket dial %s: %w", t.url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer close(t.recv)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn().Err(err).Msg("Websocket closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		t.recv <- payload
	}
}

// Send writes one text message.
func (t *WebSocketTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("mcp: websocket transport not started")
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Receive returns the inbound frame channel.
func (t *WebSocketTransport) Receive() <-chan []byte {
	return t.recv
}

// Close closes the connection; the read loop then closes the receive channel.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = conn.Close()
		}
	})
	return err
}
