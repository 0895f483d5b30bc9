package mcp

import "context"

// Transport is one framed, bidirectional stream to an MCP server. A transport
// is single-use: after the receive channel closes the session dials a fresh
// one through its Dialer.
type Transport interface {
	// Start establishes the stream and begins producing inbound frames.
	Start(ctx context.Context) error

	// Send writes one framed message onto the stream.
	Send(ctx context.Context, payload []byte) error

	// Receive returns the inbound frame channel. The channel is closed when
	// the stream ends, whatever the cause.
	Receive() <-chan []byte

	// Close tears the stream down and closes the receive channel.
	Close() error
}

// Dialer produces a fresh transport per connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
