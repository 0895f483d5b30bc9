package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session and correlation layers. Handlers map these
// to HTTP statuses with errors.Is.
var (
	// ErrNotConnected is returned when a call is issued while the session
	// is not in the Ready state.
	ErrNotConnected = errors.New("mcp: not connected")

	// ErrDisconnected is returned for calls that were in flight when the
	// stream closed. The session reconnects on its own; the semantic call
	// is never retried because tool calls may not be idempotent.
	ErrDisconnected = errors.New("mcp: disconnected mid-call")

	// ErrTimeout is returned when a call's deadline passes before the
	// server responds.
	ErrTimeout = errors.New("mcp: call timed out")

	// ErrNotReady is returned by catalog reads before the first successful
	// catalog fetch.
	ErrNotReady = errors.New("mcp: session not ready")

	// ErrDuplicateID signals a correlation invariant violation. Request ids
	// are generated monotonically, so this is never expected in correct
	// operation and is treated as fatal by callers.
	ErrDuplicateID = errors.New("mcp: duplicate request id")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mcp: session closed")
)

// UnknownToolError reports a tool name absent from the current catalog.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("mcp: unknown tool %q", e.Name)
}

// UnknownResourceError reports a resource URI absent from the current catalog.
type UnknownResourceError struct {
	URI string
}

func (e *UnknownResourceError) Error() string {
	return fmt.Sprintf("mcp: unknown resource %q", e.URI)
}

// ToolError carries a remote-reported tool failure. Argument schema
// mismatches detected client-side use CodeInvalidParams.
type ToolError struct {
	Code    int
	Message string
}

// JSON-RPC error codes used by the server and surfaced in ToolError.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp: tool error (%d): %s", e.Code, e.Message)
}
