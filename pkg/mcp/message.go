package mcp

import "encoding/json"

// JSON-RPC framing shared by the session and the embedded server.
const protocolVersion = "2024-11-05"

// Request is an outbound JSON-RPC call or notification (nil ID).
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// Response is an inbound JSON-RPC frame. A frame with a method and no id is a
// server-initiated notification.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// RPCError is the wire form of a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// IsNotification reports whether the frame is a server-initiated event rather
// than a response to one of our calls.
func (r *Response) IsNotification() bool {
	return r.ID == nil && r.Method != ""
}

// RequestID extracts the numeric request id. JSON numbers decode as float64.
func (r *Response) RequestID() (int64, bool) {
	switch id := r.ID.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	default:
		return 0, false
	}
}

func newRequest(id int64, method string, params interface{}) Request {
	return Request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
}
