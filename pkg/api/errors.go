package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harun/mcpbridge/pkg/agent"
	"github.com/harun/mcpbridge/pkg/llm"
	"github.com/harun/mcpbridge/pkg/mcp"
)

// errorBody is the structured error response. Internal detail stays out
// of it; only the kind and a human-readable message cross the wire.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps a bridge, LLM or agent error to an HTTP status and a
// stable error kind.
func classify(err error) (int, string) {
	var (
		unknownTool     *mcp.UnknownToolError
		unknownResource *mcp.UnknownResourceError
		toolErr         *mcp.ToolError
	)

	switch {
	case errors.Is(err, mcp.ErrNotReady),
		errors.Is(err, mcp.ErrNotConnected),
		errors.Is(err, mcp.ErrClosed):
		return http.StatusServiceUnavailable, "bridge_not_ready"
	case errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "llm_unavailable"
	case errors.Is(err, mcp.ErrDisconnected):
		return http.StatusBadGateway, "bridge_disconnected"
	case errors.Is(err, llm.ErrProtocol):
		return http.StatusBadGateway, "llm_protocol_error"
	case errors.Is(err, mcp.ErrTimeout):
		return http.StatusGatewayTimeout, "tool_timeout"
	case errors.As(err, &unknownTool):
		return http.StatusNotFound, "unknown_tool"
	case errors.As(err, &unknownResource):
		return http.StatusNotFound, "unknown_resource"
	case errors.As(err, &toolErr):
		return http.StatusBadGateway, "tool_error"
	case errors.Is(err, agent.ErrIterationLimit):
		return http.StatusInternalServerError, "iteration_limit_exceeded"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: kind, Message: err.Error()})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
