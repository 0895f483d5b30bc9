package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/mcpbridge/pkg/mcp"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Server processes JSON-RPC messages against a registry. Transport-agnostic:
// stdio, SSE and websocket serving all funnel into Handle.
type Server struct {
	name     string
	version  string
	registry *Registry
	logger   zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	Name     string
	Version  string
	Registry *Registry
	Logger   zerolog.Logger
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// NewServer creates a server around a populated registry.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("mcpserver: registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "mcpbridge-server"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	return &Server{
		name:     cfg.Name,
		version:  cfg.Version,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "mcp-server").Logger(),
	}, nil
}

// Handle processes one inbound message and returns the serialized response,
// or nil for notifications.
func (s *Server) Handle(ctx context.Context, payload []byte) []byte {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return s.errorResponse(nil, mcp.CodeParseError, "parse error: "+err.Error())
	}

	// Notifications get no reply.
	if req.ID == nil {
		s.logger.Debug().Str("method", req.Method).Msg("Notification received")
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.response(req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": true},
				"resources": map[string]interface{}{"listChanged": true},
			},
			"serverInfo": map[string]interface{}{"name": s.name, "version": s.version},
		})
	case "ping":
		return s.response(req.ID, map[string]interface{}{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	default:
		return s.errorResponse(req.ID, mcp.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handleToolsList(req rpcRequest) []byte {
	tools := s.registry.listTools()
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"name":        t.def.Name,
			"description": t.def.Description,
			"inputSchema": t.schema,
		})
	}
	return s.response(req.ID, map[string]interface{}{"tools": out})
}

func (s *Server) handleToolsCall(ctx context.Context, req rpcRequest) []byte {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, mcp.CodeInvalidParams, "invalid params: "+err.Error())
	}

	tool, ok := s.registry.tool(params.Name)
	if !ok {
		return s.errorResponse(req.ID, mcp.CodeInvalidParams, "unknown tool: "+params.Name)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	if result, err := tool.check.Validate(gojsonschema.NewGoLoader(args)); err == nil && !result.Valid() {
		detail := ""
		for _, e := range result.Errors() {
			if detail != "" {
				detail += "; "
			}
			detail += e.String()
		}
		return s.errorResponse(req.ID, mcp.CodeInvalidParams, "invalid arguments: "+detail)
	}

	s.logger.Info().Str("tool", params.Name).Msg("Executing tool")
	output, err := tool.def.Handler(ctx, args)
	if err != nil {
		// Tool-level failures travel in the result per MCP convention.
		return s.response(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": err.Error()}},
			"isError": true,
		})
	}

	return s.response(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": stringify(output)}},
		"isError": false,
	})
}

func (s *Server) handleResourcesList(req rpcRequest) []byte {
	resources := s.registry.listResources()
	out := make([]map[string]interface{}, 0, len(resources))
	for _, r := range resources {
		out = append(out, map[string]interface{}{
			"uri":         r.URI,
			"description": r.Description,
			"mimeType":    r.MIMEType,
		})
	}
	return s.response(req.ID, map[string]interface{}{"resources": out})
}

func (s *Server) handleResourcesRead(ctx context.Context, req rpcRequest) []byte {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, mcp.CodeInvalidParams, "invalid params: "+err.Error())
	}

	res, ok := s.registry.resource(params.URI)
	if !ok {
		return s.errorResponse(req.ID, mcp.CodeInvalidParams, "unknown resource: "+params.URI)
	}

	content, err := res.Handler(ctx)
	if err != nil {
		return s.errorResponse(req.ID, mcp.CodeInternalError, "resource read failed: "+err.Error())
	}

	return s.response(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{{
			"uri":      res.URI,
			"mimeType": res.MIMEType,
			"text":     stringify(content),
		}},
	})
}

func (s *Server) response(id interface{}, result interface{}) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		return s.errorResponse(id, mcp.CodeInternalError, "marshal response: "+err.Error())
	}
	return payload
}

func (s *Server) errorResponse(id interface{}, code int, message string) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": code, "message": message},
	})
	return payload
}

// stringify renders a handler result for the text content block. Maps and
// slices become JSON; everything else uses its natural string form.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	}
}
