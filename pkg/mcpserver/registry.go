package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harun/mcpbridge/pkg/mcp"
	"github.com/xeipuuv/gojsonschema"
)

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ResourceHandler produces one resource's content.
type ResourceHandler func(ctx context.Context) (interface{}, error)

// ToolDefinition declares a tool: metadata plus handler. The input schema is
// derived from the parameter list at registration time.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []mcp.ToolParameter
	Handler     ToolHandler
}

// ResourceDefinition declares a resource.
type ResourceDefinition struct {
	URI         string
	Description string
	MIMEType    string
	Handler     ResourceHandler
}

// Registry maps tool names and resource URIs to their descriptors and
// handlers. Populated at server startup; no reflection at runtime.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*registeredTool
	toolOrder []string
	resources map[string]*ResourceDefinition
	resOrder  []string
}

type registeredTool struct {
	def    ToolDefinition
	schema json.RawMessage
	check  *gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]*registeredTool),
		resources: make(map[string]*ResourceDefinition),
	}
}

// RegisterTool adds a tool. The parameter list is compiled into a JSON schema
// used to validate incoming arguments.
func (r *Registry) RegisterTool(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("mcpserver: tool name is required")
	}
	if def.Description == "" {
		return fmt.Errorf("mcpserver: tool description is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("mcpserver: tool handler is required")
	}

	schemaBytes := buildInputSchema(def.Parameters)
	check, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		return fmt.Errorf("mcpserver: compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("mcpserver: tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &registeredTool{def: def, schema: schemaBytes, check: check}
	r.toolOrder = append(r.toolOrder, def.Name)
	return nil
}

// RegisterResource adds a resource.
func (r *Registry) RegisterResource(def ResourceDefinition) error {
	if def.URI == "" {
		return fmt.Errorf("mcpserver: resource uri is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("mcpserver: resource handler is required")
	}
	if def.MIMEType == "" {
		def.MIMEType = "text/plain"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[def.URI]; exists {
		return fmt.Errorf("mcpserver: resource %s already registered", def.URI)
	}
	copied := def
	r.resources[def.URI] = &copied
	r.resOrder = append(r.resOrder, def.URI)
	return nil
}

func (r *Registry) tool(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) resource(uri string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

func (r *Registry) listTools() []*registeredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registeredTool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) listResources() []*ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceDefinition, 0, len(r.resOrder))
	for _, uri := range r.resOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// buildInputSchema turns a flat parameter list into a JSON schema object.
func buildInputSchema(params []mcp.ToolParameter) json.RawMessage {
	properties := make(map[string]interface{}, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	out, _ := json.Marshal(schema)
	return out
}
