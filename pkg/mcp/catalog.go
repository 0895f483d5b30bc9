package mcp

import (
	"encoding/json"
	"sync"
)

// ToolParameter describes a single parameter extracted from a tool's input
// schema, in the flattened form the HTTP surface exposes.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDescriptor is immutable tool metadata fetched at session-ready time.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ResourceDescriptor is immutable resource metadata fetched at session-ready time.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// catalog caches tool and resource descriptors for one connection epoch.
// Read-mostly; replaced wholesale under the write lock on (re)connect.
type catalog struct {
	mu        sync.RWMutex
	fetched   bool
	epoch     uint64
	tools     []ToolDescriptor
	toolIndex map[string]*ToolDescriptor
	resources []ResourceDescriptor
	resIndex  map[string]*ResourceDescriptor
}

func newCatalog() *catalog {
	return &catalog{
		toolIndex: make(map[string]*ToolDescriptor),
		resIndex:  make(map[string]*ResourceDescriptor),
	}
}

func (c *catalog) replace(epoch uint64, tools []ToolDescriptor, resources []ResourceDescriptor) {
	toolIndex := make(map[string]*ToolDescriptor, len(tools))
	for i := range tools {
		toolIndex[tools[i].Name] = &tools[i]
	}
	resIndex := make(map[string]*ResourceDescriptor, len(resources))
	for i := range resources {
		resIndex[resources[i].URI] = &resources[i]
	}

	c.mu.Lock()
	c.fetched = true
	c.epoch = epoch
	c.tools = tools
	c.toolIndex = toolIndex
	c.resources = resources
	c.resIndex = resIndex
	c.mu.Unlock()
}

func (c *catalog) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

func (c *catalog) listTools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *catalog) listResources() []ResourceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceDescriptor, len(c.resources))
	copy(out, c.resources)
	return out
}

func (c *catalog) tool(name string) (*ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.toolIndex[name]
	return t, ok
}

func (c *catalog) resource(uri string) (*ResourceDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resIndex[uri]
	return r, ok
}

// parseToolParameters flattens a JSON schema's properties into the parameter
// list the HTTP surface and the LLM tool formatter consume.
func parseToolParameters(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]ToolParameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		param := ToolParameter{
			Name:     name,
			Type:     "any",
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		} else if title, ok := prop["title"].(string); ok {
			param.Description = title
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		params = append(params, param)
	}

	return params
}
