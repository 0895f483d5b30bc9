package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/mcpbridge/pkg/mcp"
)

// NewDemoRegistry builds the registry of example tools and resources the
// bundled server exposes.
func NewDemoRegistry() (*Registry, error) {
	r := NewRegistry()

	tools := []ToolDefinition{
		{
			Name:        "add",
			Description: "Add two numbers together",
			Parameters: []mcp.ToolParameter{
				{Name: "a", Type: "integer", Description: "First addend", Required: true},
				{Name: "b", Type: "integer", Description: "Second addend", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				a, ok := args["a"].(float64)
				if !ok {
					return nil, fmt.Errorf("parameter a must be a number")
				}
				b, ok := args["b"].(float64)
				if !ok {
					return nil, fmt.Errorf("parameter b must be a number")
				}
				return int(a) + int(b), nil
			},
		},
		{
			Name:        "greet",
			Description: "Greet a user in the requested language",
			Parameters: []mcp.ToolParameter{
				{Name: "name", Type: "string", Description: "Name to greet", Required: true},
				{Name: "language", Type: "string", Description: "Greeting language (en, zh, ja)", Default: "en"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				name, _ := args["name"].(string)
				language, _ := args["language"].(string)
				greetings := map[string]string{
					"en": fmt.Sprintf("Hello, %s!", name),
					"zh": fmt.Sprintf("你好，%s！", name),
					"ja": fmt.Sprintf("こんにちは、%sさん！", name),
				}
				if g, ok := greetings[language]; ok {
					return g, nil
				}
				return greetings["en"], nil
			},
		},
		{
			Name:        "get_time",
			Description: "Get the current time",
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return time.Now().Format("2006-01-02 15:04:05"), nil
			},
		},
		{
			Name:        "get_time_zone",
			Description: "Get the current time zone",
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				zone, _ := time.Now().Zone()
				return zone, nil
			},
		},
		{
			Name:        "duck_duck_go",
			Description: "Search the web with DuckDuckGo",
			Parameters: []mcp.ToolParameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				query, _ := args["query"].(string)
				return fmt.Sprintf("DuckDuckGo search: %s", query), nil
			},
		},
		{
			Name:        "get_cat_image",
			Description: "Get a random image URL",
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return "https://picsum.photos/200", nil
			},
		},
	}
	for _, def := range tools {
		if err := r.RegisterTool(def); err != nil {
			return nil, err
		}
	}

	resources := []ResourceDefinition{
		{
			URI:         "data://example/greeting",
			Description: "A greeting resource",
			MIMEType:    "application/json",
			Handler: func(ctx context.Context) (interface{}, error) {
				return map[string]interface{}{
					"message": "Welcome to mcpbridge!",
					"version": "0.1.0",
				}, nil
			},
		},
		{
			URI:         "data://example/high_temperature_prompt",
			Description: "An advanced prompt resource",
			MIMEType:    "text/plain",
			Handler: func(ctx context.Context) (interface{}, error) {
				return "You are an expert assistant with deep domain knowledge.", nil
			},
		},
	}
	for _, def := range resources {
		if err := r.RegisterResource(def); err != nil {
			return nil, err
		}
	}

	return r, nil
}
