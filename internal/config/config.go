package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main mcpbridge configuration
type Config struct {
	// API server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// MCP connection
	MCP MCPConfig `json:"mcp" mapstructure:"mcp"`

	// LLM provider
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// MCPConfig holds the MCP server connection configuration
type MCPConfig struct {
	// Transport is one of: stdio, sse, websocket
	Transport string `json:"transport" mapstructure:"transport"`

	// Command and Args launch the subprocess for stdio transport
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`

	// URL is the stream endpoint for sse and websocket transports
	URL string `json:"url" mapstructure:"url"`

	ClientName    string `json:"client_name" mapstructure:"client_name"`
	ClientVersion string `json:"client_version" mapstructure:"client_version"`

	// CallTimeoutSeconds bounds each tool call round trip
	CallTimeoutSeconds int `json:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`

	// ReconnectBaseMillis and ReconnectCapMillis shape the backoff
	ReconnectBaseMillis int `json:"reconnect_base_millis" mapstructure:"reconnect_base_millis"`
	ReconnectCapMillis  int `json:"reconnect_cap_millis" mapstructure:"reconnect_cap_millis"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	SystemPrompt       string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxIterations      int    `json:"max_iterations" mapstructure:"max_iterations"`
	ToolTimeoutSeconds int    `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		MCP: MCPConfig{
			Transport:           "stdio",
			ClientName:          "mcpbridge",
			ClientVersion:       "0.1.0",
			CallTimeoutSeconds:  30,
			ReconnectBaseMillis: 500,
			ReconnectCapMillis:  30000,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			MaxIterations:      8,
			ToolTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.MCP.Transport {
	case "stdio":
		if c.MCP.Command == "" {
			return fmt.Errorf("mcp.command is required for stdio transport")
		}
	case "sse", "websocket":
		if c.MCP.URL == "" {
			return fmt.Errorf("mcp.url is required for %s transport", c.MCP.Transport)
		}
	default:
		return fmt.Errorf("unknown mcp transport: %s", c.MCP.Transport)
	}

	if c.MCP.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("mcp.call_timeout_seconds must be positive")
	}
	if c.MCP.ReconnectBaseMillis <= 0 || c.MCP.ReconnectCapMillis < c.MCP.ReconnectBaseMillis {
		return fmt.Errorf("invalid reconnect backoff bounds")
	}

	if c.LLM.Provider != "" {
		switch c.LLM.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
			return fmt.Errorf("llm temperature must be between 0 and 2")
		}
		if c.LLM.MaxTokens < 0 {
			return fmt.Errorf("llm max_tokens cannot be negative")
		}
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}

	return nil
}
