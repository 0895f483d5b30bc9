// Package llm abstracts chat-completion providers behind a single
// interface so the agent loop and the gateway never depend on a
// vendor SDK directly.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var (
	// ErrUnavailable means the provider could not be reached or refused
	// the request (network failure, auth failure, rate limit).
	ErrUnavailable = errors.New("llm provider unavailable")

	// ErrProtocol means the provider answered but the response could not
	// be interpreted (no choices, unparseable tool arguments).
	ErrProtocol = errors.New("llm protocol error")
)

// Message is one turn of a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request carries everything a provider needs for one completion.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a provider's answer. ToolCalls being non-empty means
// the model wants tools run before it can continue.
type Completion struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Provider is a chat-completion backend.
type Provider interface {
	// Generate produces a completion for the request. Tools in the
	// request, if any, are offered to the model.
	Generate(ctx context.Context, req Request) (*Completion, error)

	// Name returns the provider name, e.g. "openai".
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// New creates a provider from config.
func New(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider: %s", cfg.Provider)
	}
}
