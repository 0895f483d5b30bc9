package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ContentBlock is one element of a tool result's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolOutput is the parsed result of a tools/call round trip.
type ToolOutput struct {
	Content []ContentBlock  `json:"content"`
	IsError bool            `json:"isError,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Text joins the textual content blocks.
func (o *ToolOutput) Text() string {
	parts := make([]string, 0, len(o.Content))
	for _, c := range o.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ResourceContent is the parsed result of a resources/read round trip.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ClientConfig configures the synchronous client facade.
type ClientConfig struct {
	Session *Session
	Logger  zerolog.Logger
}

// Client is the synchronous facade HTTP handlers use to invoke tools and
// fetch resources. It hides the session and reconnect machinery: each call
// blocks its own goroutine until the correlation table resolves it.
type Client struct {
	session *Session
	logger  zerolog.Logger
}

// NewClient wraps a session.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("mcp: session is required")
	}
	return &Client{
		session: cfg.Session,
		logger:  cfg.Logger.With().Str("component", "mcp-client").Logger(),
	}, nil
}

// Session exposes the underlying session for lifecycle management.
func (c *Client) Session() *Session {
	return c.session
}

// Healthy reports whether the session is Ready.
func (c *Client) Healthy() bool {
	return c.session.State() == StateReady
}

// ListTools returns the cached tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	return c.session.Tools()
}

// ListResources returns the cached resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]ResourceDescriptor, error) {
	return c.session.Resources()
}

// CallTool validates the name and arguments against the cached catalog, then
// forwards the call. Unknown names and schema mismatches never touch the
// transport.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (*ToolOutput, error) {
	if _, err := c.session.Tools(); err != nil {
		return nil, err
	}
	desc, ok := c.session.Tool(name)
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	if err := validateArguments(desc, args); err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	started := time.Now()
	raw, err := c.session.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	}, timeout)
	if err != nil {
		c.logger.Warn().Err(err).Str("tool", name).Dur("elapsed", time.Since(started)).
			Msg("Tool call failed")
		return nil, err
	}

	out := &ToolOutput{Raw: raw}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("mcp: decode tools/call result: %w", err)
	}
	if out.IsError {
		return nil, &ToolError{Code: CodeInternalError, Message: out.Text()}
	}

	c.logger.Debug().Str("tool", name).Dur("elapsed", time.Since(started)).Msg("Tool call completed")
	return out, nil
}

// ReadResource validates the URI against the cached catalog and fetches the
// resource content.
func (c *Client) ReadResource(ctx context.Context, uri string, timeout time.Duration) (*ResourceContent, error) {
	if _, err := c.session.Resources(); err != nil {
		return nil, err
	}
	desc, ok := c.session.Resource(uri)
	if !ok {
		return nil, &UnknownResourceError{URI: uri}
	}

	raw, err := c.session.Call(ctx, "resources/read", map[string]interface{}{"uri": uri}, timeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		Contents []ResourceContent `json:"contents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("mcp: decode resources/read result: %w", err)
	}
	if len(result.Contents) == 0 {
		return nil, &ToolError{Code: CodeInternalError, Message: fmt.Sprintf("resource %s returned no contents", uri)}
	}

	content := result.Contents[0]
	if content.MIMEType == "" {
		content.MIMEType = desc.MIMEType
	}
	return &content, nil
}

// validateArguments checks args against the tool's declared input schema.
// A mismatch surfaces as ToolError with the validation detail.
func validateArguments(desc *ToolDescriptor, args map[string]interface{}) error {
	if len(desc.InputSchema) == 0 {
		return nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
	if err != nil {
		// Schemas come from the server; an uncompilable one must not make
		// the tool uncallable.
		return nil
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ToolError{Code: CodeInvalidParams, Message: fmt.Sprintf("argument validation: %v", err)}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return &ToolError{Code: CodeInvalidParams, Message: "invalid arguments: " + strings.Join(details, "; ")}
	}
	return nil
}
