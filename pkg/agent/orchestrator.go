// Package agent runs the autonomous tool-use loop: the model is offered
// the live tool catalog, its tool-call requests are executed through the
// gateway, and the results are fed back until it produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/mcpbridge/internal/tracing"
	"github.com/harun/mcpbridge/pkg/llm"
	"github.com/harun/mcpbridge/pkg/mcp"
)

const (
	defaultMaxIterations = 8
	defaultToolTimeout   = 30 * time.Second
	defaultSystemPrompt  = "You are a helpful assistant with access to tools. " +
		"Use them when they help answer the user's request."
)

// ErrIterationLimit means the model kept requesting tools past the
// iteration cap without producing a final answer.
var ErrIterationLimit = errors.New("agent: iteration limit exceeded")

// Gateway is the tool surface the loop executes against.
// *mcp.Client satisfies it.
type Gateway interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (*mcp.ToolOutput, error)
}

// Request is one user prompt to process. SystemPrompt and
// MaxIterations override the orchestrator defaults when set.
type Request struct {
	Prompt        string
	SystemPrompt  string
	MaxIterations int
}

// Step records one tool invocation made during a run.
type Step struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Output    string                 `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Result is the outcome of a completed run.
type Result struct {
	Answer     string    `json:"answer"`
	Steps      []Step    `json:"steps"`
	Iterations int       `json:"iterations"`
	Usage      llm.Usage `json:"usage"`
}

// Config holds orchestrator configuration.
type Config struct {
	Provider      llm.Provider
	Gateway       Gateway
	Model         string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	ToolTimeout   time.Duration
	Logger        zerolog.Logger
}

// Orchestrator drives the generate-execute-feed-back loop.
type Orchestrator struct {
	provider      llm.Provider
	gateway       Gateway
	model         string
	systemPrompt  string
	temperature   float64
	maxTokens     int
	maxIterations int
	toolTimeout   time.Duration
	logger        zerolog.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}

	return &Orchestrator{
		provider:      cfg.Provider,
		gateway:       cfg.Gateway,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		toolTimeout:   cfg.ToolTimeout,
		logger:        cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// Process runs the loop for one request. A completion that carries
// tool calls is treated as a tool request even when it also carries
// text; the text only becomes the answer once no tool calls remain.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	if req.Prompt == "" {
		return Result{}, fmt.Errorf("prompt cannot be empty")
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"mcpbridge.agent",
		"agent.process",
		attribute.String("model", o.model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)
	systemPrompt := o.systemPrompt
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}
	maxIterations := o.maxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}

	descriptors, err := o.gateway.ListTools(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("list tools: %w", err)
	}

	specs, known := toolSpecs(descriptors)
	messages := []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}}

	result := Result{Steps: []Step{}}

	for iteration := 0; iteration < maxIterations; iteration++ {
		result.Iterations = iteration + 1

		completion, err := o.provider.Generate(ctx, llm.Request{
			Model:        o.model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        specs,
			Temperature:  o.temperature,
			MaxTokens:    o.maxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		result.Usage.InputTokens += completion.Usage.InputTokens
		result.Usage.OutputTokens += completion.Usage.OutputTokens

		if len(completion.ToolCalls) == 0 {
			result.Answer = completion.Text
			return result, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			content, step := o.runTool(ctx, known, call)
			result.Steps = append(result.Steps, step)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}

	logger.Warn().
		Int("iterations", maxIterations).
		Msg("Tool loop hit iteration limit")
	span.SetStatus(codes.Error, ErrIterationLimit.Error())
	return Result{}, fmt.Errorf("%w after %d iterations", ErrIterationLimit, maxIterations)
}

// runTool executes one requested call. A name outside the advertised
// catalog is answered with an error turn instead of aborting the run,
// so the model gets a chance to correct itself.
func (o *Orchestrator) runTool(ctx context.Context, known map[string]struct{}, call llm.ToolCall) (string, Step) {
	step := Step{Tool: call.Name, Arguments: call.Arguments}

	ctx = tracing.WithToolName(ctx, call.Name)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	if _, ok := known[call.Name]; !ok {
		logger.Warn().Msg("Model requested unknown tool")
		step.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return "Error: " + step.Error, step
	}

	output, err := o.gateway.CallTool(ctx, call.Name, call.Arguments, o.toolTimeout)
	if err != nil {
		logger.Warn().Err(err).Msg("Tool call failed")
		step.Error = err.Error()
		return "Error: " + step.Error, step
	}

	step.Output = output.Text()
	return step.Output, step
}

func toolSpecs(descriptors []mcp.ToolDescriptor) ([]llm.ToolSpec, map[string]struct{}) {
	specs := make([]llm.ToolSpec, 0, len(descriptors))
	known := make(map[string]struct{}, len(descriptors))

	for _, d := range descriptors {
		known[d.Name] = struct{}{}

		schema := map[string]interface{}{}
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				schema = map[string]interface{}{}
			}
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
			schema["properties"] = map[string]interface{}{}
		}

		specs = append(specs, llm.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return specs, known
}
