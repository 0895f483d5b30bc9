package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/harun/mcpbridge/internal/observability"
	"github.com/harun/mcpbridge/pkg/agent"
	"github.com/harun/mcpbridge/pkg/llm"
)

type toolParamInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []toolParamInfo `json:"parameters"`
}

type resourceInfo struct {
	URI  string `json:"uri"`
	Type string `json:"type"`
}

type callToolRequest struct {
	Params        map[string]interface{} `json:"params"`
	UseLLM        bool                   `json:"use_llm"`
	SystemMessage string                 `json:"system_message"`
}

type callToolResponse struct {
	Result         string `json:"result"`
	LLMExplanation string `json:"llm_explanation,omitempty"`
}

type agentProcessRequest struct {
	Prompt        string `json:"prompt"`
	SystemMessage string `json:"system_message"`
	MaxIterations int    `json:"max_iterations"`
}

type agentProcessResponse struct {
	Answer     string       `json:"answer"`
	Steps      []agent.Step `json:"steps"`
	Iterations int          `json:"iterations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBridgeHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.bridge.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":        "unavailable",
			"mcp_connected": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"mcp_connected": true,
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.bridge.ListTools(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	tools := make([]toolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		params := make([]toolParamInfo, 0, len(d.Parameters))
		for _, p := range d.Parameters {
			params = append(params, toolParamInfo{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
			})
		}
		tools = append(tools, toolInfo{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	toolName := mux.Vars(r)["tool"]

	// An empty body means "no params".
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}

	start := time.Now()
	output, err := s.bridge.CallTool(r.Context(), toolName, req.Params, s.callTimeout)
	s.metrics.ToolCallDuration.WithLabelValues(toolName).Observe(time.Since(start).Seconds())
	if err != nil {
		_, kind := classify(err)
		s.metrics.ToolCallsTotal.WithLabelValues(toolName, "error").Inc()
		s.metrics.ToolCallErrorsTotal.WithLabelValues(toolName, kind).Inc()
		observability.RecordToolAudit(r.Context(), toolName, "failure", map[string]interface{}{"error": err.Error()})
		s.writeError(w, err)
		return
	}
	s.metrics.ToolCallsTotal.WithLabelValues(toolName, "success").Inc()
	observability.RecordToolAudit(r.Context(), toolName, "success", nil)

	resp := callToolResponse{Result: output.Text()}
	if req.UseLLM {
		resp.LLMExplanation = s.explainResult(r, toolName, req, resp.Result)
	}

	writeJSON(w, http.StatusOK, resp)
}

// explainResult asks the LLM to narrate a tool result. Failures here are
// logged and the explanation omitted; they never fail the tool call.
func (s *Server) explainResult(r *http.Request, toolName string, req callToolRequest, result string) string {
	if s.explainer == nil {
		s.logger.Warn().Str("tool", toolName).Msg("use_llm requested but no provider configured")
		return ""
	}

	systemPrompt := req.SystemMessage
	if systemPrompt == "" {
		systemPrompt = "You explain tool results to users in one or two sentences."
	}

	argsJSON, _ := json.Marshal(req.Params)
	prompt := fmt.Sprintf("The tool %q was called with arguments %s and returned:\n\n%s\n\nExplain this result.",
		toolName, argsJSON, result)

	completion, err := s.explainer.Generate(r.Context(), llm.Request{
		Model:        s.model,
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		s.metrics.LLMRequestsTotal.WithLabelValues(s.explainer.Name(), "error").Inc()
		s.logger.Warn().Str("tool", toolName).Err(err).Msg("Result explanation failed")
		return ""
	}
	s.metrics.LLMRequestsTotal.WithLabelValues(s.explainer.Name(), "success").Inc()
	return completion.Text
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.bridge.ListResources(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resources := make([]resourceInfo, 0, len(descriptors))
	for _, d := range descriptors {
		mimeType := d.MIMEType
		if mimeType == "" {
			mimeType = "text/plain"
		}
		resources = append(resources, resourceInfo{URI: d.URI, Type: mimeType})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	uri := mux.Vars(r)["path"]
	if !strings.Contains(uri, "://") {
		uri = "data://" + uri
	}

	content, err := s.bridge.ReadResource(r.Context(), uri, s.callTimeout)
	if err != nil {
		observability.RecordResourceAudit(r.Context(), uri, "failure")
		s.writeError(w, err)
		return
	}
	observability.RecordResourceAudit(r.Context(), uri, "success")

	mimeType := content.MIMEType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content.Text))
}

func (s *Server) handleAgentProcess(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "agent_unavailable",
			Message: "no LLM provider configured",
		})
		return
	}

	var req agentProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeBadRequest(w, "prompt cannot be empty")
		return
	}

	start := time.Now()
	result, err := s.processor.Process(r.Context(), agent.Request{
		Prompt:        req.Prompt,
		SystemPrompt:  req.SystemMessage,
		MaxIterations: req.MaxIterations,
	})
	s.metrics.AgentRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.AgentRunsTotal.WithLabelValues("error").Inc()
		observability.RecordAgentAudit(r.Context(), "failure", map[string]interface{}{"error": err.Error()})
		s.writeError(w, err)
		return
	}
	s.metrics.AgentRunsTotal.WithLabelValues("success").Inc()
	s.metrics.AgentIterations.Observe(float64(result.Iterations))
	observability.RecordAgentAudit(r.Context(), "success", map[string]interface{}{"iterations": result.Iterations})

	writeJSON(w, http.StatusOK, agentProcessResponse{
		Answer:     result.Answer,
		Steps:      result.Steps,
		Iterations: result.Iterations,
	})
}
