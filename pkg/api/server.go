// Package api exposes the bridge over HTTP: catalog listing, synchronous
// tool invocation, resource reads and the agent endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/harun/mcpbridge/internal/metrics"
	"github.com/harun/mcpbridge/pkg/agent"
	"github.com/harun/mcpbridge/pkg/llm"
	"github.com/harun/mcpbridge/pkg/mcp"
)

// Bridge is the synchronous tool surface the handlers call into.
// *mcp.Client satisfies it.
type Bridge interface {
	Healthy() bool
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	ListResources(ctx context.Context) ([]mcp.ResourceDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}, timeout time.Duration) (*mcp.ToolOutput, error)
	ReadResource(ctx context.Context, uri string, timeout time.Duration) (*mcp.ResourceContent, error)
}

// Processor runs the agent loop. *agent.Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, req agent.Request) (agent.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	host        string
	port        int
	bridge      Bridge
	processor   Processor
	explainer   llm.Provider
	model       string
	callTimeout time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	server         *http.Server
	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds server configuration. An empty Host binds all interfaces.
type Config struct {
	Host        string
	Port        int
	Bridge      Bridge
	Processor   Processor
	Explainer   llm.Provider
	Model       string
	CallTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		bridge:      cfg.Bridge,
		processor:   cfg.Processor,
		explainer:   cfg.Explainer,
		model:       cfg.Model,
		callTimeout: cfg.CallTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "api").Logger(),
	}, nil
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoveryMiddleware, s.requestIDMiddleware, s.loggingMiddleware, s.metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	apiRouter.HandleFunc("/tools/health", s.handleBridgeHealth).Methods(http.MethodGet)
	apiRouter.HandleFunc("/tools/{tool}", s.handleCallTool).Methods(http.MethodPost)
	apiRouter.HandleFunc("/resources", s.handleListResources).Methods(http.MethodGet)
	apiRouter.HandleFunc("/resources/{path:.+}", s.handleReadResource).Methods(http.MethodGet)
	apiRouter.HandleFunc("/agent/process", s.handleAgentProcess).Methods(http.MethodPost)

	return r
}

// ListenAddr returns the host:port the server binds.
func (s *Server) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Start starts the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.ListenAddr(),
		Handler: s.Router(),
	}

	s.logger.Info().Str("addr", s.ListenAddr()).Msg("Starting API server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}
