package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mcpbridge/internal/config"
	"github.com/harun/mcpbridge/internal/logger"
	"github.com/harun/mcpbridge/internal/metrics"
	"github.com/harun/mcpbridge/internal/observability"
	"github.com/harun/mcpbridge/internal/tracing"
	"github.com/harun/mcpbridge/pkg/agent"
	"github.com/harun/mcpbridge/pkg/api"
	"github.com/harun/mcpbridge/pkg/llm"
	"github.com/harun/mcpbridge/pkg/mcp"
)

// Daemon composes the bridge: one MCP session, the synchronous client facade,
// the LLM provider, the agent orchestrator and the HTTP API server.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	session      *mcp.Session
	client       *mcp.Client
	provider     llm.Provider
	orchestrator *agent.Orchestrator
	apiServer    *api.Server
	metrics      *metrics.Metrics

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon instance wired from configuration. The MCP session is
// not connected yet; Start establishes it.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if err := tracing.InitOpenTelemetry("mcpbridge"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		metrics:        metrics.NewMetrics(),
		tracingEnabled: true,
	}

	if err := d.initializeModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeModules builds the bridge components in dependency order.
func (d *Daemon) initializeModules() error {
	zl := d.logger.GetZerolog()

	dialer, err := buildDialer(d.config.MCP, zl)
	if err != nil {
		return err
	}

	session, err := mcp.NewSession(mcp.SessionConfig{
		Dialer:        dialer,
		ClientName:    d.config.MCP.ClientName,
		ClientVersion: d.config.MCP.ClientVersion,
		CallTimeout:   time.Duration(d.config.MCP.CallTimeoutSeconds) * time.Second,
		ReconnectBase: time.Duration(d.config.MCP.ReconnectBaseMillis) * time.Millisecond,
		ReconnectCap:  time.Duration(d.config.MCP.ReconnectCapMillis) * time.Millisecond,
		Logger:        zl,
		OnStateChange: func(st mcp.State) {
			d.metrics.SessionState.Set(float64(st))
		},
		// Fires only when an established stream is lost, never on the
		// initial connect.
		OnReconnect: func(epoch uint64) {
			d.metrics.SessionReconnectsTotal.Inc()
			observability.RecordSessionAudit(context.Background(), "reconnect", "success",
				map[string]interface{}{"epoch": epoch})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP session: %w", err)
	}
	d.session = session
	d.logger.Info().Str("transport", d.config.MCP.Transport).Msg("MCP session initialized")

	client, err := mcp.NewClient(mcp.ClientConfig{Session: session, Logger: zl})
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	d.client = client

	if d.config.LLM.Provider != "" && d.config.LLM.APIKey != "" {
		provider, err := llm.New(llm.Config{
			Provider:    d.config.LLM.Provider,
			APIKey:      d.config.LLM.APIKey,
			Model:       d.config.LLM.Model,
			Temperature: d.config.LLM.Temperature,
			MaxTokens:   d.config.LLM.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
		d.provider = provider
		d.logger.Info().Str("provider", provider.Name()).Str("model", d.config.LLM.Model).Msg("LLM provider initialized")

		orch, err := agent.NewOrchestrator(agent.Config{
			Provider:      provider,
			Gateway:       client,
			Model:         d.config.LLM.Model,
			SystemPrompt:  d.config.Agent.SystemPrompt,
			Temperature:   d.config.LLM.Temperature,
			MaxTokens:     d.config.LLM.MaxTokens,
			MaxIterations: d.config.Agent.MaxIterations,
			ToolTimeout:   time.Duration(d.config.Agent.ToolTimeoutSeconds) * time.Second,
			Logger:        zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create orchestrator: %w", err)
		}
		d.orchestrator = orch
	} else {
		d.logger.Warn().Msg("LLM provider not configured, agent endpoint and use_llm disabled")
	}

	apiCfg := api.Config{
		Host:        d.config.Server.Host,
		Port:        d.config.Server.Port,
		Bridge:      client,
		Explainer:   d.provider,
		Model:       d.config.LLM.Model,
		CallTimeout: time.Duration(d.config.MCP.CallTimeoutSeconds) * time.Second,
		Metrics:     d.metrics,
		Logger:      zl,
	}
	if d.orchestrator != nil {
		apiCfg.Processor = d.orchestrator
	}
	apiServer, err := api.NewServer(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	d.apiServer = apiServer

	return nil
}

// buildDialer maps the configured transport onto a connection factory.
func buildDialer(cfg config.MCPConfig, zl zerolog.Logger) (mcp.Dialer, error) {
	switch cfg.Transport {
	case "stdio":
		return mcp.StdioDialer(cfg.Command, cfg.Args, zl), nil
	case "sse":
		return mcp.SSEDialer(cfg.URL, zl), nil
	case "websocket":
		return mcp.WebSocketDialer(cfg.URL, zl), nil
	default:
		return nil, fmt.Errorf("unknown MCP transport: %q", cfg.Transport)
	}
}

// Start connects the MCP session and brings up the HTTP server. It returns
// once the session reports Ready or the context deadline passes; the HTTP
// server comes up either way so /health can report the degraded state.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting mcpbridge daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		log.Warn().Err(err).Str("path", auditPath).Msg("Failed to initialize audit logger")
	}

	if err := d.session.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start MCP session: %w", err)
	}

	readyCtx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	err := d.session.WaitReady(readyCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("MCP session not ready yet, serving requests anyway")
	} else {
		log.Info().Msg("MCP session ready")
		d.publishCatalogMetrics()
	}

	if err := d.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	log.Info().Int("port", d.config.Server.Port).Msg("API server started")

	go d.sampleSessionMetrics()

	log.Info().Msg("Daemon started successfully")

	return nil
}

// sampleSessionMetrics keeps the pending-call gauge and catalog sizes fresh.
func (d *Daemon) sampleSessionMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.metrics.SessionPendingCalls.Set(float64(d.session.PendingCalls()))
			d.publishCatalogMetrics()
		}
	}
}

func (d *Daemon) publishCatalogMetrics() {
	if tools, err := d.session.Tools(); err == nil {
		d.metrics.CatalogTools.Set(float64(len(tools)))
	}
	if resources, err := d.session.Resources(); err == nil {
		d.metrics.CatalogResources.Set(float64(len(resources)))
	}
}

// Stop shuts the daemon down gracefully: HTTP first so no new calls arrive,
// then the MCP session so in-flight calls flush with a terminal error.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Stopping mcpbridge daemon")

	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop API server")
		}
	}

	if d.session != nil {
		if err := d.session.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close MCP session")
		}
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audit logger")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.cancel()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	log.Info().Msg("Daemon stopped")

	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Status reports the daemon's runtime state.
type Status struct {
	Running      bool
	PID          int
	Uptime       time.Duration
	SessionState string
	Epoch        uint64
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{Running: d.running}
	if d.running {
		st.Uptime = time.Since(d.startTime)
	}
	if d.session != nil {
		st.SessionState = d.session.State().String()
		st.Epoch = d.session.Epoch()
	}
	return st
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger.
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetSession returns the MCP session.
func (d *Daemon) GetSession() *mcp.Session {
	return d.session
}

// GetClient returns the synchronous MCP client.
func (d *Daemon) GetClient() *mcp.Client {
	return d.client
}
