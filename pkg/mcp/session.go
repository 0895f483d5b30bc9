package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	// StateDegraded means the stream is up but the cached catalog could not
	// be refreshed after a change notification.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Dialer         Dialer
	ClientName     string
	ClientVersion  string
	CallTimeout    time.Duration // default per-call deadline
	ReconnectBase  time.Duration // backoff base, default 500ms
	ReconnectCap   time.Duration // backoff cap, default 30s
	ExpireInterval time.Duration // pending-call expiry scan period, default 250ms
	Logger         zerolog.Logger

	// OnStateChange, when set, observes every state transition.
	OnStateChange func(State)
	// OnReconnect, when set, observes each epoch increment.
	OnReconnect func(epoch uint64)
}

// Session maintains exactly one logical connection to an MCP server across
// any number of concurrent callers. It reconnects with capped, jittered
// exponential backoff and invalidates in-flight calls by epoch on stream
// close.
type Session struct {
	cfg    SessionConfig
	logger zerolog.Logger

	state   atomic.Int32
	epoch   atomic.Uint64
	nextID  atomic.Int64
	pending *pendingTable
	catalog *catalog

	mu        sync.Mutex
	transport Transport
	readyCh   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewSession creates a session. Start must be called before any calls.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("mcp: dialer is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "mcpbridge"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "0.1.0"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = 30 * time.Second
	}
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = 250 * time.Millisecond
	}

	return &Session{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "mcp-session").Logger(),
		pending: newPendingTable(),
		catalog: newCatalog(),
		readyCh: make(chan struct{}),
	}, nil
}

// Start launches the supervisor and expiry goroutines. It returns
// immediately; use WaitReady to block until the first successful connect.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.supervise()
	go s.expireLoop()
	return nil
}

// Close stops reconnect attempts, tears down the transport and fails all
// in-flight calls. Cancelling the supervisor is the only way reconnects stop.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
	s.wg.Wait()
	s.pending.flush(s.epoch.Load(), ErrClosed)
	s.setState(StateDisconnected)
	return nil
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Epoch returns the current connection epoch.
func (s *Session) Epoch() uint64 {
	return s.epoch.Load()
}

// PendingCalls returns the number of in-flight calls awaiting a response.
func (s *Session) PendingCalls() int {
	return s.pending.size()
}

// WaitReady blocks until the session reaches Ready or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	for {
		if s.State() == StateReady {
			return nil
		}
		s.mu.Lock()
		ch := s.readyCh
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tools returns the cached tool catalog. ErrNotReady before the first fetch.
func (s *Session) Tools() ([]ToolDescriptor, error) {
	if !s.catalog.ready() {
		return nil, ErrNotReady
	}
	return s.catalog.listTools(), nil
}

// Resources returns the cached resource catalog.
func (s *Session) Resources() ([]ResourceDescriptor, error) {
	if !s.catalog.ready() {
		return nil, ErrNotReady
	}
	return s.catalog.listResources(), nil
}

// Tool looks up one cached tool descriptor.
func (s *Session) Tool(name string) (*ToolDescriptor, bool) {
	if !s.catalog.ready() {
		return nil, false
	}
	return s.catalog.tool(name)
}

// Resource looks up one cached resource descriptor.
func (s *Session) Resource(uri string) (*ResourceDescriptor, bool) {
	if !s.catalog.ready() {
		return nil, false
	}
	return s.catalog.resource(uri)
}

// Call issues one request and blocks the calling goroutine (only) until the
// correlation table resolves it or the deadline passes. A zero timeout uses
// the configured default. Caller cancellation abandons the wait without
// cancelling the remote call; the late response is discarded by the
// unknown-id rule.
func (s *Session) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if s.State() != StateReady && s.State() != StateDegraded {
		return nil, ErrNotConnected
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil, ErrNotConnected
	}
	return s.callOn(ctx, t, method, params, timeout)
}

// callOn issues a request on an explicit transport. Used directly during the
// handshake, before the session is Ready.
func (s *Session) callOn(ctx context.Context, t Transport, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.cfg.CallTimeout
	}

	epoch := s.epoch.Load()
	id := s.nextID.Add(1)
	call, err := s.pending.register(epoch, id, method, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		s.pending.remove(id)
		return nil, fmt.Errorf("mcp: marshal %s request: %w", method, err)
	}
	if err := t.Send(ctx, payload); err != nil {
		s.pending.remove(id)
		return nil, fmt.Errorf("%w: send failed: %v", ErrNotConnected, err)
	}

	select {
	case res := <-call.done:
		return res.result, res.err
	case <-ctx.Done():
		s.pending.remove(id)
		return nil, ctx.Err()
	}
}

// notify sends a one-way notification on the given transport.
func (s *Session) notify(ctx context.Context, t Transport, method string, params interface{}) error {
	payload, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return t.Send(ctx, payload)
}

func (s *Session) supervise() {
	defer s.wg.Done()

	attempt := 0
	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		t, err := s.cfg.Dialer.Dial(s.ctx)
		if err == nil {
			err = t.Start(s.ctx)
			if err != nil {
				_ = t.Close()
			}
		}

		var readDone chan struct{}
		if err == nil {
			// The reader must be draining the stream before the handshake
			// starts: the handshake's own responses arrive on it. The same
			// goroutine tears down the epoch the moment the stream closes,
			// so no waiter can observe a dead epoch's Ready state longer
			// than one scheduling hop.
			readDone = make(chan struct{})
			go func() {
				defer close(readDone)
				s.readLoop(t)
				if s.ctx.Err() == nil {
					s.invalidate(t)
				}
			}()

			err = s.handshake(t)
			if err != nil {
				_ = t.Close()
				<-readDone
			}
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			delay := backoffDelay(s.cfg.ReconnectBase, s.cfg.ReconnectCap, attempt)
			s.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", delay).
				Msg("Connect failed, retrying")
			attempt++
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			continue
		}

		attempt = 0
		s.mu.Lock()
		s.transport = t
		s.mu.Unlock()
		s.setState(StateReady)
		s.signalReady()
		s.logger.Info().Uint64("epoch", s.epoch.Load()).Msg("Session ready")

		<-readDone
		if s.ctx.Err() != nil {
			return
		}
		// Covers a stream that died between the handshake and the Ready
		// transition; a no-op when the reader already invalidated.
		s.invalidate(t)
	}
}

// invalidate tears down the epoch whose stream just closed: it fails the
// epoch's in-flight calls with ErrDisconnected and arms a fresh readyCh so
// WaitReady callers block until the next successful handshake. Safe to call
// more than once per transport; only the first call acts.
func (s *Session) invalidate(t Transport) {
	s.mu.Lock()
	if s.transport != t {
		// Either already invalidated or the handshake never completed;
		// the supervisor owns the retry in both cases.
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.readyCh = make(chan struct{})
	old := s.epoch.Load()
	s.epoch.Add(1)
	s.mu.Unlock()

	s.setState(StateDisconnected)
	flushed := s.pending.flush(old, ErrDisconnected)
	s.logger.Warn().Uint64("old_epoch", old).Int("flushed_calls", flushed).
		Msg("Stream closed, reconnecting")
	if s.cfg.OnReconnect != nil {
		s.cfg.OnReconnect(s.epoch.Load())
	}
}

// handshake runs initialize and fetches the catalog. The session only
// becomes Ready after the catalog for this epoch is in place, so a reconnect
// can never serve a stale catalog.
func (s *Session) handshake(t Transport) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CallTimeout)
	defer cancel()

	_, err := s.callOn(ctx, t, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    s.cfg.ClientName,
			"version": s.cfg.ClientVersion,
		},
	}, 0)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := s.notify(ctx, t, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return s.fetchCatalog(ctx, t)
}

func (s *Session) fetchCatalog(ctx context.Context, t Transport) error {
	toolsRaw, err := s.callOn(ctx, t, "tools/list", nil, 0)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var toolsResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(toolsRaw, &toolsResult); err != nil {
		return fmt.Errorf("tools/list result: %w", err)
	}

	tools := make([]ToolDescriptor, 0, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		tools = append(tools, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Parameters:  parseToolParameters(t.InputSchema),
		})
	}

	resourcesRaw, err := s.callOn(ctx, t, "resources/list", nil, 0)
	if err != nil {
		return fmt.Errorf("resources/list: %w", err)
	}
	var resResult struct {
		Resources []ResourceDescriptor `json:"resources"`
	}
	if err := json.Unmarshal(resourcesRaw, &resResult); err != nil {
		return fmt.Errorf("resources/list result: %w", err)
	}

	s.catalog.replace(s.epoch.Load(), tools, resResult.Resources)
	s.logger.Debug().Int("tools", len(tools)).Int("resources", len(resResult.Resources)).
		Uint64("epoch", s.epoch.Load()).Msg("Catalog fetched")
	return nil
}

func (s *Session) readLoop(t Transport) {
	for {
		select {
		case payload, ok := <-t.Receive():
			if !ok {
				return
			}
			s.dispatch(t, payload)
		case <-s.ctx.Done():
			_ = t.Close()
			return
		}
	}
}

func (s *Session) dispatch(t Transport, payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to unmarshal inbound frame")
		return
	}

	if resp.IsNotification() {
		s.handleNotification(t, &resp)
		return
	}

	id, ok := resp.RequestID()
	if !ok {
		s.logger.Warn().Interface("id", resp.ID).Msg("Inbound frame with unusable id")
		return
	}

	if resp.Error != nil {
		s.pending.resolve(id, nil, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message})
		return
	}
	s.pending.resolve(id, resp.Result, nil)
}

func (s *Session) handleNotification(t Transport, resp *Response) {
	switch resp.Method {
	case "notifications/tools/list_changed", "notifications/resources/list_changed":
		epoch := s.epoch.Load()
		s.logger.Info().Str("method", resp.Method).Msg("Catalog change notification, refreshing")
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CallTimeout)
			defer cancel()
			if s.epoch.Load() != epoch {
				return // reconnected since; the handshake refetched already
			}
			if err := s.fetchCatalog(ctx, t); err != nil {
				s.logger.Error().Err(err).Msg("Catalog refresh failed")
				s.setState(StateDegraded)
				return
			}
			if s.State() == StateDegraded {
				s.setState(StateReady)
			}
		}()
	default:
		s.logger.Debug().Str("method", resp.Method).Msg("Ignoring server notification")
	}
}

func (s *Session) expireLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := s.pending.expire(now); n > 0 {
				s.logger.Warn().Int("expired_calls", n).Msg("Expired pending calls")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next && s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

func (s *Session) signalReady() {
	s.mu.Lock()
	ch := s.readyCh
	s.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// backoffDelay computes a full-jitter exponential delay.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	upper := base << uint(attempt)
	if upper > ceiling || upper <= 0 {
		upper = ceiling
	}
	return time.Duration(rand.Int63n(int64(upper) + 1))
}
