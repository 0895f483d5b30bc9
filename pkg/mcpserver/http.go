package mcpserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// sseSession is one connected SSE client: a GET stream for outbound frames
// paired with POSTs carrying inbound ones.
type sseSession struct {
	id   string
	send chan []byte
	done chan struct{}
}

// HTTPHandler exposes the server over HTTP: an SSE stream at /sse with a
// POST-back endpoint at /messages, and a websocket endpoint at /ws.
func (s *Server) HTTPHandler() http.Handler {
	h := &httpFrontend{
		server:   s,
		sessions: make(map[string]*sseSession),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/sse", h.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/messages", h.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/ws", h.handleWebSocket).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the HTTP frontend until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.HTTPHandler()}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.logger.Info().Str("addr", addr).Msg("MCP server listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed || ctx.Err() != nil {
		return nil
	}
	return err
}

type httpFrontend struct {
	server *Server

	mu       sync.Mutex
	sessions map[string]*sseSession
	upgrader websocket.Upgrader
}

func (h *httpFrontend) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	session := &sseSession{
		id:   uuid.NewString(),
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, session.id)
		h.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?session_id=%s\n\n", session.id)
	flusher.Flush()

	h.server.logger.Info().Str("session_id", session.id).Msg("SSE client connected")

	for {
		select {
		case payload := <-session.send:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-r.Context().Done():
			close(session.done)
			h.server.logger.Info().Str("session_id", session.id).Msg("SSE client disconnected")
			return
		}
	}
}

func (h *httpFrontend) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	h.mu.Lock()
	session, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Responses travel back over the event stream, not this POST, so the
	// handler must outlive the POST's own context.
	go func() {
		if resp := h.server.Handle(context.Background(), payload); resp != nil {
			select {
			case session.send <- resp:
			case <-session.done:
			}
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (h *httpFrontend) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.server.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		go func(payload []byte) {
			if resp := h.server.Handle(r.Context(), payload); resp != nil {
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.WriteMessage(websocket.TextMessage, resp)
			}
		}(payload)
	}
}
