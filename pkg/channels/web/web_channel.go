package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"aurora/pkg/api"
	"aurora/pkg/gateway"
	"aurora/pkg/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

type WebConfig struct {
	Port      int    `json:"port"`       // Default: 9453
	StaticDir string `json:"static_dir"` // Optional frontend directory
}

// SafeConn wraps a websocket connection with a write mutex so the engine,
// the gateway and the read loop can all emit frames concurrently.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteFrame implements api.Transport. Frames go out as newline-terminated
// JSON text messages.
func (sc *SafeConn) WriteFrame(f api.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, append(data, '\n'))
}

// Close implements api.Transport.
func (sc *SafeConn) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.Close()
}

// WebChannel exposes the WebSocket session endpoint plus a couple of
// read-only diagnostic HTTP routes backed by the event store.
type WebChannel struct {
	config WebConfig
	server *http.Server
	store  store.Store

	mu    sync.RWMutex
	conns map[string]*SafeConn // sessionID -> live connection
}

func NewWebChannel(cfg WebConfig, st store.Store) *WebChannel {
	if cfg.Port == 0 {
		cfg.Port = 9453
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "static"
	}
	return &WebChannel{
		config: cfg,
		store:  st,
		conns:  make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session/", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/api/session/", c.handleGetSession)
	if c.config.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(c.config.StaticDir)))
	}

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	// "new" or empty means the client wants a fresh session
	if sessionID == "" || sessionID == "new" {
		sessionID = uuid.NewString()
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	conn := &SafeConn{conn: rawConn}
	userID := r.RemoteAddr

	if err := ctx.Attach(sessionID, userID, conn); err != nil {
		if err == gateway.ErrSessionActive {
			conn.WriteFrame(api.ErrorFrame("session already has an active connection"))
		} else {
			conn.WriteFrame(api.ErrorFrame("failed to establish session"))
		}
		rawConn.Close()
		return
	}
	defer ctx.Detach(sessionID)

	// Confirm the session to the client (it may have been assigned here)
	conn.WriteFrame(api.SystemFrame(sessionID, fmt.Sprintf("Connected to session %s", sessionID)))

	c.mu.Lock()
	c.conns[sessionID] = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.conns, sessionID)
		c.mu.Unlock()
	}()

	slog.Info("✓ WebSocket connected", "session", sessionID, "remote", userID)

	for {
		msgType, msgBytes, err := rawConn.ReadMessage()
		if err != nil {
			slog.Info("✗ WebSocket disconnected", "session", sessionID)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		content := strings.TrimSpace(string(msgBytes))
		if content == "" {
			continue
		}
		ctx.OnMessage(sessionID, content)
	}
}

func (c *WebChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	active, err := c.store.ActiveSessions(reqCtx)
	status := "healthy"
	if c.store.Backend() != "postgres" {
		status = "degraded"
	}
	if err != nil {
		status = "degraded"
	}

	c.mu.RLock()
	connected := len(c.conns)
	c.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"database":    c.store.Backend(),
		"sessions":    active,
		"connections": connected,
	})
}

func (c *WebChannel) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/session/")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing session id"})
		return
	}

	reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	session, err := c.store.GetSession(reqCtx, sessionID)
	if err != nil {
		if err == store.ErrSessionNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	history, err := c.store.GetHistory(reqCtx, sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":     session,
		"status":      session.Status(),
		"history":     history,
		"event_count": len(history),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
