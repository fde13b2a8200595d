package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/pkg/api"
	"aurora/pkg/gateway"
	"aurora/pkg/store"
)

// fakeContext records gateway interactions driven by the channel.
type fakeContext struct {
	mu        sync.Mutex
	attachErr error
	attached  []string
	messages  []string
	detached  chan string
}

func newFakeContext() *fakeContext {
	return &fakeContext{detached: make(chan string, 4)}
}

func (f *fakeContext) Attach(sessionID, userID string, t api.Transport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, sessionID)
	return nil
}

func (f *fakeContext) Detach(sessionID string) {
	f.detached <- sessionID
}

func (f *fakeContext) OnMessage(sessionID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sessionID+"|"+content)
}

func newTestServer(t *testing.T, ctx *fakeContext) (*WebChannel, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	c := NewWebChannel(WebConfig{Port: 0}, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session/", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/api/session/", c.handleGetSession)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(srv.URL, "http", "ws", 1) + "/ws/session/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) api.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f api.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestWebSocketSessionFlow(t *testing.T) {
	ctx := newFakeContext()
	_, srv := newTestServer(t, ctx)

	conn := dialSession(t, srv, "new")

	welcome := readFrame(t, conn)
	assert.Equal(t, api.FrameSystem, welcome.Type)
	assert.NotEmpty(t, welcome.SessionID)
	assert.Contains(t, welcome.Content, welcome.SessionID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Hello")))

	assert.Eventually(t, func() bool {
		ctx.mu.Lock()
		defer ctx.mu.Unlock()
		return len(ctx.messages) == 1 && ctx.messages[0] == welcome.SessionID+"|Hello"
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	select {
	case id := <-ctx.detached:
		assert.Equal(t, welcome.SessionID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected detach after client close")
	}
}

func TestWebSocketKeepsExplicitSessionID(t *testing.T) {
	ctx := newFakeContext()
	_, srv := newTestServer(t, ctx)

	conn := dialSession(t, srv, "sess-keep")
	welcome := readFrame(t, conn)
	assert.Equal(t, "sess-keep", welcome.SessionID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	assert.Equal(t, []string{"sess-keep"}, ctx.attached)
}

func TestWebSocketIgnoresBlankMessages(t *testing.T) {
	ctx := newFakeContext()
	_, srv := newTestServer(t, ctx)

	conn := dialSession(t, srv, "sess-blank")
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("   ")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("real message")))

	assert.Eventually(t, func() bool {
		ctx.mu.Lock()
		defer ctx.mu.Unlock()
		return len(ctx.messages) == 1 && strings.HasSuffix(ctx.messages[0], "|real message")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsDuplicateSession(t *testing.T) {
	ctx := newFakeContext()
	ctx.attachErr = gateway.ErrSessionActive
	_, srv := newTestServer(t, ctx)

	conn := dialSession(t, srv, "sess-dup")

	f := readFrame(t, conn)
	assert.Equal(t, api.FrameError, f.Type)
	assert.Contains(t, f.Content, "active connection")

	// Server closes the socket after the rejection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	c, srv := newTestServer(t, newFakeContext())
	_, err := c.store.CreateSession(context.Background(), "sess-h", "u1")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"]) // in-memory tier
	assert.Equal(t, "memory", body["database"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestGetSessionEndpoint(t *testing.T) {
	c, srv := newTestServer(t, newFakeContext())
	bg := context.Background()
	_, err := c.store.CreateSession(bg, "sess-api", "u1")
	require.NoError(t, err)
	require.NoError(t, c.store.AppendEvent(bg, "sess-api", store.EventUserMessage, "hi"))

	resp, err := http.Get(srv.URL + "/api/session/sess-api")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ACTIVE", body["status"])
	assert.Equal(t, float64(1), body["event_count"])

	missing, err := http.Get(srv.URL + "/api/session/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
