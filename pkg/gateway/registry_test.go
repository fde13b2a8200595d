package gateway

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/pkg/api"
)

type fakeTransport struct {
	mu        sync.Mutex
	frames    []api.Frame
	closed    int
	failWrite bool
}

func (t *fakeTransport) WriteFrame(f api.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrite {
		return errors.New("write failed")
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTransport) sent() []api.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]api.Frame, len(t.frames))
	copy(out, t.frames)
	return out
}

func TestAttachRejectsDuplicateSession(t *testing.T) {
	g := NewRegistry()

	first := &fakeTransport{}
	require.NoError(t, g.Attach("sess-1", "user-1", first))
	assert.Equal(t, StateOpen, g.State("sess-1"))

	err := g.Attach("sess-1", "user-1", &fakeTransport{})
	assert.ErrorIs(t, err, ErrSessionActive)

	// the original connection still works
	require.NoError(t, g.Send("sess-1", api.ChunkFrame("hello")))
	require.Len(t, first.sent(), 1)
	assert.Equal(t, "hello", first.sent()[0].Content)
}

func TestAttachRunsConnectHook(t *testing.T) {
	g := NewRegistry()

	var gotSession, gotUser string
	g.SetConnectHook(func(sessionID, userID string) error {
		gotSession, gotUser = sessionID, userID
		return nil
	})

	require.NoError(t, g.Attach("sess-1", "user-1", &fakeTransport{}))
	assert.Equal(t, "sess-1", gotSession)
	assert.Equal(t, "user-1", gotUser)
}

func TestAttachConnectHookFailureReleasesSlot(t *testing.T) {
	g := NewRegistry()
	g.SetConnectHook(func(sessionID, userID string) error {
		return errors.New("store down")
	})

	err := g.Attach("sess-1", "user-1", &fakeTransport{})
	require.Error(t, err)
	assert.Equal(t, StateClosed, g.State("sess-1"))

	// slot is free again once the hook is removed
	g.SetConnectHook(nil)
	assert.NoError(t, g.Attach("sess-1", "user-1", &fakeTransport{}))
}

func TestDetachIsIdempotentAndHookFiresOnce(t *testing.T) {
	g := NewRegistry()

	hookCalls := 0
	g.SetDisconnectHook(func(sessionID string) {
		hookCalls++
	})

	tr := &fakeTransport{}
	require.NoError(t, g.Attach("sess-1", "user-1", tr))

	g.Detach("sess-1")
	g.Detach("sess-1")
	g.Detach("sess-1")

	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 1, tr.closed)
	assert.Equal(t, StateClosed, g.State("sess-1"))
}

func TestReconnectAfterDetachFiresHookAgain(t *testing.T) {
	g := NewRegistry()

	hookCalls := 0
	g.SetDisconnectHook(func(sessionID string) {
		hookCalls++
	})

	require.NoError(t, g.Attach("sess-1", "user-1", &fakeTransport{}))
	g.Detach("sess-1")
	require.NoError(t, g.Attach("sess-1", "user-1", &fakeTransport{}))
	g.Detach("sess-1")

	assert.Equal(t, 2, hookCalls)
}

func TestSendDropsWhenNoConnection(t *testing.T) {
	g := NewRegistry()
	// no error, no panic: delivery is best effort
	assert.NoError(t, g.Send("ghost", api.ChunkFrame("hi")))
}

func TestSendSurfacesWriteError(t *testing.T) {
	g := NewRegistry()
	tr := &fakeTransport{failWrite: true}
	require.NoError(t, g.Attach("sess-1", "user-1", tr))

	err := g.Send("sess-1", api.ChunkFrame("hi"))
	assert.Error(t, err)
	// the session itself is untouched
	assert.Equal(t, StateOpen, g.State("sess-1"))
}

func TestOnMessageRoutesToHandler(t *testing.T) {
	g := NewRegistry()

	var gotSession, gotContent string
	g.SetMessageHandler(func(sessionID, content string) {
		gotSession, gotContent = sessionID, content
	})

	require.NoError(t, g.Attach("sess-1", "user-1", &fakeTransport{}))
	g.OnMessage("sess-1", "what is the weather")

	assert.Equal(t, "sess-1", gotSession)
	assert.Equal(t, "what is the weather", gotContent)
}

func TestOnMessageIgnoredWithoutConnection(t *testing.T) {
	g := NewRegistry()

	called := false
	g.SetMessageHandler(func(sessionID, content string) { called = true })

	g.OnMessage("ghost", "hello")
	assert.False(t, called)
}

func TestActiveConnections(t *testing.T) {
	g := NewRegistry()
	require.NoError(t, g.Attach("a", "u", &fakeTransport{}))
	require.NoError(t, g.Attach("b", "u", &fakeTransport{}))
	assert.Equal(t, 2, g.ActiveConnections())

	g.Detach("a")
	assert.Equal(t, 1, g.ActiveConnections())
}
