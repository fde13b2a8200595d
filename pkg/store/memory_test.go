package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/pkg/config"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, err := s.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.SessionID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, StatusActive, sess.Status())
	assert.Nil(t, sess.EndTime)

	// reconnect with the same id keeps the original row
	again, err := s.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, sess.StartTime, again.StartTime)

	end := time.Now().UTC()
	err = s.CloseSession(ctx, "sess-1", end, 42, "talked about the weather")
	require.NoError(t, err)

	closed, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status())
	require.NotNil(t, closed.DurationSeconds)
	assert.Equal(t, 42, *closed.DurationSeconds)
	require.NotNil(t, closed.FinalSummary)
	assert.Equal(t, "talked about the weather", *closed.FinalSummary)
}

func TestMemoryStoreCloseExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, s.CloseSession(ctx, "sess-1", time.Now(), 10, "first"))

	err = s.CloseSession(ctx, "sess-1", time.Now(), 99, "second")
	assert.ErrorIs(t, err, ErrSessionClosed)

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 10, *sess.DurationSeconds)
	assert.Equal(t, "first", *sess.FinalSummary)
}

func TestMemoryStoreCloseWithoutSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, s.CloseSession(ctx, "sess-1", time.Now(), 5, ""))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, sess.Status())
	assert.Nil(t, sess.FinalSummary)
}

func TestMemoryStoreHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	types := []string{EventUserMessage, EventToolCall, EventToolResult, EventAssistantMessage}
	for _, et := range types {
		require.NoError(t, s.AppendEvent(ctx, "sess-1", et, et+" payload"))
	}

	history, err := s.GetHistory(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, len(types))
	for i, e := range history {
		assert.Equal(t, types[i], e.EventType)
		if i > 0 {
			assert.False(t, e.CreatedAt.Before(history[i-1].CreatedAt))
		}
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSession(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = s.AppendEvent(ctx, "ghost", EventUserMessage, "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = s.CloseSession(ctx, "ghost", time.Now(), 0, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreActiveSessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.CreateSession(ctx, id, "user-1")
		require.NoError(t, err)
	}
	require.NoError(t, s.CloseSession(ctx, "b", time.Now(), 1, ""))

	n, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenFallsBackWhenUnconfigured(t *testing.T) {
	s := Open(context.Background(), config.StoreConfig{})
	assert.Equal(t, "memory", s.Backend())
}

func TestOpenFallsBackWhenUnreachable(t *testing.T) {
	cfg := config.StoreConfig{
		Host:           "127.0.0.1",
		Port:           1, // nothing listens here
		User:           "aurora",
		Database:       "aurora",
		SSLMode:        "disable",
		ProbeTimeoutMs: 200,
	}
	s := Open(context.Background(), cfg)
	assert.Equal(t, "memory", s.Backend())
}
