package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora/pkg/config"
	"aurora/pkg/llm"
	"aurora/pkg/store"
)

type stubClient struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	initErr error
}

func (c *stubClient) StreamChat(ctx context.Context, messages []llm.Message, available []llm.Tool) (<-chan llm.StreamChunk, error) {
	c.mu.Lock()
	c.calls++
	if len(messages) > 0 {
		c.prompts = append(c.prompts, messages[len(messages)-1].GetTextContent())
	}
	c.mu.Unlock()

	if c.initErr != nil {
		return nil, c.initErr
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.NewTextChunk(c.reply)
	ch <- llm.NewFinalChunk(llm.StopReasonStop, nil)
	close(ch)
	return ch, nil
}

func (c *stubClient) Provider() string                { return "stub" }
func (c *stubClient) IsTransientError(err error) bool { return false }

func (c *stubClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func seedSession(t *testing.T, st *store.MemoryStore, sessionID string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, sessionID, "user-1")
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(ctx, sessionID, store.EventUserMessage, "hello"))
	require.NoError(t, st.AppendEvent(ctx, sessionID, store.EventAssistantMessage, "hi, how can I help?"))
}

func TestScheduleClosesSessionWithSummary(t *testing.T) {
	st := store.NewMemoryStore()
	seedSession(t, st, "sess-1")

	client := &stubClient{reply: "The user said hello and was greeted."}
	s := NewScheduler(client, st, config.DefaultSystemConfig())

	s.Schedule("sess-1")
	s.Wait()

	sess, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, sess.Status())
	require.NotNil(t, sess.EndTime)
	require.NotNil(t, sess.DurationSeconds)
	require.NotNil(t, sess.FinalSummary)
	assert.Equal(t, "The user said hello and was greeted.", *sess.FinalSummary)
}

func TestGenerationFailureStillClosesSession(t *testing.T) {
	st := store.NewMemoryStore()
	seedSession(t, st, "sess-1")

	client := &stubClient{initErr: errors.New("provider down")}
	s := NewScheduler(client, st, config.DefaultSystemConfig())

	s.Schedule("sess-1")
	s.Wait()

	sess, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, sess.Status())
	require.NotNil(t, sess.EndTime)
	assert.Nil(t, sess.FinalSummary)

	// single attempt, no retries
	assert.Equal(t, 1, client.callCount())
}

func TestScheduleIsIdempotentForClosedSession(t *testing.T) {
	st := store.NewMemoryStore()
	seedSession(t, st, "sess-1")

	client := &stubClient{reply: "summary"}
	s := NewScheduler(client, st, config.DefaultSystemConfig())

	s.Schedule("sess-1")
	s.Wait()
	first, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)

	// a second schedule after close must not touch the record
	s.Schedule("sess-1")
	s.Wait()

	second, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, *first.EndTime, *second.EndTime)
	assert.Equal(t, 1, client.callCount())
}

func TestTranscriptUsesTailEventsOnly(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventUserMessage, "message"))
	}
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventUserMessage, "the final question"))

	sysCfg := config.DefaultSystemConfig()
	sysCfg.SummaryTailEvents = 5

	client := &stubClient{reply: "summary"}
	s := NewScheduler(client, st, sysCfg)

	s.Schedule("sess-1")
	s.Wait()

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "the final question")
	assert.Equal(t, 5, strings.Count(prompt, "USER:"))
}

func TestTranscriptTruncatesOnRuneBoundary(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventUserMessage, strings.Repeat("測", 300)))

	client := &stubClient{reply: "summary"}
	s := NewScheduler(client, st, config.DefaultSystemConfig())

	s.Schedule("sess-1")
	s.Wait()

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.True(t, utf8.ValidString(prompt))
	// multi-byte text is cut at 200 characters, not 200 bytes
	assert.Contains(t, prompt, "USER: "+strings.Repeat("測", 200)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("測", 201))
}

func TestTranscriptSkipsToolEvents(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_, err := st.CreateSession(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventUserMessage, "who is user1"))
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventToolCall, `{"id":"c1","name":"fetch_user_profile"}`))
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventToolResult, `{"tool_call_id":"c1"}`))
	require.NoError(t, st.AppendEvent(ctx, "sess-1", store.EventAssistantMessage, "user1 is Alice"))

	client := &stubClient{reply: "summary"}
	s := NewScheduler(client, st, config.DefaultSystemConfig())

	s.Schedule("sess-1")
	s.Wait()

	require.Len(t, client.prompts, 1)
	assert.NotContains(t, client.prompts[0], "fetch_user_profile")
	assert.Contains(t, client.prompts[0], "USER: who is user1")
	assert.Contains(t, client.prompts[0], "ASSISTANT: user1 is Alice")
}

func TestWaitReturnsPromptlyWithNothingScheduled(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewScheduler(&stubClient{reply: "x"}, st, config.DefaultSystemConfig())

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait should return immediately with no tasks")
	}
}
