// Package summary closes sessions after disconnect: it generates a short
// conversation summary in a supervised background task and writes the final
// session record. Generation gets a single attempt; the session is closed
// with timing data whether or not a summary came back.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aurora/pkg/config"
	"aurora/pkg/llm"
	"aurora/pkg/store"
)

// Scheduler 管理會話收尾任務。任務是「受監督的分離任務」：
// 不阻塞斷線路徑，但 Wait 能在關機時等它們收完。
type Scheduler struct {
	client llm.LLMClient
	store  store.Store
	sysCfg *config.SystemConfig

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func NewScheduler(client llm.LLMClient, st store.Store, sysCfg *config.SystemConfig) *Scheduler {
	return &Scheduler{
		client:   client,
		store:    st,
		sysCfg:   sysCfg,
		inflight: make(map[string]bool),
	}
}

// Schedule 為剛斷線的 session 排一個收尾任務。同一個 session 的
// 重複排程會被吸收（斷線 hook 雖然只觸發一次，但排程本身也冪等）。
func (s *Scheduler) Schedule(sessionID string) {
	s.mu.Lock()
	if s.inflight[sessionID] {
		s.mu.Unlock()
		return
	}
	s.inflight[sessionID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, sessionID)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Summary task panicked", "session", sessionID, "panic", r)
			}
		}()
		s.run(sessionID)
	}()
}

// Wait 等待所有在途收尾任務完成（關機用）
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// run 產生摘要（單次嘗試）並關閉 session。摘要失敗只損失摘要欄位，
// end_time 與 duration 一定會寫入。
func (s *Scheduler) run(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("Summary task: session lookup failed", "session", sessionID, "error", err)
		return
	}
	if sess.Status() == store.StatusClosed {
		return
	}

	endTime := time.Now().UTC()
	duration := int(endTime.Sub(sess.StartTime).Seconds())

	summaryText, err := s.generate(ctx, sessionID)
	if err != nil {
		slog.Warn("⚠ Summary generation failed, closing session without summary", "session", sessionID, "error", err)
		summaryText = ""
	}

	if err := s.store.CloseSession(ctx, sessionID, endTime, duration, summaryText); err != nil {
		if err == store.ErrSessionClosed {
			return
		}
		slog.Error("Failed to close session", "session", sessionID, "error", err)
		return
	}

	slog.Info("✓ Session closed", "session", sessionID, "duration_s", duration, "summarized", summaryText != "")
}

// generate 用最後幾筆事件組出逐字稿，請模型給 2-3 句摘要
func (s *Scheduler) generate(ctx context.Context, sessionID string) (string, error) {
	events, err := s.store.GetHistory(ctx, sessionID)
	if err != nil {
		return "", err
	}

	transcript := s.transcript(events)
	if transcript == "" {
		return "", nil
	}

	prompt := fmt.Sprintf("Provide a brief (2-3 sentences) summary of this conversation:\n\n%s\n\nSummary:", transcript)

	chunkCh, err := s.client.StreamChat(ctx, []llm.Message{llm.NewUserMessage(prompt)}, nil)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range chunkCh {
		if chunk.RawError != nil {
			return "", chunk.RawError
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%s", chunk.Error)
		}
		for _, b := range chunk.ContentBlocks {
			if b.Type == llm.BlockTypeText {
				sb.WriteString(b.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// transcript 取最後 N 筆 user/assistant 事件，每筆截斷到 200 字元
func (s *Scheduler) transcript(events []store.EventLogEntry) string {
	tail := s.sysCfg.SummaryTailEvents
	if tail <= 0 {
		tail = 10
	}

	var lines []string
	for _, ev := range events {
		var role string
		switch ev.EventType {
		case store.EventUserMessage:
			role = "USER"
		case store.EventAssistantMessage:
			role = "ASSISTANT"
		default:
			continue
		}
		content := ev.Content
		if runes := []rune(content); len(runes) > 200 {
			content = string(runes[:200])
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, content))
	}

	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return strings.Join(lines, "\n")
}
