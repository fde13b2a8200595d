// Package store implements the dual-tier event store: a durable Postgres
// tier and an in-memory fallback with an identical contract. The backend is
// chosen exactly once at process startup via a single availability probe and
// never re-evaluated, so a session's history always lives in one tier.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aurora/pkg/config"
)

// Event type constants for EventLogEntry.EventType.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventSystem           = "system"
	EventError            = "error"
)

// Session status values. Status is derived: a session with no end_time is
// ACTIVE, one with an end_time is CLOSED.
const (
	StatusActive = "ACTIVE"
	StatusClosed = "CLOSED"
)

var (
	// ErrSessionNotFound 指定的 session 不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed close 只允許發生一次
	ErrSessionClosed = errors.New("session already closed")
)

// Session 對應 sessions 資料表的一列
type Session struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	FinalSummary    *string    `json:"final_summary,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Status 回傳派生的會話狀態
func (s *Session) Status() string {
	if s.EndTime != nil {
		return StatusClosed
	}
	return StatusActive
}

// EventLogEntry 對應 event_logs 資料表的一列（append-only，不可變更）
type EventLogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 定義雙層事件儲存的統一契約。兩個實作（Postgres / 記憶體）
// 對外行為完全一致，差別只在重啟後是否保留資料。
// 所有方法都必須能被多個 session 並發呼叫。
type Store interface {
	// CreateSession 建立（或取回既有的）session。同一個 session_id
	// 重複連線時回傳原本的列，不重設 start_time。
	CreateSession(ctx context.Context, sessionID, userID string) (*Session, error)

	// GetSession 取得單一 session，不存在時回傳 ErrSessionNotFound。
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// AppendEvent 追加一筆事件。事件永不修改或刪除；同一 session 內
	// created_at 單調不遞減。
	AppendEvent(ctx context.Context, sessionID, eventType, content string) error

	// GetHistory 回傳 session 的全部事件，依 created_at 升冪排序。
	GetHistory(ctx context.Context, sessionID string) ([]EventLogEntry, error)

	// CloseSession 寫入 end_time / duration / summary，恰好一次。
	// summary 為空字串時寫入 NULL（摘要產生失敗的情況）。
	// 已關閉的 session 回傳 ErrSessionClosed。
	CloseSession(ctx context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error

	// ActiveSessions 回傳尚未關閉的 session 數（診斷用）。
	ActiveSessions(ctx context.Context) (int, error)

	// Backend 回傳實際使用的層："postgres" 或 "memory"。
	Backend() string

	// Close 釋放底層資源。
	Close() error
}

// Open performs the one-time startup probe and returns the backend for the
// process lifetime. An unreachable or unconfigured durable tier means every
// operation runs in memory until restart; the choice is never revisited
// per call, which is what keeps a session's history in a single tier.
func Open(ctx context.Context, cfg config.StoreConfig) Store {
	if !cfg.Configured() {
		slog.Warn("⚠ Durable store not configured - using in-memory tier")
		return NewMemoryStore()
	}

	ps, err := NewPostgresStore(ctx, cfg)
	if err != nil {
		slog.Warn("⚠ Durable store unavailable - falling back to in-memory tier", "error", err)
		return NewMemoryStore()
	}

	slog.Info("✓ Durable store connected", "host", cfg.Host, "database", cfg.Database)
	return ps
}
