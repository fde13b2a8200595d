package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 是記憶體後備層。契約與 PostgresStore 完全相同，
// 但資料只活在行程內，重啟即消失。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]EventLogEntry
	nextID   int64
	lastTime time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		events:   make(map[string][]EventLogEntry),
	}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }

// now 回傳單調不遞減的時間戳，保證同一 session 的事件排序穩定
func (s *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}

func (s *MemoryStore) CreateSession(_ context.Context, sessionID, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		cp := *existing
		return &cp, nil
	}

	now := s.now()
	sess := &Session{
		SessionID: sessionID,
		UserID:    userID,
		StartTime: now,
		CreatedAt: now,
	}
	s.sessions[sessionID] = sess
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, sessionID, eventType, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}

	s.nextID++
	s.events[sessionID] = append(s.events[sessionID], EventLogEntry{
		ID:        s.nextID,
		SessionID: sessionID,
		EventType: eventType,
		Content:   content,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, sessionID string) ([]EventLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]EventLogEntry, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) CloseSession(_ context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.EndTime != nil {
		return ErrSessionClosed
	}

	t := endTime.UTC()
	sess.EndTime = &t
	sess.DurationSeconds = &durationSeconds
	if summary != "" {
		sess.FinalSummary = &summary
	}
	return nil
}

func (s *MemoryStore) ActiveSessions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.EndTime == nil {
			n++
		}
	}
	return n, nil
}
