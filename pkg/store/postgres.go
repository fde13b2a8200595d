package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"aurora/pkg/config"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	duration_seconds INTEGER,
	final_summary    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS event_logs (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	event_type TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_event_logs_session ON event_logs (session_id, created_at, id);
`

// PostgresStore 是持久層實作，行程重啟後會話與事件仍在
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the pool, runs the single availability probe and
// ensures the schema. A probe failure is returned to the caller so Open can
// fall back to the in-memory tier.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	probeTimeout := time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}

	// 啟動時唯一一次的可用性探測
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := db.PingContext(probeCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession inserts the session row on first connection; reconnects with
// the same session_id return the existing row untouched.
func (s *PostgresStore) CreateSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, start_time, created_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, start_time, end_time, duration_seconds, final_summary, created_at
		FROM sessions WHERE session_id = $1
	`, sessionID)

	var sess Session
	var endTime sql.NullTime
	var duration sql.NullInt64
	var summary sql.NullString
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.StartTime, &endTime, &duration, &summary, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		sess.DurationSeconds = &d
	}
	if summary.Valid {
		v := summary.String
		sess.FinalSummary = &v
	}
	return &sess, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, sessionID, eventType, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_logs (session_id, event_type, content, created_at)
		VALUES ($1, $2, $3, now())
	`, sessionID, eventType, content)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string) ([]EventLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, content, created_at
		FROM event_logs WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// CloseSession 用 WHERE end_time IS NULL 保證 end_time 只會被寫入一次
func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error {
	var summaryArg any
	if summary != "" {
		summaryArg = summary
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET end_time = $2, duration_seconds = $3, final_summary = $4
		WHERE session_id = $1 AND end_time IS NULL
	`, sessionID, endTime.UTC(), durationSeconds, summaryArg)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return ErrSessionClosed
	}
	return nil
}

func (s *PostgresStore) ActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE end_time IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return n, nil
}
