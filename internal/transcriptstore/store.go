// Package transcriptstore persists session transcripts to SQLite so
// operators can review conversations after the fact.
package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rexdesk/rex-core/internal/config"
	"github.com/rexdesk/rex-core/internal/session"
	_ "modernc.org/sqlite"
)

// SessionSummary is one stored session with its entry count.
type SessionSummary struct {
	SessionID string
	StartedAt time.Time
	UpdatedAt time.Time
	Entries   int
}

// Store wraps a SQLite-backed transcript archive. In ephemeral mode it
// accepts writes and drops them, so callers never branch on retention.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.TranscriptConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    entry_id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT,
    function TEXT,
    args TEXT,
    result TEXT,
    status TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_session_created ON entries(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append upserts one transcript entry. Function-call entries arrive
// twice with the same id, once pending and once resolved, and the
// second write replaces the first.
func (s *Store) Append(ctx context.Context, sessionID string, e session.Entry) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at=excluded.updated_at`,
		sessionID, now, now); err != nil {
		return err
	}

	args, err := marshalJSON(e.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	result, err := marshalJSON(e.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries(entry_id, session_id, kind, text, function, args, result, status, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(entry_id) DO UPDATE SET
		     text=excluded.text, args=excluded.args, result=excluded.result, status=excluded.status`,
		e.ID, sessionID, string(e.Kind), e.Text, e.Function, args, result, string(e.Status), e.Timestamp.UTC())
	return err
}

// ListSessions returns stored sessions, most recent first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.started_at, s.updated_at, COUNT(e.entry_id)
		 FROM sessions s LEFT JOIN entries e ON e.session_id = s.session_id
		 GROUP BY s.session_id ORDER BY s.updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var started, updated string
		if err := rows.Scan(&sum.SessionID, &started, &updated, &sum.Entries); err != nil {
			return nil, err
		}
		sum.StartedAt = parseTimestamp(started)
		sum.UpdatedAt = parseTimestamp(updated)
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// ListEntries retrieves up to limit entries for a session in append
// order.
func (s *Store) ListEntries(ctx context.Context, sessionID string, limit int) ([]session.Entry, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, kind, text, function, args, result, status, created_at
		 FROM entries WHERE session_id = ? ORDER BY created_at ASC, entry_id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []session.Entry
	for rows.Next() {
		var e session.Entry
		var kind, status, created string
		var args, result sql.NullString
		if err := rows.Scan(&e.ID, &kind, &e.Text, &e.Function, &args, &result, &status, &created); err != nil {
			return nil, err
		}
		e.Kind = session.EntryKind(kind)
		e.Status = session.CallStatus(status)
		e.Timestamp = parseTimestamp(created)
		e.Args = unmarshalJSON(args.String)
		e.Result = unmarshalJSON(result.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func marshalJSON(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Recorder adapts the store to the session's persistence hook. Write
// failures are logged and swallowed so persistence never disturbs a
// live conversation.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(slog.String("component", "transcript-recorder"))}
}

func (r *Recorder) Record(sessionID string, e session.Entry) {
	if err := r.store.Append(context.Background(), sessionID, e); err != nil {
		r.log.Warn("transcript write failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}
