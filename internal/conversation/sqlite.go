package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/miradorstack/mirador-chatops/internal/models"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    context     TEXT NOT NULL,
    turn_count  INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
`,
	},
}

// SQLiteStore persists session contexts so they survive restarts.
type SQLiteStore struct {
	db        *sql.DB
	maxRecent int
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and applies
// migrations. Sessions idle longer than ttl are purged by Run; ttl <= 0
// keeps them forever.
func NewSQLiteStore(logger *slog.Logger, path string, maxRecent int, ttl time.Duration) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serialises writers and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLiteStore{db: db, maxRecent: maxRecent, ttl: ttl, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Get loads the session, inserting an empty context on first access.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (models.ConversationContext, error) {
	if sessionID == "" {
		return models.ConversationContext{}, ErrEmptySession
	}
	var out models.ConversationContext
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, found, err := load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			current.UpdatedAt = s.now().UTC()
			if err := save(ctx, tx, current); err != nil {
				return err
			}
		}
		out = current
		return nil
	})
	return out, err
}

// Apply reads, patches and writes the session inside one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, sessionID string, patch models.ContextPatch) (models.ConversationContext, error) {
	if sessionID == "" {
		return models.ConversationContext{}, ErrEmptySession
	}
	var out models.ConversationContext
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, _, err := load(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		next := ApplyPatch(current, patch, s.maxRecent, s.now().UTC())
		if err := save(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// Reset deletes the session row.
func (s *SQLiteStore) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Purge deletes sessions not updated since cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Run purges idle sessions every interval until ctx is done.
func (s *SQLiteStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Purge(ctx, s.now().Add(-s.ttl))
			switch {
			case err != nil && ctx.Err() == nil:
				s.logger.Warn("purging idle sessions failed", slog.Any("error", err))
			case n > 0:
				s.logger.Debug("expired idle sessions", slog.Int64("count", n))
			}
		}
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func load(ctx context.Context, tx *sql.Tx, sessionID string) (models.ConversationContext, bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT context FROM sessions WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConversationContext{SessionID: sessionID}, false, nil
	}
	if err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("load session: %w", err)
	}
	var out models.ConversationContext
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return models.ConversationContext{}, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	out.SessionID = sessionID
	return out, true, nil
}

func save(ctx context.Context, tx *sql.Tx, c models.ConversationContext) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, context, turn_count, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET context = excluded.context, turn_count = excluded.turn_count, updated_at = excluded.updated_at`,
		c.SessionID, string(raw), c.TurnCount, c.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
