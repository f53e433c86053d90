package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadfunnel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. updated_at is kept
// as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funnel_sessions (
	session_id TEXT NOT NULL,
	record_key TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, record_key)
);

CREATE INDEX IF NOT EXISTS idx_funnel_sessions_updated_at ON funnel_sessions(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) cutoff() int64 {
	return s.now().Add(-s.ttl).UnixMilli()
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_key, payload FROM funnel_sessions WHERE session_id = ? AND updated_at > ?`,
		sessionID, s.cutoff(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get session")
	}
	defer rows.Close() //nolint:errcheck

	raw := make(map[string][]byte)
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session record")
		}
		raw[key] = []byte(payload)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate session records")
	}
	return decodeRecords(sessionID, raw), nil
}

func (s *SQLiteStore) Set(ctx context.Context, sessionID string, patch model.SessionState) error {
	recs, err := encodeRecords(patch)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set session: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UnixMilli()

	// An expired session starts over instead of being revived.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM funnel_sessions WHERE session_id = ? AND updated_at <= ?`,
		sessionID, s.cutoff(),
	); err != nil {
		return eris.Wrap(err, "sqlite: set session: drop expired")
	}

	for _, key := range sortedKeys(recs) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funnel_sessions (session_id, record_key, payload, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (session_id, record_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			sessionID, key, string(recs[key]), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: set session: upsert %s", key)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE funnel_sessions SET updated_at = ? WHERE session_id = ?`,
		now, sessionID,
	); err != nil {
		return eris.Wrap(err, "sqlite: set session: touch")
	}

	return eris.Wrap(tx.Commit(), "sqlite: set session: commit")
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM funnel_sessions WHERE session_id = ?`, sessionID)
	return eris.Wrap(err, "sqlite: clear session")
}

func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM funnel_sessions WHERE updated_at <= ?`, s.cutoff())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune sessions: rows affected")
	}
	return int(n), nil
}
