package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadfunnel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	ttl     time.Duration
	now     func() time.Time
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, ttl time.Duration) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, ttl), nil
}

func newPostgresWithPool(pool Pool, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, ttl: ttl, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS funnel_sessions (
	session_id TEXT NOT NULL,
	record_key TEXT NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, record_key)
);

CREATE INDEX IF NOT EXISTS idx_funnel_sessions_updated_at ON funnel_sessions(updated_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) cutoff() time.Time {
	return s.now().Add(-s.ttl).UTC()
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_key, payload FROM funnel_sessions WHERE session_id = $1 AND updated_at > $2`,
		sessionID, s.cutoff(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get session")
	}
	defer rows.Close()

	raw := make(map[string][]byte)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session record")
		}
		raw[key] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate session records")
	}
	return decodeRecords(sessionID, raw), nil
}

func (s *PostgresStore) Set(ctx context.Context, sessionID string, patch model.SessionState) error {
	recs, err := encodeRecords(patch)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: set session: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now().UTC()

	// An expired session starts over instead of being revived.
	if _, err := tx.Exec(ctx,
		`DELETE FROM funnel_sessions WHERE session_id = $1 AND updated_at <= $2`,
		sessionID, s.cutoff(),
	); err != nil {
		return eris.Wrap(err, "postgres: set session: drop expired")
	}

	for _, key := range sortedKeys(recs) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO funnel_sessions (session_id, record_key, payload, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (session_id, record_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			sessionID, key, recs[key], now,
		); err != nil {
			return eris.Wrapf(err, "postgres: set session: upsert %s", key)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE funnel_sessions SET updated_at = $1 WHERE session_id = $2`,
		now, sessionID,
	); err != nil {
		return eris.Wrap(err, "postgres: set session: touch")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: set session: commit")
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM funnel_sessions WHERE session_id = $1`, sessionID)
	return eris.Wrap(err, "postgres: clear session")
}

func (s *PostgresStore) Prune(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funnel_sessions WHERE updated_at <= $1`, s.cutoff())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune sessions")
	}
	return int(tag.RowsAffected()), nil
}
