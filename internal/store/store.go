package store

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/model"
)

// DefaultTTL is how long an idle session survives.
const DefaultTTL = 72 * time.Hour

// Store persists funnel progress per browser session. Each record key is
// written independently, so Set is a shallow merge.
type Store interface {
	// Get returns the session state, or nil when the session was never
	// entered or has expired.
	Get(ctx context.Context, sessionID string) (*model.SessionState, error)
	// Set writes every non-nil record of patch and leaves the others alone.
	Set(ctx context.Context, sessionID string, patch model.SessionState) error
	// Clear removes every record of the session.
	Clear(ctx context.Context, sessionID string) error
	// Prune deletes expired records and reports how many were removed.
	Prune(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Open builds the Store selected by driver: memory, sqlite or postgres.
func Open(ctx context.Context, driver, dsn string, ttl time.Duration) (Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch driver {
	case "", "memory":
		return NewMemory(ttl), nil
	case "sqlite":
		if dsn == "" {
			dsn = "leadfunnel.db"
		}
		return NewSQLite(dsn, ttl)
	case "postgres":
		if dsn == "" {
			return nil, eris.Wrap(model.ErrConfiguration, "store: postgres requires session.database_url")
		}
		return NewPostgres(ctx, dsn, ttl)
	default:
		return nil, eris.Wrapf(model.ErrConfiguration, "store: unknown driver %q", driver)
	}
}

// encodeRecords marshals the non-nil records of patch by record key.
func encodeRecords(patch model.SessionState) (map[string][]byte, error) {
	out := make(map[string][]byte, 4)
	add := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "store: marshal %s", key)
		}
		out[key] = b
		return nil
	}
	if patch.LeadData != nil {
		if err := add(model.RecordLeadData, patch.LeadData); err != nil {
			return nil, err
		}
	}
	if patch.LeadForm != nil {
		if err := add(model.RecordLeadFormData, patch.LeadForm); err != nil {
			return nil, err
		}
	}
	if patch.ApplyQualification != nil {
		if err := add(model.RecordApplyQualification, patch.ApplyQualification); err != nil {
			return nil, err
		}
	}
	if patch.UTM != nil {
		if err := add(model.RecordUTMParams, patch.UTM); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sortedKeys returns record keys in a stable order for SQL writes.
func sortedKeys(recs map[string][]byte) []string {
	return slices.Sorted(maps.Keys(recs))
}

// decodeRecords rebuilds a SessionState from stored payloads. A record that
// no longer parses is dropped and logged; the rest of the session survives.
func decodeRecords(sessionID string, raw map[string][]byte) *model.SessionState {
	if len(raw) == 0 {
		return nil
	}
	var st model.SessionState
	for key, payload := range raw {
		var err error
		switch key {
		case model.RecordLeadData:
			st.LeadData = new(model.LeadData)
			if err = json.Unmarshal(payload, st.LeadData); err != nil {
				st.LeadData = nil
			}
		case model.RecordLeadFormData:
			st.LeadForm = new(model.LeadFormData)
			if err = json.Unmarshal(payload, st.LeadForm); err != nil {
				st.LeadForm = nil
			}
		case model.RecordApplyQualification:
			st.ApplyQualification = new(model.ApplyQualification)
			if err = json.Unmarshal(payload, st.ApplyQualification); err != nil {
				st.ApplyQualification = nil
			}
		case model.RecordUTMParams:
			st.UTM = new(model.UTMAttribution)
			if err = json.Unmarshal(payload, st.UTM); err != nil {
				st.UTM = nil
			}
		}
		if err != nil {
			zap.L().Warn("store: dropping unreadable session record",
				zap.String("session_id", sessionID),
				zap.String("record", key),
				zap.Error(err),
			)
		}
	}
	if st.LeadData == nil && st.LeadForm == nil && st.ApplyQualification == nil && st.UTM == nil {
		return nil
	}
	return &st
}
