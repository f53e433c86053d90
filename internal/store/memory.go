package store

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/leadfunnel/internal/model"
)

type memorySession struct {
	records   map[string][]byte
	updatedAt time.Time
}

// MemoryStore keeps sessions in process memory. Suitable for tests and a
// single instance.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

// NewMemory returns an empty MemoryStore.
func NewMemory(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(sess.updatedAt) > m.ttl {
		delete(m.sessions, sessionID)
		return nil, nil
	}
	return decodeRecords(sessionID, sess.records), nil
}

func (m *MemoryStore) Set(_ context.Context, sessionID string, patch model.SessionState) error {
	recs, err := encodeRecords(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess, ok := m.sessions[sessionID]
	if !ok || now.Sub(sess.updatedAt) > m.ttl {
		sess = &memorySession{records: make(map[string][]byte, len(recs))}
		m.sessions[sessionID] = sess
	}
	for k, v := range recs {
		sess.records[k] = v
	}
	sess.updatedAt = now
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// Migrate is a no-op.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Prune(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	now := m.now()
	for id, sess := range m.sessions {
		if now.Sub(sess.updatedAt) > m.ttl {
			n += len(sess.records)
			delete(m.sessions, id)
		}
	}
	return n, nil
}
