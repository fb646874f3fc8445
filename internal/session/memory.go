// ABOUTME: In-process session store backed by the bounded TTL cache
// ABOUTME: Suitable for single-instance deployments and tests

package session

import (
	"context"
	"time"

	"github.com/2389/assistant-relay/internal/ttlcache"
)

// DefaultMaxEntries bounds the memory store when no limit is configured.
const DefaultMaxEntries = 10000

// MemoryStore keeps sessions in a bounded map. Sessions vanish on restart.
type MemoryStore struct {
	cache *ttlcache.Cache[Session]
	now   func() time.Time
}

// NewMemoryStore creates a memory store holding at most maxEntries sessions.
// When full, the oldest written session is dropped.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return newMemoryStore(maxEntries, time.Now)
}

func newMemoryStore(maxEntries int, now func() time.Time) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		cache: ttlcache.NewWithClock[Session](maxEntries, time.Minute, now),
		now:   now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (string, error) {
	sess, err := m.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return sess.ThreadID, nil
}

func (m *MemoryStore) Lookup(_ context.Context, userID string) (*Session, error) {
	sess, expiresAt, ok := m.cache.GetWithExpiry(userID)
	if !ok {
		return nil, ErrNotFound
	}
	sess.ExpiresAt = expiresAt
	return &sess, nil
}

func (m *MemoryStore) Put(_ context.Context, userID, threadID string, ttl time.Duration) error {
	if err := validatePut(userID, threadID, ttl); err != nil {
		return err
	}
	m.cache.Set(userID, Session{
		UserID:    userID,
		ThreadID:  threadID,
		CreatedAt: m.now().UTC(),
	}, ttl)
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, userID string, ttl time.Duration) error {
	if !m.cache.Touch(userID, ttl) {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.cache.Close()
	return nil
}
