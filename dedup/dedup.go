// Package dedup provides the correlation-id dedup store the Dispatcher uses
// to satisfy the idempotency requirement on agentCompleted delivery: a
// dispatch is keyed by "{stepId}:{runId}" and must not be re-executed for the
// same key within a configurable window, even though signal delivery and
// dispatcher activation may both be at-least-once.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store records and checks correlation keys within a TTL window.
type Store interface {
	// MarkIfAbsent records key with the given TTL and reports true if key was
	// not already present (i.e. this call is the one that should proceed with
	// dispatch). A false result means a dispatch for key is already in
	// flight or recently completed and should be skipped.
	MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CorrelationKey builds the "{stepId}:{runId}" key the design mandates for
// dispatcher-side dedup.
func CorrelationKey(stepID, runID string) string {
	return stepID + ":" + runID
}

// InMemoryStore is a single-process Store backed by a map, suitable for
// tests and single-Dispatcher-instance deployments. Distributed deployments
// should use a shared backend such as redisstore.Store instead, since an
// in-memory store cannot dedupe across Dispatcher processes.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]time.Time)}
}

// MarkIfAbsent implements Store.
func (s *InMemoryStore) MarkIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

var _ Store = (*InMemoryStore)(nil)
