// Package redisstore backs dedup.Store with Redis SETNX, the idiomatic way to
// implement a distributed "claim this key once" lock with an expiry.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/durableflow/kernel/dedup"
)

// Store implements dedup.Store on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// New returns a Store that namespaces keys under prefix (e.g.
// "durableflow:dispatch:") to avoid collisions with unrelated keys sharing
// the same Redis database.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: setnx %q: %w", key, err)
	}
	return ok, nil
}

var _ dedup.Store = (*Store)(nil)
