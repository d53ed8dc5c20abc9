// Package idempotency remembers processed message keys in Redis.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces keys written by a Store.
const DefaultPrefix = "idem:"

// Store records keys with a TTL. A key that is marked stays seen until the
// TTL expires.
type Store struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewStore returns a Store writing keys under prefix. An empty prefix selects
// DefaultPrefix.
func NewStore(rdb redis.UniversalClient, ttl time.Duration, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Key returns the Redis key for k.
func (s *Store) Key(k string) string {
	return s.prefix + k
}

// Seen reports whether k was marked.
func (s *Store) Seen(ctx context.Context, k string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.Key(k)).Result()
	if err != nil {
		return false, errors.Wrap(err, "exists")
	}
	return n > 0, nil
}

// Mark records k. Marking an existing key keeps its original TTL.
func (s *Store) Mark(ctx context.Context, k string) error {
	if err := s.rdb.SetNX(ctx, s.Key(k), "1", s.ttl).Err(); err != nil {
		return errors.Wrap(err, "setnx")
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
