// Package kvstore implements the opaque provider-continuation-blob store:
// a small KV interface protocol hooks use to smuggle provider-specific
// opaque tokens (e.g. Gemini thought signatures) across the
// request/response boundary, with last-write-wins semantics and a 30-day
// TTL.
package kvstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is the fixed continuation-blob lifetime.
const TTL = 30 * 24 * time.Hour

// Store is the small interface internal/orchestrator depends on. The IR
// never carries the blob; the orchestrator hands it to the encoder through
// protocol.EncodeOptions.ContinuationBlob.
type Store interface {
	// Put writes blob under key with the standard TTL, overwriting any
	// existing value (last write wins).
	Put(ctx context.Context, key string, blob []byte) error
	// Get returns the blob stored under key, or ok=false if it is absent
	// or has expired.
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
}

// RedisStore is the production Store backed by a redis.Client (or, in
// tests, a client pointed at a miniredis.Miniredis instance).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. prefix namespaces every key (e.g.
// "llmgateway:continuation:") so the continuation store can share a Redis
// instance/database with unrelated uses without key collisions.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key string, blob []byte) error {
	return s.client.Set(ctx, s.prefix+key, blob, TTL).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
