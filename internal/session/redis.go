package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/vendordesk/internal/listview"
)

// RedisStore keeps state in Redis so every replica sees the same view.
// Expiry is delegated to Redis.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Load reads and decodes the state at key.
func (s *RedisStore) Load(ctx context.Context, key string) (listview.State, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return listview.State{}, false, nil
	}
	if err != nil {
		return listview.State{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	var st listview.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return listview.State{}, false, fmt.Errorf("unmarshal view state %q: %w", key, err)
	}
	return st, true, nil
}

// Save writes st with ttl.
func (s *RedisStore) Save(ctx context.Context, key string, st listview.State, ttl time.Duration) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
