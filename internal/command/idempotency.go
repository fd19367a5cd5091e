package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

// claimLease bounds how long an unfinished submission holds its key, so a
// crashed executor does not block retries for the full result TTL.
const claimLease = 2 * time.Minute

// IdempotencyStore deduplicates retried action submissions. The executor
// claims a key before it runs an action, then completes the claim with the
// result or releases it when the action fails.
type IdempotencyStore interface {
	// Claim reserves key for a submission whose input hashes to hash. A nil
	// result and nil error mean the caller owns the key. A key that already
	// completed with the same hash returns the stored result. A key held by
	// another submission, or completed with a different hash, is a CONFLICT.
	Claim(ctx context.Context, key, hash string, ttl time.Duration) (*model.CommandResponse, error)

	// Complete stores the result of a claimed submission for ttl.
	Complete(ctx context.Context, key, hash string, result model.CommandResponse, ttl time.Duration) error

	// Release drops a claim so the submission can be retried.
	Release(ctx context.Context, key string) error
}

type idempotencyEntry struct {
	Hash    string                 `json:"hash"`
	Pending bool                   `json:"pending,omitempty"`
	Result  *model.CommandResponse `json:"result,omitempty"`
}

// replay answers a claim that found entry under key.
func (e idempotencyEntry) replay(key, hash string) (*model.CommandResponse, error) {
	if e.Hash != hash {
		return nil, model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different input", key))
	}
	if e.Pending || e.Result == nil {
		return nil, model.NewConflictError(fmt.Sprintf("submission %q is still in progress", key))
	}
	result := *e.Result
	return &result, nil
}

func leaseFor(ttl time.Duration) time.Duration {
	return min(ttl, claimLease)
}

// OpenIdempotencyStore builds the store selected by cfg.Driver. The returned
// closer releases its resources.
func OpenIdempotencyStore(cfg config.IdempotencyStoreConfig, getenv func(string) string) (IdempotencyStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryIdempotencyStore(), func() error { return nil }, nil
	case "redis":
		addr := getenv(cfg.Redis.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency: %s is not set", cfg.Redis.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Redis.DB})
		return NewRedisIdempotencyStore(client, cfg.Redis.Prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("idempotency: unknown driver %q", cfg.Driver)
	}
}

// FormatIdempotencyKey scopes a client key to the tenant, list and action it
// was submitted for.
func FormatIdempotencyKey(tenantID, listID, actionID, key string) string {
	parts := []string{tenantID, listID, actionID, key}
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// MemoryIdempotencyStore keeps claims in process. It serves tests and
// single-replica deployments.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryClaim
}

type memoryClaim struct {
	idempotencyEntry
	expires time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{now: time.Now, entries: make(map[string]memoryClaim)}
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, key, hash string, ttl time.Duration) (*model.CommandResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.entries[key]; ok && now.Before(c.expires) {
		return c.replay(key, hash)
	}
	s.entries[key] = memoryClaim{
		idempotencyEntry: idempotencyEntry{Hash: hash, Pending: true},
		expires:          now.Add(leaseFor(ttl)),
	}
	return nil, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key, hash string, result model.CommandResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryClaim{
		idempotencyEntry: idempotencyEntry{Hash: hash, Result: &result},
		expires:          s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries[key]; ok && c.Pending {
		delete(s.entries, key)
	}
	return nil
}

// Len counts live entries, pending or completed.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for key, c := range s.entries {
		if now.Before(c.expires) {
			n++
		} else {
			delete(s.entries, key)
		}
	}
	return n
}

// RedisIdempotencyStore shares claims between replicas. A claim is a SET NX
// with the lease as expiry; completion overwrites it with the result.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisIdempotencyStore(client redis.Cmdable, prefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key, hash string, ttl time.Duration) (*model.CommandResponse, error) {
	pending, err := json.Marshal(idempotencyEntry{Hash: hash, Pending: true})
	if err != nil {
		return nil, err
	}
	// A second round covers an entry that expires between SETNX and GET.
	for range 2 {
		ok, err := s.client.SetNX(ctx, s.prefix+key, pending, leaseFor(ttl)).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency: claim %q: %w", key, err)
		}
		if ok {
			return nil, nil
		}
		raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency: read %q: %w", key, err)
		}
		var entry idempotencyEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("idempotency: decode %q: %w", key, err)
		}
		return entry.replay(key, hash)
	}
	return nil, model.NewConflictError(fmt.Sprintf("submission %q is contended", key))
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, hash string, result model.CommandResponse, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{Hash: hash, Result: &result})
	if err != nil {
		return fmt.Errorf("idempotency: encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete %q: %w", key, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: release %q: %w", key, err)
	}
	return nil
}
