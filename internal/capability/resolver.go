// Package capability resolves and caches the capabilities of dashboard users
// from a static role policy.
package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Recorder receives cache hit and miss counts.
type Recorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordCapabilityCacheHit()  {}
func (nopRecorder) RecordCapabilityCacheMiss() {}

// Resolver implements model.CapabilityResolver with a bounded in-memory
// cache. Concurrent misses for the same key share one evaluation.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	flight     singleflight.Group
	rec        Recorder

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRecorder reports cache hits and misses to rec.
func WithRecorder(rec Recorder) ResolverOption {
	return func(r *Resolver) { r.rec = rec }
}

// NewResolver creates a Resolver over evaluator using the cache settings in cfg.
func NewResolver(evaluator model.PolicyEvaluator, cfg config.CacheConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		evaluator:  evaluator,
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		rec:        nopRecorder{},
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// cacheKey includes the roles because a new token may carry different ones.
func cacheKey(rctx *model.RequestContext) string {
	roles := slices.Clone(rctx.Roles)
	slices.Sort(roles)
	return rctx.TenantID + ":" + rctx.SubjectID + ":" + strings.Join(roles, ",")
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		r.rec.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.rec.RecordCapabilityCacheMiss()

	v, err, _ := r.flight.Do(key, func() (any, error) {
		caps, err := r.evaluator.ResolveCapabilities(rctx)
		if err != nil {
			return nil, err
		}
		r.store(key, caps)
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(model.CapabilitySet), nil
}

func (r *Resolver) store(key string, caps model.CapabilitySet) {
	if r.ttl <= 0 {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		for k, e := range r.cache {
			if now.After(e.expires) {
				delete(r.cache, k)
			}
		}
		// Still full: drop an arbitrary entry.
		for k := range r.cache {
			if len(r.cache) < r.maxEntries {
				break
			}
			delete(r.cache, k)
		}
	}
	r.cache[key] = cacheEntry{caps: caps, expires: now.Add(r.ttl)}
}

// Invalidate clears cached capabilities for the given user and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	prefix := tenantID + ":" + subjectID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Sync reloads the policy and drops every cached set.
func (r *Resolver) Sync() error {
	if err := r.evaluator.Sync(); err != nil {
		return err
	}
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
	return nil
}

// Len returns the number of cached sets.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
