package capability

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

func testRctx(roles ...string) *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "vendor-7",
		TenantID:  "market-1",
		Roles:     roles,
	}
}

func cacheFor(ttl time.Duration) config.CacheConfig {
	return config.CacheConfig{TTL: ttl, MaxEntries: 100}
}

// --- StaticPolicyEvaluator tests ---

func TestStaticPolicyEvaluator_ResolveCapabilities(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}

	caps, err := e.ResolveCapabilities(testRctx("vendor"))
	if err != nil {
		t.Fatalf("ResolveCapabilities() error = %v", err)
	}

	if !caps.Has("bookings:approve") {
		t.Error("vendor should have bookings:approve")
	}
	if caps.Has("disputes:assign") {
		t.Error("vendor should not have disputes:assign")
	}
	if e.Roles() != 3 {
		t.Errorf("Roles() = %d, want 3", e.Roles())
	}
}

func TestStaticPolicyEvaluator_MultipleRoles(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("vendor", "support"))

	if !caps.HasAll("bookings:list:view", "disputes:assign") {
		t.Error("combined roles should carry both role grants")
	}
}

func TestStaticPolicyEvaluator_Wildcard(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("admin"))

	if !caps.Has("bookings:anything:at:all") {
		t.Error("admin with bookings:* should match any bookings: capability")
	}
	if caps.Has("payouts:list:view") {
		t.Error("admin wildcards should not leak into other domains")
	}
}

func TestStaticPolicyEvaluator_TenantGrants(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")

	rctx := testRctx("vendor")
	rctx.TenantID = "market-eu"
	caps, _ := e.ResolveCapabilities(rctx)
	if !caps.Has("transactions:list:view") {
		t.Error("market-eu vendors should see transactions")
	}

	caps, _ = e.ResolveCapabilities(testRctx("vendor"))
	if caps.Has("transactions:list:view") {
		t.Error("tenant grant applied to another tenant")
	}
}

func TestStaticPolicyEvaluator_UnknownRole(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	caps, _ := e.ResolveCapabilities(testRctx("ghost"))
	if len(caps) != 0 {
		t.Errorf("unknown role should have no capabilities, got %v", caps)
	}
}

func TestStaticPolicyEvaluator_BadFile(t *testing.T) {
	if _, err := NewStaticPolicyEvaluator("testdata/missing.yaml"); err == nil {
		t.Error("missing policy file should fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("roles: [unclosed"), 0o600)
	if _, err := NewStaticPolicyEvaluator(path); err == nil {
		t.Error("malformed policy file should fail")
	}
}

func TestStaticPolicyEvaluator_invalidCapability(t *testing.T) {
	for _, c := range []string{"bookings::view", "*:list", "bookings:appr*", ":view"} {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		os.WriteFile(path, []byte("roles:\n  vendor: [\""+c+"\"]\n"), 0o600)
		if _, err := NewStaticPolicyEvaluator(path); err == nil {
			t.Errorf("capability %q should be rejected", c)
		}
	}
}

func TestStaticPolicyEvaluator_failedSyncKeepsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	os.WriteFile(path, []byte("roles:\n  vendor: [bookings:approve]\n"), 0o600)
	e, err := NewStaticPolicyEvaluator(path)
	if err != nil {
		t.Fatal(err)
	}

	os.WriteFile(path, []byte("roles:\n  vendor: [\"bookings:*:view\"]\n"), 0o600)
	if err := e.Sync(); err == nil {
		t.Fatal("Sync() accepted an invalid capability")
	}
	caps, _ := e.ResolveCapabilities(testRctx("vendor"))
	if !caps.Has("bookings:approve") {
		t.Error("previous policy lost after a failed sync")
	}
}

func TestStaticPolicyEvaluator_shippedPolicy(t *testing.T) {
	e, err := NewStaticPolicyEvaluator("../../policies.yaml")
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}
	rctx := testRctx("vendor_staff")
	rctx.TenantID = "acme"
	caps, _ := e.ResolveCapabilities(rctx)
	if !caps.HasAll("bookings:approve", "transactions:list:view") || caps.Has("disputes:resolve") {
		t.Errorf("acme vendor_staff capabilities = %v", caps)
	}
}

// --- Resolver tests ---

func TestResolver_Resolve_and_Cache(t *testing.T) {
	var calls atomic.Int32
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			calls.Add(1)
			return model.CapabilitySet{"bookings:list:view": true}, nil
		},
	}
	r := NewResolver(mock, cacheFor(5*time.Minute))
	rctx := testRctx("vendor")

	for i := 0; i < 3; i++ {
		caps, err := r.Resolve(rctx)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !caps.Has("bookings:list:view") {
			t.Error("should have bookings:list:view")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("evaluator called %d times, want 1", calls.Load())
	}
}

type countingRecorder struct {
	hits, misses atomic.Int32
}

func (c *countingRecorder) RecordCapabilityCacheHit()  { c.hits.Add(1) }
func (c *countingRecorder) RecordCapabilityCacheMiss() { c.misses.Add(1) }

func TestResolver_WithRecorder(t *testing.T) {
	mock := &mockEvaluator{
		resolveFunc: func(*model.RequestContext) (model.CapabilitySet, error) {
			return model.CapabilitySet{"orders:list:view": true}, nil
		},
	}
	rec := &countingRecorder{}
	r := NewResolver(mock, cacheFor(time.Minute), WithRecorder(rec))

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(testRctx("vendor")); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if rec.misses.Load() != 1 || rec.hits.Load() != 2 {
		t.Errorf("misses = %d, hits = %d, want 1 and 2", rec.misses.Load(), rec.hits.Load())
	}
}

func TestResolver_rolesPartOfKey(t *testing.T) {
	e, _ := NewStaticPolicyEvaluator("testdata/policies.yaml")
	r := NewResolver(e, cacheFor(time.Minute))

	caps, _ := r.Resolve(testRctx("vendor"))
	if caps.Has("disputes:assign") {
		t.Fatal("vendor should not assign disputes")
	}
	caps, _ = r.Resolve(testRctx("support", "vendor"))
	if !caps.Has("disputes:assign") {
		t.Error("new roles must not be served from the old cache entry")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestResolver_Invalidate(t *testing.T) {
	var calls atomic.Int32
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			calls.Add(1)
			return model.CapabilitySet{"bookings:list:view": true}, nil
		},
	}
	r := NewResolver(mock, cacheFor(5*time.Minute))
	rctx := testRctx()

	r.Resolve(rctx)
	r.Resolve(rctx)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d after cache hit, want 1", calls.Load())
	}

	r.Invalidate("vendor-7", "market-1")

	r.Resolve(rctx)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d after invalidate, want 2", calls.Load())
	}
}

func TestResolver_TTLExpiry(t *testing.T) {
	var calls atomic.Int32
	mock := &mockEvaluator{
		resolveFunc: func(rctx *model.RequestContext) (model.CapabilitySet, error) {
			calls.Add(1)
			return model.CapabilitySet{}, nil
		},
	}
	r := NewResolver(mock, cacheFor(time.Millisecond))
	rctx := testRctx()

	r.Resolve(rctx)
	time.Sleep(5 * time.Millisecond)
	r.Resolve(rctx)

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (TTL expired)", calls.Load())
	}
}

func TestResolver_maxEntries(t *testing.T) {
	mock := &mockEvaluator{
		resolveFunc: func(*model.RequestContext) (model.CapabilitySet, error) {
			return model.CapabilitySet{}, nil
		},
	}
	r := NewResolver(mock, config.CacheConfig{TTL: time.Hour, MaxEntries: 3})
	for _, subject := range []string{"a", "b", "c", "d", "e"} {
		r.Resolve(&model.RequestContext{SubjectID: subject, TenantID: "market-1"})
	}
	if r.Len() > 3 {
		t.Errorf("Len() = %d, want at most 3", r.Len())
	}
}

func TestResolver_errorNotCached(t *testing.T) {
	fail := true
	mock := &mockEvaluator{
		resolveFunc: func(*model.RequestContext) (model.CapabilitySet, error) {
			if fail {
				return nil, errors.New("policy unavailable")
			}
			return model.CapabilitySet{"x:y": true}, nil
		},
	}
	r := NewResolver(mock, cacheFor(time.Hour))
	if _, err := r.Resolve(testRctx()); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	caps, err := r.Resolve(testRctx())
	if err != nil || !caps.Has("x:y") {
		t.Errorf("Resolve() after recovery = %v, %v", caps, err)
	}
}

func TestResolver_concurrentMissesShareEvaluation(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	mock := &mockEvaluator{
		resolveFunc: func(*model.RequestContext) (model.CapabilitySet, error) {
			calls.Add(1)
			<-release
			return model.CapabilitySet{}, nil
		},
	}
	r := NewResolver(mock, cacheFor(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(testRctx("vendor"))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("evaluator called %d times, want 1", calls.Load())
	}
}

func TestResolver_Sync(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	os.WriteFile(path, []byte("roles:\n  vendor: [bookings:list:view]\n"), 0o600)

	e, err := NewStaticPolicyEvaluator(path)
	if err != nil {
		t.Fatalf("NewStaticPolicyEvaluator() error = %v", err)
	}
	r := NewResolver(e, cacheFor(time.Hour))
	caps, _ := r.Resolve(testRctx("vendor"))
	if caps.Has("bookings:approve") {
		t.Fatal("approve not granted yet")
	}

	os.WriteFile(path, []byte("roles:\n  vendor: [bookings:list:view, bookings:approve]\n"), 0o600)
	if err := r.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	caps, _ = r.Resolve(testRctx("vendor"))
	if !caps.Has("bookings:approve") {
		t.Error("Sync() should drop cached sets")
	}
}

// --- Mock PolicyEvaluator ---

type mockEvaluator struct {
	resolveFunc func(rctx *model.RequestContext) (model.CapabilitySet, error)
}

func (m *mockEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	return m.resolveFunc(rctx)
}

func (m *mockEvaluator) Sync() error { return nil }
