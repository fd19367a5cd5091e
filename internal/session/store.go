// Package session keeps per-user list view state (criteria, sort, page and
// selection) across requests and holds the live controllers built from it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pitabwire/vendordesk/internal/listview"
)

// StateStore persists view state keyed by tenant, subject and list.
type StateStore interface {
	// Load returns the stored state. found is false when nothing is stored
	// or the entry expired.
	Load(ctx context.Context, key string) (st listview.State, found bool, err error)
	// Save stores state for ttl. A zero ttl keeps it until deleted.
	Save(ctx context.Context, key string, st listview.State, ttl time.Duration) error
	// Delete removes stored state. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// record is the persisted form used by stores that cannot expire entries
// themselves.
type record struct {
	State     listview.State `json:"state"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func newRecord(st listview.State, ttl time.Duration) record {
	r := record{State: st}
	if ttl > 0 {
		r.ExpiresAt = time.Now().Add(ttl)
	}
	return r
}

func encodeState(st listview.State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("session: marshal state: %w", err)
	}
	return data, nil
}

// --- MemoryStore ---

// MemoryStore keeps state in process. When full, the entry closest to
// expiry is evicted.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]record
	maxEntries int
}

// NewMemoryStore creates a memory store holding at most maxEntries states.
// Zero means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{entries: make(map[string]record), maxEntries: maxEntries}
}

// Load returns a copy of the stored state.
func (s *MemoryStore) Load(_ context.Context, key string) (listview.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[key]
	if !ok {
		return listview.State{}, false, nil
	}
	if r.expired(time.Now()) {
		delete(s.entries, key)
		return listview.State{}, false, nil
	}
	return cloneState(r.State), true, nil
}

// Save stores a copy of st.
func (s *MemoryStore) Save(_ context.Context, key string, st listview.State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}
	s.entries[key] = newRecord(cloneState(st), ttl)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) evictLocked() {
	now := time.Now()
	var victim string
	var soonest time.Time
	for k, r := range s.entries {
		if r.expired(now) {
			delete(s.entries, k)
			return
		}
		if victim == "" || (!r.ExpiresAt.IsZero() && (soonest.IsZero() || r.ExpiresAt.Before(soonest))) {
			victim, soonest = k, r.ExpiresAt
		}
	}
	delete(s.entries, victim)
}

func cloneState(st listview.State) listview.State {
	st.Criteria = slices.Clone(st.Criteria)
	st.Selected = slices.Clone(st.Selected)
	return st
}
