package source

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/vendordesk/model"
)

// Fixture is the on-disk form of a memory or file source.
type Fixture struct {
	Items []model.Item `yaml:"items"`
}

// LoadFixture reads a YAML fixture. Items without a version start at 1.
func LoadFixture(path string) ([]model.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: reading fixture %s: %w", path, err)
	}
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("source: parsing fixture %s: %w", path, err)
	}
	seen := make(map[string]bool, len(fx.Items))
	for i := range fx.Items {
		it := &fx.Items[i]
		if it.ID == "" {
			return nil, fmt.Errorf("source: fixture %s: item %d has no id", path, i)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("source: fixture %s: duplicate id %q", path, it.ID)
		}
		seen[it.ID] = true
		if it.Version == 0 {
			it.Version = 1
		}
	}
	return fx.Items, nil
}

// Memory is an in-process repository. Items keep their insertion order.
type Memory struct {
	mu    sync.RWMutex
	items []model.Item
	index map[string]int

	// afterWrite runs with the write lock held after every mutation.
	afterWrite func(items []model.Item) error
}

// NewMemory creates a memory repository holding copies of items.
func NewMemory(items []model.Item) *Memory {
	m := &Memory{}
	m.reset(items)
	return m
}

func (m *Memory) reset(items []model.Item) {
	m.items = make([]model.Item, len(items))
	m.index = make(map[string]int, len(items))
	for i, it := range items {
		m.items[i] = it.Clone()
		m.index[it.ID] = i
	}
}

// Fetch returns copies of all items.
func (m *Memory) Fetch(_ context.Context) ([]model.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Item, len(m.items))
	for i, it := range m.items {
		out[i] = it.Clone()
	}
	return out, nil
}

// Update merges patch into one item and bumps its version.
func (m *Memory) Update(_ context.Context, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return notFound(id)
	}
	prev := m.items[i]
	next := prev.Apply(patch)
	next.Version = prev.Version + 1
	m.items[i] = next
	if err := m.persist(); err != nil {
		m.items[i] = prev
		return err
	}
	return nil
}

// Delete removes every listed item, or none if any is missing.
func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []string
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.index[id]; !ok {
			missing = append(missing, id)
		}
		drop[id] = true
	}
	if len(missing) > 0 {
		return notFound(missing...)
	}
	prev := m.items
	m.reset(slices.DeleteFunc(slices.Clone(m.items), func(it model.Item) bool { return drop[it.ID] }))
	if err := m.persist(); err != nil {
		m.reset(prev)
		return err
	}
	return nil
}

// Len returns the number of items held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(context.Context) error { return nil }

func (m *Memory) persist() error {
	if m.afterWrite == nil {
		return nil
	}
	return m.afterWrite(m.items)
}
