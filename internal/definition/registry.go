package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	"github.com/pitabwire/vendordesk/model"
)

// catalogue is one immutable generation of loaded definitions. A list keeps
// its pointer for the lifetime of the catalogue, so a view can tell a
// reloaded definition apart by pointer.
type catalogue struct {
	lists    map[string]*model.ListDefinition
	domainOf map[string]string
	order    []*model.ListDefinition
	checksum string
}

func newCatalogue(defs []model.DomainDefinition) *catalogue {
	c := &catalogue{
		lists:    make(map[string]*model.ListDefinition),
		domainOf: make(map[string]string),
		checksum: checksum(defs),
	}
	for _, def := range defs {
		for i := range def.Lists {
			l := def.Lists[i]
			if _, dup := c.lists[l.ID]; dup {
				continue
			}
			c.lists[l.ID] = &l
			c.domainOf[l.ID] = def.Domain
			c.order = append(c.order, &l)
		}
	}
	return c
}

// checksum combines the per-file checksums independently of load order.
func checksum(defs []model.DomainDefinition) string {
	sums := make([]string, len(defs))
	for i, d := range defs {
		sums[i] = d.Checksum
	}
	slices.Sort(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Registry serves list definitions to concurrent readers. Reloads swap the
// whole catalogue, so a reader never sees half of a reload.
type Registry struct {
	cur        atomic.Pointer[catalogue]
	generation atomic.Uint64
}

func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.cur.Store(newCatalogue(defs))
	return r
}

// Replace installs defs and reports whether anything changed. Identical
// definitions leave the current catalogue, and its pointers, in place.
func (r *Registry) Replace(defs []model.DomainDefinition) bool {
	if checksum(defs) == r.cur.Load().checksum {
		return false
	}
	r.cur.Store(newCatalogue(defs))
	r.generation.Add(1)
	return true
}

// List returns the definition of listID. It is shared; do not modify it.
func (r *Registry) List(listID string) (*model.ListDefinition, bool) {
	l, ok := r.cur.Load().lists[listID]
	return l, ok
}

// Lists returns every definition in load order.
func (r *Registry) Lists() []*model.ListDefinition {
	return slices.Clone(r.cur.Load().order)
}

// Domain returns the domain that declares listID.
func (r *Registry) Domain(listID string) string {
	return r.cur.Load().domainOf[listID]
}

func (r *Registry) Checksum() string { return r.cur.Load().checksum }

// Generation counts the reloads that changed the catalogue.
func (r *Registry) Generation() uint64 { return r.generation.Load() }
