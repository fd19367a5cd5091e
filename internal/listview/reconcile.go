package listview

import (
	"slices"

	"github.com/pitabwire/vendordesk/model"
)

// mutation is an optimistic change applied locally before, and kept after,
// the repository confirms it. A confirmed mutation stays queued until a
// snapshot fetched after its confirmation arrives, so a refresh that was
// already in flight cannot resurrect deleted rows or revert patched fields.
type mutation struct {
	seq      uint64
	kind     model.ActionKind
	ids      []string
	patch    map[string]any
	versions map[string]int64

	confirmed    bool
	confirmedGen uint64
}

// ledger is the ordered queue of optimistic mutations.
type ledger struct {
	seq   uint64
	queue []*mutation
}

// push records a mutation over ids. current supplies the version stamp each
// item had when the change was made.
func (l *ledger) push(kind model.ActionKind, ids []string, patch map[string]any, current []model.Item) *mutation {
	l.seq++
	m := &mutation{
		seq:      l.seq,
		kind:     kind,
		ids:      slices.Clone(ids),
		patch:    patch,
		versions: make(map[string]int64, len(ids)),
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, it := range current {
		if _, ok := want[it.ID]; ok {
			m.versions[it.ID] = it.Version
		}
	}
	l.queue = append(l.queue, m)
	return m
}

// remove drops m, used when the repository rejected it.
func (l *ledger) remove(m *mutation) {
	l.queue = slices.DeleteFunc(l.queue, func(q *mutation) bool { return q == m })
}

// confirm marks m accepted by the repository. gen is the newest fetch
// generation started so far; only snapshots from later fetches reflect m.
func (l *ledger) confirm(m *mutation, gen uint64) {
	m.confirmed = true
	m.confirmedGen = gen
}

// settle drops confirmed mutations that a snapshot from fetch gen already
// contains.
func (l *ledger) settle(gen uint64) {
	l.queue = slices.DeleteFunc(l.queue, func(m *mutation) bool {
		return m.confirmed && gen > m.confirmedGen
	})
}

// pending counts mutations still waiting for the repository.
func (l *ledger) pending() int {
	n := 0
	for _, m := range l.queue {
		if !m.confirmed {
			n++
		}
	}
	return n
}

// replay applies every queued mutation, oldest first, to a copy of base.
// A confirmed update is skipped for an item whose snapshot version is
// already newer than the version the change was made against.
func (l *ledger) replay(base []model.Item) []model.Item {
	if len(l.queue) == 0 {
		return base
	}
	out := slices.Clone(base)
	pos := make(map[string]int, len(out))
	for i, it := range out {
		pos[it.ID] = i
	}
	removed := make(map[string]struct{})

	for _, m := range l.queue {
		for _, id := range m.ids {
			i, ok := pos[id]
			if !ok {
				continue
			}
			if _, gone := removed[id]; gone {
				continue
			}
			switch m.kind {
			case model.ActionDelete:
				removed[id] = struct{}{}
			case model.ActionUpdate:
				if m.confirmed && out[i].Version > m.versions[id] {
					continue
				}
				out[i] = out[i].Apply(m.patch)
			}
		}
	}

	if len(removed) == 0 {
		return out
	}
	return slices.DeleteFunc(out, func(it model.Item) bool {
		_, gone := removed[it.ID]
		return gone
	})
}
