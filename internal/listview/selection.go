package listview

import (
	"slices"

	"github.com/pitabwire/vendordesk/model"
)

// Selection is the set of marked item IDs. It is independent of filtering,
// sorting and paging, so it may hold IDs that are not currently visible.
// A Selection is not safe for concurrent use; the Controller guards it.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection returns a selection holding ids.
func NewSelection(ids ...string) *Selection {
	s := &Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Toggle flips one ID and returns whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// ToggleAll removes the visible IDs when all of them are already selected,
// and otherwise adds every visible ID. IDs outside visible are untouched.
func (s *Selection) ToggleAll(visible []string) {
	if s.allSelected(visible) {
		for _, id := range visible {
			delete(s.ids, id)
		}
		return
	}
	for _, id := range visible {
		s.ids[id] = struct{}{}
	}
}

func (s *Selection) allSelected(visible []string) bool {
	for _, id := range visible {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Clear empties the selection.
func (s *Selection) Clear() {
	clear(s.ids)
}

// Remove deselects ids.
func (s *Selection) Remove(ids ...string) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Count returns the number of selected IDs, visible or not.
func (s *Selection) Count() int {
	return len(s.ids)
}

// IDs returns the selected IDs in sorted order.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// State derives the header checkbox from how many visible IDs are selected:
// none is unchecked, all is checked and anything between is indeterminate.
// An empty visible set is unchecked.
func (s *Selection) State(visible []string) model.SelectionState {
	seen := make(map[string]struct{}, len(visible))
	hit := 0
	for _, id := range visible {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.ids[id]; ok {
			hit++
		}
	}
	switch {
	case hit == 0:
		return model.SelectionUnchecked
	case hit == len(seen):
		return model.SelectionChecked
	default:
		return model.SelectionIndeterminate
	}
}
