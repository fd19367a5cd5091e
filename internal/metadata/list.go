// Package metadata turns list definitions into the descriptors the dashboard
// renders: the list catalogue, columns and capability-filtered actions.
package metadata

import (
	"fmt"

	"github.com/pitabwire/vendordesk/internal/definition"
	"github.com/pitabwire/vendordesk/model"
)

// ListProvider resolves list definitions for a caller.
type ListProvider struct {
	registry *definition.Registry
	actions  *ActionProvider
}

// NewListProvider creates a ListProvider backed by the given registry.
func NewListProvider(registry *definition.Registry, actions *ActionProvider) *ListProvider {
	return &ListProvider{registry: registry, actions: actions}
}

// Catalogue returns the lists the caller may open, in definition order.
func (p *ListProvider) Catalogue(caps model.CapabilitySet) []model.ListSummary {
	out := []model.ListSummary{}
	for _, l := range p.registry.Lists() {
		if !caps.HasAll(l.Capabilities...) {
			continue
		}
		out = append(out, model.ListSummary{
			ID:         l.ID,
			Title:      l.Title,
			Domain:     p.registry.Domain(l.ID),
			Resource:   l.Resource,
			Pagination: l.Pagination,
			PageSize:   l.PageSize,
			Selectable: l.Selectable,
		})
	}
	return out
}

// Authorize returns the definition of listID if the caller may open it.
// Returns an error with code NOT_FOUND or FORBIDDEN.
func (p *ListProvider) Authorize(caps model.CapabilitySet, listID string) (*model.ListDefinition, error) {
	def, ok := p.registry.List(listID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("list %q not found", listID))
	}
	if !caps.HasAll(def.Capabilities...) {
		return nil, model.NewForbiddenError(fmt.Sprintf("insufficient capabilities for list %q", listID))
	}
	return def, nil
}

// Decorate attaches columns and the caller's actions to a rendered view.
// Bulk actions are only offered on selectable lists.
func (p *ListProvider) Decorate(v *model.ListView, def *model.ListDefinition, caps model.CapabilitySet) {
	v.Columns = Columns(def)
	v.RowActions = p.actions.ResolveActions(caps, def.RowActions, nil)
	if def.Selectable {
		v.BulkActions = p.actions.ResolveActions(caps, def.BulkActions, nil)
	}
}

// Columns builds the visible column descriptors of a list.
func Columns(def *model.ListDefinition) []model.ColumnDescriptor {
	cols := make([]model.ColumnDescriptor, 0, len(def.Fields))
	for _, f := range def.Fields {
		if f.Hidden {
			continue
		}
		col := model.ColumnDescriptor{
			Field:     f.Name,
			Label:     f.Label,
			Type:      f.Type,
			Sortable:  f.Sortable,
			Filter:    f.Filter,
			Format:    f.Format,
			Facet:     f.Facet,
			StatusMap: f.Badges,
		}
		for _, opt := range f.Options {
			col.Options = append(col.Options, model.OptionDescriptor{Label: opt.Label, Value: opt.Value})
		}
		cols = append(cols, col)
	}
	return cols
}
