package listview

import (
	"slices"

	"github.com/pitabwire/vendordesk/model"
)

// Sort returns a new slice ordered by spec. The sort is stable: items with
// equal keys keep their relative order in both directions, because descending
// order negates the comparison instead of reversing the result. Values that
// are missing or cannot be parsed as the field's type sort after every valid
// value regardless of direction, and values of different shapes (text in an
// undeclared date column) keep their class order in both directions. An empty
// key returns a copy in input order.
func Sort(items []model.Item, spec model.SortSpec, schema Schema) []model.Item {
	out := slices.Clone(items)
	if spec.Key == "" || len(out) < 2 {
		return out
	}

	ft := schema.typeOf(spec.Key)
	type keyed struct {
		item model.Item
		key  sortKey
	}
	rows := make([]keyed, len(out))
	for i, it := range out {
		v, ok := it.Field(spec.Key)
		rows[i] = keyed{item: it, key: parseKey(v, ok, ft)}
	}

	sign := 1
	if spec.Direction == model.SortDesc {
		sign = -1
	}
	slices.SortStableFunc(rows, func(a, b keyed) int {
		if a.key.class != b.key.class {
			return compareKeys(a.key, b.key)
		}
		return sign * compareKeys(a.key, b.key)
	})

	for i, r := range rows {
		out[i] = r.item
	}
	return out
}

// NormalizeSort fills in a default direction and lower-cases it.
func NormalizeSort(spec model.SortSpec) model.SortSpec {
	switch spec.Direction {
	case model.SortDesc, "DESC", "Desc":
		spec.Direction = model.SortDesc
	default:
		spec.Direction = model.SortAsc
	}
	return spec
}
