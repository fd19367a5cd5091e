package listview

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/pitabwire/vendordesk/model"
)

// Facets returns the distinct values of field across items with how many
// items carry each, most frequent first. Values that differ only by case
// are merged under the first spelling seen.
func Facets(items []model.Item, field string) []model.FacetValue {
	index := make(map[string]int)
	var out []model.FacetValue
	for _, it := range items {
		v, ok := it.Field(field)
		if !ok {
			continue
		}
		s := model.Stringify(v)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if i, seen := index[key]; seen {
			out[i].Count++
			continue
		}
		index[key] = len(out)
		out = append(out, model.FacetValue{Value: s, Count: 1})
	}
	slices.SortStableFunc(out, func(a, b model.FacetValue) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(strings.ToLower(a.Value), strings.ToLower(b.Value))
	})
	return out
}

// Suggest narrows facet values to those fuzzy-matching query, best match
// first. An empty query keeps the frequency order. limit <= 0 means no limit.
func Suggest(values []model.FacetValue, query string, limit int) []model.FacetValue {
	query = strings.TrimSpace(query)
	var out []model.FacetValue
	if query == "" {
		out = slices.Clone(values)
	} else {
		lowered := make([]string, len(values))
		for i, v := range values {
			lowered[i] = strings.ToLower(v.Value)
		}
		for _, match := range fuzzy.Find(strings.ToLower(query), lowered) {
			out = append(out, values[match.Index])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
