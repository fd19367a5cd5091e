package listview

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/vendordesk/model"
)

func bookings() []model.Item {
	return []model.Item{
		{ID: "1", Fields: map[string]any{"status": "pending", "customer": "Ann Lee", "amount": 120.0, "date": "2025-02-17"}},
		{ID: "2", Fields: map[string]any{"status": "delivered", "customer": "Bo Chan", "amount": 80, "date": "2025-02-16"}},
		{ID: "3", Fields: map[string]any{"status": "Pending", "customer": "Cara Annis", "amount": "300", "date": "2025-01-30"}},
		{ID: "4", Fields: map[string]any{"status": "declined", "customer": "Dev Patel", "date": "not a date"}},
	}
}

func ids(items []model.Item) []string { return model.ItemIDs(items) }

func TestFilter_exact_scenario(t *testing.T) {
	items := []model.Item{
		{ID: "1", Fields: map[string]any{"status": "pending", "date": "2025-02-17"}},
		{ID: "2", Fields: map[string]any{"status": "delivered", "date": "2025-02-16"}},
	}
	got := Filter(items, model.Criteria{{Field: "status", Kind: model.MatchExact, Value: "pending"}}, nil)
	if diff := cmp.Diff([]string{"1"}, ids(got)); diff != "" {
		t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter_kinds(t *testing.T) {
	schema := Schema{"amount": model.FieldNumber, "date": model.FieldDate}
	tests := []struct {
		name     string
		criteria model.Criteria
		want     []string
	}{
		{"no criteria keeps all", nil, []string{"1", "2", "3", "4"}},
		{"empty value is no constraint", model.Criteria{{Field: "status", Kind: model.MatchExact, Value: ""}}, []string{"1", "2", "3", "4"}},
		{"exact is case-folded", model.Criteria{{Field: "status", Kind: model.MatchExact, Value: "PENDING"}}, []string{"1", "3"}},
		{"substring", model.Criteria{{Field: "customer", Kind: model.MatchSubstring, Value: "ann"}}, []string{"1", "3"}},
		{"fuzzy", model.Criteria{{Field: "customer", Kind: model.MatchFuzzy, Value: "dvptl"}}, []string{"4"}},
		{"numeric range", model.Criteria{{Field: "amount", Kind: model.MatchRange, Min: 100, Max: "300"}}, []string{"1", "3"}},
		{"open upper bound", model.Criteria{{Field: "amount", Kind: model.MatchRange, Min: 81}}, []string{"1", "3"}},
		{"date range covers whole max day", model.Criteria{{Field: "date", Kind: model.MatchRange, Min: "2025-02-01", Max: "2025-02-16"}}, []string{"2"}},
		{"missing field excludes", model.Criteria{{Field: "amount", Kind: model.MatchRange, Max: 1000}}, []string{"1", "2", "3"}},
		{"AND across criteria", model.Criteria{
			{Field: "status", Kind: model.MatchExact, Value: "pending"},
			{Field: "customer", Kind: model.MatchSubstring, Value: "cara"},
		}, []string{"3"}},
		{"non-string value coerced", model.Criteria{{Field: "amount", Kind: model.MatchExact, Value: 80}}, []string{"2"}},
		{"unknown field excludes all", model.Criteria{{Field: "vendor", Kind: model.MatchExact, Value: "x"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Filter(bookings(), tt.criteria, schema))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilter_does_not_mutate_input(t *testing.T) {
	items := bookings()
	before := ids(items)
	_ = Filter(items, model.Criteria{{Field: "status", Kind: model.MatchExact, Value: "pending"}}, nil)
	if diff := cmp.Diff(before, ids(items)); diff != "" {
		t.Errorf("input changed (-before +after):\n%s", diff)
	}
	if items[0].Fields["status"] != "pending" {
		t.Errorf("field changed: %v", items[0].Fields["status"])
	}
}

func TestFilter_idempotent(t *testing.T) {
	criteria := model.Criteria{
		{Field: "customer", Kind: model.MatchSubstring, Value: "a"},
		{Field: "amount", Kind: model.MatchRange, Min: 50},
	}
	once := Filter(bookings(), criteria, nil)
	twice := Filter(once, criteria, nil)
	if diff := cmp.Diff(ids(once), ids(twice)); diff != "" {
		t.Errorf("filter is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestFilter_invalid_range_bound_matches_nothing(t *testing.T) {
	got := Filter(bookings(), model.Criteria{{Field: "amount", Kind: model.MatchRange, Min: "cheap"}}, Schema{"amount": model.FieldNumber})
	if len(got) != 0 {
		t.Errorf("Filter() = %v, want none", ids(got))
	}
}
