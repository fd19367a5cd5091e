package listview

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/vendordesk/model"
)

func TestSort_date_desc_scenario(t *testing.T) {
	items := []model.Item{
		{ID: "1", Fields: map[string]any{"status": "pending", "date": "2025-02-17"}},
		{ID: "2", Fields: map[string]any{"status": "delivered", "date": "2025-02-16"}},
	}
	got := Sort(items, model.SortSpec{Key: "date", Direction: model.SortDesc}, Schema{"date": model.FieldDate})
	if diff := cmp.Diff([]string{"1", "2"}, ids(got)); diff != "" {
		t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
	}
}

func TestSort(t *testing.T) {
	schema := Schema{"amount": model.FieldNumber, "date": model.FieldDate, "customer": model.FieldString}
	tests := []struct {
		name string
		spec model.SortSpec
		want []string
	}{
		{"no key keeps order", model.SortSpec{}, []string{"1", "2", "3", "4"}},
		{"numeric asc not lexical", model.SortSpec{Key: "amount", Direction: model.SortAsc}, []string{"2", "1", "3", "4"}},
		{"numeric desc, missing last", model.SortSpec{Key: "amount", Direction: model.SortDesc}, []string{"3", "1", "2", "4"}},
		{"date asc, invalid last", model.SortSpec{Key: "date", Direction: model.SortAsc}, []string{"3", "2", "1", "4"}},
		{"date desc, invalid still last", model.SortSpec{Key: "date", Direction: model.SortDesc}, []string{"1", "2", "3", "4"}},
		{"string case-folded", model.SortSpec{Key: "customer", Direction: model.SortAsc}, []string{"1", "2", "3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Sort(bookings(), tt.spec, schema))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSort_stable_in_both_directions(t *testing.T) {
	items := []model.Item{
		{ID: "a", Fields: map[string]any{"status": "open"}},
		{ID: "b", Fields: map[string]any{"status": "closed"}},
		{ID: "c", Fields: map[string]any{"status": "Open"}},
		{ID: "d", Fields: map[string]any{"status": "closed"}},
		{ID: "e", Fields: map[string]any{"status": "open"}},
	}
	asc := ids(Sort(items, model.SortSpec{Key: "status", Direction: model.SortAsc}, nil))
	if diff := cmp.Diff([]string{"b", "d", "a", "c", "e"}, asc); diff != "" {
		t.Errorf("asc mismatch (-want +got):\n%s", diff)
	}
	desc := ids(Sort(items, model.SortSpec{Key: "status", Direction: model.SortDesc}, nil))
	// Equal keys keep input order: the comparator is negated, the slice is
	// not reversed.
	if diff := cmp.Diff([]string{"a", "c", "e", "b", "d"}, desc); diff != "" {
		t.Errorf("desc mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_inferred_types(t *testing.T) {
	items := []model.Item{
		{ID: "x", Fields: map[string]any{"v": "10"}},
		{ID: "y", Fields: map[string]any{"v": 9}},
		{ID: "z", Fields: map[string]any{"v": "100"}},
	}
	got := ids(Sort(items, model.SortSpec{Key: "v", Direction: model.SortAsc}, nil))
	if diff := cmp.Diff([]string{"y", "x", "z"}, got); diff != "" {
		t.Errorf("numeric strings should compare numerically (-want +got):\n%s", diff)
	}
}

func TestSort_undeclared_date_with_text_value(t *testing.T) {
	items := []model.Item{
		{ID: "1", Fields: map[string]any{"date": "2025-02-17"}},
		{ID: "2", Fields: map[string]any{"date": "TBD"}},
		{ID: "3", Fields: map[string]any{"date": "2025-02-16"}},
	}
	asc := ids(Sort(items, model.SortSpec{Key: "date", Direction: model.SortAsc}, nil))
	if diff := cmp.Diff([]string{"3", "1", "2"}, asc); diff != "" {
		t.Errorf("asc mismatch (-want +got):\n%s", diff)
	}
	desc := ids(Sort(items, model.SortSpec{Key: "date", Direction: model.SortDesc}, nil))
	if diff := cmp.Diff([]string{"1", "3", "2"}, desc); diff != "" {
		t.Errorf("desc mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_day_month_year_dates(t *testing.T) {
	items := []model.Item{
		{ID: "1", Fields: map[string]any{"date": "02/01/2025"}},
		{ID: "2", Fields: map[string]any{"date": "01/02/2025"}},
		{ID: "3", Fields: map[string]any{"date": "2025-01-15"}},
	}
	got := ids(Sort(items, model.SortSpec{Key: "date", Direction: model.SortAsc}, Schema{"date": model.FieldDate}))
	if diff := cmp.Diff([]string{"1", "3", "2"}, got); diff != "" {
		t.Errorf("Sort() mismatch (-want +got):\n%s", diff)
	}
}

func TestSort_does_not_mutate_input(t *testing.T) {
	items := bookings()
	_ = Sort(items, model.SortSpec{Key: "amount", Direction: model.SortDesc}, nil)
	if diff := cmp.Diff([]string{"1", "2", "3", "4"}, ids(items)); diff != "" {
		t.Errorf("input reordered (-want +got):\n%s", diff)
	}
}

func TestNormalizeSort(t *testing.T) {
	if got := NormalizeSort(model.SortSpec{Key: "date", Direction: "DESC"}); got.Direction != model.SortDesc {
		t.Errorf("Direction = %q, want desc", got.Direction)
	}
	if got := NormalizeSort(model.SortSpec{Key: "date"}); got.Direction != model.SortAsc {
		t.Errorf("Direction = %q, want asc", got.Direction)
	}
}
