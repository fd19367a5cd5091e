package listview

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/vendordesk/model"
)

func numbered(n int) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = model.Item{ID: fmt.Sprint(i + 1)}
	}
	return out
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		n, size, want int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{2, 1, 2},
		{5, 0, 1},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.n, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}

func TestPaginate_clamp_scenario(t *testing.T) {
	items := numbered(2)
	page := Paginate(items, model.PageWindow{PageSize: 1, CurrentPage: 3, Mode: model.PagePaged})
	if page.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", page.TotalPages)
	}
	if page.Page != 2 {
		t.Errorf("Page = %d, want clamped to 2", page.Page)
	}
	if diff := cmp.Diff([]string{"2"}, ids(page.Items)); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
}

func TestClampPage_reentrant(t *testing.T) {
	for _, p := range []int{-3, 0, 1, 4, 99} {
		once := ClampPage(p, 37, 10)
		if twice := ClampPage(once, 37, 10); twice != once {
			t.Errorf("ClampPage not stable for %d: %d then %d", p, once, twice)
		}
		if once < 1 || once > 4 {
			t.Errorf("ClampPage(%d) = %d, out of [1,4]", p, once)
		}
	}
}

func TestPaginate_coverage(t *testing.T) {
	items := numbered(23)
	size := 5
	var seen []string
	total := TotalPages(len(items), size)
	for p := 1; p <= total; p++ {
		page := Paginate(items, model.PageWindow{PageSize: size, CurrentPage: p, Mode: model.PagePaged})
		seen = append(seen, ids(page.Items)...)
		if wantMore := p < total; page.HasMore != wantMore {
			t.Errorf("page %d HasMore = %v, want %v", p, page.HasMore, wantMore)
		}
	}
	if diff := cmp.Diff(ids(items), seen); diff != "" {
		t.Errorf("pages do not cover input exactly once (-want +got):\n%s", diff)
	}
}

func TestPaginate_load_more_accumulates(t *testing.T) {
	items := numbered(7)
	page := Paginate(items, model.PageWindow{PageSize: 3, CurrentPage: 2, Mode: model.PageLoadMore})
	if diff := cmp.Diff([]string{"1", "2", "3", "4", "5", "6"}, ids(page.Items)); diff != "" {
		t.Errorf("visible mismatch (-want +got):\n%s", diff)
	}
	if !page.HasMore {
		t.Error("HasMore = false, want true")
	}
	last := Paginate(items, model.PageWindow{PageSize: 3, CurrentPage: 3, Mode: model.PageLoadMore})
	if len(last.Items) != 7 || last.HasMore {
		t.Errorf("last window = %d items, HasMore %v", len(last.Items), last.HasMore)
	}
}

func TestPaginate_empty(t *testing.T) {
	page := Paginate(nil, model.PageWindow{PageSize: 10, CurrentPage: 4})
	if page.Page != 1 || page.TotalPages != 1 || len(page.Items) != 0 || page.HasMore {
		t.Errorf("Paginate(nil) = %+v", page)
	}
}
