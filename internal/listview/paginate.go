package listview

import "github.com/pitabwire/vendordesk/model"

// DefaultPageSize is used when a window carries no positive page size.
const DefaultPageSize = 25

// Page is the visible window of an ordered result.
type Page struct {
	Items      []model.Item
	Page       int
	PageSize   int
	TotalPages int
	Total      int
	HasMore    bool
}

// TotalPages returns max(1, ceil(n/size)).
func TotalPages(n, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	return max(1, (n+size-1)/size)
}

// ClampPage corrects page into [1, TotalPages(n, size)]. Applying it again
// to its own result changes nothing.
func ClampPage(page, n, size int) int {
	return min(max(page, 1), TotalPages(n, size))
}

// Paginate slices items according to window. In paged mode the visible items
// are items[(p-1)*size : p*size]; in load-more mode they are the first
// p*size items. The page is clamped first, so a window left behind by a
// shrinking result lands on the last page instead of an empty one.
func Paginate(items []model.Item, window model.PageWindow) Page {
	size := window.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	n := len(items)
	p := ClampPage(window.CurrentPage, n, size)
	total := TotalPages(n, size)

	end := min(p*size, n)
	start := 0
	if window.Mode != model.PageLoadMore {
		start = min((p-1)*size, n)
	}

	return Page{
		Items:      items[start:end:end],
		Page:       p,
		PageSize:   size,
		TotalPages: total,
		Total:      n,
		HasMore:    end < n,
	}
}
