package model

// SortDirection is either ascending or descending.
type SortDirection string

// Sort directions.
const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec names the field to order by and the direction. An empty Key keeps
// the source order.
type SortSpec struct {
	Key       string        `json:"key" yaml:"key"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

// PageMode selects between numbered pages and an accumulating "load more"
// window.
type PageMode string

// Page modes.
const (
	PagePaged    PageMode = "paged"
	PageLoadMore PageMode = "load_more"
)

// PageWindow describes the visible slice of the ordered result.
type PageWindow struct {
	PageSize    int      `json:"page_size" yaml:"page_size"`
	CurrentPage int      `json:"current_page" yaml:"current_page"`
	Mode        PageMode `json:"mode" yaml:"mode"`
}

// SelectionState is the tri-state of a "select all visible" checkbox.
type SelectionState string

// Selection states.
const (
	SelectionUnchecked     SelectionState = "unchecked"
	SelectionIndeterminate SelectionState = "indeterminate"
	SelectionChecked       SelectionState = "checked"
)

// EmptyKind distinguishes an empty collection from a filter that excludes
// everything.
type EmptyKind string

// Empty kinds.
const (
	EmptyNoItems   EmptyKind = "no_items"
	EmptyNoMatches EmptyKind = "no_matches"
)

// EmptyState is rendered instead of rows when nothing is visible.
type EmptyState struct {
	Kind    EmptyKind `json:"kind"`
	Message string    `json:"message"`
}

// SelectionDescriptor summarises the selection overlay for the caller.
type SelectionDescriptor struct {
	Count int            `json:"count"`
	State SelectionState `json:"state"`
	IDs   []string       `json:"ids"`
}

// ErrorHint is attached to a view whose last fetch failed. Items from the
// previous snapshot are still returned.
type ErrorHint struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ListView is the display-ready result of the filter, sort, paginate and
// selection pipeline.
type ListView struct {
	ListID        string              `json:"list_id"`
	Title         string              `json:"title,omitempty"`
	Items         []Item              `json:"items"`
	TotalCount    int                 `json:"total_count"`
	FilteredCount int                 `json:"filtered_count"`
	Page          int                 `json:"page"`
	PageSize      int                 `json:"page_size"`
	TotalPages    int                 `json:"total_pages"`
	HasMore       bool                `json:"has_more"`
	Mode          PageMode            `json:"mode"`
	Sort          SortSpec            `json:"sort"`
	Criteria      Criteria            `json:"criteria"`
	Selection     SelectionDescriptor `json:"selection"`
	Empty         *EmptyState         `json:"empty,omitempty"`
	Pending       int                 `json:"pending_mutations"`
	Error         *ErrorHint          `json:"error,omitempty"`
	Columns       []ColumnDescriptor  `json:"columns,omitempty"`
	RowActions    []ActionDescriptor  `json:"row_actions,omitempty"`
	BulkActions   []ActionDescriptor  `json:"bulk_actions,omitempty"`
}
