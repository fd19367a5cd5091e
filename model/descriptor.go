package model

// ListSummary is the catalogue entry for a list the caller may open.
type ListSummary struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Domain     string   `json:"domain"`
	Resource   string   `json:"resource,omitempty"`
	Pagination PageMode `json:"pagination"`
	PageSize   int      `json:"page_size"`
	Selectable bool     `json:"selectable"`
}

// ColumnDescriptor describes a visible column, including how it can be
// filtered.
type ColumnDescriptor struct {
	Field     string             `json:"field"`
	Label     string             `json:"label"`
	Type      FieldType          `json:"type"`
	Sortable  bool               `json:"sortable"`
	Filter    CriterionKind      `json:"filter,omitempty"`
	Options   []OptionDescriptor `json:"options,omitempty"`
	Format    string             `json:"format,omitempty"`
	Facet     bool               `json:"facet,omitempty"`
	StatusMap map[string]string  `json:"status_map,omitempty"`
}

// OptionDescriptor is a resolved option for filter dropdowns.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ActionDescriptor is a resolved action sent to the frontend.
type ActionDescriptor struct {
	ID           string                  `json:"id"`
	Label        string                  `json:"label"`
	Icon         string                  `json:"icon,omitempty"`
	Style        string                  `json:"style,omitempty"`
	Kind         ActionKind              `json:"kind"`
	Enabled      bool                    `json:"enabled"`
	Visible      bool                    `json:"visible"`
	Confirmation *ConfirmationDescriptor `json:"confirmation,omitempty"`
	Conditions   []ConditionDescriptor   `json:"conditions,omitempty"`
}

// ConfirmationDescriptor describes a confirmation dialog.
type ConfirmationDescriptor struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Confirm string `json:"confirm"`
	Cancel  string `json:"cancel,omitempty"`
	Style   string `json:"style,omitempty"`
}

// ConditionDescriptor describes a data-dependent row action condition the
// client evaluates per row.
type ConditionDescriptor struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Effect   string `json:"effect"`
}

// FacetValue is one distinct value of a field with the number of items
// carrying it.
type FacetValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FacetResponse is the response from the facets endpoint.
type FacetResponse struct {
	Field  string       `json:"field"`
	Query  string       `json:"query,omitempty"`
	Values []FacetValue `json:"values"`
}

// ActionInput is the request payload for a row or bulk action.
type ActionInput struct {
	Input          map[string]any `json:"input,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// CommandResponse is the response from executing a row or bulk action.
type CommandResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
	Affected int          `json:"affected"`
	Errors   []FieldError `json:"errors,omitempty"`
	View     *ListView    `json:"view,omitempty"`
}
