package model

// DomainDefinition is the root structure of a definition file. Each file
// declares the lists one domain (bookings, disputes, orders, transactions)
// exposes on the dashboard.
type DomainDefinition struct {
	Domain  string           `yaml:"domain"  json:"domain"`
	Version string           `yaml:"version" json:"version"`
	Lists   []ListDefinition `yaml:"lists"   json:"lists"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// ListDefinition describes one list view: where its items come from, which
// fields can be filtered and sorted, how it paginates and which actions it
// offers.
type ListDefinition struct {
	ID           string                `yaml:"id"           json:"id"`
	Title        string                `yaml:"title"        json:"title"`
	Resource     string                `yaml:"resource"     json:"resource,omitempty"`
	Capabilities []string              `yaml:"capabilities" json:"capabilities"`
	Source       SourceBinding         `yaml:"source"       json:"-"`
	Fields       []FieldDefinition     `yaml:"fields"       json:"fields"`
	DefaultSort  SortSpec              `yaml:"default_sort" json:"default_sort"`
	PageSize     int                   `yaml:"page_size"    json:"page_size"`
	Pagination   PageMode              `yaml:"pagination"   json:"pagination"`
	Selectable   bool                  `yaml:"selectable"   json:"selectable"`
	EmptyStates  EmptyStatesDefinition `yaml:"empty_states" json:"empty_states"`
	RowActions   []ActionDefinition    `yaml:"row_actions"  json:"row_actions,omitempty"`
	BulkActions  []ActionDefinition    `yaml:"bulk_actions" json:"bulk_actions,omitempty"`
}

// Field returns the field definition with the given name.
func (l *ListDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// FieldTypes returns the declared type of every field, keyed by name.
func (l *ListDefinition) FieldTypes() map[string]FieldType {
	out := make(map[string]FieldType, len(l.Fields))
	for _, f := range l.Fields {
		out[f.Name] = f.Type
	}
	return out
}

// SourceBinding selects the repository driver that backs a list.
//
//	memory   – items seeded from Fixture, kept in process
//	file     – like memory, but every mutation is written back to Fixture
//	postgres – rows of Table in the configured Postgres database
//	sqlite   – rows of Table in the configured SQLite database
//	rest     – operations of ServiceID resolved from its OpenAPI document
type SourceBinding struct {
	Driver          string `yaml:"driver"           json:"driver"`
	Fixture         string `yaml:"fixture"          json:"fixture,omitempty"`
	Table           string `yaml:"table"            json:"table,omitempty"`
	ServiceID       string `yaml:"service_id"       json:"service_id,omitempty"`
	FetchOperation  string `yaml:"fetch_operation"  json:"fetch_operation,omitempty"`
	UpdateOperation string `yaml:"update_operation" json:"update_operation,omitempty"`
	DeleteOperation string `yaml:"delete_operation" json:"delete_operation,omitempty"`
	ItemsPath       string `yaml:"items_path"       json:"items_path,omitempty"`
	IDField         string `yaml:"id_field"         json:"id_field,omitempty"`
	VersionField    string `yaml:"version_field"    json:"version_field,omitempty"`
}

// FieldDefinition describes one field of the items in a list.
type FieldDefinition struct {
	Name     string            `yaml:"name"     json:"name"`
	Label    string            `yaml:"label"    json:"label"`
	Type     FieldType         `yaml:"type"     json:"type"`
	Sortable bool              `yaml:"sortable" json:"sortable"`
	Filter   CriterionKind     `yaml:"filter"   json:"filter,omitempty"`
	Options  []StaticOption    `yaml:"options"  json:"options,omitempty"`
	Hidden   bool              `yaml:"hidden"   json:"hidden,omitempty"`
	Format   string            `yaml:"format"   json:"format,omitempty"`
	Facet    bool              `yaml:"facet"    json:"facet,omitempty"`
	Default  any               `yaml:"default"  json:"default,omitempty"`
	Badges   map[string]string `yaml:"badges"   json:"badges,omitempty"`
}

// StaticOption is a label/value pair for filter dropdowns.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// EmptyStatesDefinition holds the copy shown for each kind of empty view.
type EmptyStatesDefinition struct {
	NoItems   string `yaml:"no_items"   json:"no_items,omitempty"`
	NoMatches string `yaml:"no_matches" json:"no_matches,omitempty"`
}

// ActionKind is the mutation an action performs against the list's
// repository.
type ActionKind string

// Action kinds.
const (
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// ActionDefinition describes a row or bulk action. Patch holds literal
// values; PatchFrom maps fields to expressions such as "context.subject_id"
// or "input.reason" that are resolved per request.
type ActionDefinition struct {
	ID             string                  `yaml:"id"              json:"id"`
	Label          string                  `yaml:"label"           json:"label"`
	Icon           string                  `yaml:"icon"            json:"icon,omitempty"`
	Style          string                  `yaml:"style"           json:"style,omitempty"`
	Capabilities   []string                `yaml:"capabilities"    json:"capabilities"`
	Kind           ActionKind              `yaml:"kind"            json:"kind"`
	Patch          map[string]any          `yaml:"patch"           json:"patch,omitempty"`
	PatchFrom      map[string]string       `yaml:"patch_from"      json:"patch_from,omitempty"`
	Confirmation   *ConfirmationDefinition `yaml:"confirmation"    json:"confirmation,omitempty"`
	Conditions     []ConditionDefinition   `yaml:"conditions"      json:"conditions,omitempty"`
	Idempotency    *IdempotencyConfig      `yaml:"idempotency"     json:"idempotency,omitempty"`
	SuccessMessage string                  `yaml:"success_message" json:"success_message,omitempty"`
}

// IdempotencyConfig enables deduplication of retried submissions.
type IdempotencyConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}

// ConfirmationDefinition describes a confirmation dialog.
type ConfirmationDefinition struct {
	Title   string `yaml:"title"   json:"title"`
	Message string `yaml:"message" json:"message"`
	Confirm string `yaml:"confirm" json:"confirm"`
	Cancel  string `yaml:"cancel"  json:"cancel,omitempty"`
	Style   string `yaml:"style"   json:"style,omitempty"`
}

// ConditionDefinition describes a data-dependent visibility/enablement rule
// for row actions.
type ConditionDefinition struct {
	Field    string `yaml:"field"    json:"field"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value"    json:"value,omitempty"`
	Effect   string `yaml:"effect"   json:"effect"`
}
