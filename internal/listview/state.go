package listview

import (
	"slices"

	"github.com/pitabwire/vendordesk/model"
)

// State is everything a user can change about a list view. It is what
// session stores persist between requests.
type State struct {
	Criteria model.Criteria   `json:"criteria,omitempty"`
	Sort     model.SortSpec   `json:"sort"`
	Window   model.PageWindow `json:"window"`
	Selected []string         `json:"selected,omitempty"`
}

// Config fixes the shape of one list: its field types, which fields sort,
// and how it pages.
type Config struct {
	ListID          string
	Title           string
	Schema          Schema
	Sortable        map[string]bool
	DefaultSort     model.SortSpec
	PageSize        int
	Mode            model.PageMode
	EmptyStates     model.EmptyStatesDefinition
	BulkConcurrency int
}

// MaxPageSize caps client-requested page sizes.
const MaxPageSize = 200

// ConfigFromDefinition derives a controller config from a list definition.
func ConfigFromDefinition(def *model.ListDefinition) Config {
	cfg := Config{
		ListID:      def.ID,
		Title:       def.Title,
		Schema:      Schema(def.FieldTypes()),
		Sortable:    make(map[string]bool),
		DefaultSort: def.DefaultSort,
		PageSize:    def.PageSize,
		Mode:        def.Pagination,
		EmptyStates: def.EmptyStates,
	}
	for _, f := range def.Fields {
		if f.Sortable {
			cfg.Sortable[f.Name] = true
		}
	}
	return cfg
}

// initialState is the state of a list nobody has touched yet.
func (cfg Config) initialState() State {
	st := State{
		Window: model.PageWindow{PageSize: cfg.PageSize, CurrentPage: 1, Mode: cfg.Mode},
	}
	if cfg.DefaultSort.Key != "" {
		st.Sort = NormalizeSort(cfg.DefaultSort)
	}
	return st.normalize(cfg)
}

// normalize repairs a state restored from storage so it satisfies the
// window invariants of cfg.
func (st State) normalize(cfg Config) State {
	if st.Window.PageSize <= 0 || st.Window.PageSize > MaxPageSize {
		st.Window.PageSize = cfg.PageSize
	}
	if st.Window.PageSize <= 0 {
		st.Window.PageSize = DefaultPageSize
	}
	if st.Window.CurrentPage < 1 {
		st.Window.CurrentPage = 1
	}
	if cfg.Mode != "" {
		st.Window.Mode = cfg.Mode
	}
	if st.Window.Mode == "" {
		st.Window.Mode = model.PagePaged
	}
	if st.Sort.Key != "" {
		st.Sort = NormalizeSort(st.Sort)
	}
	st.Criteria = slices.Clone(st.Criteria)
	st.Selected = slices.Clone(st.Selected)
	return st
}
