package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/listview"
	"github.com/pitabwire/vendordesk/internal/metadata"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/model"
)

const (
	defaultFacetLimit = 20
	maxBodyBytes      = 1 << 20
)

// listCall is one request against a caller's list view.
type listCall struct {
	rctx *model.RequestContext
	caps model.CapabilitySet
	def  *model.ListDefinition
	ctrl *listview.Controller
}

// listHandlers serves the list view endpoints.
type listHandlers struct {
	lists  *metadata.ListProvider
	views  Views
	logger *zap.Logger
}

// open authorizes the caller for the list in the URL and returns their
// controller. On failure the error has been written.
func (h *listHandlers) open(w http.ResponseWriter, r *http.Request) (*listCall, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	caps := CapabilitiesFrom(r.Context())
	def, err := h.lists.Authorize(caps, chi.URLParam(r, "listId"))
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	ctrl, err := h.views.Controller(r.Context(), rctx, def)
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return &listCall{rctx: rctx, caps: caps, def: def, ctrl: ctrl}, true
}

// render writes the decorated view and then persists the view state, so the
// stored page is the one the view was clamped to.
func (h *listHandlers) render(w http.ResponseWriter, r *http.Request, c *listCall) {
	v := c.ctrl.View(r.Context())
	if err := h.views.Persist(r.Context(), c.rctx, c.ctrl); err != nil {
		observability.ListLogger(r.Context(), h.logger, c.def.ID).Warn("view state not persisted", zap.Error(err))
	}
	h.lists.Decorate(&v, c.def, c.caps)
	WriteJSON(w, http.StatusOK, v)
}

// mutate is the shape of every state-changing list endpoint: open the
// controller, apply, then render.
func (h *listHandlers) mutate(apply func(r *http.Request, c *listCall) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := h.open(w, r)
		if !ok {
			return
		}
		if err := apply(r, c); err != nil {
			WriteError(w, r, err)
			return
		}
		h.render(w, r, c)
	}
}

func (h *listHandlers) handleCatalogue(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.lists.Catalogue(CapabilitiesFrom(r.Context())))
}

// handleGetView renders the current view. Query parameters override the
// stored state: page, page_size, sort ("date" or "-date") and
// filter[field]=value, where a range field takes "min..max".
func (h *listHandlers) handleGetView() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		return applyQuery(r, c)
	})
}

func (h *listHandlers) handleSetCriteria() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		var body struct {
			Criteria model.Criteria `json:"criteria"`
		}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		return c.ctrl.SetCriteria(body.Criteria)
	})
}

func (h *listHandlers) handleSetSort() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		var spec model.SortSpec
		if err := decodeBody(r, &spec); err != nil {
			return err
		}
		return c.ctrl.SetSort(spec)
	})
}

func (h *listHandlers) handleSetPage() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		var body struct {
			Page     *int `json:"page"`
			PageSize *int `json:"page_size"`
		}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		if body.PageSize != nil {
			if err := c.ctrl.SetPageSize(*body.PageSize); err != nil {
				return err
			}
		}
		if body.Page != nil {
			return c.ctrl.SetPage(*body.Page)
		}
		return nil
	})
}

func (h *listHandlers) handleLoadMore() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		_, err := c.ctrl.LoadMore(r.Context())
		return err
	})
}

// handleRefresh refetches the source. A failed fetch still renders the
// previous snapshot with an error hint.
func (h *listHandlers) handleRefresh() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		if err := c.ctrl.Refresh(r.Context()); err != nil {
			observability.ListLogger(r.Context(), h.logger, c.def.ID).Info("refresh failed", zap.Error(err))
		}
		return nil
	})
}

func (h *listHandlers) handleToggle() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		if err := selectable(c.def); err != nil {
			return err
		}
		var body struct {
			ID string `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		if body.ID == "" {
			return model.NewBadRequestError("id is required")
		}
		c.ctrl.Toggle(body.ID)
		return nil
	})
}

func (h *listHandlers) handleToggleAll() http.HandlerFunc {
	return h.mutate(func(r *http.Request, c *listCall) error {
		if err := selectable(c.def); err != nil {
			return err
		}
		if err := c.ctrl.Load(r.Context()); err != nil {
			return err
		}
		c.ctrl.ToggleAll()
		return nil
	})
}

func (h *listHandlers) handleClearSelection() http.HandlerFunc {
	return h.mutate(func(_ *http.Request, c *listCall) error {
		c.ctrl.ClearSelection()
		return nil
	})
}

func (h *listHandlers) handleFacets(w http.ResponseWriter, r *http.Request) {
	c, ok := h.open(w, r)
	if !ok {
		return
	}
	field := chi.URLParam(r, "field")
	query := r.URL.Query().Get("q")
	values, err := c.ctrl.Facets(r.Context(), field, query, queryInt(r, "limit", defaultFacetLimit))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, model.FacetResponse{Field: field, Query: query, Values: values})
}

// --- helpers ---

func selectable(def *model.ListDefinition) error {
	if !def.Selectable {
		return model.NewBadRequestError("list does not support selection")
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

// applyQuery applies view overrides from the query string.
func applyQuery(r *http.Request, c *listCall) error {
	q := r.URL.Query()

	if criteria, ok := queryCriteria(r, c.def); ok {
		if err := c.ctrl.SetCriteria(criteria); err != nil {
			return err
		}
	}
	if s := q.Get("sort"); s != "" {
		spec := model.SortSpec{Key: s, Direction: model.SortAsc}
		if strings.HasPrefix(s, "-") {
			spec = model.SortSpec{Key: s[1:], Direction: model.SortDesc}
		}
		if err := c.ctrl.SetSort(spec); err != nil {
			return err
		}
	}
	if q.Has("page_size") {
		if err := c.ctrl.SetPageSize(queryInt(r, "page_size", 0)); err != nil {
			return err
		}
	}
	if q.Has("page") {
		return c.ctrl.SetPage(queryInt(r, "page", 0))
	}
	return nil
}

// queryCriteria builds criteria from filter[field]=value parameters using
// each field's declared filter kind. It reports false when no filter
// parameter is present.
func queryCriteria(r *http.Request, def *model.ListDefinition) (model.Criteria, bool) {
	filters := queryMap(r, "filter")
	if len(filters) == 0 {
		return nil, false
	}
	criteria := model.Criteria{}
	for _, f := range def.Fields {
		value, ok := filters[f.Name]
		if !ok {
			continue
		}
		delete(filters, f.Name)
		kind := f.Filter
		if kind == "" {
			kind = model.MatchExact
		}
		cr := model.Criterion{Field: f.Name, Kind: kind}
		if kind == model.MatchRange {
			lo, hi, _ := strings.Cut(value, "..")
			cr.Min, cr.Max = lo, hi
		} else {
			cr.Value = value
		}
		criteria = append(criteria, cr)
	}
	// Undeclared fields are passed on so the controller rejects them.
	for field, value := range filters {
		criteria = append(criteria, model.Criterion{Field: field, Kind: model.MatchExact, Value: value})
	}
	return criteria, true
}

// queryInt extracts an integer query param with a default.
func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// queryMap extracts all query params with a given prefix as a map.
// e.g., filter[status]=pending → {"status": "pending"}
func queryMap(r *http.Request, prefix string) map[string]string {
	result := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(key) > len(prefix)+2 && key[:len(prefix)+1] == prefix+"[" && key[len(key)-1] == ']' {
			field := key[len(prefix)+1 : len(key)-1]
			if len(values) > 0 {
				result[field] = values[0]
			}
		}
	}
	return result
}
