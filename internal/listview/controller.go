package listview

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/vendordesk/model"
)

// Source is where a controller reads items from and sends mutations to.
type Source interface {
	Fetch(ctx context.Context) ([]model.Item, error)
	Update(ctx context.Context, id string, patch map[string]any) error
	Delete(ctx context.Context, ids []string) error
}

// Recorder receives measurements from a controller.
type Recorder interface {
	RecordPipeline(listID string, duration time.Duration, visible int)
	RecordFetch(listID, outcome string, duration time.Duration)
	RecordMutation(listID, kind, outcome string, size int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPipeline(string, time.Duration, int)  {}
func (nopRecorder) RecordFetch(string, string, time.Duration)  {}
func (nopRecorder) RecordMutation(string, string, string, int) {}

const defaultBulkConcurrency = 4

// Default empty-state copy.
const (
	defaultNoItems   = "Nothing here yet"
	defaultNoMatches = "No items match your filters"
)

// Controller turns a source collection into a display-ready view by running
// filter, sort and paginate in that order, with a selection overlay that is
// independent of all three. It is safe for concurrent use.
//
// Mutations are applied optimistically. Network calls never hold the lock;
// instead every refreshed snapshot is reconciled with the queue of optimistic
// mutations before it replaces the local collection.
type Controller struct {
	cfg    Config
	src    Source
	logger *zap.Logger
	rec    Recorder

	flight singleflight.Group

	mu          sync.Mutex
	state       State
	selection   *Selection
	base        []model.Item
	items       []model.Item
	ledger      ledger
	loaded      bool
	fetchGen    uint64
	acceptedGen uint64
	fetchErr    error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder sets the controller's metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.rec = r }
}

// WithState restores a previously persisted state.
func WithState(st State) Option {
	return func(c *Controller) {
		c.state = st.normalize(c.cfg)
		c.selection = NewSelection(st.Selected...)
	}
}

// New creates a controller over src. Items are fetched on first use.
func New(src Source, cfg Config, opts ...Option) *Controller {
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	c := &Controller{
		cfg:       cfg,
		src:       src,
		logger:    zap.NewNop(),
		rec:       nopRecorder{},
		state:     cfg.initialState(),
		selection: NewSelection(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListID returns the list this controller renders.
func (c *Controller) ListID() string { return c.cfg.ListID }

// State returns a copy of the current view state, including the selection.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state.normalize(c.cfg)
	st.Selected = c.selection.IDs()
	return st
}

// --- Loading ---

// View loads the collection if it has never been loaded and renders the
// current view. A failed fetch does not fail the view: the previous
// snapshot, if any, is rendered with an error hint.
func (c *Controller) View(ctx context.Context) model.ListView {
	if !c.isLoaded() {
		_ = c.Refresh(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked()
}

// Load fetches the collection unless a snapshot is already held.
func (c *Controller) Load(ctx context.Context) error {
	if c.isLoaded() {
		return nil
	}
	return c.Refresh(ctx)
}

func (c *Controller) isLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Refresh replaces the collection with a fresh snapshot from the source.
// Concurrent calls share one fetch. Optimistic mutations that the snapshot
// cannot yet reflect are re-applied on top of it.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (any, error) {
		c.mu.Lock()
		c.fetchGen++
		gen := c.fetchGen
		c.mu.Unlock()

		start := time.Now()
		items, err := c.src.Fetch(ctx)
		elapsed := time.Since(start)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.fetchErr = err
			c.rec.RecordFetch(c.cfg.ListID, "error", elapsed)
			c.logger.Warn("list fetch failed",
				zap.String("list_id", c.cfg.ListID),
				zap.Duration("duration", elapsed),
				zap.Error(err),
			)
			return nil, model.NewFetchFailedError(c.cfg.ListID)
		}
		c.rec.RecordFetch(c.cfg.ListID, "ok", elapsed)
		c.acceptLocked(gen, items)
		return nil, nil
	})
	return err
}

// acceptLocked installs a snapshot from fetch generation gen. Snapshots older
// than the one already accepted are discarded.
func (c *Controller) acceptLocked(gen uint64, items []model.Item) {
	if gen < c.acceptedGen {
		c.logger.Debug("discarding stale snapshot",
			zap.String("list_id", c.cfg.ListID),
			zap.Uint64("generation", gen),
		)
		return
	}
	c.acceptedGen = gen
	c.base = slices.Clone(items)
	c.loaded = true
	c.fetchErr = nil
	c.ledger.settle(gen)
	c.rebuildLocked()
}

func (c *Controller) rebuildLocked() {
	c.items = c.ledger.replay(c.base)
}

// --- Criteria, sort and paging ---

// SetCriteria replaces the filter criteria. In load-more mode a change of
// criteria shrinks the window back to the first page; reapplying the same
// criteria keeps it. In paged mode the current page is clamped on the next
// render.
func (c *Controller) SetCriteria(criteria model.Criteria) error {
	if err := c.validateCriteria(criteria); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !reflect.DeepEqual(c.state.Criteria.Active(), criteria.Active())
	c.state.Criteria = slices.Clone(criteria)
	if changed && c.state.Window.Mode == model.PageLoadMore {
		c.state.Window.CurrentPage = 1
	}
	return nil
}

func (c *Controller) validateCriteria(criteria model.Criteria) error {
	var details []model.FieldError
	for i, cr := range criteria {
		path := fmt.Sprintf("criteria[%d]", i)
		if cr.Field == "" {
			details = append(details, model.FieldError{Field: path + ".field", Code: "REQUIRED", Message: "field is required"})
			continue
		}
		if !cr.Kind.Valid() {
			details = append(details, model.FieldError{Field: path + ".kind", Code: "INVALID", Message: fmt.Sprintf("unknown criterion kind %q", cr.Kind)})
		}
		if len(c.cfg.Schema) > 0 && cr.Field != "id" {
			if _, ok := c.cfg.Schema[cr.Field]; !ok {
				details = append(details, model.FieldError{Field: path + ".field", Code: "UNKNOWN_FIELD", Message: fmt.Sprintf("list has no field %q", cr.Field)})
			}
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// SetSort changes the sort key and direction. An empty key restores source
// order.
func (c *Controller) SetSort(spec model.SortSpec) error {
	if spec.Key != "" && c.cfg.Sortable != nil && !c.cfg.Sortable[spec.Key] {
		return model.NewValidationError([]model.FieldError{
			{Field: "key", Code: "NOT_SORTABLE", Message: fmt.Sprintf("field %q is not sortable", spec.Key)},
		})
	}
	switch spec.Direction {
	case "", model.SortAsc, model.SortDesc:
	default:
		return model.NewValidationError([]model.FieldError{
			{Field: "direction", Code: "INVALID", Message: "direction must be asc or desc"},
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if spec.Key == "" {
		c.state.Sort = model.SortSpec{}
		return nil
	}
	c.state.Sort = NormalizeSort(spec)
	return nil
}

// SetPage moves a paged list to page p. Pages past the end are clamped when
// the view is rendered.
func (c *Controller) SetPage(p int) error {
	if p < 1 {
		return model.NewBadRequestError("page must be at least 1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Window.Mode == model.PageLoadMore {
		return model.NewBadRequestError("list uses load more; pages cannot be selected")
	}
	c.state.Window.CurrentPage = p
	return nil
}

// SetPageSize changes the number of items per page.
func (c *Controller) SetPageSize(size int) error {
	if size < 1 || size > MaxPageSize {
		return model.NewBadRequestError(fmt.Sprintf("page size must be between 1 and %d", MaxPageSize))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Window.PageSize = size
	return nil
}

// LoadMore grows a load-more window by one page. It reports whether the
// window grew.
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	if !c.isLoaded() {
		_ = c.Refresh(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Window.Mode != model.PageLoadMore {
		return false, model.NewBadRequestError("list is paged; use page selection")
	}
	page := c.pageLocked()
	if !page.HasMore {
		return false, nil
	}
	c.state.Window.CurrentPage = page.Page + 1
	return true, nil
}

// --- Selection ---

// Toggle flips the selection of one item and reports whether it is now
// selected.
func (c *Controller) Toggle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.Toggle(id)
}

// ToggleAll applies the header checkbox to the currently visible items.
func (c *Controller) ToggleAll() model.SelectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	visible := model.ItemIDs(c.pageLocked().Items)
	c.selection.ToggleAll(visible)
	return c.selection.State(visible)
}

// ClearSelection deselects everything.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Clear()
}

// IsSelected reports whether id is selected.
func (c *Controller) IsSelected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.IsSelected(id)
}

// SelectionCount returns the number of selected items, visible or not.
func (c *Controller) SelectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.Count()
}

// --- Mutations ---

// Find returns the current, optimistically updated copy of an item.
func (c *Controller) Find(id string) (model.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Item{}, false
}

// UpdateItem patches one item optimistically and sends the patch to the
// source. The local change is rolled back if the source rejects it.
func (c *Controller) UpdateItem(ctx context.Context, id string, patch map[string]any) error {
	if _, ok := c.Find(id); !ok {
		return model.NewNotFoundError(fmt.Sprintf("item %s not found", id))
	}
	err := c.mutate(ctx, model.ActionUpdate, []string{id}, patch, func(ctx context.Context) error {
		return c.src.Update(ctx, id, patch)
	})
	if err != nil {
		return mutationError("Update", err)
	}
	return nil
}

// DeleteItems removes items optimistically and asks the source to delete
// them. Deleted items are dropped from the selection once confirmed.
func (c *Controller) DeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return model.NewBadRequestError("no items to delete")
	}
	err := c.mutate(ctx, model.ActionDelete, ids, nil, func(ctx context.Context) error {
		return c.src.Delete(ctx, ids)
	})
	if err != nil {
		return mutationError("Delete", err)
	}
	c.mu.Lock()
	c.selection.Remove(ids...)
	c.mu.Unlock()
	return nil
}

// Commit applies a bulk action to every selected item as one operation.
// On success the committed ids leave the selection and the collection is
// refreshed; on
// failure local changes are rolled back and the selection is kept so the
// user can retry. It returns the number of items the action covered.
func (c *Controller) Commit(ctx context.Context, label string, kind model.ActionKind, patch map[string]any) (int, error) {
	c.mu.Lock()
	ids := c.selection.IDs()
	c.mu.Unlock()
	if len(ids) == 0 {
		return 0, model.NewBadRequestError("no items selected")
	}

	send := func(ctx context.Context) error { return c.src.Delete(ctx, ids) }
	if kind == model.ActionUpdate {
		send = func(ctx context.Context) error { return c.updateAll(ctx, ids, patch) }
	}
	if err := c.mutate(ctx, kind, ids, patch, send); err != nil {
		return 0, mutationError(label, err)
	}

	c.mu.Lock()
	c.selection.Remove(ids...)
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("refresh after bulk commit failed",
			zap.String("list_id", c.cfg.ListID),
			zap.Error(err),
		)
	}
	return len(ids), nil
}

// updateAll sends patch to every id with bounded concurrency. The first
// failure cancels the remaining calls.
func (c *Controller) updateAll(ctx context.Context, ids []string, patch map[string]any) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BulkConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.src.Update(gctx, id, patch); err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// mutate applies a change locally, runs send without holding the lock, then
// either confirms the change or rolls it back.
func (c *Controller) mutate(ctx context.Context, kind model.ActionKind, ids []string, patch map[string]any, send func(context.Context) error) error {
	c.mu.Lock()
	m := c.ledger.push(kind, ids, patch, c.items)
	c.rebuildLocked()
	c.mu.Unlock()

	err := send(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.ledger.remove(m)
		c.rebuildLocked()
		c.rec.RecordMutation(c.cfg.ListID, string(kind), "error", len(ids))
		c.logger.Warn("mutation rejected, rolled back",
			zap.String("list_id", c.cfg.ListID),
			zap.String("kind", string(kind)),
			zap.Int("items", len(ids)),
			zap.Error(err),
		)
		return err
	}
	c.ledger.confirm(m, c.fetchGen)
	c.rebuildLocked()
	c.rec.RecordMutation(c.cfg.ListID, string(kind), "ok", len(ids))
	return nil
}

// mutationError reports a rejected mutation. Conflicts and rate limiting
// reach the client unchanged so it can reload or back off; every other
// failure becomes MUTATION_FAILED.
func mutationError(label string, err error) error {
	switch model.CodeOf(err) {
	case model.ErrConflict, model.ErrRateLimited:
		return err
	}
	return model.NewMutationFailedError(label)
}

// --- Facets ---

// Facets returns the distinct values of field across the whole collection,
// narrowed by query when it is not empty.
func (c *Controller) Facets(ctx context.Context, field, query string, limit int) ([]model.FacetValue, error) {
	if len(c.cfg.Schema) > 0 {
		if _, ok := c.cfg.Schema[field]; !ok {
			return nil, model.NewNotFoundError(fmt.Sprintf("list has no field %q", field))
		}
	}
	if !c.isLoaded() {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	values := Facets(c.items, field)
	c.mu.Unlock()
	return Suggest(values, query, limit), nil
}

// --- Rendering ---

// pageLocked runs the pipeline and clamps the stored page to the result.
func (c *Controller) pageLocked() Page {
	filtered := Filter(c.items, c.state.Criteria, c.cfg.Schema)
	ordered := Sort(filtered, c.state.Sort, c.cfg.Schema)
	page := Paginate(ordered, c.state.Window)
	c.state.Window.CurrentPage = page.Page
	return page
}

func (c *Controller) renderLocked() model.ListView {
	start := time.Now()
	page := c.pageLocked()
	visible := model.ItemIDs(page.Items)

	v := model.ListView{
		ListID:        c.cfg.ListID,
		Title:         c.cfg.Title,
		Items:         page.Items,
		TotalCount:    len(c.items),
		FilteredCount: page.Total,
		Page:          page.Page,
		PageSize:      page.PageSize,
		TotalPages:    page.TotalPages,
		HasMore:       page.HasMore,
		Mode:          c.state.Window.Mode,
		Sort:          c.state.Sort,
		Criteria:      slices.Clone(c.state.Criteria),
		Selection: model.SelectionDescriptor{
			Count: c.selection.Count(),
			State: c.selection.State(visible),
			IDs:   c.selection.IDs(),
		},
		Pending: c.ledger.pending(),
	}
	if v.Items == nil {
		v.Items = []model.Item{}
	}

	if c.fetchErr != nil {
		env := model.NewFetchFailedError(c.cfg.ListID)
		v.Error = &model.ErrorHint{Code: env.Code, Message: env.Message, Retryable: true}
	}
	if len(page.Items) == 0 && c.loaded {
		v.Empty = c.emptyStateLocked()
	}

	c.rec.RecordPipeline(c.cfg.ListID, time.Since(start), len(page.Items))
	return v
}

// emptyStateLocked distinguishes an empty collection from one whose items
// are all filtered out.
func (c *Controller) emptyStateLocked() *model.EmptyState {
	if len(c.items) > 0 && c.state.Criteria.AnyActive() {
		msg := c.cfg.EmptyStates.NoMatches
		if msg == "" {
			msg = defaultNoMatches
		}
		return &model.EmptyState{Kind: model.EmptyNoMatches, Message: msg}
	}
	msg := c.cfg.EmptyStates.NoItems
	if msg == "" {
		msg = defaultNoItems
	}
	return &model.EmptyState{Kind: model.EmptyNoItems, Message: msg}
}
