// Package command executes row and bulk actions against list views.
package command

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/listview"
	"github.com/pitabwire/vendordesk/internal/metadata"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/internal/source"
	"github.com/pitabwire/vendordesk/model"
)

// Definitions looks up list definitions.
type Definitions interface {
	List(listID string) (*model.ListDefinition, bool)
}

// Views hands out the caller's controller for a list and persists its state.
type Views interface {
	Controller(ctx context.Context, rctx *model.RequestContext, def *model.ListDefinition) (*listview.Controller, error)
	Persist(ctx context.Context, rctx *model.RequestContext, ctrl *listview.Controller) error
}

// Repositories resolves the repository backing a list. It is used to
// validate patches before they are applied.
type Repositories interface {
	Repository(ctx context.Context, def *model.ListDefinition) (source.Repository, error)
}

// Recorder receives action measurements.
type Recorder interface {
	RecordActionExecution(actionID, scope, status string, duration time.Duration)
	RecordActionReplay(actionID string)
}

// Action scopes.
const (
	ScopeRow  = "row"
	ScopeBulk = "bulk"
)

// Executor runs row and bulk actions: it checks capabilities and row
// conditions, resolves the patch, applies it through the caller's list
// controller and deduplicates retried submissions.
type Executor struct {
	defs        Definitions
	views       Views
	repos       Repositories
	idempotency IdempotencyStore
	defaultTTL  time.Duration
	rec         Recorder
	logger      *zap.Logger
}

// ExecutorOption configures optional dependencies.
type ExecutorOption func(*Executor)

// WithIdempotencyStore sets the idempotency store and the TTL used by
// actions that do not declare one.
func WithIdempotencyStore(store IdempotencyStore, defaultTTL time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.idempotency = store
		e.defaultTTL = defaultTTL
	}
}

// WithPatchValidation validates patches against repositories that implement
// source.PatchValidator.
func WithPatchValidation(repos Repositories) ExecutorOption {
	return func(e *Executor) { e.repos = repos }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.rec = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor with its required dependencies.
func NewExecutor(defs Definitions, views Views, opts ...ExecutorOption) *Executor {
	e := &Executor{
		defs:       defs,
		views:      views,
		defaultTTL: 24 * time.Hour,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// request carries one action submission through the pipeline.
type request struct {
	scope  string
	rctx   *model.RequestContext
	def    *model.ListDefinition
	action model.ActionDefinition
	itemID string
	input  model.ActionInput
}

// ExecuteRow runs a row action against one item.
func (e *Executor) ExecuteRow(
	ctx context.Context,
	rctx *model.RequestContext,
	caps model.CapabilitySet,
	listID, itemID, actionID string,
	input model.ActionInput,
) (model.CommandResponse, error) {
	def, action, err := e.lookup(caps, listID, actionID, ScopeRow)
	if err != nil {
		return model.CommandResponse{}, err
	}
	req := request{scope: ScopeRow, rctx: rctx, def: def, action: action, itemID: itemID, input: input}
	return e.run(ctx, req, e.applyRow)
}

// ExecuteBulk runs a bulk action against the caller's current selection.
// On success the selection is cleared; on failure it is kept so the caller
// can retry.
func (e *Executor) ExecuteBulk(
	ctx context.Context,
	rctx *model.RequestContext,
	caps model.CapabilitySet,
	listID, actionID string,
	input model.ActionInput,
) (model.CommandResponse, error) {
	def, action, err := e.lookup(caps, listID, actionID, ScopeBulk)
	if err != nil {
		return model.CommandResponse{}, err
	}
	if !def.Selectable {
		return model.CommandResponse{}, model.NewBadRequestError(
			fmt.Sprintf("list %q does not support selection", listID),
		)
	}
	req := request{scope: ScopeBulk, rctx: rctx, def: def, action: action, input: input}
	return e.run(ctx, req, e.applyBulk)
}

// lookup resolves and authorizes the list and the action.
func (e *Executor) lookup(caps model.CapabilitySet, listID, actionID, scope string) (*model.ListDefinition, model.ActionDefinition, error) {
	def, ok := e.defs.List(listID)
	if !ok {
		return nil, model.ActionDefinition{}, model.NewNotFoundError(fmt.Sprintf("list %q not found", listID))
	}
	if !caps.HasAll(def.Capabilities...) {
		return nil, model.ActionDefinition{}, model.NewForbiddenError(
			fmt.Sprintf("insufficient capabilities for list %q", listID),
		)
	}

	actions := def.RowActions
	if scope == ScopeBulk {
		actions = def.BulkActions
	}
	i := slices.IndexFunc(actions, func(a model.ActionDefinition) bool { return a.ID == actionID })
	if i < 0 {
		return nil, model.ActionDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("%s action %q not found on list %q", scope, actionID, listID),
		)
	}
	action := actions[i]
	if missing := caps.Missing(action.Capabilities...); len(missing) > 0 {
		return nil, model.ActionDefinition{}, model.NewForbiddenError(
			fmt.Sprintf("action %q requires %s", actionID, strings.Join(missing, ", ")),
		)
	}
	return def, action, nil
}

type applyFunc func(ctx context.Context, ctrl *listview.Controller, req request, patch map[string]any) (int, error)

// run is the pipeline shared by row and bulk actions.
func (e *Executor) run(ctx context.Context, req request, apply applyFunc) (resp model.CommandResponse, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "action."+req.scope,
		observability.AttrListID.String(req.def.ID),
		observability.AttrActionID.String(req.action.ID),
		observability.AttrScope.String(req.scope),
		observability.AttrTenantID.String(req.rctx.TenantID),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		e.record(ctx, req, err, time.Since(start))
	}()

	ctrl, err := e.views.Controller(ctx, req.rctx, req.def)
	if err != nil {
		return model.CommandResponse{}, err
	}
	if err := ctrl.Load(ctx); err != nil {
		return model.CommandResponse{}, err
	}

	idemKey, hash := e.idempotencyKey(req)
	if idemKey != "" {
		replay, claimErr := e.idempotency.Claim(ctx, idemKey, hash, e.ttl(req.action))
		if claimErr != nil {
			return model.CommandResponse{}, claimErr
		}
		if replay != nil {
			if e.rec != nil {
				e.rec.RecordActionReplay(req.action.ID)
			}
			v := ctrl.View(ctx)
			replay.View = &v
			return *replay, nil
		}
		// err is the named result, so any failure below frees the key.
		defer func() {
			if err == nil {
				return
			}
			if rerr := e.idempotency.Release(context.WithoutCancel(ctx), idemKey); rerr != nil {
				observability.ListLogger(ctx, e.logger, req.def.ID).Warn("idempotency claim not released",
					zap.String("action_id", req.action.ID),
					zap.Error(rerr),
				)
			}
		}()
	}

	resolver := &ExpressionResolver{Input: req.input.Input, Context: req.rctx}
	patch, err := resolver.Patch(req.action.Patch, req.action.PatchFrom)
	if err != nil {
		return model.CommandResponse{}, model.NewBadRequestError(fmt.Sprintf("cannot resolve patch: %v", err))
	}
	if req.action.Kind == model.ActionUpdate {
		if err := e.validatePatch(ctx, req.def, patch); err != nil {
			return model.CommandResponse{}, err
		}
	}

	n, err := apply(ctx, ctrl, req, patch)
	if err != nil {
		return model.CommandResponse{}, err
	}
	observability.ListLogger(ctx, e.logger, req.def.ID).Debug("action applied",
		zap.String("action_id", req.action.ID),
		zap.Int("affected", n),
		zap.Any("patch", observability.RedactBody(patch)),
	)

	if err := e.views.Persist(ctx, req.rctx, ctrl); err != nil {
		observability.ListLogger(ctx, e.logger, req.def.ID).Warn("view state not persisted after action",
			zap.String("action_id", req.action.ID),
			zap.Error(err),
		)
	}

	resp = model.CommandResponse{
		Success:  true,
		Message:  successMessage(req.action, n),
		Affected: n,
	}
	if idemKey != "" {
		if err := e.idempotency.Complete(ctx, idemKey, hash, resp, e.ttl(req.action)); err != nil {
			observability.ListLogger(ctx, e.logger, req.def.ID).Warn("idempotency result not stored",
				zap.String("action_id", req.action.ID),
				zap.Error(err),
			)
		}
	}

	v := ctrl.View(ctx)
	resp.View = &v
	return resp, nil
}

// applyRow checks the row conditions of the target item and mutates it.
func (e *Executor) applyRow(ctx context.Context, ctrl *listview.Controller, req request, patch map[string]any) (int, error) {
	item, ok := ctrl.Find(req.itemID)
	if !ok {
		return 0, model.NewNotFoundError(fmt.Sprintf("item %s not found", req.itemID))
	}
	visible, enabled := metadata.EvaluateConditions(req.action.Conditions, item.Fields)
	if !visible || !enabled {
		return 0, model.NewConflictError(
			fmt.Sprintf("action %q is not available for item %s", req.action.ID, req.itemID),
		)
	}

	if req.action.Kind == model.ActionDelete {
		return 1, ctrl.DeleteItems(ctx, []string{req.itemID})
	}
	return 1, ctrl.UpdateItem(ctx, req.itemID, patch)
}

// applyBulk commits the action to the current selection.
func (e *Executor) applyBulk(ctx context.Context, ctrl *listview.Controller, req request, patch map[string]any) (int, error) {
	if req.action.Kind == model.ActionDelete {
		patch = nil
	}
	return ctrl.Commit(ctx, req.action.Label, req.action.Kind, patch)
}

func (e *Executor) validatePatch(ctx context.Context, def *model.ListDefinition, patch map[string]any) error {
	if e.repos == nil {
		return nil
	}
	repo, err := e.repos.Repository(ctx, def)
	if err != nil {
		return err
	}
	if v, ok := repo.(source.PatchValidator); ok {
		return v.ValidatePatch(patch)
	}
	return nil
}

// idempotencyKey returns the store key and input hash of a submission, or
// an empty key when the submission is not deduplicated. A row hash covers
// the item, so reusing a key on another item is a conflict. A bulk hash
// leaves the selection out because a successful commit clears it before the
// client retries.
func (e *Executor) idempotencyKey(req request) (string, string) {
	if e.idempotency == nil || req.action.Idempotency == nil || req.input.IdempotencyKey == "" {
		return "", ""
	}
	key := FormatIdempotencyKey(req.rctx.TenantID, req.def.ID, req.action.ID, req.input.IdempotencyKey)
	return key, hashInput(req.itemID, req.input.Input)
}

func (e *Executor) ttl(action model.ActionDefinition) time.Duration {
	if action.Idempotency != nil {
		if d, err := time.ParseDuration(action.Idempotency.TTL); err == nil && d > 0 {
			return d
		}
	}
	return e.defaultTTL
}

func (e *Executor) record(ctx context.Context, req request, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
		observability.ListLogger(ctx, e.logger, req.def.ID).Info("action failed",
			zap.String("action_id", req.action.ID),
			zap.String("scope", req.scope),
			zap.String("subject_id", req.rctx.SubjectID),
			zap.Error(err),
		)
	}
	if e.rec != nil {
		e.rec.RecordActionExecution(req.action.ID, req.scope, status, d)
	}
}

func successMessage(action model.ActionDefinition, n int) string {
	if action.SuccessMessage != "" {
		return action.SuccessMessage
	}
	if n == 1 {
		return fmt.Sprintf("%s: 1 item", action.Label)
	}
	return fmt.Sprintf("%s: %d items", action.Label, n)
}

// hashInput produces a deterministic hash of the target item and the action
// input for idempotency comparison.
func hashInput(itemID string, input map[string]any) string {
	data, _ := json.Marshal(struct {
		Item  string         `json:"item,omitempty"`
		Input map[string]any `json:"input"`
	}{itemID, input})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
