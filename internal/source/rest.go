package source

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/pitabwire/vendordesk/internal/invoker"
	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/model"
)

// REST is a repository backed by operations of a backend service. The
// caller's identity is taken from the request context so the backend sees
// the dashboard user, not this service.
type REST struct {
	client  *invoker.Client
	index   *openapi.Index
	binding model.SourceBinding
}

// NewREST creates a REST repository. Every operation the binding names must
// exist in the index.
func NewREST(client *invoker.Client, index *openapi.Index, b model.SourceBinding) (*REST, error) {
	if b.IDField == "" {
		b.IDField = "id"
	}
	if b.VersionField == "" {
		b.VersionField = "version"
	}
	for _, opID := range []string{b.FetchOperation, b.UpdateOperation, b.DeleteOperation} {
		if opID == "" {
			continue
		}
		if !client.Has(b.ServiceID, opID) {
			return nil, fmt.Errorf("source: operation %s/%s is not available", b.ServiceID, opID)
		}
	}
	if b.FetchOperation == "" {
		return nil, fmt.Errorf("source: rest binding for %s has no fetch_operation", b.ServiceID)
	}
	return &REST{client: client, index: index, binding: b}, nil
}

// Fetch calls the fetch operation and maps the records found at ItemsPath.
func (r *REST) Fetch(ctx context.Context) ([]model.Item, error) {
	resp, err := r.client.Invoke(ctx, model.RequestContextFrom(ctx), r.binding.ServiceID, r.binding.FetchOperation, invoker.Request{})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, r.binding.FetchOperation); err != nil {
		return nil, err
	}

	raw := extractPath(resp.Body, r.binding.ItemsPath)
	records, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("source: %s returned no array at %q", r.binding.FetchOperation, r.binding.ItemsPath)
	}

	items := make([]model.Item, 0, len(records))
	for i, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("source: %s record %d is not an object", r.binding.FetchOperation, i)
		}
		it, err := r.toItem(m)
		if err != nil {
			return nil, fmt.Errorf("source: %s record %d: %w", r.binding.FetchOperation, i, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (r *REST) toItem(rec map[string]any) (model.Item, error) {
	id := model.Stringify(rec[r.binding.IDField])
	if id == "" {
		return model.Item{}, fmt.Errorf("missing %s", r.binding.IDField)
	}
	fields := maps.Clone(rec)
	delete(fields, r.binding.IDField)
	version := toInt64(fields[r.binding.VersionField])
	delete(fields, r.binding.VersionField)
	return model.Item{ID: id, Fields: fields, Version: version}, nil
}

// Update sends patch to the update operation after validating it against
// the operation's request schema.
func (r *REST) Update(ctx context.Context, id string, patch map[string]any) error {
	if r.binding.UpdateOperation == "" {
		return model.NewBadRequestError("list source does not support updates")
	}
	if err := r.ValidatePatch(patch); err != nil {
		return err
	}

	req := invoker.Request{Body: patch}
	if name, ok := r.pathParam(r.binding.UpdateOperation); ok {
		req.PathParams = map[string]string{name: id}
	}
	resp, err := r.client.Invoke(ctx, model.RequestContextFrom(ctx), r.binding.ServiceID, r.binding.UpdateOperation, req)
	if err != nil {
		return err
	}
	return checkStatus(resp, r.binding.UpdateOperation)
}

// ValidatePatch checks patch against the update operation's request schema.
func (r *REST) ValidatePatch(patch map[string]any) error {
	if r.binding.UpdateOperation == "" {
		return nil
	}
	errs := r.index.ValidatePatch(r.binding.ServiceID, r.binding.UpdateOperation, patch)
	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError(errs)
}

// Delete calls the delete operation. Operations addressing a single record by
// path parameter are called once per ID; others receive {"ids": [...]}.
func (r *REST) Delete(ctx context.Context, ids []string) error {
	if r.binding.DeleteOperation == "" {
		return model.NewBadRequestError("list source does not support deletes")
	}
	rctx := model.RequestContextFrom(ctx)

	if name, ok := r.pathParam(r.binding.DeleteOperation); ok {
		for _, id := range ids {
			resp, err := r.client.Invoke(ctx, rctx, r.binding.ServiceID, r.binding.DeleteOperation,
				invoker.Request{PathParams: map[string]string{name: id}})
			if err != nil {
				return err
			}
			if err := checkStatus(resp, r.binding.DeleteOperation); err != nil {
				return err
			}
		}
		return nil
	}

	resp, err := r.client.Invoke(ctx, rctx, r.binding.ServiceID, r.binding.DeleteOperation,
		invoker.Request{Body: map[string]any{"ids": ids}})
	if err != nil {
		return err
	}
	return checkStatus(resp, r.binding.DeleteOperation)
}

// HealthCheck reports an open circuit breaker as unhealthy.
func (r *REST) HealthCheck(context.Context) error {
	if b := r.client.Breaker(r.binding.ServiceID); b != nil && b.State() == invoker.BreakerOpen {
		return fmt.Errorf("source: %s circuit breaker is open", r.binding.ServiceID)
	}
	return nil
}

// pathParam returns the single path parameter of an operation.
func (r *REST) pathParam(operationID string) (string, bool) {
	op, ok := r.index.Operation(r.binding.ServiceID, operationID)
	if !ok {
		return "", false
	}
	names := op.PathParams()
	if len(names) != 1 {
		return "", false
	}
	return names[0], true
}

func checkStatus(resp invoker.Response, operationID string) error {
	switch {
	case resp.StatusCode == 404:
		return model.NewNotFoundError(fmt.Sprintf("%s: not found", operationID))
	case resp.StatusCode == 409:
		return model.NewConflictError(fmt.Sprintf("%s: conflict", operationID))
	case resp.StatusCode == 429:
		return model.NewRateLimitedError()
	case resp.StatusCode >= 400:
		return fmt.Errorf("source: %s returned status %d", operationID, resp.StatusCode)
	}
	return nil
}

// extractPath navigates a dot-separated path through nested objects. An
// empty path returns body itself.
func extractPath(body any, path string) any {
	if path == "" {
		return body
	}
	current := body
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
