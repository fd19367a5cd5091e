package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/vendordesk/internal/command"
	"github.com/pitabwire/vendordesk/internal/metadata"
	"github.com/pitabwire/vendordesk/model"
)

const idempotencyKeyHeader = "X-Idempotency-Key"

type actionHandlers struct {
	lists    *metadata.ListProvider
	executor *command.Executor
}

func (h *actionHandlers) handleRowAction(w http.ResponseWriter, r *http.Request) {
	rctx, input, ok := actionRequest(w, r)
	if !ok {
		return
	}
	listID := chi.URLParam(r, "listId")
	resp, err := h.executor.ExecuteRow(r.Context(), rctx, CapabilitiesFrom(r.Context()),
		listID, chi.URLParam(r, "itemId"), chi.URLParam(r, "actionId"), input)
	h.respond(w, r, listID, resp, err)
}

func (h *actionHandlers) handleBulkAction(w http.ResponseWriter, r *http.Request) {
	rctx, input, ok := actionRequest(w, r)
	if !ok {
		return
	}
	listID := chi.URLParam(r, "listId")
	resp, err := h.executor.ExecuteBulk(r.Context(), rctx, CapabilitiesFrom(r.Context()),
		listID, chi.URLParam(r, "actionId"), input)
	h.respond(w, r, listID, resp, err)
}

func (h *actionHandlers) respond(w http.ResponseWriter, r *http.Request, listID string, resp model.CommandResponse, err error) {
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if resp.View != nil {
		caps := CapabilitiesFrom(r.Context())
		if def, err := h.lists.Authorize(caps, listID); err == nil {
			h.lists.Decorate(resp.View, def, caps)
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// actionRequest decodes an optional ActionInput body. The idempotency key
// may also be sent as a header; the body wins when both are present.
func actionRequest(w http.ResponseWriter, r *http.Request) (*model.RequestContext, model.ActionInput, bool) {
	var input model.ActionInput
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, r, model.NewUnauthorizedError("missing request context"))
		return nil, input, false
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&input)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
		return nil, input, false
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = r.Header.Get(idempotencyKeyHeader)
	}
	return rctx, input, true
}
