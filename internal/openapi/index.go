// Package openapi indexes the OpenAPI documents of the backend services that
// rest list sources call. Operations are looked up by service and
// operationId, and patches are checked against the request body schema
// before they leave the process.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/vendordesk/model"
)

// Field error codes reported by Validate.
const (
	CodeRequired     = "REQUIRED"
	CodeInvalid      = "INVALID"
	CodeUnknownField = "UNKNOWN_FIELD"
)

// SpecSource is one service's OpenAPI document. BaseURL, when set, wins over
// the document's first server.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// Operation is a single backend call as rest sources need it.
type Operation struct {
	ServiceID string
	ID        string
	Method    string
	Path      string
	BaseURL   string
	// Params merges path item and operation parameters, operation last.
	Params []*openapi3.Parameter

	body *openapi3.Schema
}

// PathParams returns the names of the operation's path parameters in
// declaration order.
func (op Operation) PathParams() []string {
	var names []string
	for _, p := range op.Params {
		if p.In == openapi3.ParameterInPath {
			names = append(names, p.Name)
		}
	}
	return names
}

type opKey struct{ service, id string }

// Index holds the operations of every loaded document. It is built once at
// startup and read concurrently afterwards.
type Index struct {
	ops map[opKey]Operation
}

func NewIndex() *Index {
	return &Index{ops: make(map[opKey]Operation)}
}

// Load reads, validates and indexes each document. An operationId that
// appears twice within one service is an error.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: load %s from %s: %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: %s: invalid document: %w", src.ServiceID, err)
		}
		base := src.BaseURL
		if base == "" && len(doc.Servers) > 0 {
			base = doc.Servers[0].URL
		}
		if err := idx.add(src.ServiceID, base, doc); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) add(serviceID, base string, doc *openapi3.T) error {
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			key := opKey{serviceID, op.OperationID}
			if prev, dup := idx.ops[key]; dup {
				return fmt.Errorf("openapi: %s: operationId %q used by %s %s and %s %s",
					serviceID, op.OperationID, prev.Method, prev.Path, method, path)
			}
			idx.ops[key] = Operation{
				ServiceID: serviceID,
				ID:        op.OperationID,
				Method:    method,
				Path:      path,
				BaseURL:   base,
				Params:    slices.Concat(params(item.Parameters), params(op.Parameters)),
				body:      jsonBody(op.RequestBody),
			}
		}
	}
	return nil
}

func params(refs openapi3.Parameters) []*openapi3.Parameter {
	var out []*openapi3.Parameter
	for _, ref := range refs {
		if ref != nil && ref.Value != nil {
			out = append(out, ref.Value)
		}
	}
	return out
}

func jsonBody(ref *openapi3.RequestBodyRef) *openapi3.Schema {
	if ref == nil || ref.Value == nil {
		return nil
	}
	mt := ref.Value.Content.Get("application/json")
	if mt == nil || mt.Schema == nil {
		return nil
	}
	return mt.Schema.Value
}

// Operation looks up an operation by service and operationId.
func (idx *Index) Operation(serviceID, operationID string) (Operation, bool) {
	op, ok := idx.ops[opKey{serviceID, operationID}]
	return op, ok
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int { return len(idx.ops) }

// Services returns the sorted IDs of services with at least one operation.
func (idx *Index) Services() []string {
	seen := make(map[string]struct{})
	for k := range idx.ops {
		seen[k.service] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// OperationIDs returns the sorted operationIds of a service.
func (idx *Index) OperationIDs(serviceID string) []string {
	var ids []string
	for k := range idx.ops {
		if k.service == serviceID {
			ids = append(ids, k.id)
		}
	}
	slices.Sort(ids)
	return ids
}

// ValidateRequest checks a complete request body: required properties must
// be present and every property must match its schema.
func (idx *Index) ValidateRequest(serviceID, operationID string, body map[string]any) []model.FieldError {
	return idx.validate(serviceID, operationID, body, true)
}

// ValidatePatch checks only the properties present in patch.
func (idx *Index) ValidatePatch(serviceID, operationID string, patch map[string]any) []model.FieldError {
	return idx.validate(serviceID, operationID, patch, false)
}

func (idx *Index) validate(serviceID, operationID string, body map[string]any, complete bool) []model.FieldError {
	op, ok := idx.Operation(serviceID, operationID)
	if !ok {
		return []model.FieldError{{
			Code:    CodeInvalid,
			Message: fmt.Sprintf("operation %s/%s is not indexed", serviceID, operationID),
		}}
	}
	schema := op.body
	if schema == nil {
		return nil
	}

	var errs []model.FieldError
	if complete {
		for _, name := range schema.Required {
			if _, ok := body[name]; !ok {
				errs = append(errs, model.FieldError{Field: name, Code: CodeRequired, Message: name + " is required"})
			}
		}
	}
	closed := schema.AdditionalProperties.Has != nil && !*schema.AdditionalProperties.Has
	for _, name := range slices.Sorted(maps.Keys(body)) {
		prop, declared := schema.Properties[name]
		switch {
		case !declared && closed:
			errs = append(errs, model.FieldError{Field: name, Code: CodeUnknownField, Message: name + " is not accepted"})
		case declared && prop.Value != nil:
			if err := prop.Value.VisitJSON(body[name], openapi3.MultiErrors()); err != nil {
				errs = append(errs, model.FieldError{Field: name, Code: CodeInvalid, Message: name + ": " + reason(err)})
			}
		}
	}
	return errs
}

// reason reduces a kin-openapi error to its first schema reason.
func reason(err error) string {
	var multi openapi3.MultiError
	if errors.As(err, &multi) && len(multi) > 0 {
		err = multi[0]
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}
