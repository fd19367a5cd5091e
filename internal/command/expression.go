package command

import (
	"fmt"
	"maps"
	"time"

	"github.com/pitabwire/vendordesk/model"
)

// ExpressionResolver evaluates patch_from expressions for one action
// invocation.
type ExpressionResolver struct {
	Input   map[string]any
	Context *model.RequestContext
	Now     func() time.Time
}

// Resolve parses and evaluates expr. See model.Expression for the syntax.
func (r *ExpressionResolver) Resolve(expr string) (any, error) {
	e, err := model.ParseExpression(expr)
	if err != nil {
		return nil, err
	}
	return r.Eval(e)
}

// Eval evaluates a parsed expression.
func (r *ExpressionResolver) Eval(e model.Expression) (any, error) {
	switch e.Source {
	case model.ExprLiteral:
		return e.Literal, nil
	case model.ExprNow:
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		return now().UTC().Format(time.RFC3339), nil
	case model.ExprInput:
		return r.input(e.Path)
	case model.ExprContext:
		return r.context(e.Path[0])
	}
	return nil, fmt.Errorf("unsupported expression source %q", e.Source)
}

// Patch overlays the resolved patch_from values on a copy of literal.
func (r *ExpressionResolver) Patch(literal map[string]any, from map[string]string) (map[string]any, error) {
	out := maps.Clone(literal)
	if out == nil {
		out = make(map[string]any, len(from))
	}
	for field, expr := range from {
		v, err := r.Resolve(expr)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = v
	}
	return out, nil
}

func (r *ExpressionResolver) input(path []string) (any, error) {
	var cur any = r.Input
	for i, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("input %v is not an object", path[:i])
		}
		if cur, ok = m[key]; !ok || cur == nil {
			return nil, fmt.Errorf("input field %v not provided", path[:i+1])
		}
	}
	return cur, nil
}

func (r *ExpressionResolver) context(field string) (any, error) {
	if r.Context == nil {
		return nil, fmt.Errorf("no caller to resolve context.%s", field)
	}
	switch field {
	case "subject_id":
		return r.Context.SubjectID, nil
	case "tenant_id":
		return r.Context.TenantID, nil
	case "email":
		return r.Context.Email, nil
	case "session_id":
		return r.Context.SessionID, nil
	case "locale":
		return r.Context.Locale, nil
	}
	return nil, fmt.Errorf("unknown context field %q", field)
}
