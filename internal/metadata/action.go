package metadata

import (
	"slices"
	"strings"

	"github.com/pitabwire/vendordesk/model"
)

// ActionProvider resolves ActionDefinition lists into ActionDescriptor lists,
// filtering by capabilities and evaluating conditions against row data.
type ActionProvider struct{}

// NewActionProvider creates a new ActionProvider.
func NewActionProvider() *ActionProvider {
	return &ActionProvider{}
}

// ResolveActions resolves a list of action definitions into descriptors,
// omitting those the caller lacks capabilities for. When fields is nil the
// conditions are passed through for the client to evaluate per row;
// otherwise they are evaluated against fields.
func (p *ActionProvider) ResolveActions(
	caps model.CapabilitySet,
	actions []model.ActionDefinition,
	fields map[string]any,
) []model.ActionDescriptor {
	result := []model.ActionDescriptor{}
	for _, action := range actions {
		if !caps.HasAll(action.Capabilities...) {
			continue
		}

		desc := model.ActionDescriptor{
			ID:      action.ID,
			Label:   action.Label,
			Icon:    action.Icon,
			Style:   action.Style,
			Kind:    action.Kind,
			Enabled: true,
			Visible: true,
		}

		if action.Confirmation != nil {
			desc.Confirmation = &model.ConfirmationDescriptor{
				Title:   action.Confirmation.Title,
				Message: action.Confirmation.Message,
				Confirm: action.Confirmation.Confirm,
				Cancel:  action.Confirmation.Cancel,
				Style:   action.Confirmation.Style,
			}
		}

		if fields == nil {
			for _, cond := range action.Conditions {
				desc.Conditions = append(desc.Conditions, model.ConditionDescriptor{
					Field:    cond.Field,
					Operator: cond.Operator,
					Value:    cond.Value,
					Effect:   cond.Effect,
				})
			}
		} else {
			desc.Visible, desc.Enabled = EvaluateConditions(action.Conditions, fields)
		}

		result = append(result, desc)
	}
	return result
}

// EvaluateConditions applies every condition to a row's fields and reports
// whether an action is visible and enabled for it. A hidden action is also
// disabled. Unknown operators never match.
func EvaluateConditions(conds []model.ConditionDefinition, fields map[string]any) (visible, enabled bool) {
	visible, enabled = true, true
	for _, c := range conds {
		v, present := fields[c.Field]
		present = present && v != nil
		op, ok := operators[c.Operator]
		met := ok && op(v, present, c.Value)

		switch {
		case c.Effect == "hide" && met, c.Effect == "show" && !met:
			visible = false
		case c.Effect == "disable" && met, c.Effect == "enable" && !met:
			enabled = false
		}
	}
	return visible, visible && enabled
}

// operator tests a row value against a condition value. present is false
// for a missing or null field.
type operator func(v any, present bool, want any) bool

var operators = map[string]operator{
	"exists":     func(_ any, present bool, _ any) bool { return present },
	"not_exists": func(_ any, present bool, _ any) bool { return !present },
	"eq":         equal,
	"equals":     equal,
	"==":         equal,
	"neq":        not(equal),
	"not_equals": not(equal),
	"!=":         not(equal),
	"in":         oneOf,
	"not_in":     not(oneOf),
}

// equal compares in string form, so 3 matches "3".
func equal(v any, present bool, want any) bool {
	return present && model.Stringify(v) == model.Stringify(want)
}

// oneOf matches against a list or a comma separated string.
func oneOf(v any, present bool, want any) bool {
	if !present {
		return false
	}
	s := model.Stringify(v)
	switch w := want.(type) {
	case []any:
		return slices.ContainsFunc(w, func(x any) bool { return model.Stringify(x) == s })
	case []string:
		return slices.ContainsFunc(w, func(x string) bool { return strings.TrimSpace(x) == s })
	case string:
		return slices.ContainsFunc(strings.Split(w, ","), func(x string) bool { return strings.TrimSpace(x) == s })
	}
	return model.Stringify(want) == s
}

func not(op operator) operator {
	return func(v any, present bool, want any) bool { return !op(v, present, want) }
}
