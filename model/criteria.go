package model

import (
	"fmt"
	"strings"
)

// CriterionKind selects the matching rule of a filter criterion.
type CriterionKind string

// Criterion kinds.
const (
	// MatchExact keeps items whose field equals the value, case-folded.
	MatchExact CriterionKind = "exact"
	// MatchSubstring keeps items whose field contains the value, case-folded.
	MatchSubstring CriterionKind = "substring"
	// MatchRange keeps items whose numeric or date field lies in [Min, Max].
	MatchRange CriterionKind = "range"
	// MatchFuzzy keeps items whose field fuzzy-matches the value.
	MatchFuzzy CriterionKind = "fuzzy"
)

// Valid reports whether k is a known criterion kind.
func (k CriterionKind) Valid() bool {
	switch k {
	case MatchExact, MatchSubstring, MatchRange, MatchFuzzy:
		return true
	}
	return false
}

// Criterion is a single field constraint. Value is used by exact, substring
// and fuzzy kinds; Min and Max bound range kinds (either may be omitted).
// Values of any primitive type are accepted and compared in string form.
type Criterion struct {
	Field string        `json:"field" yaml:"field"`
	Kind  CriterionKind `json:"kind" yaml:"kind"`
	Value any           `json:"value,omitempty" yaml:"value,omitempty"`
	Min   any           `json:"min,omitempty" yaml:"min,omitempty"`
	Max   any           `json:"max,omitempty" yaml:"max,omitempty"`
}

// Active reports whether the criterion constrains anything. Empty or absent
// values mean "no constraint".
func (c Criterion) Active() bool {
	if c.Field == "" {
		return false
	}
	if c.Kind == MatchRange {
		return Stringify(c.Min) != "" || Stringify(c.Max) != ""
	}
	return Stringify(c.Value) != ""
}

// Criteria is the full set of filter criteria, combined with logical AND.
type Criteria []Criterion

// Active returns only the criteria that constrain the result.
func (cs Criteria) Active() Criteria {
	var out Criteria
	for _, c := range cs {
		if c.Active() {
			out = append(out, c)
		}
	}
	return out
}

// AnyActive reports whether at least one criterion constrains the result.
func (cs Criteria) AnyActive() bool {
	for _, c := range cs {
		if c.Active() {
			return true
		}
	}
	return false
}

// Stringify converts a criterion or field value to its string form. Nil
// becomes the empty string; strings are trimmed.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return fmt.Sprint(x)
	}
}
