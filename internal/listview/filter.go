package listview

import (
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/pitabwire/vendordesk/model"
)

// Filter returns the items that satisfy every active criterion, preserving
// input order. The input slice is never modified. Criteria with an empty
// value are ignored, and an item lacking a constrained field is excluded.
// Filter never fails: values that are not strings are compared in their
// string form.
func Filter(items []model.Item, criteria model.Criteria, schema Schema) []model.Item {
	active := criteria.Active()
	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if matchesAll(it, active, schema) {
			out = append(out, it)
		}
	}
	return out
}

func matchesAll(it model.Item, criteria model.Criteria, schema Schema) bool {
	for _, c := range criteria {
		if !Matches(it, c, schema) {
			return false
		}
	}
	return true
}

// Matches reports whether a single item satisfies a single criterion. An
// inactive criterion matches everything.
func Matches(it model.Item, c model.Criterion, schema Schema) bool {
	if !c.Active() {
		return true
	}
	v, ok := it.Field(c.Field)
	if !ok {
		return false
	}
	switch c.Kind {
	case model.MatchExact:
		return strings.EqualFold(model.Stringify(v), model.Stringify(c.Value))
	case model.MatchSubstring:
		return strings.Contains(strings.ToLower(model.Stringify(v)), strings.ToLower(model.Stringify(c.Value)))
	case model.MatchFuzzy:
		return fuzzy.MatchFold(model.Stringify(c.Value), model.Stringify(v))
	case model.MatchRange:
		return inRange(v, c, schema.typeOf(c.Field))
	}
	// Unknown kinds fall back to exact matching.
	return strings.EqualFold(model.Stringify(v), model.Stringify(c.Value))
}

// inRange checks v against the inclusive [Min, Max] bounds of c. Bounds are
// parsed with the field's declared type, or the type inferred from v. A bound
// that cannot be parsed as that type matches nothing.
func inRange(v any, c model.Criterion, ft model.FieldType) bool {
	val := parseKey(v, true, ft)
	if !val.valid() {
		return false
	}
	bt := ft
	if bt == "" {
		bt = classType(val.class)
	}
	if model.Stringify(c.Min) != "" {
		lo := parseKey(c.Min, true, bt)
		if lo.class != val.class || compareKeys(val, lo) < 0 {
			return false
		}
	}
	if s := model.Stringify(c.Max); s != "" {
		hi := parseKey(c.Max, true, bt)
		if hi.class != val.class {
			return false
		}
		if hi.class == classTime && isDateOnly(s) {
			hi.at = hi.at.Add(24*time.Hour - time.Nanosecond)
		}
		if compareKeys(val, hi) > 0 {
			return false
		}
	}
	return true
}

func classType(c keyClass) model.FieldType {
	switch c {
	case classNumber:
		return model.FieldNumber
	case classTime:
		return model.FieldDate
	}
	return model.FieldString
}

// isDateOnly reports whether s is a bare calendar date, so an upper bound
// covers the whole day.
func isDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
