package listview

import (
	"cmp"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/vendordesk/model"
)

// Schema maps field names to their declared type. Fields absent from the
// schema have their type inferred per value.
type Schema map[string]model.FieldType

func (s Schema) typeOf(field string) model.FieldType {
	if s == nil {
		return ""
	}
	return s[field]
}

// dateLayouts are tried in order when a value is parsed as a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// keyClass orders values of different shapes. Valid values come first;
// unparseable and missing values always sort after them.
type keyClass int

const (
	classNumber keyClass = iota
	classTime
	classText
	classInvalid
	classMissing
)

// sortKey is a field value parsed once for comparison.
type sortKey struct {
	class keyClass
	num   float64
	at    time.Time
	text  string
}

func (k sortKey) valid() bool { return k.class < classInvalid }

// parseKey converts a raw field value into a sortKey according to the
// declared type. Text is case-folded.
func parseKey(v any, present bool, ft model.FieldType) sortKey {
	if !present {
		return sortKey{class: classMissing}
	}
	switch ft {
	case model.FieldNumber:
		if n, ok := toNumber(v); ok {
			return sortKey{class: classNumber, num: n}
		}
		return sortKey{class: classInvalid}
	case model.FieldDate:
		if t, ok := toTime(v); ok {
			return sortKey{class: classTime, at: t}
		}
		return sortKey{class: classInvalid}
	case model.FieldString:
		return sortKey{class: classText, text: strings.ToLower(model.Stringify(v))}
	}

	// Undeclared: numbers stay numbers, date-like strings become times,
	// everything else is text.
	switch x := v.(type) {
	case string:
		if t, ok := toTime(x); ok {
			return sortKey{class: classTime, at: t}
		}
		if n, ok := toNumber(x); ok {
			return sortKey{class: classNumber, num: n}
		}
		return sortKey{class: classText, text: strings.ToLower(strings.TrimSpace(x))}
	case time.Time:
		return sortKey{class: classTime, at: x}
	}
	if n, ok := toNumber(v); ok {
		return sortKey{class: classNumber, num: n}
	}
	return sortKey{class: classText, text: strings.ToLower(model.Stringify(v))}
}

// compareKeys orders two keys ascending. Keys of different classes are
// ordered by class.
func compareKeys(a, b sortKey) int {
	if a.class != b.class {
		return cmp.Compare(a.class, b.class)
	}
	switch a.class {
	case classNumber:
		return cmp.Compare(a.num, b.num)
	case classTime:
		return a.at.Compare(b.at)
	case classText:
		return strings.Compare(a.text, b.text)
	}
	return 0
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
