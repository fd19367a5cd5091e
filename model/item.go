package model

import "maps"

// FieldType controls how a field's values are compared when sorting and
// range-filtering.
type FieldType string

// Supported field types. An undeclared type is inferred per value.
const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
)

// Valid reports whether t is a known field type or empty.
func (t FieldType) Valid() bool {
	switch t {
	case "", FieldString, FieldNumber, FieldDate:
		return true
	}
	return false
}

// Item is a single record in a list collection. ID is stable and unique
// within a collection. Version increases every time the record is changed by
// its owning repository and is used to reconcile optimistic mutations.
type Item struct {
	ID      string         `json:"id" yaml:"id"`
	Fields  map[string]any `json:"fields" yaml:"fields"`
	Version int64          `json:"version" yaml:"version"`
}

// Field returns the value of the named field and whether it is present.
// A nil value counts as absent.
func (it Item) Field(name string) (any, bool) {
	if name == "id" {
		return it.ID, it.ID != ""
	}
	v, ok := it.Fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a copy of the item whose field map can be modified without
// affecting the original.
func (it Item) Clone() Item {
	return Item{ID: it.ID, Fields: maps.Clone(it.Fields), Version: it.Version}
}

// Apply returns a copy of the item with patch merged over its fields.
func (it Item) Apply(patch map[string]any) Item {
	out := it.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out.Fields[k] = v
	}
	return out
}

// ItemIDs returns the IDs of items in order.
func ItemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
