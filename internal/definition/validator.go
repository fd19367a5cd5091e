package definition

import (
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/internal/source"
	"github.com/pitabwire/vendordesk/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// maxPageSize mirrors the cap the list controller applies to page sizes.
const maxPageSize = 200

// Validator validates definitions structurally, referentially, and against OpenAPI specs.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. The index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(defs []model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError
	seen := make(map[string]string)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDomain(prefix, def, index)...)

		for j, l := range def.Lists {
			if l.ID == "" {
				continue
			}
			if other, dup := seen[l.ID]; dup {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.lists[%d].id", prefix, j),
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("list %q is also declared in %s", l.ID, other),
				})
				continue
			}
			seen[l.ID] = def.SourceFile
		}
	}
	return errs
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition, index *openapi.Index) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Lists) == 0 {
		errs = append(errs, VError{Path: prefix + ".lists", Code: "REQUIRED", Message: "at least one list is required"})
	}

	for i, l := range def.Lists {
		lp := fmt.Sprintf("%s.lists[%d]", prefix, i)
		errs = append(errs, v.validateList(lp, l, index)...)
		if def.Domain != "" {
			errs = append(errs, checkNamespace(lp+".capabilities", l.Capabilities, def.Domain)...)
			for j, a := range l.RowActions {
				errs = append(errs, checkNamespace(fmt.Sprintf("%s.row_actions[%d].capabilities", lp, j), a.Capabilities, def.Domain)...)
			}
			for j, a := range l.BulkActions {
				errs = append(errs, checkNamespace(fmt.Sprintf("%s.bulk_actions[%d].capabilities", lp, j), a.Capabilities, def.Domain)...)
			}
		}
	}

	return errs
}

// checkNamespace requires capabilities to be scoped to the declaring domain.
func checkNamespace(path string, caps []string, domain string) []VError {
	var errs []VError
	for _, cap := range caps {
		if !strings.HasPrefix(cap, domain+":") && cap != "*" {
			errs = append(errs, VError{
				Path:    path,
				Code:    "NAMESPACE_MISMATCH",
				Message: fmt.Sprintf("capability %q does not match domain %q", cap, domain),
			})
		}
	}
	return errs
}

func (v *Validator) validateList(prefix string, l model.ListDefinition, index *openapi.Index) []VError {
	var errs []VError

	if l.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if l.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if l.PageSize < 0 || l.PageSize > maxPageSize {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: fmt.Sprintf("page_size must be 0-%d", maxPageSize)})
	}
	switch l.Pagination {
	case "", model.PagePaged, model.PageLoadMore:
	default:
		errs = append(errs, VError{Path: prefix + ".pagination", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid pagination %q", l.Pagination)})
	}

	errs = append(errs, v.validateSource(prefix+".source", l.Source, index)...)

	fields := make(map[string]model.FieldDefinition, len(l.Fields))
	if len(l.Fields) == 0 {
		errs = append(errs, VError{Path: prefix + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
	}
	for i, f := range l.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		errs = append(errs, validateField(fp, f)...)
		if f.Name == "" {
			continue
		}
		if _, dup := fields[f.Name]; dup {
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE_ID", Message: fmt.Sprintf("field %q declared twice", f.Name)})
		}
		fields[f.Name] = f
	}

	if key := l.DefaultSort.Key; key != "" {
		f, ok := fields[key]
		switch {
		case !ok:
			errs = append(errs, VError{Path: prefix + ".default_sort.key", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("field %q not declared", key)})
		case !f.Sortable:
			errs = append(errs, VError{Path: prefix + ".default_sort.key", Code: "NOT_SORTABLE", Message: fmt.Sprintf("field %q is not sortable", key)})
		}
	}
	switch l.DefaultSort.Direction {
	case "", model.SortAsc, model.SortDesc:
	default:
		errs = append(errs, VError{Path: prefix + ".default_sort.direction", Code: "INVALID_ENUM", Message: "direction must be asc or desc"})
	}

	actionIDs := make(map[string]bool)
	for i, a := range l.RowActions {
		ap := fmt.Sprintf("%s.row_actions[%d]", prefix, i)
		errs = append(errs, validateAction(ap, a, fields, actionIDs)...)
	}
	if len(l.BulkActions) > 0 && !l.Selectable {
		errs = append(errs, VError{Path: prefix + ".bulk_actions", Code: "NOT_SELECTABLE", Message: "bulk actions require selectable: true"})
	}
	bulkIDs := make(map[string]bool)
	for i, a := range l.BulkActions {
		ap := fmt.Sprintf("%s.bulk_actions[%d]", prefix, i)
		errs = append(errs, validateAction(ap, a, fields, bulkIDs)...)
		if len(a.Conditions) > 0 {
			errs = append(errs, VError{Path: ap + ".conditions", Code: "UNSUPPORTED", Message: "conditions apply to row actions only"})
		}
	}

	return errs
}

func (v *Validator) validateSource(prefix string, b model.SourceBinding, index *openapi.Index) []VError {
	var errs []VError
	switch b.Driver {
	case "", source.DriverMemory:
	case source.DriverFile:
		if b.Fixture == "" {
			errs = append(errs, VError{Path: prefix + ".fixture", Code: "REQUIRED", Message: "fixture is required for the file driver"})
		}
	case source.DriverPostgres, source.DriverSQLite:
		if b.Table == "" {
			errs = append(errs, VError{Path: prefix + ".table", Code: "REQUIRED", Message: fmt.Sprintf("table is required for the %s driver", b.Driver)})
		}
	case source.DriverREST:
		if b.ServiceID == "" {
			errs = append(errs, VError{Path: prefix + ".service_id", Code: "REQUIRED", Message: "service_id is required for the rest driver"})
		}
		if b.FetchOperation == "" {
			errs = append(errs, VError{Path: prefix + ".fetch_operation", Code: "REQUIRED", Message: "fetch_operation is required for the rest driver"})
		}
		if index != nil && b.ServiceID != "" {
			ops := map[string]string{
				"fetch_operation":  b.FetchOperation,
				"update_operation": b.UpdateOperation,
				"delete_operation": b.DeleteOperation,
			}
			for key, opID := range ops {
				if opID == "" {
					continue
				}
				if _, ok := index.Operation(b.ServiceID, opID); !ok {
					errs = append(errs, VError{
						Path:    prefix + "." + key,
						Code:    "OPERATION_NOT_FOUND",
						Message: fmt.Sprintf("operation %q not found in service %q", opID, b.ServiceID),
					})
				}
			}
		}
	default:
		errs = append(errs, VError{Path: prefix + ".driver", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid source driver %q", b.Driver)})
	}
	return errs
}

func validateField(prefix string, f model.FieldDefinition) []VError {
	var errs []VError
	if f.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if f.Name == "id" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "RESERVED", Message: "id is reserved for the item identifier"})
	}
	if !f.Type.Valid() {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
	}
	if f.Filter != "" {
		switch {
		case !f.Filter.Valid():
			errs = append(errs, VError{Path: prefix + ".filter", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid filter kind %q", f.Filter)})
		case f.Filter == model.MatchRange && f.Type != model.FieldNumber && f.Type != model.FieldDate:
			errs = append(errs, VError{Path: prefix + ".filter", Code: "TYPE_MISMATCH", Message: "range filters need a number or date field"})
		}
	}
	if len(f.Options) > 0 && f.Filter != model.MatchExact {
		errs = append(errs, VError{Path: prefix + ".options", Code: "TYPE_MISMATCH", Message: "options are only used by exact filters"})
	}
	return errs
}

var validOperators = map[string]bool{
	"eq": true, "equals": true, "==": true,
	"neq": true, "not_equals": true, "!=": true,
	"in": true, "not_in": true, "exists": true, "not_exists": true,
}

var validEffects = map[string]bool{
	"show": true, "hide": true, "enable": true, "disable": true,
}

func validateAction(prefix string, a model.ActionDefinition, fields map[string]model.FieldDefinition, seen map[string]bool) []VError {
	var errs []VError

	if a.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	} else if seen[a.ID] {
		errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("action %q declared twice", a.ID)})
	}
	seen[a.ID] = true

	if a.Label == "" {
		errs = append(errs, VError{Path: prefix + ".label", Code: "REQUIRED", Message: "label is required"})
	}

	switch a.Kind {
	case model.ActionUpdate:
		if len(a.Patch) == 0 && len(a.PatchFrom) == 0 {
			errs = append(errs, VError{Path: prefix + ".patch", Code: "REQUIRED", Message: "update actions need patch or patch_from"})
		}
	case model.ActionDelete:
		if len(a.Patch) > 0 || len(a.PatchFrom) > 0 {
			errs = append(errs, VError{Path: prefix + ".patch", Code: "UNSUPPORTED", Message: "delete actions take no patch"})
		}
	case "":
		errs = append(errs, VError{Path: prefix + ".kind", Code: "REQUIRED", Message: "kind is required"})
	default:
		errs = append(errs, VError{Path: prefix + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid action kind %q", a.Kind)})
	}

	for name := range a.Patch {
		if _, ok := fields[name]; !ok {
			errs = append(errs, VError{Path: prefix + ".patch." + name, Code: "REF_NOT_FOUND", Message: fmt.Sprintf("field %q not declared", name)})
		}
	}
	for name, expr := range a.PatchFrom {
		if _, ok := fields[name]; !ok {
			errs = append(errs, VError{Path: prefix + ".patch_from." + name, Code: "REF_NOT_FOUND", Message: fmt.Sprintf("field %q not declared", name)})
		}
		if _, err := model.ParseExpression(expr); err != nil {
			errs = append(errs, VError{Path: prefix + ".patch_from." + name, Code: "INVALID_EXPRESSION", Message: err.Error()})
		}
	}

	for i, c := range a.Conditions {
		cp := fmt.Sprintf("%s.conditions[%d]", prefix, i)
		if _, ok := fields[c.Field]; !ok {
			errs = append(errs, VError{Path: cp + ".field", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("field %q not declared", c.Field)})
		}
		if !validOperators[c.Operator] {
			errs = append(errs, VError{Path: cp + ".operator", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid operator %q", c.Operator)})
		}
		if !validEffects[c.Effect] {
			errs = append(errs, VError{Path: cp + ".effect", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid effect %q", c.Effect)})
		}
	}

	if a.Idempotency != nil && a.Idempotency.TTL != "" {
		if d, err := time.ParseDuration(a.Idempotency.TTL); err != nil || d <= 0 {
			errs = append(errs, VError{Path: prefix + ".idempotency.ttl", Code: "INVALID_DURATION", Message: fmt.Sprintf("invalid ttl %q", a.Idempotency.TTL)})
		}
	}

	return errs
}
