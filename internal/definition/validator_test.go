package definition

import (
	"testing"

	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/model"
)

func validDomain() model.DomainDefinition {
	return model.DomainDefinition{
		Domain:     "disputes",
		Version:    "1.0",
		SourceFile: "disputes.yaml",
		Lists: []model.ListDefinition{
			{
				ID:           "disputes.queue",
				Title:        "Dispute queue",
				Capabilities: []string{"disputes:list:view"},
				Source: model.SourceBinding{
					Driver:          "rest",
					ServiceID:       "disputes-svc",
					FetchOperation:  "listDisputes",
					UpdateOperation: "patchDispute",
				},
				Fields: []model.FieldDefinition{
					{Name: "reason", Type: model.FieldString, Filter: model.MatchFuzzy},
					{Name: "state", Type: model.FieldString, Filter: model.MatchExact,
						Options: []model.StaticOption{{Label: "Open", Value: "open"}}},
					{Name: "amount", Type: model.FieldNumber, Sortable: true, Filter: model.MatchRange},
					{Name: "opened_at", Type: model.FieldDate, Sortable: true},
					{Name: "assignee", Type: model.FieldString},
				},
				DefaultSort: model.SortSpec{Key: "opened_at", Direction: model.SortDesc},
				PageSize:    20,
				Pagination:  model.PagePaged,
				Selectable:  true,
				RowActions: []model.ActionDefinition{
					{
						ID: "assign", Label: "Assign to me", Kind: model.ActionUpdate,
						Capabilities: []string{"disputes:assign"},
						PatchFrom:    map[string]string{"assignee": "context.subject_id"},
						Conditions: []model.ConditionDefinition{
							{Field: "state", Operator: "eq", Value: "open", Effect: "enable"},
						},
					},
				},
				BulkActions: []model.ActionDefinition{
					{ID: "resolve", Label: "Resolve", Kind: model.ActionUpdate,
						Patch: map[string]any{"state": "resolved"}, Idempotency: &model.IdempotencyConfig{TTL: "30m"}},
					{ID: "delete", Label: "Delete", Kind: model.ActionDelete},
				},
			},
		},
	}
}

func loadTestOAPIIndex(t *testing.T) *openapi.Index {
	t.Helper()
	idx := openapi.NewIndex()
	err := idx.Load([]openapi.SpecSource{
		{ServiceID: "disputes-svc", SpecPath: "../openapi/testdata/disputes-svc.yaml"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func hasError(errs []VError, path, code string) bool {
	for _, e := range errs {
		if e.Path == path && e.Code == code {
			return true
		}
	}
	return false
}

func TestValidator_valid(t *testing.T) {
	errs := NewValidator().Validate([]model.DomainDefinition{validDomain()}, loadTestOAPIIndex(t))
	if len(errs) != 0 {
		t.Fatalf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_loadedFile(t *testing.T) {
	def, err := LoadFile("testdata/bookings/definition.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if errs := NewValidator().Validate([]model.DomainDefinition{def}, nil); len(errs) != 0 {
		t.Fatalf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_shippedDefinitions(t *testing.T) {
	defs, err := LoadDirs([]string{"../../definitions"})
	if err != nil {
		t.Fatalf("LoadDirs() error = %v", err)
	}
	if len(defs) != 4 {
		t.Fatalf("LoadDirs() = %d domains, want 4", len(defs))
	}
	if errs := NewValidator().Validate(defs, nil); len(errs) != 0 {
		t.Fatalf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_domainRequiredFields(t *testing.T) {
	errs := NewValidator().Validate([]model.DomainDefinition{{}}, nil)
	for _, path := range []string{"definitions[0].domain", "definitions[0].version", "definitions[0].lists"} {
		if !hasError(errs, path, "REQUIRED") {
			t.Errorf("missing REQUIRED error for %s in %v", path, errs)
		}
	}
}

func TestValidator_listChecks(t *testing.T) {
	const list = "definitions[0].lists[0]"
	tests := []struct {
		name   string
		mutate func(l *model.ListDefinition)
		path   string
		code   string
	}{
		{"missing id", func(l *model.ListDefinition) { l.ID = "" }, list + ".id", "REQUIRED"},
		{"missing title", func(l *model.ListDefinition) { l.Title = "" }, list + ".title", "REQUIRED"},
		{"page size too large", func(l *model.ListDefinition) { l.PageSize = 500 }, list + ".page_size", "RANGE"},
		{"bad pagination", func(l *model.ListDefinition) { l.Pagination = "infinite" }, list + ".pagination", "INVALID_ENUM"},
		{"no fields", func(l *model.ListDefinition) {
			l.Fields = nil
			l.DefaultSort = model.SortSpec{}
			l.RowActions = nil
			l.BulkActions = nil
		}, list + ".fields", "REQUIRED"},
		{"duplicate field", func(l *model.ListDefinition) { l.Fields = append(l.Fields, model.FieldDefinition{Name: "state"}) }, list + ".fields[5].name", "DUPLICATE_ID"},
		{"reserved id field", func(l *model.ListDefinition) { l.Fields[0].Name = "id" }, list + ".fields[0].name", "RESERVED"},
		{"bad field type", func(l *model.ListDefinition) { l.Fields[0].Type = "money" }, list + ".fields[0].type", "INVALID_ENUM"},
		{"bad filter kind", func(l *model.ListDefinition) { l.Fields[0].Filter = "regex" }, list + ".fields[0].filter", "INVALID_ENUM"},
		{"range on string", func(l *model.ListDefinition) { l.Fields[0].Filter = model.MatchRange }, list + ".fields[0].filter", "TYPE_MISMATCH"},
		{"options without exact", func(l *model.ListDefinition) { l.Fields[1].Filter = model.MatchSubstring }, list + ".fields[1].options", "TYPE_MISMATCH"},
		{"sort key undeclared", func(l *model.ListDefinition) { l.DefaultSort.Key = "created" }, list + ".default_sort.key", "REF_NOT_FOUND"},
		{"sort key not sortable", func(l *model.ListDefinition) { l.DefaultSort.Key = "reason" }, list + ".default_sort.key", "NOT_SORTABLE"},
		{"bad sort direction", func(l *model.ListDefinition) { l.DefaultSort.Direction = "up" }, list + ".default_sort.direction", "INVALID_ENUM"},
		{"bulk without selection", func(l *model.ListDefinition) { l.Selectable = false }, list + ".bulk_actions", "NOT_SELECTABLE"},
		{"capability namespace", func(l *model.ListDefinition) { l.Capabilities = []string{"orders:list:view"} }, list + ".capabilities", "NAMESPACE_MISMATCH"},
		{"action capability namespace", func(l *model.ListDefinition) { l.RowActions[0].Capabilities = []string{"admin"} }, list + ".row_actions[0].capabilities", "NAMESPACE_MISMATCH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDomain()
			tt.mutate(&def.Lists[0])
			errs := NewValidator().Validate([]model.DomainDefinition{def}, nil)
			if !hasError(errs, tt.path, tt.code) {
				t.Errorf("want %s at %s, got %v", tt.code, tt.path, errs)
			}
		})
	}
}

func TestValidator_sourceChecks(t *testing.T) {
	const src = "definitions[0].lists[0].source"
	tests := []struct {
		name    string
		binding model.SourceBinding
		path    string
		code    string
	}{
		{"unknown driver", model.SourceBinding{Driver: "mongo"}, src + ".driver", "INVALID_ENUM"},
		{"file without fixture", model.SourceBinding{Driver: "file"}, src + ".fixture", "REQUIRED"},
		{"postgres without table", model.SourceBinding{Driver: "postgres"}, src + ".table", "REQUIRED"},
		{"sqlite without table", model.SourceBinding{Driver: "sqlite"}, src + ".table", "REQUIRED"},
		{"rest without service", model.SourceBinding{Driver: "rest", FetchOperation: "listDisputes"}, src + ".service_id", "REQUIRED"},
		{"rest without fetch", model.SourceBinding{Driver: "rest", ServiceID: "disputes-svc"}, src + ".fetch_operation", "REQUIRED"},
		{"rest unknown operation", model.SourceBinding{Driver: "rest", ServiceID: "disputes-svc", FetchOperation: "listDisputes", DeleteOperation: "purgeDisputes"}, src + ".delete_operation", "OPERATION_NOT_FOUND"},
	}
	idx := loadTestOAPIIndex(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDomain()
			def.Lists[0].Source = tt.binding
			errs := NewValidator().Validate([]model.DomainDefinition{def}, idx)
			if !hasError(errs, tt.path, tt.code) {
				t.Errorf("want %s at %s, got %v", tt.code, tt.path, errs)
			}
		})
	}
}

func TestValidator_actionChecks(t *testing.T) {
	const row = "definitions[0].lists[0].row_actions[0]"
	tests := []struct {
		name   string
		mutate func(a *model.ActionDefinition)
		path   string
		code   string
	}{
		{"missing label", func(a *model.ActionDefinition) { a.Label = "" }, row + ".label", "REQUIRED"},
		{"missing kind", func(a *model.ActionDefinition) { a.Kind = "" }, row + ".kind", "REQUIRED"},
		{"bad kind", func(a *model.ActionDefinition) { a.Kind = "archive" }, row + ".kind", "INVALID_ENUM"},
		{"update without patch", func(a *model.ActionDefinition) { a.PatchFrom = nil }, row + ".patch", "REQUIRED"},
		{"delete with patch", func(a *model.ActionDefinition) { a.Kind = model.ActionDelete }, row + ".patch", "UNSUPPORTED"},
		{"patch undeclared field", func(a *model.ActionDefinition) { a.Patch = map[string]any{"priority": 1} }, row + ".patch.priority", "REF_NOT_FOUND"},
		{"patch_from bad prefix", func(a *model.ActionDefinition) { a.PatchFrom["assignee"] = "route.id" }, row + ".patch_from.assignee", "INVALID_EXPRESSION"},
		{"patch_from unknown context field", func(a *model.ActionDefinition) { a.PatchFrom["assignee"] = "context.partition_id" }, row + ".patch_from.assignee", "INVALID_EXPRESSION"},
		{"condition undeclared field", func(a *model.ActionDefinition) { a.Conditions[0].Field = "colour" }, row + ".conditions[0].field", "REF_NOT_FOUND"},
		{"condition bad operator", func(a *model.ActionDefinition) { a.Conditions[0].Operator = "like" }, row + ".conditions[0].operator", "INVALID_ENUM"},
		{"condition bad effect", func(a *model.ActionDefinition) { a.Conditions[0].Effect = "blink" }, row + ".conditions[0].effect", "INVALID_ENUM"},
		{"bad idempotency ttl", func(a *model.ActionDefinition) { a.Idempotency = &model.IdempotencyConfig{TTL: "soon"} }, row + ".idempotency.ttl", "INVALID_DURATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDomain()
			tt.mutate(&def.Lists[0].RowActions[0])
			errs := NewValidator().Validate([]model.DomainDefinition{def}, nil)
			if !hasError(errs, tt.path, tt.code) {
				t.Errorf("want %s at %s, got %v", tt.code, tt.path, errs)
			}
		})
	}
}

func TestValidator_bulkActions(t *testing.T) {
	def := validDomain()
	l := &def.Lists[0]
	l.BulkActions = append(l.BulkActions, model.ActionDefinition{ID: "resolve", Label: "Again", Kind: model.ActionDelete})
	l.BulkActions[0].Conditions = []model.ConditionDefinition{{Field: "state", Operator: "eq", Effect: "hide"}}

	errs := NewValidator().Validate([]model.DomainDefinition{def}, nil)
	if !hasError(errs, "definitions[0].lists[0].bulk_actions[2].id", "DUPLICATE_ID") {
		t.Errorf("want DUPLICATE_ID, got %v", errs)
	}
	if !hasError(errs, "definitions[0].lists[0].bulk_actions[0].conditions", "UNSUPPORTED") {
		t.Errorf("want UNSUPPORTED conditions, got %v", errs)
	}
}

func TestValidator_duplicateListAcrossFiles(t *testing.T) {
	a := validDomain()
	b := validDomain()
	b.SourceFile = "disputes-copy.yaml"

	errs := NewValidator().Validate([]model.DomainDefinition{a, b}, nil)
	if !hasError(errs, "definitions[1].lists[0].id", "DUPLICATE_ID") {
		t.Errorf("want DUPLICATE_ID, got %v", errs)
	}
}

func TestVError_Error(t *testing.T) {
	e := VError{Path: "definitions[0].domain", Code: "REQUIRED", Message: "domain is required"}
	if e.Error() != "definitions[0].domain: domain is required" {
		t.Errorf("Error() = %q", e.Error())
	}
}
