package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pitabwire/vendordesk/model"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "lists.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLite(db, "bookings")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	ctx := context.Background()
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, it := range seedItems() {
		if err := repo.Insert(ctx, it); err != nil {
			t.Fatalf("Insert(%s) error = %v", it.ID, err)
		}
	}
	return repo
}

func TestNewSQLite_rejectsUnsafeTable(t *testing.T) {
	for _, name := range []string{"", "bookings; DROP TABLE x", "1bookings", "book-ings"} {
		if _, err := NewSQLite(nil, name); err == nil {
			t.Errorf("NewSQLite(%q) should fail", name)
		}
	}
}

func TestSQLite_Fetch(t *testing.T) {
	repo := newTestSQLite(t)
	items, err := repo.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if diff := cmp.Diff([]string{"bk-1", "bk-2", "bk-3"}, model.ItemIDs(items)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	// JSON numbers come back as float64.
	if items[0].Fields["amount"] != float64(120) {
		t.Errorf("amount = %#v, want 120.0", items[0].Fields["amount"])
	}
}

func TestSQLite_Update(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	if err := repo.Update(ctx, "bk-1", map[string]any{"status": "approved", "note": "ok"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	items, _ := repo.Fetch(ctx)
	got := items[0]
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
	want := map[string]any{"status": "approved", "note": "ok", "amount": float64(120)}
	if diff := cmp.Diff(want, got.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	if err := repo.Update(ctx, "bk-9", map[string]any{"status": "x"}); !isNotFound(err) {
		t.Errorf("Update(bk-9) error = %v, want NOT_FOUND", err)
	}
}

func TestSQLite_Delete(t *testing.T) {
	repo := newTestSQLite(t)
	ctx := context.Background()

	if err := repo.Delete(ctx, []string{"bk-1", "bk-9"}); !isNotFound(err) {
		t.Fatalf("Delete() error = %v, want NOT_FOUND", err)
	}
	items, _ := repo.Fetch(ctx)
	if len(items) != 3 {
		t.Fatalf("partial delete committed: %d items left", len(items))
	}

	if err := repo.Delete(ctx, []string{"bk-1", "bk-3"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	items, _ = repo.Fetch(ctx)
	if diff := cmp.Diff([]string{"bk-2"}, model.ItemIDs(items)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if err := repo.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
