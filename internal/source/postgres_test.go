package source

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

// Runs against a real database when VENDORDESK_TEST_POSTGRES_DSN is set.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if os.Getenv("VENDORDESK_TEST_POSTGRES_DSN") == "" {
		t.Skip("VENDORDESK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := OpenPostgresPool(ctx, config.PostgresConfig{DSNEnv: "VENDORDESK_TEST_POSTGRES_DSN", MaxConns: 2})
	if err != nil {
		t.Fatalf("OpenPostgresPool() error = %v", err)
	}
	t.Cleanup(pool.Close)

	table := "bookings_" + uuid.NewString()[:8]
	repo := NewPostgres(pool, table)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP TABLE "+pgx.Identifier{table}.Sanitize())
	})
	for _, it := range seedItems() {
		if err := repo.Insert(ctx, it); err != nil {
			t.Fatalf("Insert(%s) error = %v", it.ID, err)
		}
	}
	return repo
}

func TestNewPostgres_sanitizesTable(t *testing.T) {
	repo := NewPostgres(nil, `book"ings`)
	if repo.table != `"book""ings"` {
		t.Errorf("table = %s, want quoted identifier", repo.table)
	}
}

func TestOpenPostgresPool_missingDSN(t *testing.T) {
	t.Setenv("VENDORDESK_EMPTY_DSN", "")
	if _, err := OpenPostgresPool(context.Background(), config.PostgresConfig{DSNEnv: "VENDORDESK_EMPTY_DSN"}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestPostgres_roundTrip(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	if err := repo.Update(ctx, "bk-2", map[string]any{"status": "refunded"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := repo.Delete(ctx, []string{"bk-3"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, []string{"bk-1", "bk-9"}); !isNotFound(err) {
		t.Fatalf("Delete(bk-9) error = %v, want NOT_FOUND", err)
	}

	items, err := repo.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %v, want bk-1 and bk-2", model.ItemIDs(items))
	}
	if items[1].Fields["status"] != "refunded" || items[1].Version != 2 {
		t.Errorf("bk-2 = %+v", items[1])
	}
}
