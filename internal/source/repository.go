// Package source provides the repositories list views read items from and
// send mutations to. One repository backs one list; the driver is chosen by
// the list's source binding.
package source

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pitabwire/vendordesk/model"
)

// Repository is the data source and mutation sink of a list.
type Repository interface {
	// Fetch returns the whole collection in a stable order.
	Fetch(ctx context.Context) ([]model.Item, error)
	// Update merges patch into the fields of one item and bumps its version.
	Update(ctx context.Context, id string, patch map[string]any) error
	// Delete removes items. Unknown IDs are an error.
	Delete(ctx context.Context, ids []string) error
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}

// PatchValidator is implemented by repositories that can reject a patch
// before it is applied optimistically.
type PatchValidator interface {
	ValidatePatch(patch map[string]any) error
}

// Source drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverREST     = "rest"
)

// notFound reports the IDs a mutation referenced that the store does not
// hold.
func notFound(ids ...string) error {
	if len(ids) == 1 {
		return model.NewNotFoundError(fmt.Sprintf("item %s not found", ids[0]))
	}
	return model.NewNotFoundError(fmt.Sprintf("items %v not found", ids))
}

// toInt64 converts a decoded JSON or YAML number to int64.
func toInt64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	case float32:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}
