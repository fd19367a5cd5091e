package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/invoker"
	"github.com/pitabwire/vendordesk/internal/observability"
	"github.com/pitabwire/vendordesk/internal/openapi"
	"github.com/pitabwire/vendordesk/model"
)

// Registry builds and caches one repository per list. Database handles are
// opened on first use and shared by every list bound to the same driver.
type Registry struct {
	cfg    config.SourcesConfig
	client *invoker.Client
	index  *openapi.Index
	logger *zap.Logger

	mu     sync.Mutex
	repos  map[string]Repository
	pool   *pgxpool.Pool
	sqlite *sql.DB
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBackends enables the rest driver.
func WithBackends(client *invoker.Client, index *openapi.Index) RegistryOption {
	return func(r *Registry) {
		r.client = client
		r.index = index
	}
}

// WithPostgresPool uses an existing pool for postgres sources.
func WithPostgresPool(pool *pgxpool.Pool) RegistryOption {
	return func(r *Registry) { r.pool = pool }
}

// WithSQLiteDB uses an existing database handle for sqlite sources.
func WithSQLiteDB(db *sql.DB) RegistryOption {
	return func(r *Registry) { r.sqlite = db }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.SourcesConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:    cfg,
		logger: zap.NewNop(),
		repos:  make(map[string]Repository),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Repository returns the repository of a list, building it on first use.
func (r *Registry) Repository(ctx context.Context, def *model.ListDefinition) (Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if repo, ok := r.repos[def.ID]; ok {
		return repo, nil
	}
	repo, err := r.build(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("source: list %s: %w", def.ID, err)
	}
	r.repos[def.ID] = repo
	r.logger.Info("list source ready",
		zap.String("list_id", def.ID),
		zap.String("driver", def.Source.Driver),
	)
	return repo, nil
}

func (r *Registry) build(ctx context.Context, def *model.ListDefinition) (Repository, error) {
	b := def.Source
	switch b.Driver {
	case DriverMemory, "":
		if b.Fixture == "" {
			return NewMemory(nil), nil
		}
		items, err := LoadFixture(r.fixturePath(b.Fixture))
		if err != nil {
			return nil, err
		}
		return NewMemory(items), nil

	case DriverFile:
		if b.Fixture == "" {
			return nil, fmt.Errorf("file driver needs a fixture")
		}
		return OpenFile(r.fixturePath(b.Fixture))

	case DriverPostgres:
		if r.pool == nil {
			pool, err := OpenPostgresPool(ctx, r.cfg.Postgres)
			if err != nil {
				return nil, err
			}
			r.pool = pool
		}
		repo := NewPostgres(r.pool, b.Table)
		if r.cfg.Postgres.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, err
			}
			if err := r.seed(ctx, repo, repo.Insert, b.Fixture); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case DriverSQLite:
		if r.sqlite == nil {
			if r.cfg.SQLite.Path == "" {
				return nil, fmt.Errorf("sources.sqlite.path is not configured")
			}
			db, err := OpenSQLite(r.cfg.SQLite.Path)
			if err != nil {
				return nil, err
			}
			r.sqlite = db
		}
		repo, err := NewSQLite(r.sqlite, b.Table)
		if err != nil {
			return nil, err
		}
		if r.cfg.SQLite.AutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, err
			}
			if err := r.seed(ctx, repo, repo.Insert, b.Fixture); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case DriverREST:
		if r.client == nil {
			return nil, fmt.Errorf("rest driver is not available: no backend services configured")
		}
		return NewREST(r.client, r.index, b)
	}
	return nil, fmt.Errorf("unknown source driver %q", b.Driver)
}

// seed fills an empty table from a fixture.
func (r *Registry) seed(ctx context.Context, repo Repository, insert func(context.Context, model.Item) error, fixture string) error {
	if fixture == "" {
		return nil
	}
	existing, err := repo.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	items, err := LoadFixture(r.fixturePath(fixture))
	if err != nil {
		return err
	}
	for _, it := range items {
		if err := insert(ctx, it); err != nil {
			return err
		}
	}
	r.logger.Info("seeded list source", zap.String("fixture", fixture), zap.Int("items", len(items)))
	return nil
}

func (r *Registry) fixturePath(p string) string {
	if filepath.IsAbs(p) || r.cfg.FixturesDir == "" {
		return p
	}
	return filepath.Join(r.cfg.FixturesDir, p)
}

// Checks returns a readiness checker per built repository, keyed
// "source:<list id>".
func (r *Registry) Checks() map[string]observability.HealthChecker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]observability.HealthChecker, len(r.repos))
	for id, repo := range r.repos {
		out["source:"+id] = repo
	}
	return out
}

// HealthCheck checks every repository built so far.
func (r *Registry) HealthCheck(ctx context.Context) error {
	var errs []error
	for name, c := range r.Checks() {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Reset drops cached repositories so that changed bindings take effect.
// Database handles stay open.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos = make(map[string]Repository)
}

// Close releases database handles.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
	}
	if r.sqlite != nil {
		return r.sqlite.Close()
	}
	return nil
}
