package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/model"
)

// Postgres reads and mutates the rows of one table. Each row holds an item:
//
//	id         TEXT PRIMARY KEY
//	version    BIGINT
//	fields     JSONB
//	created_at TIMESTAMPTZ  (fetch order)
type Postgres struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// NewPostgres creates a repository over table using pool.
func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	return &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// OpenPostgresPool connects to the database named by cfg.DSNEnv.
func OpenPostgresPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("source: %s is not set", cfg.DSNEnv)
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("source: parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("source: connect postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+p.table+` (
			id         TEXT PRIMARY KEY,
			version    BIGINT      NOT NULL DEFAULT 1,
			fields     JSONB       NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Fetch returns every row ordered by creation time.
func (p *Postgres) Fetch(ctx context.Context) ([]model.Item, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, version, fields
		FROM `+p.table+`
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.table, err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var fieldsJSON []byte
		if err := rows.Scan(&it.ID, &it.Version, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.table, err)
		}
		if err := json.Unmarshal(fieldsJSON, &it.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", p.table, err)
	}
	return items, nil
}

// Update merges patch into the row's fields and bumps its version.
func (p *Postgres) Update(ctx context.Context, id string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE `+p.table+`
		SET fields = fields || $2::jsonb, version = version + 1
		WHERE id = $1`,
		id, string(patchJSON),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", p.table, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// Delete removes the rows in one transaction. Nothing is deleted if any ID
// is missing.
func (p *Postgres) Delete(ctx context.Context, ids []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM `+p.table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", p.table, err)
	}
	if int(tag.RowsAffected()) != len(uniqueIDs(ids)) {
		return notFound(ids...)
	}
	return tx.Commit(ctx)
}

// Insert adds an item. Used to seed tables.
func (p *Postgres) Insert(ctx context.Context, it model.Item) error {
	fieldsJSON, err := json.Marshal(it.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	version := it.Version
	if version == 0 {
		version = 1
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO `+p.table+` (id, version, fields)
		VALUES ($1, $2, $3::jsonb)`,
		it.ID, version, string(fieldsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", p.table, err)
	}
	return nil
}

// HealthCheck pings the pool.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func uniqueIDs(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
