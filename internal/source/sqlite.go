package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/pitabwire/vendordesk/model"
)

var sqliteTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite reads and mutates the rows of one table in a SQLite database.
// Fields are stored as a JSON object and patched with json_patch.
type SQLite struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens the database file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("source: open sqlite %s: %w", path, err)
	}
	// modernc serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLite creates a repository over table. Table names are restricted to
// identifiers because SQLite cannot bind them as parameters.
func NewSQLite(db *sql.DB, table string) (*SQLite, error) {
	if !sqliteTableName.MatchString(table) {
		return nil, fmt.Errorf("source: invalid sqlite table name %q", table)
	}
	return &SQLite{db: db, table: table}, nil
}

// Migrate creates the table if it does not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id      TEXT PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			fields  TEXT    NOT NULL DEFAULT '{}'
		)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Fetch returns every row in insertion order.
func (s *SQLite) Fetch(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version, fields FROM `+s.table+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		var fieldsJSON string
		if err := rows.Scan(&it.ID, &it.Version, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &it.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields of %s: %w", it.ID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return items, nil
}

// Update merges patch into the row's fields and bumps its version.
func (s *SQLite) Update(ctx context.Context, id string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+s.table+`
		SET fields = json_patch(fields, ?), version = version + 1
		WHERE id = ?`,
		string(patchJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", s.table, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Delete removes the rows in one transaction. Nothing is deleted if any ID
// is missing.
func (s *SQLite) Delete(ctx context.Context, ids []string) (err error) {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, rollback(tx))
		}
	}()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.table, err)
	}
	if int(n) != len(uniqueIDs(ids)) {
		return notFound(ids...)
	}
	return tx.Commit()
}

// Insert adds an item. Used to seed tables.
func (s *SQLite) Insert(ctx context.Context, it model.Item) error {
	fieldsJSON, err := json.Marshal(it.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	version := it.Version
	if version == 0 {
		version = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (id, version, fields) VALUES (?, ?, ?)`,
		it.ID, version, string(fieldsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func rollback(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
