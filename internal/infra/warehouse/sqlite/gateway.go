// Package sqlite provides an embedded SQLite-backed warehouse gateway for
// local development and integration tests. Tables are created on demand from
// the dataset config, with the join-key tuple as primary key so upserts can
// rely on ON CONFLICT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"wastageops/pkg/domain"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

var _ domain.Gateway = (*Gateway)(nil)

// Gateway executes dataset reads and writes against an embedded SQLite file.
type Gateway struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path. An empty path
// defaults to ./wastageops.db.
func Open(path string) (*Gateway, error) {
	if path == "" {
		path = "wastageops.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Gateway{db: db}, nil
}

// Close releases the underlying database handle.
func (g *Gateway) Close() error { return g.db.Close() }

// EnsureTable creates the dataset's backing table when absent. All columns
// are stored as TEXT; the canonical-string comparison model upstream never
// depends on column affinity.
func (g *Gateway) EnsureTable(ctx context.Context, cfg domain.DatasetConfig) error {
	cols := cfg.PersistColumns()
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, quoteIdent(col)+" TEXT")
	}
	defs = append(defs, "PRIMARY KEY ("+joinIdents(cfg.JoinKeys)+")")
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteTable(cfg.Table), strings.Join(defs, ", "))
	if _, err := g.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure table %s: %w", cfg.Table, err)
	}
	return nil
}

// Fetch reads the persistable columns, optionally filtered, ordered by the
// join keys for deterministic snapshots.
func (g *Gateway) Fetch(ctx context.Context, cfg domain.DatasetConfig, filters ...domain.Filter) ([]domain.Record, error) {
	cols := cfg.PersistColumns()
	query, args := buildSelect(cfg, filters)
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cfg.Table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Record
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.Table, err)
		}
		rec := make(domain.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cfg.Table, err)
	}
	return out, nil
}

// Upsert merges each record via INSERT .. ON CONFLICT on the join-key tuple.
func (g *Gateway) Upsert(ctx context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	stmt := buildUpsert(cfg)
	cols := cfg.PersistColumns()
	for _, rec := range records {
		args := make([]any, len(cols))
		for i, col := range cols {
			args[i] = domain.Canonical(rec[col])
		}
		if _, err := g.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("upsert into %s: %w", cfg.Table, err)
		}
	}
	return nil
}

// Delete removes rows by join-key tuple; absent keys delete zero rows.
func (g *Gateway) Delete(ctx context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	stmt := buildDelete(cfg)
	for _, rec := range records {
		args := make([]any, len(cfg.JoinKeys))
		for i, key := range cfg.JoinKeys {
			args[i] = rec.CanonicalField(key)
		}
		if _, err := g.db.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("delete from %s: %w", cfg.Table, err)
		}
	}
	return nil
}

func buildSelect(cfg domain.DatasetConfig, filters []domain.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(joinIdents(cfg.PersistColumns()))
	b.WriteString(" FROM ")
	b.WriteString(quoteTable(cfg.Table))
	var args []any
	var clauses []string
	for _, f := range filters {
		if len(f.Values) == 0 {
			continue
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Values)), ", ")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", quoteIdent(f.Column), marks))
		for _, v := range f.Values {
			args = append(args, v)
		}
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(joinIdents(cfg.JoinKeys))
	return b.String(), args
}

func buildUpsert(cfg domain.DatasetConfig) string {
	cols := cfg.PersistColumns()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sets := make([]string, len(cfg.UpdateColumns))
	for i, col := range cfg.UpdateColumns {
		sets[i] = fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quoteTable(cfg.Table), joinIdents(cols), marks, joinIdents(cfg.JoinKeys), strings.Join(sets, ", "),
	)
}

func buildDelete(cfg domain.DatasetConfig) string {
	clauses := make([]string, len(cfg.JoinKeys))
	for i, key := range cfg.JoinKeys {
		clauses[i] = quoteIdent(key) + " = ?"
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(cfg.Table), strings.Join(clauses, " AND "))
}

func joinIdents(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// quoteTable quotes each dotted segment of a qualified table name.
func quoteTable(table string) string {
	segments := strings.Split(table, ".")
	for i, s := range segments {
		segments[i] = quoteIdent(s)
	}
	return strings.Join(segments, ".")
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
