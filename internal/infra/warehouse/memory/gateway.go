// Package memory provides an in-memory warehouse gateway used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"sync"

	"wastageops/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Gateway = (*Gateway)(nil)

// Gateway holds per-table rows in insertion order, mimicking the stable
// storage order of the SQL-backed gateways.
type Gateway struct {
	mu     sync.Mutex
	tables map[string][]domain.Record
}

// NewGateway constructs an empty in-memory warehouse.
func NewGateway() *Gateway {
	return &Gateway{tables: make(map[string][]domain.Record)}
}

// Seed replaces a table's rows wholesale. Intended for test fixtures.
func (g *Gateway) Seed(table string, rows []domain.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tables[table] = domain.CloneRecords(rows)
}

// TableLen reports the current row count of a table.
func (g *Gateway) TableLen(table string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tables[table])
}

// Fetch returns copies of the matching rows in storage order.
func (g *Gateway) Fetch(_ context.Context, cfg domain.DatasetConfig, filters ...domain.Filter) ([]domain.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Record
	for _, row := range g.tables[cfg.Table] {
		if !domain.MatchAll(row, filters) {
			continue
		}
		out = append(out, project(row, cfg).Clone())
	}
	return out, nil
}

// Upsert merges records by join-key tuple: update columns overwritten on
// match, whole rows appended on miss.
func (g *Gateway) Upsert(_ context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	rows := g.tables[cfg.Table]
	for _, rec := range records {
		tuple := domain.KeyTuple(rec, cfg.JoinKeys)
		matched := false
		for _, existing := range rows {
			if domain.KeyTuple(existing, cfg.JoinKeys) != tuple {
				continue
			}
			for _, col := range cfg.UpdateColumns {
				existing[col] = rec[col]
			}
			matched = true
			break
		}
		if !matched {
			rows = append(rows, project(rec, cfg).Clone())
		}
	}
	g.tables[cfg.Table] = rows
	return nil
}

// Delete removes rows by join-key tuple. Missing keys are not an error.
func (g *Gateway) Delete(_ context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	doomed := make(map[string]struct{}, len(records))
	for _, rec := range records {
		doomed[domain.KeyTuple(rec, cfg.JoinKeys)] = struct{}{}
	}
	rows := g.tables[cfg.Table]
	kept := rows[:0]
	for _, row := range rows {
		if _, gone := doomed[domain.KeyTuple(row, cfg.JoinKeys)]; !gone {
			kept = append(kept, row)
		}
	}
	g.tables[cfg.Table] = kept
	return nil
}

// project narrows a record to the dataset's persistable columns.
func project(row domain.Record, cfg domain.DatasetConfig) domain.Record {
	out := make(domain.Record)
	for _, col := range cfg.PersistColumns() {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}
