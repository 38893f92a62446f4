package core

import (
	"context"
	"fmt"
	"time"

	"wastageops/pkg/domain"
)

// EditSession owns the working copy of one dataset for one user: the rows as
// currently displayed and edited, the snapshot as last known persisted, and a
// generation counter bumped on every structural change so the presentation
// layer discards stale widget state.
//
// Row order is append-stable: existing rows never change position and new
// rows land at the end. The change detector relies on this to classify rows
// positionally instead of needing a synthetic row identifier.
type EditSession struct {
	cfg        domain.DatasetConfig
	access     PlantSet
	snapshot   []domain.Record
	working    []domain.Record
	generation uint64
}

// NewEditSession creates an empty session for the dataset. Rows arrive via
// Load.
func NewEditSession(cfg domain.DatasetConfig) *EditSession {
	return &EditSession{cfg: cfg}
}

// Config returns the dataset metadata the session was opened for.
func (s *EditSession) Config() domain.DatasetConfig { return s.cfg }

// Generation returns the opaque invalidation token for bound widget state.
func (s *EditSession) Generation() uint64 { return s.generation }

// Len returns the current working-copy row count.
func (s *EditSession) Len() int { return len(s.working) }

// Rows returns an independent copy of the working copy for rendering.
func (s *EditSession) Rows() []domain.Record {
	return domain.CloneRecords(s.working)
}

// SnapshotRows returns an independent copy of the last-synced snapshot.
func (s *EditSession) SnapshotRows() []domain.Record {
	return domain.CloneRecords(s.snapshot)
}

// Load replaces snapshot and working copy with freshly fetched rows gated by
// the caller's plant access, then bumps the generation. An empty access set
// on a partitioned dataset loads no rows at all: the denied view is an empty
// grid, never an error from here.
func (s *EditSession) Load(ctx context.Context, gw domain.Gateway, access PlantSet) error {
	rows, err := s.fetch(ctx, gw, access)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.normalize(row)
	}
	s.access = access
	s.snapshot = domain.CloneRecords(rows)
	s.working = domain.CloneRecords(rows)
	s.generation++
	return nil
}

// Access returns the plant set the session was last loaded under.
func (s *EditSession) Access() PlantSet { return s.access }

func (s *EditSession) fetch(ctx context.Context, gw domain.Gateway, access PlantSet) ([]domain.Record, error) {
	if s.cfg.PlantColumn == "" || access.Wildcard() {
		rows, err := gw.Fetch(ctx, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", s.cfg.Name, err)
		}
		return rows, nil
	}
	if access.Empty() {
		return nil, nil
	}
	filter := domain.Filter{Column: s.cfg.PlantColumn, Values: access.Values()}
	rows, err := gw.Fetch(ctx, s.cfg, filter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.cfg.Name, err)
	}
	return rows, nil
}

// normalize applies load-time defaults, renders the audit timestamp to its
// canonical layout, and seeds the deletion marker.
func (s *EditSession) normalize(row domain.Record) {
	for col, def := range s.cfg.Defaults {
		if row.CanonicalField(col) == "" {
			row[col] = def
		}
	}
	if col := s.cfg.TimestampColumn; col != "" {
		if t, ok := row[col].(time.Time); ok {
			row[col] = t.Format(domain.TimestampLayout)
		}
	}
	if s.cfg.DeleteCapable {
		if _, ok := row[domain.DeleteMarker]; !ok {
			row[domain.DeleteMarker] = false
		}
	}
}

// Append adds a fully populated record to the working copy only. The
// snapshot is untouched, so the row is classified as new at save time. The
// generation bumps so per-row widget state bound to old indexes is rebuilt.
func (s *EditSession) Append(rec domain.Record) error {
	for _, key := range s.cfg.JoinKeys {
		if rec.CanonicalField(key) == "" {
			return fmt.Errorf("append to %s, key %s: %w", s.cfg.Name, key, ErrBlankIdentityField)
		}
	}
	if s.cfg.UniqueKey {
		tuple := domain.KeyTuple(rec, s.cfg.JoinKeys)
		for _, existing := range s.working {
			if domain.KeyTuple(existing, s.cfg.JoinKeys) == tuple {
				return fmt.Errorf("append to %s: %w", s.cfg.Name, ErrDuplicateKey)
			}
		}
	}
	row := rec.Clone()
	s.normalize(row)
	s.working = append(s.working, row)
	s.generation++
	return nil
}

// Set overwrites one cell of the working copy. Callers are expected to have
// validated the batch first; Set itself only guards the row index.
func (s *EditSession) Set(row int, field string, value any) error {
	if row < 0 || row >= len(s.working) {
		return fmt.Errorf("row %d out of range (%d rows)", row, len(s.working))
	}
	s.working[row][field] = value
	return nil
}

// Row returns the working-copy record at the index, or nil when out of range.
func (s *EditSession) Row(i int) domain.Record {
	if i < 0 || i >= len(s.working) {
		return nil
	}
	return s.working[i]
}

// Invalidate bumps the generation without touching any rows. Called after a
// rejected edit batch so input widgets holding the invalid values are torn
// down instead of redisplayed.
func (s *EditSession) Invalidate() {
	s.generation++
}

// CheckGeneration verifies an interaction is attributed to the current
// working copy, not a torn-down one.
func (s *EditSession) CheckGeneration(gen uint64) error {
	if gen != s.generation {
		return StaleGenerationError{Got: gen, Current: s.generation}
	}
	return nil
}

// Commit runs after a successful persistence round trip: the surviving rows
// become both snapshot and working copy, deletion markers are reset, and the
// generation bumps. Afterwards the diff of snapshot against working copy is
// empty by construction.
func (s *EditSession) Commit(keep []domain.Record) {
	if s.cfg.DeleteCapable {
		for _, row := range keep {
			row[domain.DeleteMarker] = false
		}
	}
	s.snapshot = domain.CloneRecords(keep)
	s.working = domain.CloneRecords(keep)
	s.generation++
}
