// Package core implements the reconciliation engine behind the waste-reduction
// console: plant-level access resolution, per-session edit tracking, change
// detection, field validation, and the save path that reconciles pending edits
// into idempotent warehouse writes.
package core

import (
	"context"
	"fmt"
	"time"

	"wastageops/pkg/domain"
)

// CellEdit is one row's worth of proposed field changes within a batch.
type CellEdit struct {
	Row    int            `json:"row"`
	Fields map[string]any `json:"fields"`
}

// EditBatch carries all cell edits from a single user interaction, plus the
// generation they were made against. Edits are processed per batch, not per
// cell, so conditional-unlock rules can see a status change and a dependent
// change together.
type EditBatch struct {
	Generation uint64     `json:"generation"`
	Edits      []CellEdit `json:"edits"`
}

// SaveResult summarizes one completed save round trip.
type SaveResult struct {
	Upserted int `json:"upserted"`
	Deleted  int `json:"deleted"`
}

// Service orchestrates edit sessions against the warehouse gateway for a
// fixed dataset registry. It holds no per-user state: sessions are owned by
// callers and passed in per interaction.
type Service struct {
	gateway      domain.Gateway
	datasets     map[string]domain.DatasetConfig
	order        []string
	grantDataset string
	metrics      MetricsRecorder
	now          func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithMetrics installs a metrics recorder (defaults to NoopMetrics).
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the audit-field time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGrantDataset names the registry entry holding the plant access grants.
func WithGrantDataset(name string) Option {
	return func(s *Service) { s.grantDataset = name }
}

// NewService constructs the reconciliation service over the given gateway
// and dataset registry. The registry must already be validated.
func NewService(gw domain.Gateway, datasets []domain.DatasetConfig, opts ...Option) *Service {
	s := &Service{
		gateway:  gw,
		datasets: make(map[string]domain.DatasetConfig, len(datasets)),
		metrics:  NoopMetrics{},
		now:      time.Now,
	}
	for _, cfg := range datasets {
		s.datasets[cfg.Name] = cfg
		s.order = append(s.order, cfg.Name)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Gateway exposes the underlying warehouse gateway.
func (s *Service) Gateway() domain.Gateway { return s.gateway }

// Dataset looks up a registry entry by name.
func (s *Service) Dataset(name string) (domain.DatasetConfig, bool) {
	cfg, ok := s.datasets[name]
	return cfg, ok
}

// Datasets returns the registry entries in configuration order.
func (s *Service) Datasets() []domain.DatasetConfig {
	out := make([]domain.DatasetConfig, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.datasets[name])
	}
	return out
}

// ResolveAccess maps an identity to its plant set by scanning the grant
// dataset. Callers should cache the result for the session rather than
// re-resolving per render: the grant table is read by full scan.
func (s *Service) ResolveAccess(ctx context.Context, identity string) (PlantSet, error) {
	cfg, ok := s.datasets[s.grantDataset]
	if !ok {
		return nil, fmt.Errorf("grant dataset %q: %w", s.grantDataset, ErrUnknownDataset)
	}
	grants, err := s.gateway.Fetch(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve access: %w", err)
	}
	allowColumn := ""
	if len(cfg.EmailListColumns) > 0 {
		allowColumn = cfg.EmailListColumns[0]
	}
	return ResolvePlants(identity, grants, cfg.PlantColumn, allowColumn), nil
}

// OpenSession gates dataset entry on the caller's access and returns a
// loaded session. Admin-gated datasets require the wildcard grant; an empty
// plant set refuses entry outright.
func (s *Service) OpenSession(ctx context.Context, name string, access PlantSet) (*EditSession, error) {
	cfg, ok := s.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrUnknownDataset)
	}
	if access.Empty() {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrAccessDenied)
	}
	if cfg.AdminOnly && !access.Wildcard() {
		return nil, fmt.Errorf("dataset %q requires the %s grant: %w", name, WildcardPlant, ErrAccessDenied)
	}
	session := NewEditSession(cfg)
	start := s.now()
	if err := session.Load(ctx, s.gateway, access); err != nil {
		s.metrics.IncResult("load", "error")
		return nil, err
	}
	s.metrics.ObserveDuration("load", s.now().Sub(start))
	s.metrics.IncResult("load", "ok")
	return session, nil
}

// ApplyEdits validates one batch and, only when every field passes, writes
// the accepted values into the working copy and stamps the audit columns.
// Any rejection discards the whole batch; the session is untouched and the
// caller is expected to bump widget state by reloading rows.
func (s *Service) ApplyEdits(session *EditSession, identity string, batch EditBatch) error {
	if err := session.CheckGeneration(batch.Generation); err != nil {
		return err
	}
	cfg := session.Config()

	type accepted struct {
		row    int
		fields map[string]any
	}
	staged := make([]accepted, 0, len(batch.Edits))
	for _, edit := range batch.Edits {
		current := session.Row(edit.Row)
		if current == nil {
			return fmt.Errorf("edit row %d out of range (%d rows)", edit.Row, session.Len())
		}
		fields, err := ValidateBatch(cfg, current, edit.Fields)
		if err != nil {
			return err
		}
		staged = append(staged, accepted{row: edit.Row, fields: fields})
	}

	stamp := s.now().Format(domain.TimestampLayout)
	for _, a := range staged {
		for field, value := range a.fields {
			if err := session.Set(a.row, field, value); err != nil {
				return err
			}
		}
		if markerOnly(a.fields) {
			continue
		}
		if cfg.TimestampColumn != "" {
			_ = session.Set(a.row, cfg.TimestampColumn, stamp)
		}
		if cfg.EditorColumn != "" {
			_ = session.Set(a.row, cfg.EditorColumn, identity)
		}
	}
	return nil
}

// markerOnly reports whether a change touches nothing but the deletion
// marker; flagging a row for removal does not re-stamp its audit fields.
func markerOnly(fields map[string]any) bool {
	if len(fields) != 1 {
		return false
	}
	_, ok := fields[domain.DeleteMarker]
	return ok
}

// AppendRow validates and appends a candidate record, stamping audit fields.
// Email-list columns are validated and canonicalized the same way as edits,
// and a plant value outside the session's grant is refused.
func (s *Service) AppendRow(session *EditSession, identity string, rec domain.Record) error {
	cfg := session.Config()
	row := rec.Clone()
	if cfg.PlantColumn != "" {
		if plant := row.CanonicalField(cfg.PlantColumn); plant != "" && !session.Access().Allows(plant) {
			return fmt.Errorf("append to %s, plant %q: %w", cfg.Name, plant, ErrAccessDenied)
		}
	}
	for _, field := range cfg.EmailListColumns {
		if _, ok := row[field]; !ok {
			continue
		}
		clean, err := ValidateEmailList(row.CanonicalField(field))
		if err != nil {
			return RuleError{Field: field, Reason: err.Error()}
		}
		row[field] = clean
	}
	if cfg.TimestampColumn != "" {
		row[cfg.TimestampColumn] = s.now().Format(domain.TimestampLayout)
	}
	if cfg.EditorColumn != "" {
		row[cfg.EditorColumn] = identity
	}
	return session.Append(row)
}

// Save reconciles the session's pending changes into warehouse writes:
// deletion partitioning first, then the positional diff, then deletes before
// upserts so a row edited and later marked for deletion in the same batch is
// not resurrected. An empty delta returns ErrNothingToSave without any
// gateway call. On gateway failure nothing commits; snapshot and working
// copy stay as they were and the same save may be retried.
func (s *Service) Save(ctx context.Context, session *EditSession) (SaveResult, error) {
	cfg := session.Config()
	working := session.Rows()
	snapshot := session.SnapshotRows()

	var deleted []domain.Record
	keep := working
	if cfg.DeleteCapable {
		keep, deleted = PartitionDeletes(working)
		snapshot = StripMarker(snapshot)
	}

	delta := Diff(snapshot, keep)
	delta.Deleted = deleted
	if delta.Empty() {
		s.metrics.IncResult("save", "noop")
		return SaveResult{}, ErrNothingToSave
	}

	start := s.now()
	if len(delta.Deleted) > 0 {
		if err := s.gateway.Delete(ctx, cfg, delta.Deleted); err != nil {
			s.metrics.IncResult("save", "error")
			return SaveResult{}, fmt.Errorf("delete from %s: %w", cfg.Name, err)
		}
	}
	upserts := delta.Upserts()
	if len(upserts) > 0 {
		if err := s.gateway.Upsert(ctx, cfg, upserts); err != nil {
			s.metrics.IncResult("save", "error")
			return SaveResult{}, fmt.Errorf("upsert to %s: %w", cfg.Name, err)
		}
	}
	session.Commit(keep)
	s.metrics.ObserveDuration("save", s.now().Sub(start))
	s.metrics.IncResult("save", "ok")
	return SaveResult{Upserted: len(upserts), Deleted: len(delta.Deleted)}, nil
}
