package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wastageops/internal/infra/warehouse/memory"
	"wastageops/pkg/domain"
)

func userSettingsConfig() domain.DatasetConfig {
	return domain.DatasetConfig{
		Name:             "UserSettings",
		Table:            "bytemaster.appdata.UserSettings",
		JoinKeys:         []string{"PlantId"},
		UpdateColumns:    []string{"ApprovedMailID", "UserEmail", "UpdatedTimestamp"},
		EditableColumns:  []string{"ApprovedMailID"},
		EmailListColumns: []string{"ApprovedMailID"},
		TimestampColumn:  "UpdatedTimestamp",
		EditorColumn:     "UserEmail",
		DeleteCapable:    true,
		AdminOnly:        true,
		UniqueKey:        true,
	}
}

func newTestService(t *testing.T) (*Service, *memory.Gateway) {
	t.Helper()
	gw := memory.NewGateway()
	datasets := []domain.DatasetConfig{recommendationConfig(), userSettingsConfig()}
	svc := NewService(gw, datasets,
		WithGrantDataset("UserSettings"),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }),
	)
	gw.Seed("bytemaster.appdata.UserSettings", []domain.Record{
		{"PlantId": "P01", "ApprovedMailID": "editor@x.com"},
		{"PlantId": "ALL", "ApprovedMailID": "admin@x.com"},
	})
	return svc, gw
}

func TestResolveAccessThroughGrantDataset(t *testing.T) {
	svc, _ := newTestService(t)
	access, err := svc.ResolveAccess(context.Background(), "Editor@X.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if access.Wildcard() || !access.Allows("P01") || access.Allows("P02") {
		t.Fatalf("resolved plants = %v", access.Values())
	}
}

func TestOpenSessionAccessControl(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(2))

	if _, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("empty access admitted: %v", err)
	}
	if _, err := svc.OpenSession(context.Background(), "UserSettings", PlantSet{"P01": {}}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("admin dataset admitted a non-wildcard caller: %v", err)
	}
	if _, err := svc.OpenSession(context.Background(), "Nope", PlantSet{"P01": {}}); !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("unknown dataset: %v", err)
	}
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Len() != 2 {
		t.Fatalf("session rows = %d, want 2", session.Len())
	}
}

func TestApplyEditsStampsAuditColumns(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(2))
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	batch := EditBatch{
		Generation: session.Generation(),
		Edits:      []CellEdit{{Row: 0, Fields: map[string]any{"Feedback": "Accepted"}}},
	}
	if err := svc.ApplyEdits(session, "editor@x.com", batch); err != nil {
		t.Fatalf("apply: %v", err)
	}
	row := session.Rows()[0]
	if row["Feedback"] != "Accepted" {
		t.Fatalf("edit not applied: %v", row["Feedback"])
	}
	if row["CreatedTimestamp"] != "2026-02-01 12:00:00" {
		t.Fatalf("timestamp not stamped: %v", row["CreatedTimestamp"])
	}
	if row["UserEmail"] != "editor@x.com" {
		t.Fatalf("editor not stamped: %v", row["UserEmail"])
	}
}

func TestApplyEditsStaleGeneration(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(1))
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stale := session.Generation()
	session.Invalidate()
	err = svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: stale,
		Edits:      []CellEdit{{Row: 0, Fields: map[string]any{"Feedback": "Accepted"}}},
	})
	var staleErr StaleGenerationError
	if !errors.As(err, &staleErr) {
		t.Fatalf("stale batch accepted: %v", err)
	}
	if session.Rows()[0]["Feedback"] == "Accepted" {
		t.Fatalf("stale batch mutated the working copy")
	}
}

func TestApplyEditsRejectionLeavesSessionUntouched(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(2))
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	before := session.Rows()
	err = svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits: []CellEdit{
			{Row: 0, Fields: map[string]any{"Feedback": "Accepted"}},
			{Row: 1, Fields: map[string]any{"ActualSaving": 9.0}}, // locked, rejects the batch
		},
	})
	var ruleErr RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("locked edit accepted: %v", err)
	}
	after := session.Rows()
	for i := range before {
		if !domain.EqualRows(before[i], after[i]) {
			t.Fatalf("rejected batch partially applied at row %d", i)
		}
	}
}

func TestMarkerOnlyEditSkipsAuditStamps(t *testing.T) {
	cfg := recommendationConfig()
	cfg.DeleteCapable = true
	gw := memory.NewGateway()
	rows := sampleRows(1)
	rows[0]["CreatedTimestamp"] = "2025-12-01 00:00:00"
	gw.Seed("bytemaster.appdata.Substitution", rows)

	svc := NewService(gw, []domain.DatasetConfig{cfg, userSettingsConfig()},
		WithGrantDataset("UserSettings"),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }),
	)
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits:      []CellEdit{{Row: 0, Fields: map[string]any{domain.DeleteMarker: true}}},
	})
	if err != nil {
		t.Fatalf("marker edit: %v", err)
	}
	row := session.Rows()[0]
	if row["CreatedTimestamp"] != "2025-12-01 00:00:00" {
		t.Fatalf("marker-only edit re-stamped the row: %v", row["CreatedTimestamp"])
	}
}

func TestSaveNothingToDo(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(2))
	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	before := gw.TableLen("bytemaster.appdata.Substitution")
	_, err = svc.Save(context.Background(), session)
	if !errors.Is(err, ErrNothingToSave) {
		t.Fatalf("save of unchanged copy: %v", err)
	}
	if gw.TableLen("bytemaster.appdata.Substitution") != before {
		t.Fatalf("no-op save touched the warehouse")
	}
}

func TestSaveEndToEnd(t *testing.T) {
	gw := memory.NewGateway()
	counter := &countingGateway{inner: gw}
	svc := NewService(counter, []domain.DatasetConfig{recommendationConfig(), userSettingsConfig()},
		WithGrantDataset("UserSettings"),
		WithClock(func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }),
	)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(3))

	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Len() != 3 {
		t.Fatalf("loaded %d rows, want 3", session.Len())
	}

	if err := svc.AppendRow(session, "editor@x.com", domain.Record{
		"ComponentId": "C09", "PlantId": "P01", "MaterialId": "M02",
		"QtyAtRisk": 55.0, "PotentialSaving": 20.0, "Feedback": "Unactioned",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if session.Len() != 4 {
		t.Fatalf("rows = %d after append, want 4", session.Len())
	}

	if err := svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits:      []CellEdit{{Row: 1, Fields: map[string]any{"Feedback": "Accepted"}}},
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	result, err := svc.Save(context.Background(), session)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if result.Upserted != 2 || result.Deleted != 0 {
		t.Fatalf("save result = %+v, want 2 upserted / 0 deleted", result)
	}
	if counter.upsertCalls != 1 || counter.deleteCalls != 0 {
		t.Fatalf("gateway calls: %d upserts, %d deletes, want 1/0", counter.upsertCalls, counter.deleteCalls)
	}
	if counter.lastUpsert != 2 {
		t.Fatalf("upsert batch size = %d, want 2", counter.lastUpsert)
	}

	if d := Diff(session.SnapshotRows(), session.Rows()); !d.Empty() {
		t.Fatalf("post-save diff not empty: %+v", d)
	}
	if gw.TableLen("bytemaster.appdata.Substitution") != 4 {
		t.Fatalf("warehouse rows = %d, want 4", gw.TableLen("bytemaster.appdata.Substitution"))
	}
}

func TestSaveDeleteThenUpsert(t *testing.T) {
	cfg := recommendationConfig()
	cfg.DeleteCapable = true
	gw := memory.NewGateway()
	counter := &countingGateway{inner: gw}
	svc := NewService(counter, []domain.DatasetConfig{cfg, userSettingsConfig()},
		WithGrantDataset("UserSettings"),
	)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(3))

	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// edit row 2, then flag it for deletion; deletion must win
	if err := svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits: []CellEdit{
			{Row: 2, Fields: map[string]any{"Feedback": "Accepted"}},
		},
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits: []CellEdit{
			{Row: 2, Fields: map[string]any{domain.DeleteMarker: true}},
		},
	}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	result, err := svc.Save(context.Background(), session)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("save result = %+v, want 1 deleted", result)
	}
	if counter.deleteCalls != 1 {
		t.Fatalf("delete calls = %d, want 1", counter.deleteCalls)
	}
	if counter.order != "delete,upsert" && counter.order != "delete" {
		t.Fatalf("gateway call order = %q, deletes must precede upserts", counter.order)
	}
	for _, row := range counter.upserted {
		if row.CanonicalField("ComponentId") == "C03" {
			t.Fatalf("deleted row was also upserted")
		}
	}
	if gw.TableLen("bytemaster.appdata.Substitution") != 2 {
		t.Fatalf("warehouse rows = %d, want 2", gw.TableLen("bytemaster.appdata.Substitution"))
	}
}

func TestSaveFailureKeepsSessionRetryable(t *testing.T) {
	gw := memory.NewGateway()
	failing := &countingGateway{inner: gw, failUpsert: true}
	svc := NewService(failing, []domain.DatasetConfig{recommendationConfig(), userSettingsConfig()},
		WithGrantDataset("UserSettings"),
	)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(2))

	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := svc.ApplyEdits(session, "editor@x.com", EditBatch{
		Generation: session.Generation(),
		Edits:      []CellEdit{{Row: 0, Fields: map[string]any{"Feedback": "Rejected"}}},
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	generation := session.Generation()
	if _, err := svc.Save(context.Background(), session); err == nil {
		t.Fatalf("expected save failure")
	}
	if session.Generation() != generation {
		t.Fatalf("failed save bumped the generation")
	}

	// the retry sees the same pending change and succeeds
	failing.failUpsert = false
	result, err := svc.Save(context.Background(), session)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Upserted != 1 {
		t.Fatalf("retry result = %+v, want 1 upserted", result)
	}
}

// countingGateway wraps the in-memory gateway recording call counts and
// ordering, with optional injected upsert failure.
type countingGateway struct {
	inner       *memory.Gateway
	upsertCalls int
	deleteCalls int
	lastUpsert  int
	upserted    []domain.Record
	order       string
	failUpsert  bool
}

func (c *countingGateway) Fetch(ctx context.Context, cfg domain.DatasetConfig, filters ...domain.Filter) ([]domain.Record, error) {
	return c.inner.Fetch(ctx, cfg, filters...)
}

func (c *countingGateway) Upsert(ctx context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	if c.failUpsert {
		return fmt.Errorf("injected upsert failure")
	}
	c.upsertCalls++
	c.lastUpsert = len(records)
	c.upserted = append(c.upserted, records...)
	c.appendOrder("upsert")
	return c.inner.Upsert(ctx, cfg, records)
}

func (c *countingGateway) Delete(ctx context.Context, cfg domain.DatasetConfig, records []domain.Record) error {
	c.deleteCalls++
	c.appendOrder("delete")
	return c.inner.Delete(ctx, cfg, records)
}

func (c *countingGateway) appendOrder(op string) {
	if c.order == "" {
		c.order = op
		return
	}
	c.order += "," + op
}

func TestAppendRejectsForeignPlant(t *testing.T) {
	svc, gw := newTestService(t)
	gw.Seed("bytemaster.appdata.Substitution", sampleRows(1))

	session, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{"P01": {}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = svc.AppendRow(session, "editor@x.com", domain.Record{
		"ComponentId": "C09", "PlantId": "P99", "MaterialId": "M01", "QtyAtRisk": 10.0,
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("foreign plant admitted: %v", err)
	}
	if session.Len() != 1 {
		t.Fatalf("rows = %d after rejected append, want 1", session.Len())
	}

	if err := svc.AppendRow(session, "editor@x.com", domain.Record{
		"ComponentId": "C09", "PlantId": "p01", "MaterialId": "M01", "QtyAtRisk": 10.0,
	}); err != nil {
		t.Fatalf("granted plant refused: %v", err)
	}

	admin, err := svc.OpenSession(context.Background(), "Substitution", PlantSet{WildcardPlant: {}})
	if err != nil {
		t.Fatalf("open wildcard: %v", err)
	}
	if err := svc.AppendRow(admin, "admin@x.com", domain.Record{
		"ComponentId": "C10", "PlantId": "P99", "MaterialId": "M01", "QtyAtRisk": 10.0,
	}); err != nil {
		t.Fatalf("wildcard append refused: %v", err)
	}
}

func TestServiceExposesGateway(t *testing.T) {
	svc, gw := newTestService(t)
	got, ok := svc.Gateway().(*memory.Gateway)
	if !ok || got != gw {
		t.Fatalf("gateway = %T %v, want the constructed memory gateway", svc.Gateway(), got)
	}
}
