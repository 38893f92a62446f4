package domain

import (
	"strings"
	"testing"
)

func validConfig() DatasetConfig {
	return DatasetConfig{
		Name:            "Substitution",
		Table:           "bytemaster.appdata.Substitution",
		JoinKeys:        []string{"ComponentId", "PlantId", "MaterialId"},
		UpdateColumns:   []string{"QtyAtRisk", "Feedback", "ActualSaving"},
		EditableColumns: []string{"Feedback", "ActualSaving"},
	}
}

func TestDatasetConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*DatasetConfig)
		wantErr string
	}{
		{"missing name", func(c *DatasetConfig) { c.Name = "" }, "name required"},
		{"bad table", func(c *DatasetConfig) { c.Table = "drop table; --" }, "invalid table"},
		{"no join keys", func(c *DatasetConfig) { c.JoinKeys = nil }, "join key required"},
		{"bad column", func(c *DatasetConfig) { c.UpdateColumns = append(c.UpdateColumns, `x"y`) }, "invalid column"},
		{"key overlaps updates", func(c *DatasetConfig) { c.UpdateColumns = append(c.UpdateColumns, "PlantId") }, "must not be update-eligible"},
		{"editable not updatable", func(c *DatasetConfig) { c.EditableColumns = append(c.EditableColumns, "RunID") }, "not update-eligible"},
		{"marker reserved", func(c *DatasetConfig) { c.UpdateColumns = append(c.UpdateColumns, DeleteMarker) }, "reserved"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestPersistColumnsOrderAndDedup(t *testing.T) {
	cfg := validConfig()
	got := cfg.PersistColumns()
	want := []string{"ComponentId", "PlantId", "MaterialId", "QtyAtRisk", "Feedback", "ActualSaving"}
	if len(got) != len(want) {
		t.Fatalf("PersistColumns = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PersistColumns[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEditableMarkerGatedByDeleteCapability(t *testing.T) {
	cfg := validConfig()
	if cfg.Editable(DeleteMarker) {
		t.Fatalf("marker must not be editable without delete capability")
	}
	cfg.DeleteCapable = true
	if !cfg.Editable(DeleteMarker) {
		t.Fatalf("marker must be editable on a delete-capable dataset")
	}
	if cfg.Editable("QtyAtRisk") {
		t.Fatalf("update-eligible but non-editable column accepted an edit")
	}
}

func TestFilterMatch(t *testing.T) {
	row := Record{"PlantId": "P01", "Feedback": "Unactioned"}
	f := Filter{Column: "PlantId", Values: []string{"P01", "P02"}}
	if !f.Match(row) {
		t.Fatalf("expected filter to match")
	}
	if (Filter{Column: "PlantId", Values: []string{"P03"}}).Match(row) {
		t.Fatalf("expected filter miss")
	}
	if !MatchAll(row, []Filter{f, {Column: "Feedback", Values: []string{"Unactioned"}}}) {
		t.Fatalf("expected all filters to match")
	}
}
