package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"wastageops/pkg/domain"
)

func dashboardRows() []domain.Record {
	return []domain.Record{
		{"ComponentId": "C01", "PlantId": "P01", "QtyAtRisk": 100.0, "PotentialSaving": 40.0, "ActualSaving": 10.0, "Feedback": "Accepted"},
		{"ComponentId": "C02", "PlantId": "P01", "QtyAtRisk": 50.0, "PotentialSaving": "10", "ActualSaving": nil, "Feedback": "Unactioned"},
		{"ComponentId": "C01", "PlantId": "P02", "QtyAtRisk": 50.0, "PotentialSaving": 10.0, "ActualSaving": 5.0, "Feedback": "Unactioned"},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(dashboardRows())
	if s.QtyAtRisk != 200 || s.PotentialSaving != 60 || s.ActualSaving != 15 {
		t.Fatalf("totals = %+v", s)
	}
	if s.ReductionPct != 30 {
		t.Fatalf("reduction = %v, want 30", s.ReductionPct)
	}
	if s.Plants != 2 || s.Components != 2 || s.Recommendations != 3 {
		t.Fatalf("cardinalities = %+v", s)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.ReductionPct != 0 || s.Recommendations != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
}

func TestSavingsByPlant(t *testing.T) {
	got := SavingsByPlant(dashboardRows())
	want := []PlantSavings{
		{Plant: "P01", Potential: 50, Actual: 10},
		{Plant: "P02", Potential: 10, Actual: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("savings by plant mismatch (-want +got):\n%s", diff)
	}
}

func TestCountByField(t *testing.T) {
	counts := CountByField(dashboardRows(), "Feedback")
	if counts["Unactioned"] != 2 || counts["Accepted"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestDistinctValues(t *testing.T) {
	got := DistinctValues(dashboardRows(), "PlantId")
	if len(got) != 2 || got[0] != "P01" || got[1] != "P02" {
		t.Fatalf("distinct plants = %v", got)
	}
}

func TestApplyFilters(t *testing.T) {
	rows := dashboardRows()
	got := ApplyFilters(rows, []domain.Filter{
		{Column: "PlantId", Values: []string{"P01"}},
		{Column: "Feedback", Values: []string{"Unactioned"}},
	})
	if len(got) != 1 || got[0].CanonicalField("ComponentId") != "C02" {
		t.Fatalf("filtered rows = %v", got)
	}
	if len(ApplyFilters(rows, nil)) != len(rows) {
		t.Fatalf("nil filters must pass everything through")
	}
}
