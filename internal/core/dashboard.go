package core

import (
	"sort"
	"strconv"

	"wastageops/pkg/domain"
)

// DashboardSummary carries the headline program KPIs for one dataset.
type DashboardSummary struct {
	QtyAtRisk       float64 `json:"qty_at_risk"`
	PotentialSaving float64 `json:"potential_saving"`
	ActualSaving    float64 `json:"actual_saving"`
	ReductionPct    float64 `json:"reduction_pct"`
	Plants          int     `json:"plants"`
	Components      int     `json:"components"`
	Recommendations int     `json:"recommendations"`
}

// PlantSavings aggregates potential and actual savings for one plant.
type PlantSavings struct {
	Plant     string  `json:"plant"`
	Potential float64 `json:"potential_saving"`
	Actual    float64 `json:"actual_saving"`
}

// Summarize computes the KPI card values over a recommendation dataset.
// Reduction is potential saving as a share of quantity at risk.
func Summarize(rows []domain.Record) DashboardSummary {
	var s DashboardSummary
	plants := map[string]struct{}{}
	components := map[string]struct{}{}
	for _, row := range rows {
		s.QtyAtRisk += toFloat(row["QtyAtRisk"])
		s.PotentialSaving += toFloat(row["PotentialSaving"])
		s.ActualSaving += toFloat(row["ActualSaving"])
		if p := row.CanonicalField("PlantId"); p != "" {
			plants[p] = struct{}{}
		}
		if c := row.CanonicalField("ComponentId"); c != "" {
			components[c] = struct{}{}
		}
	}
	s.Plants = len(plants)
	s.Components = len(components)
	s.Recommendations = len(rows)
	if s.QtyAtRisk > 0 {
		s.ReductionPct = s.PotentialSaving / s.QtyAtRisk * 100
	}
	return s
}

// SavingsByPlant groups potential and actual savings per plant, sorted by
// plant identifier.
func SavingsByPlant(rows []domain.Record) []PlantSavings {
	byPlant := map[string]*PlantSavings{}
	for _, row := range rows {
		plant := row.CanonicalField("PlantId")
		if plant == "" {
			continue
		}
		agg, ok := byPlant[plant]
		if !ok {
			agg = &PlantSavings{Plant: plant}
			byPlant[plant] = agg
		}
		agg.Potential += toFloat(row["PotentialSaving"])
		agg.Actual += toFloat(row["ActualSaving"])
	}
	out := make([]PlantSavings, 0, len(byPlant))
	for _, agg := range byPlant {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plant < out[j].Plant })
	return out
}

// CountByField tallies rows per distinct canonical value of the column.
func CountByField(rows []domain.Record, column string) map[string]int {
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.CanonicalField(column)]++
	}
	return counts
}

// DistinctValues lists the sorted non-empty canonical values of a column,
// feeding the per-column filter widgets.
func DistinctValues(rows []domain.Record, column string) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		if v := row.CanonicalField(column); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ApplyFilters returns the rows satisfying every filter, preserving order.
func ApplyFilters(rows []domain.Record, filters []domain.Filter) []domain.Record {
	if len(filters) == 0 {
		return rows
	}
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		if domain.MatchAll(row, filters) {
			out = append(out, row)
		}
	}
	return out
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
