package domain

import "context"

// Filter restricts a fetch to rows whose column value is a member of Values.
// Multiple filters are conjunctive.
type Filter struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

// Match reports whether the record satisfies the filter. Comparison happens
// at the canonical string level.
func (f Filter) Match(r Record) bool {
	got := r.CanonicalField(f.Column)
	for _, v := range f.Values {
		if got == v {
			return true
		}
	}
	return false
}

// MatchAll applies every filter conjunctively.
func MatchAll(r Record, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// Gateway executes reads and row-level writes against the remote warehouse.
// Implementations must make Upsert idempotent: re-sending a record with
// unchanged values is a no-op in effect, keyed by the dataset's join-key
// tuple. Delete of a non-existent key is not an error.
type Gateway interface {
	// Fetch reads the dataset's persistable columns, optionally filtered.
	// The full result set is assumed to fit in memory.
	Fetch(ctx context.Context, cfg DatasetConfig, filters ...Filter) ([]Record, error)
	// Upsert merges each record by join-key tuple: update-eligible columns
	// are overwritten on match, whole rows inserted on miss.
	Upsert(ctx context.Context, cfg DatasetConfig, records []Record) error
	// Delete removes the rows matching each record's join-key tuple. Only
	// identity fields are consulted.
	Delete(ctx context.Context, cfg DatasetConfig, records []Record) error
}
