package core

import "wastageops/pkg/domain"

// Delta is the reconciliation unit computed at save time and discarded after.
type Delta struct {
	// New holds the positional suffix of the working copy beyond the
	// snapshot length. New by construction, no comparison involved.
	New []domain.Record
	// Modified holds rows of the shared prefix whose canonical stringified
	// values differ from the snapshot at the same position.
	Modified []domain.Record
	// ModifiedRows carries the working-copy indexes of Modified, in order.
	ModifiedRows []int
	// Deleted holds rows flagged for removal. Populated by the deletion
	// partitioning step, never by Diff itself.
	Deleted []domain.Record
}

// Empty reports whether the delta requires no warehouse contact at all.
func (d Delta) Empty() bool {
	return len(d.New) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Upserts returns the combined new and modified rows in save order.
func (d Delta) Upserts() []domain.Record {
	out := make([]domain.Record, 0, len(d.New)+len(d.Modified))
	out = append(out, d.New...)
	out = append(out, d.Modified...)
	return out
}

// Diff classifies working-copy rows against the snapshot. Rows past the
// snapshot length are new; rows within it are modified when any column
// differs at the canonical string level. This is a whole-row check: a save
// re-sends every persistable column of a modified row, which is safe because
// persistence is an idempotent upsert keyed by identity.
func Diff(snapshot, working []domain.Record) Delta {
	var d Delta
	n := len(snapshot)
	if len(working) > n {
		d.New = working[n:]
	}
	limit := min(n, len(working))
	for i := 0; i < limit; i++ {
		if !domain.EqualRows(snapshot[i], working[i]) {
			d.Modified = append(d.Modified, working[i])
			d.ModifiedRows = append(d.ModifiedRows, i)
		}
	}
	return d
}

// PartitionDeletes splits the working copy of a delete-capable dataset by the
// deletion marker before the diff runs, so a row is never simultaneously
// deleted and modified. Kept rows are returned as copies with the marker
// stripped; deleted rows are matched downstream purely by join-key tuple.
func PartitionDeletes(working []domain.Record) (keep, deleted []domain.Record) {
	for _, row := range working {
		if marked, _ := row[domain.DeleteMarker].(bool); marked {
			deleted = append(deleted, row)
			continue
		}
		kept := row.Clone()
		delete(kept, domain.DeleteMarker)
		keep = append(keep, kept)
	}
	return keep, deleted
}

// StripMarker returns copies of the rows without the deletion marker column.
// Used to align the snapshot with the marker-stripped keep set before
// diffing.
func StripMarker(rows []domain.Record) []domain.Record {
	out := make([]domain.Record, len(rows))
	for i, row := range rows {
		c := row.Clone()
		delete(c, domain.DeleteMarker)
		out[i] = c
	}
	return out
}
