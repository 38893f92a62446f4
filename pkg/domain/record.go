// Package domain defines the record model, dataset metadata, and the
// warehouse gateway contract shared by the wastageops core and its
// infrastructure adapters.
package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the canonical rendering for audit timestamps. Warehouse
// values are normalized to this layout at load time so that string-level row
// comparison never trips over driver-specific time representations.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is one row of a named dataset: a mapping from column name to scalar
// value (string, number, time, or nil).
type Record map[string]any

// Clone returns an independent shallow copy. Values are scalars, so a
// top-level copy is a deep copy for our purposes.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneRecords deep-copies a slice of records preserving order.
func CloneRecords(rows []Record) []Record {
	if rows == nil {
		return nil
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Canonical renders a scalar to its comparison form. Nil and missing values
// become the empty string so that a NULL read back from the warehouse never
// registers as a modification against an empty cell.
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(TimestampLayout)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// CanonicalField returns the canonical form of a single column.
func (r Record) CanonicalField(name string) string {
	return Canonical(r[name])
}

// EqualRows reports whether two records match at the canonical string level
// across the union of their column names.
func EqualRows(a, b Record) bool {
	for k := range a {
		if a.CanonicalField(k) != b.CanonicalField(k) {
			return false
		}
	}
	for k := range b {
		if _, seen := a[k]; seen {
			continue
		}
		if a.CanonicalField(k) != b.CanonicalField(k) {
			return false
		}
	}
	return true
}

// KeyTuple renders the identity-field tuple of a record as a single opaque
// string usable as a map key. Column order follows keys.
func KeyTuple(r Record, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = r.CanonicalField(k)
	}
	return strings.Join(parts, "\x1f")
}

// Columns returns the sorted column names present in the record.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
