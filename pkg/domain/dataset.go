package domain

import (
	"fmt"
	"regexp"
	"slices"
)

// DeleteMarker is the UI-only column carrying a row's deletion flag on
// delete-capable datasets. It is never persisted.
const DeleteMarker = "Delete"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// UnlockRule gates edits to a dependent column behind a companion status
// column having been moved away from its default value. The status is judged
// on its batch-effective value: a status change arriving in the same edit
// batch counts.
type UnlockRule struct {
	Field         string `yaml:"field"`
	StatusField   string `yaml:"status_field"`
	DefaultStatus string `yaml:"default_status"`
}

// DatasetConfig is the static metadata for one named dataset. Loaded once at
// process start and treated as immutable afterwards.
type DatasetConfig struct {
	// Name is the registry key and URL slug.
	Name string `yaml:"name"`
	// Table is the fully qualified storage location.
	Table string `yaml:"table"`
	// JoinKeys is the ordered identity-field tuple. Identity locates a row
	// and is never itself updated.
	JoinKeys []string `yaml:"join_keys"`
	// UpdateColumns are the fields eligible for persistence on update.
	UpdateColumns []string `yaml:"update_columns"`
	// FilterColumns are the user-facing filter fields.
	FilterColumns []string `yaml:"filter_columns"`
	// EditableColumns are the fields a user may change cell-by-cell.
	EditableColumns []string `yaml:"editable_columns"`
	// StatusOptions restricts the values accepted for status-like columns
	// named in UnlockRules. Empty means unrestricted.
	StatusOptions []string `yaml:"status_options"`
	// UnlockRules are the conditional-unlock validations for this dataset.
	UnlockRules []UnlockRule `yaml:"unlock_rules"`
	// EmailListColumns are free-text fields holding comma-separated
	// addresses, validated and canonicalized on edit.
	EmailListColumns []string `yaml:"email_list_columns"`
	// TimestampColumn is the audit column stamped on every accepted edit.
	TimestampColumn string `yaml:"timestamp_column"`
	// EditorColumn is the audit column recording the last editor identity.
	EditorColumn string `yaml:"editor_column"`
	// PlantColumn is the partition column gated by plant access. Empty
	// means the dataset is not partitioned.
	PlantColumn string `yaml:"plant_column"`
	// DeleteCapable enables the deletion-marker workflow.
	DeleteCapable bool `yaml:"delete_capable"`
	// AdminOnly restricts the dataset to identities holding the wildcard
	// plant grant.
	AdminOnly bool `yaml:"admin_only"`
	// UniqueKey rejects appends whose join-key tuple already exists in the
	// working copy.
	UniqueKey bool `yaml:"unique_key"`
	// Defaults fills blank or missing columns at load and append time.
	Defaults map[string]any `yaml:"defaults"`
}

// Validate checks the structural invariants of the config. Identity fields
// must exist, never overlap the update-eligible set, and every referenced
// name must be a plain SQL identifier so statement builders can interpolate
// it safely.
func (c DatasetConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("dataset config: name required")
	}
	if !identifierPattern.MatchString(c.Table) {
		return fmt.Errorf("dataset %s: invalid table %q", c.Name, c.Table)
	}
	if len(c.JoinKeys) == 0 {
		return fmt.Errorf("dataset %s: at least one join key required", c.Name)
	}
	for _, col := range append(slices.Clone(c.JoinKeys), c.UpdateColumns...) {
		if !identifierPattern.MatchString(col) || col != firstSegment(col) {
			return fmt.Errorf("dataset %s: invalid column %q", c.Name, col)
		}
	}
	for _, k := range c.JoinKeys {
		if slices.Contains(c.UpdateColumns, k) {
			return fmt.Errorf("dataset %s: join key %s must not be update-eligible", c.Name, k)
		}
	}
	for _, col := range c.EditableColumns {
		if !slices.Contains(c.UpdateColumns, col) {
			return fmt.Errorf("dataset %s: editable column %s is not update-eligible", c.Name, col)
		}
	}
	if slices.Contains(c.UpdateColumns, DeleteMarker) || slices.Contains(c.JoinKeys, DeleteMarker) {
		return fmt.Errorf("dataset %s: %s is reserved for the deletion marker", c.Name, DeleteMarker)
	}
	return nil
}

func firstSegment(col string) string {
	for i := 0; i < len(col); i++ {
		if col[i] == '.' {
			return col[:i]
		}
	}
	return col
}

// PersistColumns returns the ordered union of join keys and update columns:
// exactly the set a gateway reads and writes.
func (c DatasetConfig) PersistColumns() []string {
	cols := make([]string, 0, len(c.JoinKeys)+len(c.UpdateColumns))
	cols = append(cols, c.JoinKeys...)
	for _, col := range c.UpdateColumns {
		if !slices.Contains(cols, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// Editable reports whether a field accepts user edits. The deletion marker
// is editable exactly when the dataset is delete-capable.
func (c DatasetConfig) Editable(field string) bool {
	if field == DeleteMarker {
		return c.DeleteCapable
	}
	return slices.Contains(c.EditableColumns, field)
}

// IsJoinKey reports whether the column is part of the identity tuple.
func (c DatasetConfig) IsJoinKey(field string) bool {
	return slices.Contains(c.JoinKeys, field)
}
