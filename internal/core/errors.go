package core

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is returned when an identity resolves to an empty plant
// set, or lacks the wildcard grant an admin-gated dataset requires.
var ErrAccessDenied = errors.New("access denied")

// ErrUnknownDataset is returned for a dataset name absent from the registry.
var ErrUnknownDataset = errors.New("unknown dataset")

// ErrNothingToSave signals an empty delta: the save short-circuits without
// contacting the warehouse.
var ErrNothingToSave = errors.New("nothing to save")

// ErrBlankIdentityField rejects an appended row with an empty identity field.
var ErrBlankIdentityField = errors.New("identity field must not be blank")

// ErrDuplicateKey rejects an appended row whose join-key tuple already exists
// in the working copy of a unique-key dataset.
var ErrDuplicateKey = errors.New("join key already present")

// RuleError is a validation rejection. The whole edit batch it belongs to is
// discarded; nothing is applied.
type RuleError struct {
	Field  string
	Reason string
}

func (e RuleError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// StaleGenerationError reports an interaction initiated against a working
// copy that has since been torn down by a structural change.
type StaleGenerationError struct {
	Got, Current uint64
}

func (e StaleGenerationError) Error() string {
	return fmt.Sprintf("stale generation %d, session is at %d", e.Got, e.Current)
}
