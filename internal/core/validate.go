package core

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"wastageops/pkg/domain"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// ValidateEmailList checks a comma-separated list of addresses: non-empty
// after trimming, no empty elements (doubled commas), no internal
// whitespace, and each element address-shaped. On success it returns the
// canonical form, elements trimmed and rejoined with ", ".
func ValidateEmailList(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("email field cannot be empty")
	}
	parts := strings.Split(raw, ",")
	clean := make([]string, len(parts))
	for i, p := range parts {
		e := strings.TrimSpace(p)
		if e == "" {
			return "", fmt.Errorf("detected an empty email, remove extra commas")
		}
		if strings.ContainsAny(e, " \t") {
			return "", fmt.Errorf("separate multiple email addresses with a comma")
		}
		if !emailPattern.MatchString(e) {
			return "", fmt.Errorf("invalid email format: %q", e)
		}
		clean[i] = e
	}
	return strings.Join(clean, ", "), nil
}

// ValidateBatch runs every edited field of one batch through the dataset's
// rules against the current row. It returns the accepted changes with
// canonicalized values, or the first rejection. Rejection means the whole
// batch is discarded; nothing is partially applied.
//
// The conditional-unlock rule sees the batch as a unit: a status change and
// a dependent-field change arriving together are judged on the proposed
// status, not the stored one.
func ValidateBatch(cfg domain.DatasetConfig, current domain.Record, changes map[string]any) (map[string]any, error) {
	accepted := make(map[string]any, len(changes))
	for field, value := range changes {
		if !cfg.Editable(field) {
			return nil, RuleError{Field: field, Reason: "field is not editable"}
		}
		accepted[field] = value
	}
	for _, rule := range cfg.UnlockRules {
		if _, edited := changes[rule.Field]; !edited {
			continue
		}
		status := effectiveValue(current, changes, rule.StatusField)
		if status == rule.DefaultStatus || status == "" {
			return nil, RuleError{
				Field:  rule.Field,
				Reason: fmt.Sprintf("update %s before entering a value", rule.StatusField),
			}
		}
	}
	for _, rule := range cfg.UnlockRules {
		proposed, edited := changes[rule.StatusField]
		if !edited || len(cfg.StatusOptions) == 0 {
			continue
		}
		if !slices.Contains(cfg.StatusOptions, domain.Canonical(proposed)) {
			return nil, RuleError{Field: rule.StatusField, Reason: "unsupported status value"}
		}
	}
	for _, field := range cfg.EmailListColumns {
		value, edited := changes[field]
		if !edited {
			continue
		}
		clean, err := ValidateEmailList(domain.Canonical(value))
		if err != nil {
			return nil, RuleError{Field: field, Reason: err.Error()}
		}
		accepted[field] = clean
	}
	return accepted, nil
}

// effectiveValue is the proposed new value when the field is part of the same
// batch, else the currently stored value.
func effectiveValue(current domain.Record, changes map[string]any, field string) string {
	if v, ok := changes[field]; ok {
		return domain.Canonical(v)
	}
	return current.CanonicalField(field)
}
