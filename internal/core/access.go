package core

import (
	"sort"
	"strings"

	"wastageops/pkg/domain"
)

// WildcardPlant grants access to every partition. It never appears as a hard
// filter: callers holding it skip plant filtering entirely.
const WildcardPlant = "ALL"

// PlantSet is the set of partition identifiers an identity may act on. The
// empty set is the designed access-denied signal, not an error.
type PlantSet map[string]struct{}

// Wildcard reports whether the set carries the all-plants grant.
func (s PlantSet) Wildcard() bool {
	_, ok := s[WildcardPlant]
	return ok
}

// Empty reports whether the identity holds no grant at all.
func (s PlantSet) Empty() bool { return len(s) == 0 }

// Allows reports whether the given plant is visible to the holder.
func (s PlantSet) Allows(plant string) bool {
	if s.Wildcard() {
		return true
	}
	_, ok := s[normalizePlant(plant)]
	return ok
}

// Values returns the sorted plant identifiers, wildcard included.
func (s PlantSet) Values() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ResolvePlants maps an identity to the union of plants across every grant
// row whose comma-separated allow-list contains it. Identities compare
// case-insensitively after trimming; plants are uppercased. A nil or empty
// grant table resolves to the empty set.
func ResolvePlants(identity string, grants []domain.Record, plantColumn, allowColumn string) PlantSet {
	out := make(PlantSet)
	want := normalizeIdentity(identity)
	if want == "" {
		return out
	}
	for _, row := range grants {
		allow := row.CanonicalField(allowColumn)
		if allow == "" {
			continue
		}
		for _, entry := range strings.Split(allow, ",") {
			if normalizeIdentity(entry) != want {
				continue
			}
			if plant := normalizePlant(row.CanonicalField(plantColumn)); plant != "" {
				out[plant] = struct{}{}
			}
			break
		}
	}
	return out
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizePlant(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
