// Package ids generates UUIDs for every addressable record (envelopes, cron
// schedules, agent runs) and derives the user-facing "short ID" — the first
// 8 hex characters of the compact (no-dash) UUID — along with prefix lookup
// that surfaces ambiguity instead of guessing (spec §9 design note: "Short-ID
// lookups. Implement as findByIdPrefix(table, prefix) → {unique | ambiguous |
// none}").
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a fresh UUID for a new record.
func New() uuid.UUID {
	return uuid.New()
}

// Compact returns the UUID with dashes stripped, lowercase — the form short
// IDs are taken a prefix of.
func Compact(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// ShortLen is the number of hex characters in a short ID.
const ShortLen = 8

// Short returns the first 8 hex characters of the compact UUID.
func Short(id uuid.UUID) string {
	c := Compact(id)
	if len(c) < ShortLen {
		return c
	}
	return c[:ShortLen]
}

// Lookup is the result of resolving a short-ID prefix against a set of full
// IDs: exactly one match, more than one (ambiguous, candidates listed), or
// none.
type Lookup struct {
	Match      uuid.UUID
	Unique     bool
	Candidates []uuid.UUID // populated when ambiguous
}

// FindByPrefix resolves prefix (case-insensitive) against candidates, the ids
// of all rows in some table. Passing the full compact UUID still functions as
// a prefix of itself. Testable property (spec §8, invariant 6): if a prefix
// resolves uniquely, any longer prefix of that same id also resolves
// uniquely — true by construction since prefix matching is a strict string
// comparison and a longer prefix can only narrow the candidate set.
func FindByPrefix(candidates []uuid.UUID, prefix string) Lookup {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	var matches []uuid.UUID
	for _, id := range candidates {
		if strings.HasPrefix(Compact(id), prefix) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return Lookup{}
	case 1:
		return Lookup{Match: matches[0], Unique: true}
	default:
		return Lookup{Candidates: matches}
	}
}
