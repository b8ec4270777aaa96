package matcher

import (
	"strings"

	"posecall/internal/domain"
)

// Matcher finds the first declared pose whose phrase occurs in an utterance.
type Matcher struct {
	entries []domain.PoseEntry
}

// New builds a matcher over entries in declaration order. Phrases are
// expected to be lower-case already, as the catalog guarantees.
func New(entries []domain.PoseEntry) *Matcher {
	return &Matcher{entries: entries}
}

// Match returns the earliest-declared entry with a substring hit in the
// lower-cased utterance.
func (m *Matcher) Match(utterance string) (domain.PoseEntry, bool) {
	lowered := strings.ToLower(utterance)
	for _, entry := range m.entries {
		for _, phrase := range entry.MatchPhrases {
			if strings.Contains(lowered, phrase) {
				return entry, true
			}
		}
	}
	return domain.PoseEntry{}, false
}
