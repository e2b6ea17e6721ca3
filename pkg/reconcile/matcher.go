package reconcile

import (
	"strings"

	"github.com/launchpipe/launchpipe/pkg/slug"
	"github.com/launchpipe/launchpipe/pkg/stores"
)

// Matcher implements the three-pass fuzzy match of a normalized candidate
// name against existing project records: exact equality, substring
// containment in either direction, then token overlap.
type Matcher struct {
	// minShared is how many qualifying tokens must be shared before a
	// token-overlap match is accepted. The threshold is a tuned heuristic
	// with no deeper rationale, so it stays configurable.
	minShared int

	// minTokenLen filters out tokens of this length or shorter.
	minTokenLen int
}

// NewMatcher creates a matcher. Zero values fall back to the defaults
// (two shared tokens, tokens longer than two characters).
func NewMatcher(minShared, minTokenLen int) *Matcher {
	if minShared <= 0 {
		minShared = 2
	}
	if minTokenLen <= 0 {
		minTokenLen = 2
	}
	return &Matcher{minShared: minShared, minTokenLen: minTokenLen}
}

// Match finds the record a normalized candidate name corresponds to.
// Records must be sorted by normalized name so fallback passes are
// deterministic. Returns the matched record and the pass that fired, or
// (nil, "", nil) when nothing matched, or an AmbiguityError when the token
// pass tied between several records.
func (m *Matcher) Match(normalized string, records []*stores.ProjectRecord) (*stores.ProjectRecord, MatchPass, error) {
	if normalized == "" {
		// Unnormalizable names are unmatchable by contract.
		return nil, "", nil
	}

	// Pass 1: exact normalized equality.
	for _, rec := range records {
		if rec.NormalizedName == normalized {
			return rec, PassExact, nil
		}
	}

	// Pass 2: substring containment in either direction. First hit in
	// sorted order wins; containment is specific enough that ties are a
	// non-issue in practice.
	for _, rec := range records {
		if rec.NormalizedName == "" {
			continue
		}
		if strings.Contains(rec.NormalizedName, normalized) || strings.Contains(normalized, rec.NormalizedName) {
			return rec, PassSubstring, nil
		}
	}

	// Pass 3: token overlap. All records at the winning share count are
	// collected; a tie is an ambiguity, never an arbitrary pick.
	candTokens := slug.Tokens(normalized, m.minTokenLen)
	best := 0
	var tied []*stores.ProjectRecord
	for _, rec := range records {
		shared := slug.SharedTokens(candTokens, slug.Tokens(rec.NormalizedName, m.minTokenLen))
		if shared < m.minShared {
			continue
		}
		switch {
		case shared > best:
			best = shared
			tied = []*stores.ProjectRecord{rec}
		case shared == best:
			tied = append(tied, rec)
		}
	}

	switch len(tied) {
	case 0:
		return nil, "", nil
	case 1:
		return tied[0], PassTokens, nil
	default:
		names := make([]string, len(tied))
		for i, rec := range tied {
			names[i] = rec.NormalizedName
		}
		return nil, "", &AmbiguityError{Candidate: normalized, Matches: names}
	}
}
