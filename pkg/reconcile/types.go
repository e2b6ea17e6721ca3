package reconcile

import (
	"fmt"
	"strings"
)

// SourceRecord is one project candidate found in a reconciliation source.
// Both sources — the local directory scan and the external listing — reduce
// to this shape; parsing any particular external format stays in its
// adapter.
type SourceRecord struct {
	// Name is the project name as the source spells it.
	Name string `yaml:"name"`

	// FrontendURL and AdminURL are the source's deployed URLs, when it
	// knows them. Empty values are derived from the normalized name.
	FrontendURL string `yaml:"frontend_url,omitempty"`
	AdminURL    string `yaml:"admin_url,omitempty"`

	// Industry is the project's industry label, when known.
	Industry string `yaml:"industry,omitempty"`

	// Metadata is opaque source metadata carried into the record's
	// metadata blob (generator, bundles, module counts).
	Metadata map[string]any `yaml:"metadata,omitempty"`

	// Provenance names the source this candidate came from
	// ("local-scan" or "external-listing").
	Provenance string `yaml:"-"`
}

// MatchPass identifies which matching pass produced a decision.
type MatchPass string

const (
	PassExact     MatchPass = "exact"
	PassSubstring MatchPass = "substring"
	PassTokens    MatchPass = "tokens"
)

// DecisionKind classifies what the engine did with one candidate.
type DecisionKind string

const (
	DecisionMatched   DecisionKind = "matched"
	DecisionUpdated   DecisionKind = "updated"
	DecisionInserted  DecisionKind = "inserted"
	DecisionSkipped   DecisionKind = "skipped"
	DecisionAmbiguous DecisionKind = "ambiguous"
	DecisionErrored   DecisionKind = "errored"
)

// Decision records one candidate's outcome with both name forms, because
// fuzzy matching can misfire and must be reviewable afterwards.
type Decision struct {
	// Candidate is the source name.
	Candidate string `json:"candidate"`

	// Normalized is the candidate's normalized form.
	Normalized string `json:"normalized"`

	// Kind is what happened.
	Kind DecisionKind `json:"kind"`

	// MatchedName is the normalized name of the matched record, if any.
	MatchedName string `json:"matched_name,omitempty"`

	// Pass is the matching pass that fired, if any.
	Pass MatchPass `json:"pass,omitempty"`

	// Detail is a human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

// Summary aggregates a reconciliation run. Every operation prints it:
// matched vs inserted vs skipped vs errored is always distinguished.
type Summary struct {
	Matched   int `json:"matched"`
	Updated   int `json:"updated"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
	Ambiguous int `json:"ambiguous"`
	Errored   int `json:"errored"`

	Decisions []Decision `json:"decisions"`
}

// String renders the count line for CLI output.
func (s *Summary) String() string {
	return fmt.Sprintf("matched=%d updated=%d inserted=%d skipped=%d ambiguous=%d errored=%d",
		s.Matched, s.Updated, s.Inserted, s.Skipped, s.Ambiguous, s.Errored)
}

// record appends a decision and bumps its counter.
func (s *Summary) record(d Decision) {
	s.Decisions = append(s.Decisions, d)
	switch d.Kind {
	case DecisionMatched:
		s.Matched++
	case DecisionUpdated:
		s.Updated++
	case DecisionInserted:
		s.Inserted++
	case DecisionSkipped:
		s.Skipped++
	case DecisionAmbiguous:
		s.Ambiguous++
	case DecisionErrored:
		s.Errored++
	}
}

// AmbiguityError reports a token-overlap pass that found multiple equally
// plausible candidates. The engine never auto-resolves it by picking one;
// the candidate is logged and skipped for manual review.
type AmbiguityError struct {
	// Candidate is the normalized source name.
	Candidate string

	// Matches are the normalized names of the tied records.
	Matches []string
}

// Error implements the error interface.
func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("candidate %s matches multiple records equally: %s", e.Candidate, strings.Join(e.Matches, ", "))
}
