// Package slug provides deterministic name normalization for project identity.
// The same normalization is used for loose equality matching and for deriving
// deployment hostnames, so the output is always a valid DNS label.
package slug

import (
	"strings"
)

// Normalize converts a display name into its canonical slug form.
// Lower-cases, maps "&" to "and", drops apostrophes and other special
// characters, and collapses whitespace and repeated separators into single
// hyphens. Normalize is total: it never fails, and symbol-only input yields
// an empty string, which callers must treat as unmatchable. It is also
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '\'', r == '’':
			// Apostrophes are dropped entirely so "Cristy's" becomes "cristys".
		case r == ' ', r == '\t', r == '\n', r == '-', r == '_', r == '.', r == '/':
			b.WriteByte('-')
		default:
			// Any other symbol acts as a separator rather than vanishing,
			// so "a+b" and "ab" normalize differently.
			b.WriteByte('-')
		}
	}

	return collapseHyphens(b.String())
}

// collapseHyphens squeezes runs of hyphens and trims them from both ends.
func collapseHyphens(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevHyphen := false
	for _, r := range s {
		if r == '-' {
			prevHyphen = true
			continue
		}
		if prevHyphen && b.Len() > 0 {
			b.WriteByte('-')
		}
		prevHyphen = false
		b.WriteRune(r)
	}
	return b.String()
}

// Tokens splits a normalized name into its hyphen-separated tokens, keeping
// only tokens longer than minLen runes. Used by fuzzy matching, where short
// tokens like "s" or "co" carry no identity signal.
func Tokens(normalized string, minLen int) []string {
	parts := strings.Split(normalized, "-")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > minLen {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// SharedTokens returns the number of distinct tokens present in both token
// sets.
func SharedTokens(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return shared
}
