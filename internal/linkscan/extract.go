// Package linkscan finds URL candidates in free-form message text.
//
// A candidate is "http://" or "https://" followed by one or more
// non-whitespace characters. Candidates are returned in order of appearance
// and repeated URLs are kept, one entry per occurrence.
package linkscan

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// trailingPunct is stripped from candidates when TrimTrailingPunctuation is set.
const trailingPunct = ".,;:!?)]}'\""

// Extractor scans text for URL candidates.
type Extractor struct {
	// TrimTrailingPunctuation drops sentence punctuation glued to the end of
	// a URL ("see https://a.io/x." yields "https://a.io/x"). Off by default:
	// a match then runs greedily up to the next whitespace.
	TrimTrailingPunctuation bool
}

// New returns an extractor with the given boundary policy.
func New(trimTrailingPunct bool) *Extractor {
	return &Extractor{TrimTrailingPunctuation: trimTrailingPunct}
}

// Extract returns every candidate in text, in discovery order. The result is
// never nil; no match yields an empty slice.
func (e *Extractor) Extract(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if e != nil && e.TrimTrailingPunctuation {
			m = strings.TrimRight(m, trailingPunct)
			if !hasBody(m) {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// hasBody reports whether anything follows the scheme separator.
func hasBody(s string) bool {
	i := strings.Index(s, "://")
	return i >= 0 && len(s) > i+3
}
