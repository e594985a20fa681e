package search

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize trims the query and collapses whitespace runs to single
// spaces. The classifier and every retrieval leg see this form.
func Normalize(query string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(query), " ")
}

// CacheKey derives the embedding-cache form of a query: normalized,
// lowercased, with trailing punctuation stripped so trivially restated
// queries share cache entries.
func CacheKey(query string) string {
	key := strings.ToLower(Normalize(query))
	return strings.TrimRight(key, ".,!?;:")
}
