package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRe captures identifier-shaped runs; punctuation and operators
// separate tokens.
var wordRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Tokenize splits text with code-aware rules: identifiers split on
// underscores and case boundaries, everything lowercased, tokens
// shorter than two characters dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRe.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitIdentifier breaks snake_case and camelCase identifiers into
// their components. Acronym runs stay together: "parseHTTPRequest"
// yields parse, HTTP, Request.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, splitCamel(p)...)
			}
		}
		return parts
	}
	return splitCamel(token)
}

func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	var current strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevLower || nextLower) && current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// queryStopwords are tokens too common in code to discriminate.
var queryStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"func": {}, "function": {}, "def": {}, "return": {}, "import": {},
	"package": {}, "class": {}, "var": {}, "let": {}, "const": {},
	"int": {}, "string": {}, "bool": {}, "nil": {}, "null": {},
	"true": {}, "false": {}, "new": {}, "self": {}, "err": {},
}
