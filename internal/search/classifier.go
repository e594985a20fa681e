package search

import (
	"math"
	"regexp"
	"strings"
)

// Classification thresholds. Scores start at 0.5 and move toward 1.0
// on code signals, toward 0.0 on natural-language signals.
const (
	codeThreshold    = 0.6
	naturalThreshold = 0.3
)

var codeKeywords = map[string]struct{}{
	"func": {}, "def": {}, "fn": {}, "class": {}, "struct": {},
	"interface": {}, "impl": {}, "enum": {}, "trait": {}, "return": {},
	"import": {}, "package": {}, "const": {}, "var": {}, "let": {},
	"async": {}, "await": {}, "lambda": {}, "nil": {}, "null": {},
	"static": {}, "void": {}, "pub": {}, "type": {}, "err": {},
	"println": {}, "printf": {}, "panic": {}, "defer": {}, "goroutine": {},
}

var questionWords = map[string]struct{}{
	"what": {}, "how": {}, "why": {}, "where": {}, "when": {},
	"who": {}, "which": {}, "is": {}, "are": {}, "can": {},
	"does": {}, "do": {}, "should": {},
}

var commonVerbs = map[string]struct{}{
	"find": {}, "show": {}, "list": {}, "explain": {}, "describe": {},
	"create": {}, "make": {}, "get": {}, "use": {}, "want": {},
	"need": {}, "help": {}, "tell": {}, "give": {},
}

var (
	fileExtRe   = regexp.MustCompile(`\b[\w\-]+\.[a-zA-Z]{1,5}\b`)
	pathRe      = regexp.MustCompile(`(?:\./|/|\\)?[\w\-.]+(?:[/\\][\w\-.]+)+`)
	camelCaseRe = regexp.MustCompile(`[a-z][A-Z]`)
	snakeCaseRe = regexp.MustCompile(`[a-z0-9]_[a-z0-9]`)
)

// symbolChars are the characters counted toward symbol density.
const symbolChars = "(){}[].:;=<>!&|"

// Classify scores a normalized query deterministically and maps the
// score to a query type with a confidence.
func Classify(query string) Classification {
	query = Normalize(query)
	if query == "" {
		return Classification{Type: QueryTypeHybrid, Confidence: 1.0, Score: 0.5}
	}

	words := strings.Fields(query)
	lowerWords := make([]string, len(words))
	for i, w := range words {
		lowerWords[i] = strings.ToLower(strings.Trim(w, ".,!?;:"))
	}

	score := 0.5
	var signals []string

	// Symbol density.
	symbolCount := 0
	for _, r := range query {
		if strings.ContainsRune(symbolChars, r) {
			symbolCount++
		}
	}
	symbolCount += strings.Count(query, "=>") + strings.Count(query, "->")
	if symbolCount > 0 {
		density := float64(symbolCount) / float64(len(query))
		score += math.Min(0.2, density*0.4)
		signals = append(signals, "symbols")
	}

	// Code keywords.
	keywordCount := 0
	for _, w := range lowerWords {
		if _, ok := codeKeywords[w]; ok {
			keywordCount++
		}
	}
	if keywordCount > 0 {
		score += math.Min(0.15, float64(keywordCount)*0.05)
		signals = append(signals, "keywords")
	}

	hasExt := fileExtRe.MatchString(query)
	if hasExt {
		score += 0.15
		signals = append(signals, "file_extension")
	}

	hasPath := pathRe.MatchString(query)
	if hasPath {
		score += 0.15
		signals = append(signals, "path")
	}

	hasCase := camelCaseRe.MatchString(query) || snakeCaseRe.MatchString(query)
	if hasCase {
		score += 0.10
		signals = append(signals, "identifier_case")
	}

	if n := len(words); n >= 1 && n <= 3 {
		score += 0.10
		signals = append(signals, "short_query")
	} else if n >= 5 {
		score -= 0.15
		signals = append(signals, "long_query")
	}

	if len(lowerWords) > 0 {
		if _, ok := questionWords[lowerWords[0]]; ok {
			score -= 0.20
			signals = append(signals, "question_word")
		}
	}

	hasVerb := false
	for _, w := range lowerWords {
		if _, ok := commonVerbs[w]; ok {
			hasVerb = true
			break
		}
	}
	if hasVerb {
		score -= 0.10
		signals = append(signals, "common_verb")
	}

	if symbolCount == 0 && keywordCount == 0 && !hasExt && !hasPath && !hasCase {
		score -= 0.10
		signals = append(signals, "no_code_signals")
	}

	score = math.Max(0, math.Min(1, score))

	c := Classification{Score: score, Signals: signals}
	switch {
	case score >= codeThreshold:
		c.Type = QueryTypeCode
		c.Confidence = score
	case score <= naturalThreshold:
		c.Type = QueryTypeNatural
		c.Confidence = 1 - score
	default:
		c.Type = QueryTypeHybrid
		c.Confidence = 1 - 2*math.Abs(score-0.5)
	}
	return c
}
