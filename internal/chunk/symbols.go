package chunk

import "regexp"

// identRe matches identifier-shaped tokens across the supported
// languages.
var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// stopwords are reserved words and ubiquitous tokens that carry no
// retrieval signal as symbols.
var stopwords = map[string]struct{}{
	// shared
	"if": {}, "else": {}, "for": {}, "while": {}, "return": {},
	"break": {}, "continue": {}, "true": {}, "false": {}, "nil": {},
	"null": {}, "new": {}, "this": {}, "self": {}, "in": {}, "not": {},
	"and": {}, "or": {}, "class": {}, "import": {}, "from": {},
	"try": {}, "catch": {}, "finally": {}, "throw": {}, "switch": {},
	"case": {}, "default": {}, "static": {}, "public": {}, "private": {},
	"protected": {}, "void": {}, "int": {}, "float": {}, "bool": {},
	"string": {}, "let": {}, "var": {}, "const": {}, "func": {},
	"function": {}, "def": {}, "lambda": {}, "async": {}, "await": {},
	"yield": {}, "none": {}, "None": {}, "True": {}, "False": {},
	// go
	"package": {}, "type": {}, "struct": {}, "interface": {},
	"chan": {}, "map": {}, "range": {}, "defer": {}, "select": {},
	"fallthrough": {}, "goto": {}, "error": {}, "byte": {}, "rune": {},
	"int32": {}, "int64": {}, "uint32": {}, "uint64": {}, "float32": {},
	"float64": {}, "make": {}, "len": {}, "cap": {}, "append": {},
	// python
	"elif": {}, "pass": {}, "with": {}, "raise": {}, "except": {},
	"global": {}, "nonlocal": {}, "assert": {}, "del": {}, "print": {},
	// rust
	"impl": {}, "trait": {}, "enum": {}, "match": {}, "mut": {},
	"pub": {}, "use": {}, "mod": {}, "crate": {}, "where": {},
	// js/ts
	"export": {}, "extends": {}, "implements": {}, "typeof": {},
	"instanceof": {}, "undefined": {}, "delete": {}, "require": {},
	"module": {}, "exports": {}, "number": {}, "boolean": {}, "any": {},
	"unknown": {}, "never": {}, "readonly": {}, "declare": {},
}

// extractSymbols returns deduplicated identifier tokens from content,
// excluding stopwords. When nodeSymbol is non-empty it is first and
// counted toward the dedupe set.
func extractSymbols(content, nodeSymbol string, limit int) []string {
	seen := make(map[string]struct{})
	var symbols []string

	add := func(tok string) {
		if _, stop := stopwords[tok]; stop {
			return
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		symbols = append(symbols, tok)
	}

	if nodeSymbol != "" {
		add(nodeSymbol)
	}
	for _, tok := range identRe.FindAllString(content, -1) {
		if limit > 0 && len(symbols) >= limit {
			break
		}
		add(tok)
	}
	return symbols
}
