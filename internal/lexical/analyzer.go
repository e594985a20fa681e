package lexical

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

// codeTokenizer adapts Tokenize to bleve's analysis pipeline.
type codeTokenizer struct{}

func newCodeTokenizer(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	stream := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		// Best-effort offsets: find the token after the previous one.
		// Case differs from the source for split identifiers, so search
		// case-insensitively and fall back to the cursor.
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		stream = append(stream, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return stream
}

// codeStopFilter drops tokens from queryStopwords.
type codeStopFilter struct{}

func newCodeStopFilter(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{}, nil
}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, stop := queryStopwords[strings.ToLower(string(token.Term))]; !stop {
			out = append(out, token)
		}
	}
	return out
}
