package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyQueryTypes(t *testing.T) {
	tests := []struct {
		query string
		want  QueryType
	}{
		{"ValidateToken", QueryTypeCode},
		{"func (s *Server) handleRequest", QueryTypeCode},
		{"auth/token.go", QueryTypeCode},
		{"parse_config error", QueryTypeCode},
		{"how do I configure logging for the server", QueryTypeNatural},
		{"what is the retry policy when jobs fail", QueryTypeNatural},
		{"parse config file", QueryTypeHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c := Classify(tt.query)
			assert.Equal(t, tt.want, c.Type, "score=%v signals=%v", c.Score, c.Signals)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	a := Classify("func handleRequest in server.go")
	b := Classify("func handleRequest in server.go")
	assert.Equal(t, a, b)
}

func TestClassifyScoreBounds(t *testing.T) {
	queries := []string{
		"", "x", "how why what when", "(){}[]=><-&&||",
		"implement a durable queue with retries in go please and thanks",
	}
	for _, q := range queries {
		c := Classify(q)
		assert.GreaterOrEqual(t, c.Score, 0.0, q)
		assert.LessOrEqual(t, c.Score, 1.0, q)
		assert.GreaterOrEqual(t, c.Confidence, 0.0, q)
		assert.LessOrEqual(t, c.Confidence, 1.0, q)
	}
}

func TestClassifyEmptyQueryIsHybrid(t *testing.T) {
	c := Classify("   ")
	assert.Equal(t, QueryTypeHybrid, c.Type)
	assert.Equal(t, 0.5, c.Score)
}

func TestClassifyConfidenceByType(t *testing.T) {
	code := Classify("func ValidateToken auth.go")
	assert.Equal(t, QueryTypeCode, code.Type)
	assert.Equal(t, code.Score, code.Confidence)

	natural := Classify("why does the request keep timing out here")
	assert.Equal(t, QueryTypeNatural, natural.Type)
	assert.InDelta(t, 1-natural.Score, natural.Confidence, 1e-9)
}

func TestClassifySignalNames(t *testing.T) {
	c := Classify("fix auth/token.go")
	assert.Contains(t, c.Signals, "path")
	assert.Contains(t, c.Signals, "file_extension")
}
