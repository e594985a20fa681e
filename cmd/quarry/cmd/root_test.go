package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "quarry")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "worker")
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "quarry version "+version.Version)
}

func TestVersionCommandShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go_version"`)
}

func TestSearchRejectsBadRerankFlag(t *testing.T) {
	_, err := execute(t, "search", "query", "--rerank", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--rerank must be auto, on, or off")
}

func TestDeleteRequiresPathOrPrefix(t *testing.T) {
	_, err := execute(t, "delete", "--store", "repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one path or --prefix")
}

func TestIndexRejectsForceWithReindex(t *testing.T) {
	_, err := execute(t, "index", "repo", ".", "--force", "--reindex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
