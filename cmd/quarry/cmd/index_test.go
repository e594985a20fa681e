package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main"))
	writeFile(t, root, "internal/auth/token.go", []byte("package auth"))
	writeFile(t, root, ".git/config", []byte("ignored"))
	writeFile(t, root, "node_modules/pkg/index.js", []byte("ignored"))
	writeFile(t, root, ".hidden", []byte("ignored"))

	files, paths, err := collectFiles(root)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.ElementsMatch(t, []string{"main.go", "internal/auth/token.go"}, paths)
	for _, f := range files {
		assert.NotEmpty(t, f.Content)
	}
}

func TestCollectFilesUsesSlashPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/b/c.go", []byte("package c"))

	_, paths, err := collectFiles(root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "a/b/c.go", paths[0])
}
