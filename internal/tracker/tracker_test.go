package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestHashTruncated(t *testing.T) {
	h := Hash([]byte("package main\n"))
	assert.Len(t, h, 16)
	assert.Equal(t, h, Hash([]byte("package main\n")))
	assert.NotEqual(t, h, Hash([]byte("package main")))
}

func TestCheckFilesPartitions(t *testing.T) {
	tr := newTestTracker(t)

	contents := map[string][]byte{
		"a.go": []byte("alpha"),
		"b.go": []byte("beta"),
		"c.go": []byte("gamma"),
	}
	require.NoError(t, tr.Track("docs", "a.go", contents["a.go"], []string{"a.go#0#1"}))
	require.NoError(t, tr.Track("docs", "b.go", []byte("old beta"), []string{"b.go#0#1"}))

	result, err := tr.CheckFiles("docs", []string{"a.go", "b.go", "c.go"}, contents)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.go"}, result.New)
	assert.Equal(t, []string{"b.go"}, result.Changed)
	assert.Equal(t, []string{"a.go"}, result.Unchanged)
}

func TestTrackPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	tr, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, tr.Track("docs", "a.go", []byte("alpha"), []string{"a.go#0#x", "a.go#1#y"}))
	require.NoError(t, tr.Close())

	tr2, err := New(dir)
	require.NoError(t, err)
	defer func() { _ = tr2.Close() }()

	changed, err := tr2.HasFileChanged("docs", "a.go", []byte("alpha"))
	require.NoError(t, err)
	assert.False(t, changed)

	files, err := tr2.TrackedFiles("docs")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []string{"a.go#0#x", "a.go#1#y"}, files[0].ChunkIDs)
	assert.Equal(t, int64(5), files[0].Size)
}

func TestUntrackReturnsChunkIDs(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Track("docs", "a.go", []byte("alpha"), []string{"id1", "id2"}))

	ids, err := tr.Untrack("docs", "a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"id1", "id2"}, ids)

	// Untracking an unknown path is a no-op.
	ids, err = tr.Untrack("docs", "a.go")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUntrackByPrefix(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Track("docs", "src/a.go", []byte("a"), []string{"id1"}))
	require.NoError(t, tr.Track("docs", "src/b.go", []byte("b"), []string{"id2"}))
	require.NoError(t, tr.Track("docs", "lib/c.go", []byte("c"), []string{"id3"}))

	ids, err := tr.UntrackByPrefix("docs", "src/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id1", "id2"}, ids)

	files, err := tr.TrackedFiles("docs")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "lib/c.go", files[0].Path)
}

func TestFindDeleted(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Track("docs", "a.go", []byte("a"), nil))
	require.NoError(t, tr.Track("docs", "b.go", []byte("b"), nil))

	deleted, err := tr.FindDeleted("docs", []string{"b.go", "new.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, deleted)
}

func TestStoresAreIsolated(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Track("alpha", "a.go", []byte("a"), []string{"id1"}))

	changed, err := tr.HasFileChanged("beta", "a.go", []byte("a"))
	require.NoError(t, err)
	assert.True(t, changed, "tracking state must not leak across stores")
}

func TestClear(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Track("docs", "a.go", []byte("a"), []string{"id1"}))
	require.NoError(t, tr.Clear("docs"))

	files, err := tr.TrackedFiles("docs")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	require.NoError(t, tr.Track("docs", "a.go", []byte("a"), nil))

	// No temp files linger, and the doc parses standalone.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}

	data, err := os.ReadFile(filepath.Join(dir, "docs.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "docs", doc["store"])
}

func TestSecondProcessIsRejected(t *testing.T) {
	dir := t.TempDir()
	tr, err := New(dir)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	_, err = New(dir)
	require.Error(t, err, "tracking dir must be single-owner")
}
