package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrysearch/quarry/internal/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestValidateStoreName(t *testing.T) {
	assert.NoError(t, ValidateStoreName("my-project_2"))
	assert.Error(t, ValidateStoreName(""))
	assert.Error(t, ValidateStoreName("has space"))
	assert.Error(t, ValidateStoreName("dots.are.bad"))
	assert.Error(t, ValidateStoreName("slash/bad"))
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)

	created, err := r.Create("docs", "documentation corpus")
	require.NoError(t, err)
	assert.Equal(t, "docs", created.Name)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := r.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, "documentation corpus", got.Description)
}

func TestRegistryGetUnknownIsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryListSorted(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("zeta", "")
	require.NoError(t, err)
	_, err = r.Create("alpha", "")
	require.NoError(t, err)

	stores, err := r.List()
	require.NoError(t, err)
	require.Len(t, stores, 2)
	assert.Equal(t, "alpha", stores[0].Name)
	assert.Equal(t, "zeta", stores[1].Name)
}

func TestRegistryPersists(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	require.NoError(t, err)
	_, err = r.Create("docs", "persisted")
	require.NoError(t, err)

	r2, err := NewRegistry(dir)
	require.NoError(t, err)
	got, err := r2.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Description)
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("docs", "")
	require.NoError(t, err)

	require.NoError(t, r.Remove("docs"))
	assert.True(t, errors.IsNotFound(r.Remove("docs")))
}
