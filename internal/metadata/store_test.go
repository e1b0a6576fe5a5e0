package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestReserveExclusiveCreate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Reserve("app-1"))
	err := s.Reserve("app-1")
	assert.Error(t, err)
}

func TestReserveRejectsInvalidID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Reserve("app/1"))
	assert.Error(t, s.Reserve(""))
}

func TestReadAbsentReturnsNotOK(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Read("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateMergePreservesUntouchedKeysAndRemovesEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Reserve("app-1"))
	require.NoError(t, s.UpdateMerge("app-1", map[string]string{"status": "spawning", "branch": "feat/x"}))
	require.NoError(t, s.UpdateMerge("app-1", map[string]string{"status": "working"}))

	got, ok, err := s.Read("app-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "working", got["status"])
	assert.Equal(t, "feat/x", got["branch"])

	require.NoError(t, s.UpdateMerge("app-1", map[string]string{"branch": ""}))
	got, _, err = s.Read("app-1")
	require.NoError(t, err)
	_, present := got["branch"]
	assert.False(t, present)
}

func TestArchiveMovesFileOutOfSessionsDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Reserve("app-1"))
	require.NoError(t, s.Archive("app-1"))

	_, ok, err := s.Read("app-1")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := filepathGlob(s.root)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func filepathGlob(root string) ([]string, error) {
	return filepath.Glob(filepath.Join(root, "sessions", "archive", "app-1.*"))
}

func TestListReturnsOnlyValidSortedIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Reserve("app-2"))
	require.NoError(t, s.Reserve("app-10"))
	require.NoError(t, s.Reserve("app-1"))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1", "app-10", "app-2"}, ids)
}

func TestRootForIsStableAndContentAddressed(t *testing.T) {
	a := RootFor("/base", "/etc/ao/config.yaml")
	b := RootFor("/base", "/etc/ao/config.yaml")
	c := RootFor("/base", "/etc/ao/other.yaml")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestUpdateMergeRoundTripStable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Reserve("app-1"))
	patch := map[string]string{"status": "working", "pr": "https://example.com/pull/7"}
	require.NoError(t, s.UpdateMerge("app-1", patch))
	got1, _, err := s.Read("app-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateMerge("app-1", patch))
	got2, _, err := s.Read("app-1")
	require.NoError(t, err)
	assert.Equal(t, got1, got2)
}
