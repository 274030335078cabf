package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fenglin-Zhou/bustub/core/storage"
)

func newTestBPM(t *testing.T) *storage.BufferPoolManager {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.NewDiskManager(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })
	return storage.NewBufferPoolManager(8, disk, nil, nil, nil)
}

func TestFreshCatalogAllocatesHeaderPage(t *testing.T) {
	bpm := newTestBPM(t)
	cat, err := Open(bpm, true)
	require.NoError(t, err)

	_, ok := cat.RootPageID("does-not-exist")
	require.False(t, ok)

	require.NoError(t, cat.InsertRecord("primary", storage.PageID(3)))
	id, ok := cat.RootPageID("primary")
	require.True(t, ok)
	require.Equal(t, storage.PageID(3), id)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.NewDiskManager(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)

	bpm := storage.NewBufferPoolManager(8, disk, nil, nil, nil)
	cat, err := Open(bpm, true)
	require.NoError(t, err)
	require.NoError(t, cat.InsertRecord("primary", storage.PageID(7)))
	require.NoError(t, bpm.FlushAllPages())
	require.NoError(t, disk.Close())

	disk2, err := storage.NewDiskManager(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { disk2.Close() })
	bpm2 := storage.NewBufferPoolManager(8, disk2, nil, nil, nil)
	cat2, err := Open(bpm2, false)
	require.NoError(t, err)

	id, ok := cat2.RootPageID("primary")
	require.True(t, ok)
	require.Equal(t, storage.PageID(7), id)
}

func TestUpdateRecordOverwritesRoot(t *testing.T) {
	bpm := newTestBPM(t)
	cat, err := Open(bpm, true)
	require.NoError(t, err)

	require.NoError(t, cat.InsertRecord("primary", storage.PageID(1)))
	require.NoError(t, cat.UpdateRecord("primary", storage.PageID(2)))

	id, ok := cat.RootPageID("primary")
	require.True(t, ok)
	require.Equal(t, storage.PageID(2), id)
}
