package bptree

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fenglin-Zhou/bustub/core/catalog"
	"github.com/fenglin-Zhou/bustub/core/storage"
)

func newTestTree(t *testing.T, poolSize, leafMaxSize, internalMaxSize int) *BPlusTree[Key8] {
	t.Helper()
	dir := t.TempDir()
	disk, err := storage.NewDiskManager(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	bpm := storage.NewBufferPoolManager(poolSize, disk, nil, nil, nil)
	cat, err := catalog.Open(bpm, true)
	require.NoError(t, err)

	return Open("t", bpm, cat, Key8Codec, leafMaxSize, internalMaxSize, nil)
}

func TestEmptyTreeHasNoValue(t *testing.T) {
	tree := newTestTree(t, 16, 5, 5)
	require.True(t, tree.IsEmpty())

	_, ok, err := tree.GetValue(NewKey8(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertThenGetValue(t *testing.T) {
	tree := newTestTree(t, 16, 5, 5)
	require.NoError(t, tree.Insert(NewKey8(10), RID{PageID: 10, Slot: 0}))
	require.False(t, tree.IsEmpty())

	rid, ok, err := tree.GetValue(NewKey8(10))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RID{PageID: 10, Slot: 0}, rid)
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	tree := newTestTree(t, 16, 5, 5)
	require.NoError(t, tree.Insert(NewKey8(1), RID{PageID: 1}))
	err := tree.Insert(NewKey8(1), RID{PageID: 2})
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestLeafSplitsExactlyAtMaxSize(t *testing.T) {
	// leafMaxSize 3: the third insert must grow the tree past a single
	// leaf, per spec's "split when size == max_size" convention.
	tree := newTestTree(t, 32, 3, 3)
	require.NoError(t, tree.Insert(NewKey8(1), RID{PageID: 1}))
	require.NoError(t, tree.Insert(NewKey8(2), RID{PageID: 2}))

	rootBefore := tree.rootID
	require.NoError(t, tree.Insert(NewKey8(3), RID{PageID: 3}))
	require.NotEqual(t, rootBefore, tree.rootID, "a new internal root should have been created on split")

	for _, k := range []int64{1, 2, 3} {
		rid, ok, err := tree.GetValue(NewKey8(k))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, storage.PageID(k), rid.PageID)
	}
}

func TestInsertLookup1000RandomKeys(t *testing.T) {
	tree := newTestTree(t, 64, 5, 5)

	keys := rand.New(rand.NewSource(1)).Perm(1000)
	for _, k := range keys {
		require.NoError(t, tree.Insert(NewKey8(int64(k)), RID{PageID: storage.PageID(k)}))
	}
	for _, k := range keys {
		rid, ok, err := tree.GetValue(NewKey8(int64(k)))
		require.NoError(t, err)
		require.True(t, ok, "key %d should be found", k)
		require.Equal(t, storage.PageID(k), rid.PageID)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var seen []int64
	for it.Valid() {
		seen = append(seen, it.Key().Int64())
		it.Next()
	}
	require.Len(t, seen, 1000)
	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i], "iteration must yield keys in strictly increasing order")
	}
}

func TestBeginAtStartsFromKey(t *testing.T) {
	tree := newTestTree(t, 32, 4, 4)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		require.NoError(t, tree.Insert(NewKey8(k), RID{PageID: storage.PageID(k)}))
	}

	it, err := tree.BeginAt(NewKey8(25))
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	require.Equal(t, int64(30), it.Key().Int64())
}

func TestRemoveNonexistentKeyIsNoOp(t *testing.T) {
	tree := newTestTree(t, 16, 5, 5)
	require.NoError(t, tree.Insert(NewKey8(1), RID{PageID: 1}))
	require.NoError(t, tree.Remove(NewKey8(99)))

	_, ok, err := tree.GetValue(NewKey8(1))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveLastKeyEmptiesTheTree(t *testing.T) {
	tree := newTestTree(t, 16, 5, 5)
	require.NoError(t, tree.Insert(NewKey8(1), RID{PageID: 1}))
	require.NoError(t, tree.Remove(NewKey8(1)))
	require.True(t, tree.IsEmpty())
}

func TestInsertThenRemoveManyKeepsConsistency(t *testing.T) {
	tree := newTestTree(t, 64, 4, 4)

	perm := rand.New(rand.NewSource(2)).Perm(200)
	for _, k := range perm {
		require.NoError(t, tree.Insert(NewKey8(int64(k)), RID{PageID: storage.PageID(k)}))
	}

	// Remove every other key, forcing leaf underflow, redistribution and
	// coalescing across most of the tree.
	removed := map[int64]bool{}
	for i, k := range perm {
		if i%2 == 0 {
			require.NoError(t, tree.Remove(NewKey8(int64(k))))
			removed[int64(k)] = true
		}
	}

	for _, k := range perm {
		_, ok, err := tree.GetValue(NewKey8(int64(k)))
		require.NoError(t, err)
		if removed[int64(k)] {
			require.False(t, ok, "key %d should have been removed", k)
		} else {
			require.True(t, ok, "key %d should still be present", k)
		}
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()
	var count int
	var last int64 = -1
	for it.Valid() {
		require.Greater(t, it.Key().Int64(), last)
		last = it.Key().Int64()
		count++
		it.Next()
	}
	require.Equal(t, 100, count)
}

func TestConcurrentInsertAndGetValue(t *testing.T) {
	tree := newTestTree(t, 64, 5, 5)

	const n = 300
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(k int64) {
			defer wg.Done()
			require.NoError(t, tree.Insert(NewKey8(k), RID{PageID: storage.PageID(k)}))
		}(int64(i))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		rid, ok, err := tree.GetValue(NewKey8(int64(i)))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, storage.PageID(i), rid.PageID)
	}
}
