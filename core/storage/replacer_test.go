package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUReplacerVictimOrder(t *testing.T) {
	r := NewLRUReplacer(4)

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	// 1 was unpinned first, so it is the least-recently-unpinned and the
	// first victim.
	id, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(1), id)

	id, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)

	require.Equal(t, 1, r.Size())
}

func TestLRUReplacerPinRemovesFromVictimPool(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)

	r.Pin(1)
	require.Equal(t, 1, r.Size())

	id, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)
}

func TestLRUReplacerVictimOnEmptyReturnsFalse(t *testing.T) {
	r := NewLRUReplacer(4)
	_, ok := r.Victim()
	require.False(t, ok)
}

func TestLRUReplacerUnpinIsIdempotent(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(1)
	require.Equal(t, 1, r.Size())
}

func TestLRUReplacerRepinMovesToFront(t *testing.T) {
	r := NewLRUReplacer(4)
	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	// Pin and unpin 1 again: it should now be the most-recently-unpinned,
	// so 2 becomes the next victim instead of 1.
	r.Pin(1)
	r.Unpin(1)

	id, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, FrameID(2), id)
}
