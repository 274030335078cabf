package bptree

import "github.com/fenglin-Zhou/bustub/core/storage"

// Iterator walks leaves left to right in key order. It holds exactly one
// leaf pinned and read-latched at a time, advancing to the next leaf via
// its next-page link once it exhausts the current one, and releasing each
// leaf the moment it moves past it.
type Iterator[K any] struct {
	tree  *BPlusTree[K]
	frame *storage.Frame
	leaf  *LeafNode[K]
	idx   int
	done  bool
}

// Begin returns an iterator positioned at the first entry in the tree.
func (t *BPlusTree[K]) Begin() (*Iterator[K], error) {
	t.rootIDLatch.RLock()
	rootID := t.rootID
	if rootID == storage.InvalidPageID {
		t.rootIDLatch.RUnlock()
		return &Iterator[K]{done: true}, nil
	}
	frame, err := t.findLeafFrameFromRoot(rootID, t.codec.Zero, true)
	t.rootIDLatch.RUnlock()
	if err != nil {
		return nil, wrapOOM(err)
	}
	it := &Iterator[K]{tree: t, frame: frame, leaf: LoadLeaf(frame, t.codec)}
	it.skipEmptyLeaves()
	return it, nil
}

// BeginAt returns an iterator positioned at the first entry with a key
// greater than or equal to key.
func (t *BPlusTree[K]) BeginAt(key K) (*Iterator[K], error) {
	t.rootIDLatch.RLock()
	rootID := t.rootID
	if rootID == storage.InvalidPageID {
		t.rootIDLatch.RUnlock()
		return &Iterator[K]{done: true}, nil
	}
	frame, err := t.findLeafFrameFromRoot(rootID, key, false)
	t.rootIDLatch.RUnlock()
	if err != nil {
		return nil, wrapOOM(err)
	}
	leaf := LoadLeaf(frame, t.codec)
	it := &Iterator[K]{tree: t, frame: frame, leaf: leaf, idx: leaf.keyIndex(key)}
	it.skipEmptyLeaves()
	return it, nil
}

// End returns an already-exhausted iterator, useful as a sentinel value.
// Go has no operator overloading, so callers compare with it.Valid()
// rather than against the sentinel directly.
func (t *BPlusTree[K]) End() *Iterator[K] { return &Iterator[K]{done: true} }

// skipEmptyLeaves advances past the current leaf, following next-page
// links, until it lands on a non-exhausted leaf or runs out of leaves.
func (it *Iterator[K]) skipEmptyLeaves() {
	for !it.done && it.idx >= it.leaf.Size() {
		next := it.leaf.NextPageID()
		it.release()
		if next == storage.InvalidPageID {
			it.done = true
			return
		}
		frame, err := it.tree.bpm.FetchPage(next)
		if err != nil {
			it.done = true
			return
		}
		frame.RLock()
		it.frame = frame
		it.leaf = LoadLeaf(frame, it.tree.codec)
		it.idx = 0
	}
}

func (it *Iterator[K]) release() {
	if it.frame == nil {
		return
	}
	it.frame.RUnlock()
	_ = it.tree.bpm.UnpinPage(it.frame.PageID(), false)
	it.frame = nil
	it.leaf = nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator[K]) Valid() bool { return !it.done }

// Key returns the current entry's key. Valid must be true.
func (it *Iterator[K]) Key() K { return it.leaf.KeyAt(it.idx) }

// Value returns the current entry's RID. Valid must be true.
func (it *Iterator[K]) Value() RID { return it.leaf.RIDAt(it.idx) }

// Next advances to the following entry.
func (it *Iterator[K]) Next() {
	if it.done {
		return
	}
	it.idx++
	it.skipEmptyLeaves()
}

// Close releases the iterator's held leaf, if any. Safe to call multiple
// times, and safe to skip once the iterator has run to completion (Next
// already released the last leaf in that case).
func (it *Iterator[K]) Close() {
	it.release()
	it.done = true
}
