package bptree

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fenglin-Zhou/bustub/core/catalog"
	"github.com/fenglin-Zhou/bustub/core/storage"
	"github.com/fenglin-Zhou/bustub/core/txn"
)

// ErrDuplicateKey is returned by Insert when key is already present; this
// tree enforces uniqueness.
var ErrDuplicateKey = errors.New("bptree: duplicate key")

// ErrOutOfMemory is returned when the buffer pool cannot supply a frame for
// a structural operation (allocating a new root, a split sibling, or just
// descending to a leaf) because every frame is pinned. It wraps
// storage.ErrBufferPoolFull.
var ErrOutOfMemory = errors.New("bptree: out of memory (buffer pool exhausted)")

// BPlusTree is a concurrent, crab-latched B+Tree index keyed by K, with RID
// values. One tree corresponds to one named entry in the catalog; its root
// page id is registered there and kept in sync on every structural change.
//
// Insert/StartNewTree/InsertIntoLeaf/Split/InsertIntoParent/FindLeafPage and
// the root-id update pattern follow the classic B+Tree shape. The delete
// side (Remove/CoalesceOrRedistribute/Redistribute/Coalesce/AdjustRoot) and
// the crab-latching descent protocol are bespoke here, informed by the
// working redistribute/merge code in
// _examples/ShubhamNegi4-DaemonDB/bplustree/deletion.go.
type BPlusTree[K any] struct {
	name  string
	bpm   *storage.BufferPoolManager
	cat   *catalog.Catalog
	codec KeyCodec[K]

	leafMaxSize     int
	internalMaxSize int

	rootIDLatch sync.RWMutex
	rootID      storage.PageID

	logger *zap.Logger
}

// Open attaches a BPlusTree named name to cat/bpm, resuming an existing
// root if the catalog already has one registered.
func Open[K any](name string, bpm *storage.BufferPoolManager, cat *catalog.Catalog, codec KeyCodec[K], leafMaxSize, internalMaxSize int, logger *zap.Logger) *BPlusTree[K] {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &BPlusTree[K]{
		name:            name,
		bpm:             bpm,
		cat:             cat,
		codec:           codec,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootID:          storage.InvalidPageID,
		logger:          logger,
	}
	if id, ok := cat.RootPageID(name); ok {
		t.rootID = id
	}
	return t
}

// IsEmpty reports whether the tree has no root yet.
func (t *BPlusTree[K]) IsEmpty() bool {
	t.rootIDLatch.RLock()
	defer t.rootIDLatch.RUnlock()
	return t.rootID == storage.InvalidPageID
}

func (t *BPlusTree[K]) minLeafSize() int { return t.leafMaxSize / 2 }

// minInternalSize is ceil(internalMaxSize/2): an internal node holds at
// least that many children, rounding up rather than down, since a floor
// here would under-fill internal nodes relative to a leaf's looser bound.
func (t *BPlusTree[K]) minInternalSize() int { return (t.internalMaxSize + 1) / 2 }

// ---- read path ----------------------------------------------------------

// GetValue looks up key. Reads never retain ancestor latches: a read is
// always "safe" in the crab-latching sense, so the parent is released the
// moment the child is latched.
func (t *BPlusTree[K]) GetValue(key K) (RID, bool, error) {
	t.rootIDLatch.RLock()
	rootID := t.rootID
	if rootID == storage.InvalidPageID {
		t.rootIDLatch.RUnlock()
		return RID{}, false, nil
	}
	cur, err := t.bpm.FetchPage(rootID)
	if err != nil {
		t.rootIDLatch.RUnlock()
		return RID{}, false, wrapOOM(err)
	}
	cur.RLock()
	t.rootIDLatch.RUnlock()

	for {
		if readPageType(cur.Data()) == pageTypeLeaf {
			leaf := LoadLeaf(cur, t.codec)
			rid, ok := leaf.Lookup(key)
			cur.RUnlock()
			_ = t.bpm.UnpinPage(cur.PageID(), false)
			return rid, ok, nil
		}
		internal := LoadInternal(cur, t.codec)
		childID := internal.Lookup(key)
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			cur.RUnlock()
			_ = t.bpm.UnpinPage(cur.PageID(), false)
			return RID{}, false, wrapOOM(err)
		}
		child.RLock()
		cur.RUnlock()
		_ = t.bpm.UnpinPage(cur.PageID(), false)
		cur = child
	}
}

// findLeafFrameFromRoot descends read-latched to the leaf owning key,
// without ever touching rootIDLatch — used by the iterator, which acquires
// rootIDLatch itself so it can also report whether the tree is empty.
func (t *BPlusTree[K]) findLeafFrameFromRoot(rootID storage.PageID, key K, leftMost bool) (*storage.Frame, error) {
	cur, err := t.bpm.FetchPage(rootID)
	if err != nil {
		return nil, err
	}
	cur.RLock()
	for {
		if readPageType(cur.Data()) == pageTypeLeaf {
			return cur, nil
		}
		internal := LoadInternal(cur, t.codec)
		var childID storage.PageID
		if leftMost {
			childID = internal.ChildAt(0)
		} else {
			childID = internal.Lookup(key)
		}
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			cur.RUnlock()
			_ = t.bpm.UnpinPage(cur.PageID(), false)
			return nil, err
		}
		child.RLock()
		cur.RUnlock()
		_ = t.bpm.UnpinPage(cur.PageID(), false)
		cur = child
	}
}

// ---- write-path latch crabbing ------------------------------------------

func (t *BPlusTree[K]) lockFrame(f *storage.Frame, mode txn.LatchMode) {
	if mode == txn.ModeRead {
		f.RLock()
	} else {
		f.Lock()
	}
}

// isSafe reports whether frame, under the given write mode, is guaranteed
// not to need its own parent modified as a result of the point operation
// about to happen somewhere below it: INSERT-safe is size < maxSize-1;
// DELETE-safe is size > minSize, with a leaf root always safe and an
// internal root safe once it has more than two children.
func (t *BPlusTree[K]) isSafe(frame *storage.Frame, mode txn.LatchMode) bool {
	isRoot := frame.PageID() == t.rootID
	if readPageType(frame.Data()) == pageTypeLeaf {
		leaf := LoadLeaf(frame, t.codec)
		switch mode {
		case txn.ModeInsert:
			return leaf.Size() < leaf.MaxSize()-1
		case txn.ModeDelete:
			if isRoot {
				return true
			}
			return leaf.Size() > t.minLeafSize()
		default:
			return true
		}
	}
	internal := LoadInternal(frame, t.codec)
	switch mode {
	case txn.ModeInsert:
		return internal.Size() < internal.MaxSize()-1
	case txn.ModeDelete:
		if isRoot {
			return internal.Size() > 2
		}
		return internal.Size() > t.minInternalSize()
	default:
		return true
	}
}

// releaseLatches releases and unpins everything tx currently holds, oldest
// first, and clears its queue. Called both mid-descent (once a node is
// proven safe) and at the very end of an Insert/Remove.
func (t *BPlusTree[K]) releaseLatches(tx *txn.Transaction) {
	for _, h := range tx.Held() {
		if h.Frame == nil {
			t.rootIDLatch.Unlock()
			continue
		}
		h.Frame.Unlock()
		_ = t.bpm.UnpinPage(h.Frame.PageID(), false)
	}
	tx.ClearHeld()
}

// fetchSiblingFrame fetches pageID and acquires its write latch for a
// coalesce/redistribute decision. The node's parent is already held by tx,
// so latching a sibling next preserves top-down latch ordering. The frame
// is pushed onto tx so releaseLatches unlatches and unpins it once the
// operation completes, and so a later tx.FrameFor(pageID) finds it again.
func (t *BPlusTree[K]) fetchSiblingFrame(tx *txn.Transaction, pageID storage.PageID) (*storage.Frame, error) {
	frame, err := t.bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	frame.Lock()
	tx.PushPageLatch(frame, txn.ModeDelete)
	return frame, nil
}

// crabDescendFromRoot walks from the root to the leaf owning key, write-
// latching every node on the way and releasing ancestor latches as soon as
// a descendant is proven safe. The caller must already have acquired
// t.rootIDLatch (exclusively) and pushed its sentinel onto tx.
func (t *BPlusTree[K]) crabDescendFromRoot(tx *txn.Transaction, key K, mode txn.LatchMode) (*storage.Frame, error) {
	cur, err := t.bpm.FetchPage(t.rootID)
	if err != nil {
		return nil, err
	}
	t.lockFrame(cur, mode)

	for {
		if t.isSafe(cur, mode) {
			t.releaseLatches(tx)
		}
		tx.PushPageLatch(cur, mode)

		if readPageType(cur.Data()) == pageTypeLeaf {
			return cur, nil
		}
		internal := LoadInternal(cur, t.codec)
		childID := internal.Lookup(key)
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			return nil, err
		}
		t.lockFrame(child, mode)
		cur = child
	}
}

// ---- insert ---------------------------------------------------------------

// Insert adds (key, rid). It returns ErrDuplicateKey if key is already
// present, and ErrOutOfMemory if the buffer pool cannot supply a frame for
// a structural page this insert needs to allocate.
func (t *BPlusTree[K]) Insert(key K, rid RID) error {
	tx := txn.New()
	t.rootIDLatch.Lock()
	tx.PushRootIDLatch(txn.ModeInsert)

	if t.rootID == storage.InvalidPageID {
		err := t.startNewTree(key, rid)
		t.releaseLatches(tx)
		return err
	}

	leafFrame, err := t.crabDescendFromRoot(tx, key, txn.ModeInsert)
	if err != nil {
		t.releaseLatches(tx)
		return wrapOOM(err)
	}
	leaf := LoadLeaf(leafFrame, t.codec)
	if leaf.Contains(key) {
		t.releaseLatches(tx)
		return ErrDuplicateKey
	}
	leaf.Insert(key, rid)

	if leaf.Size() == leaf.MaxSize() {
		if err := t.splitLeafAndInsertIntoParent(tx, leaf); err != nil {
			t.releaseLatches(tx)
			return wrapOOM(err)
		}
	}
	t.releaseLatches(tx)
	return nil
}

// startNewTree allocates the first page of a brand-new tree as a leaf and
// registers it as the root in the catalog. Called with rootIDLatch held.
func (t *BPlusTree[K]) startNewTree(key K, rid RID) error {
	frame, err := t.bpm.NewPage()
	if err != nil {
		return wrapOOM(err)
	}
	leaf := InitLeaf(frame, t.codec, storage.InvalidPageID, t.leafMaxSize)
	leaf.Insert(key, rid)
	t.rootID = frame.PageID()
	if err := t.bpm.UnpinPage(frame.PageID(), false); err != nil {
		return err
	}
	return t.cat.InsertRecord(t.name, t.rootID)
}

// splitLeafAndInsertIntoParent splits leaf (already overflowed to exactly
// MaxSize) and threads the new sibling into the parent chain, recursing
// upward through splitInternalAndInsertIntoParent if that overflows the
// parent in turn.
func (t *BPlusTree[K]) splitLeafAndInsertIntoParent(tx *txn.Transaction, leaf *LeafNode[K]) error {
	newFrame, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	sibling := InitLeaf(newFrame, t.codec, leaf.ParentPageID(), t.leafMaxSize)
	leaf.MoveHalfTo(sibling)
	sibling.SetNextPageID(leaf.NextPageID())
	leaf.SetNextPageID(sibling.PageID())

	upKey := sibling.KeyAt(0)
	siblingID := sibling.PageID()
	if err := t.bpm.UnpinPage(siblingID, false); err != nil {
		return err
	}
	return t.insertIntoParent(tx, leaf.PageID(), leaf.ParentPageID(), upKey, siblingID)
}

// insertIntoParent threads (upKey, rightChild) into the parent of
// leftChild, which already holds leftChild at some position. If leftChild
// has no parent (it was the root), a brand-new root is created. If
// inserting overflows the parent, the parent is split in turn and the
// process recurses.
func (t *BPlusTree[K]) insertIntoParent(tx *txn.Transaction, leftChild, parentID storage.PageID, upKey K, rightChild storage.PageID) error {
	if parentID == storage.InvalidPageID {
		frame, err := t.bpm.NewPage()
		if err != nil {
			return err
		}
		root := InitInternal(frame, t.codec, storage.InvalidPageID, t.internalMaxSize)
		root.PopulateNewRoot(leftChild, upKey, rightChild)

		if err := t.setChildParent(tx, leftChild, root.PageID()); err != nil {
			return err
		}
		if err := t.setChildParent(tx, rightChild, root.PageID()); err != nil {
			return err
		}
		t.rootID = root.PageID()
		if err := t.bpm.UnpinPage(root.PageID(), false); err != nil {
			return err
		}
		return t.cat.UpdateRecord(t.name, t.rootID)
	}

	parentFrame, ok := tx.FrameFor(parentID)
	if !ok {
		return fmt.Errorf("bptree: parent %d not held during split propagation", parentID)
	}
	parent := LoadInternal(parentFrame, t.codec)
	parent.InsertNodeAfter(leftChild, upKey, rightChild)
	if err := t.setChildParent(tx, rightChild, parent.PageID()); err != nil {
		return err
	}

	if parent.Size() <= parent.MaxSize() {
		return nil
	}
	return t.splitInternalAndInsertIntoParent(tx, parent)
}

// setChildParent updates childID's parent pointer to parentID. If tx
// already holds the child's frame, its header is updated in place through
// that frame. Otherwise (a freshly allocated sibling never is held) the
// child is fetched and unpinned immediately, since only its header is
// touched, not traversed as part of this descent.
func (t *BPlusTree[K]) setChildParent(tx *txn.Transaction, childID, parentID storage.PageID) error {
	if f, ok := tx.FrameFor(childID); ok {
		if readPageType(f.Data()) == pageTypeLeaf {
			LoadLeaf(f, t.codec).SetParentPageID(parentID)
		} else {
			LoadInternal(f, t.codec).SetParentPageID(parentID)
		}
		return nil
	}
	f, err := t.bpm.FetchPage(childID)
	if err != nil {
		return err
	}
	if readPageType(f.Data()) == pageTypeLeaf {
		LoadLeaf(f, t.codec).SetParentPageID(parentID)
	} else {
		LoadInternal(f, t.codec).SetParentPageID(parentID)
	}
	return t.bpm.UnpinPage(childID, false)
}

func (t *BPlusTree[K]) splitInternalAndInsertIntoParent(tx *txn.Transaction, node *InternalNode[K]) error {
	newFrame, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	sibling := InitInternal(newFrame, t.codec, node.ParentPageID(), t.internalMaxSize)
	node.MoveHalfTo(sibling)

	for i := 0; i < sibling.Size(); i++ {
		if err := t.setChildParent(tx, sibling.ChildAt(i), sibling.PageID()); err != nil {
			return err
		}
	}

	upKey := sibling.KeyAt(0)
	siblingID := sibling.PageID()
	if err := t.bpm.UnpinPage(siblingID, false); err != nil {
		return err
	}
	return t.insertIntoParent(tx, node.PageID(), node.ParentPageID(), upKey, siblingID)
}

func wrapOOM(err error) error {
	if errors.Is(err, storage.ErrBufferPoolFull) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	return err
}

// ---- remove ---------------------------------------------------------------

// Remove deletes key if present; it is a no-op (not an error) if key is
// absent.
func (t *BPlusTree[K]) Remove(key K) error {
	tx := txn.New()
	t.rootIDLatch.Lock()
	tx.PushRootIDLatch(txn.ModeDelete)

	if t.rootID == storage.InvalidPageID {
		t.releaseLatches(tx)
		return nil
	}

	leafFrame, err := t.crabDescendFromRoot(tx, key, txn.ModeDelete)
	if err != nil {
		t.releaseLatches(tx)
		return wrapOOM(err)
	}
	leaf := LoadLeaf(leafFrame, t.codec)
	if _, found := leaf.RemoveKey(key); !found {
		t.releaseLatches(tx)
		return nil
	}

	if leaf.Size() < t.minLeafSize() && leaf.PageID() != t.rootID {
		if err := t.coalesceOrRedistributeLeaf(tx, leaf); err != nil {
			t.releaseLatches(tx)
			return wrapOOM(err)
		}
	} else if leaf.PageID() == t.rootID {
		t.adjustRoot(leaf.Size() == 0, storage.InvalidPageID)
	}

	pagesToFree := tx.PagesToFree()
	t.releaseLatches(tx)
	for _, id := range pagesToFree {
		_ = t.bpm.DeletePage(id)
	}
	return nil
}

// adjustRoot handles a root leaf emptied by a delete: with nothing left to
// index, the tree becomes empty. For an internal root left with a single
// child, handleParentUnderflow passes that child as promote and it becomes
// the new root.
func (t *BPlusTree[K]) adjustRoot(empty bool, promote storage.PageID) {
	if !empty && promote == storage.InvalidPageID {
		return
	}
	if empty {
		t.rootID = storage.InvalidPageID
	} else {
		t.rootID = promote
	}
	_ = t.cat.UpdateRecord(t.name, t.rootID)
}

// coalesceOrRedistributeLeaf handles underflow in a leaf: borrow one entry
// from a sibling with slack, or merge into a sibling and remove the
// separator from the parent (cascading upward if that empties the parent
// below its own minimum).
//
// Grounded on the working borrow/merge logic in
// _examples/ShubhamNegi4-DaemonDB/bplustree/deletion.go.
func (t *BPlusTree[K]) coalesceOrRedistributeLeaf(tx *txn.Transaction, node *LeafNode[K]) error {
	parentFrame, ok := tx.FrameFor(node.ParentPageID())
	if !ok {
		return fmt.Errorf("bptree: parent %d of leaf %d not held during underflow handling", node.ParentPageID(), node.PageID())
	}
	parent := LoadInternal(parentFrame, t.codec)
	idx := parent.ValueIndex(node.PageID())

	var left, right *LeafNode[K]
	if idx > 0 {
		leftID := parent.ChildAt(idx - 1)
		leftFrame, err := t.fetchSiblingFrame(tx, leftID)
		if err != nil {
			return err
		}
		left = LoadLeaf(leftFrame, t.codec)
		if left.Size() > t.minLeafSize() {
			left.MoveLastToFrontOf(node)
			parent.keys[idx] = node.KeyAt(0)
			parent.flush()
			return nil
		}
	}
	if idx < parent.Size()-1 {
		rightID := parent.ChildAt(idx + 1)
		rightFrame, err := t.fetchSiblingFrame(tx, rightID)
		if err != nil {
			return err
		}
		right = LoadLeaf(rightFrame, t.codec)
		if right.Size() > t.minLeafSize() {
			right.MoveFirstToEndOf(node)
			parent.keys[idx+1] = right.KeyAt(0)
			parent.flush()
			return nil
		}
	}

	if left != nil {
		node.MoveAllTo(left)
		parent.RemoveAt(idx)
		tx.AddPageToFree(node.PageID())
		return t.handleParentUnderflow(tx, parent)
	}

	right.MoveAllTo(node)
	parent.RemoveAt(idx + 1)
	tx.AddPageToFree(right.PageID())
	return t.handleParentUnderflow(tx, parent)
}

// handleParentUnderflow is invoked after a child merge removed one entry
// from parent. If parent is the root, AdjustRoot collapses it away once it
// is down to a single child. Otherwise, if parent itself is now below its
// minimum size, the underflow cascades via coalesceOrRedistributeInternal.
func (t *BPlusTree[K]) handleParentUnderflow(tx *txn.Transaction, parent *InternalNode[K]) error {
	if parent.PageID() == t.rootID {
		if parent.Size() == 1 {
			onlyChild := parent.ChildAt(0)
			if err := t.setChildParent(tx, onlyChild, storage.InvalidPageID); err != nil {
				return err
			}
			t.adjustRoot(false, onlyChild)
			tx.AddPageToFree(parent.PageID())
		}
		return nil
	}
	if parent.Size() < t.minInternalSize() {
		return t.coalesceOrRedistributeInternal(tx, parent)
	}
	return nil
}

// coalesceOrRedistributeInternal is coalesceOrRedistributeLeaf's sibling for
// an underflowing internal node: borrow a child from a sibling through the
// parent's separator, or merge into a sibling with the parent's separator
// demoted into the merged node.
func (t *BPlusTree[K]) coalesceOrRedistributeInternal(tx *txn.Transaction, node *InternalNode[K]) error {
	parentFrame, ok := tx.FrameFor(node.ParentPageID())
	if !ok {
		return fmt.Errorf("bptree: parent %d of internal %d not held during underflow handling", node.ParentPageID(), node.PageID())
	}
	parent := LoadInternal(parentFrame, t.codec)
	idx := parent.ValueIndex(node.PageID())

	var left, right *InternalNode[K]
	if idx > 0 {
		leftID := parent.ChildAt(idx - 1)
		leftFrame, err := t.fetchSiblingFrame(tx, leftID)
		if err != nil {
			return err
		}
		left = LoadInternal(leftFrame, t.codec)
		if left.Size() > t.minInternalSize() {
			separator := parent.KeyAt(idx)
			movedChild := left.ChildAt(left.Size() - 1)
			// The boundary key moving with movedChild is left's own last
			// key, not the separator being pushed down into node. Capture
			// it before MoveLastToFrontOf truncates left's key slice.
			boundary := left.KeyAt(left.Size() - 1)
			left.MoveLastToFrontOf(node, separator)
			if err := t.setChildParent(tx, movedChild, node.PageID()); err != nil {
				return err
			}
			parent.keys[idx] = boundary
			parent.flush()
			return nil
		}
	}
	if idx < parent.Size()-1 {
		rightID := parent.ChildAt(idx + 1)
		rightFrame, err := t.fetchSiblingFrame(tx, rightID)
		if err != nil {
			return err
		}
		right = LoadInternal(rightFrame, t.codec)
		if right.Size() > t.minInternalSize() {
			separator := parent.KeyAt(idx + 1)
			movedChild := right.ChildAt(0)
			// The boundary key describing right's new first child is
			// right's old second key (the separator between its old first
			// and second child), captured before the shift-left.
			boundary := right.KeyAt(1)
			right.MoveFirstToEndOf(node, separator)
			if err := t.setChildParent(tx, movedChild, node.PageID()); err != nil {
				return err
			}
			parent.keys[idx+1] = boundary
			parent.flush()
			return nil
		}
	}

	if left != nil {
		separator := parent.KeyAt(idx)
		node.MoveAllTo(left, separator)
		for i := 0; i < left.Size(); i++ {
			if err := t.setChildParent(tx, left.ChildAt(i), left.PageID()); err != nil {
				return err
			}
		}
		parent.RemoveAt(idx)
		tx.AddPageToFree(node.PageID())
		return t.handleParentUnderflow(tx, parent)
	}

	separator := parent.KeyAt(idx + 1)
	right.MoveAllTo(node, separator)
	for i := 0; i < node.Size(); i++ {
		if err := t.setChildParent(tx, node.ChildAt(i), node.PageID()); err != nil {
			return err
		}
	}
	parent.RemoveAt(idx + 1)
	tx.AddPageToFree(right.PageID())
	return t.handleParentUnderflow(tx, parent)
}
