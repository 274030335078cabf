package bptree

import (
	"encoding/binary"

	"github.com/fenglin-Zhou/bustub/core/storage"
)

// pageType tags which view a frame's bytes should be decoded through.
// Grounded on the common page header _examples/original_source/src's
// BPlusTreePage carries (page_type_, size_, max_size_, parent_page_id_,
// page_id_) ahead of the leaf-only next/prev sibling links.
type pageType int32

const (
	pageTypeInvalid  pageType = 0
	pageTypeInternal pageType = 1
	pageTypeLeaf     pageType = 2
)

// Common header layout, all four-byte little-endian fields:
//
//	0  pageType
//	4  size
//	8  maxSize
//	12 parentPageID
//	16 pageID
//	20 (reserved, keeps the header a round 24 bytes)
const commonHeaderSize = 24

// Leaf pages carry one more field after the common header: the id of the
// next leaf in key order, for forward iteration. Unlike the original's leaf
// page, there is no prev pointer, since maintaining it would require
// latching a sibling page a split or merge never otherwise touches.
const (
	leafExtraSize      = 4
	leafHeaderSize     = commonHeaderSize + leafExtraSize
	internalHeaderSize = commonHeaderSize
)

func readPageType(buf []byte) pageType {
	return pageType(int32(binary.LittleEndian.Uint32(buf[0:4])))
}

// LeafNode is the decoded, mutable view of a leaf page: a sorted run of
// (key, RID) entries plus the next-leaf link. Every mutating method re-encodes
// itself onto the backing frame and marks it dirty before returning, so
// the frame's bytes are never observably stale.
type LeafNode[K any] struct {
	frame  *storage.Frame
	codec  KeyCodec[K]

	size         int
	maxSize      int
	parentPageID storage.PageID
	pageID       storage.PageID
	nextPageID   storage.PageID

	keys []K
	rids []RID
}

// InitLeaf formats frame as a brand-new, empty leaf page.
func InitLeaf[K any](frame *storage.Frame, codec KeyCodec[K], parentPageID storage.PageID, maxSize int) *LeafNode[K] {
	n := &LeafNode[K]{
		frame:        frame,
		codec:        codec,
		maxSize:      maxSize,
		parentPageID: parentPageID,
		pageID:       frame.PageID(),
		nextPageID:   storage.InvalidPageID,
	}
	n.flush()
	return n
}

// LoadLeaf decodes an existing leaf page out of frame's bytes.
func LoadLeaf[K any](frame *storage.Frame, codec KeyCodec[K]) *LeafNode[K] {
	buf := frame.Data()
	n := &LeafNode[K]{
		frame:        frame,
		codec:        codec,
		size:         int(int32(binary.LittleEndian.Uint32(buf[4:8]))),
		maxSize:      int(int32(binary.LittleEndian.Uint32(buf[8:12]))),
		parentPageID: storage.PageID(int32(binary.LittleEndian.Uint32(buf[12:16]))),
		pageID:       storage.PageID(int32(binary.LittleEndian.Uint32(buf[16:20]))),
		nextPageID:   storage.PageID(int32(binary.LittleEndian.Uint32(buf[24:28]))),
	}
	off := leafHeaderSize
	for i := 0; i < n.size; i++ {
		k := codec.Decode(buf[off : off+codec.Size])
		off += codec.Size
		rid := RID{
			PageID: storage.PageID(int32(binary.LittleEndian.Uint32(buf[off : off+4]))),
			Slot:   binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
		off += 8
		n.keys = append(n.keys, k)
		n.rids = append(n.rids, rid)
	}
	return n
}

func (n *LeafNode[K]) flush() {
	buf := n.frame.Data()
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pageTypeLeaf))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n.size))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.maxSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n.parentPageID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(n.pageID))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(n.nextPageID))

	off := leafHeaderSize
	for i := 0; i < n.size; i++ {
		copy(buf[off:off+n.codec.Size], n.codec.Encode(n.keys[i]))
		off += n.codec.Size
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.rids[i].PageID))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], n.rids[i].Slot)
		off += 8
	}
	n.frame.SetDirty(true)
}

func (n *LeafNode[K]) Size() int                    { return n.size }
func (n *LeafNode[K]) MaxSize() int                  { return n.maxSize }
func (n *LeafNode[K]) PageID() storage.PageID        { return n.pageID }
func (n *LeafNode[K]) ParentPageID() storage.PageID  { return n.parentPageID }
func (n *LeafNode[K]) SetParentPageID(id storage.PageID) { n.parentPageID = id; n.flush() }
func (n *LeafNode[K]) NextPageID() storage.PageID      { return n.nextPageID }
func (n *LeafNode[K]) SetNextPageID(id storage.PageID) { n.nextPageID = id; n.flush() }
func (n *LeafNode[K]) KeyAt(i int) K                   { return n.keys[i] }
func (n *LeafNode[K]) RIDAt(i int) RID               { return n.rids[i] }

// keyIndex returns the first index whose key is >= key (lower_bound).
func (n *LeafNode[K]) keyIndex(key K) int {
	lo, hi := 0, n.size
	for lo < hi {
		mid := (lo + hi) / 2
		if n.codec.Compare(n.keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup returns the RID stored for key, if present.
func (n *LeafNode[K]) Lookup(key K) (RID, bool) {
	i := n.keyIndex(key)
	if i < n.size && n.codec.Compare(n.keys[i], key) == 0 {
		return n.rids[i], true
	}
	return RID{}, false
}

// Contains reports whether key is already present, without allocating.
func (n *LeafNode[K]) Contains(key K) bool {
	_, ok := n.Lookup(key)
	return ok
}

// Insert adds (key, rid) in sorted position and returns the new size. The
// caller is responsible for having already checked the key is absent.
func (n *LeafNode[K]) Insert(key K, rid RID) int {
	i := n.keyIndex(key)
	n.keys = append(n.keys, n.codec.Zero)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = key
	n.rids = append(n.rids, RID{})
	copy(n.rids[i+1:], n.rids[i:])
	n.rids[i] = rid
	n.size++
	n.flush()
	return n.size
}

// RemoveKey deletes key if present and returns the new size and whether it
// was found.
func (n *LeafNode[K]) RemoveKey(key K) (int, bool) {
	i := n.keyIndex(key)
	if i >= n.size || n.codec.Compare(n.keys[i], key) != 0 {
		return n.size, false
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.rids = append(n.rids[:i], n.rids[i+1:]...)
	n.size--
	n.flush()
	return n.size, true
}

// MoveHalfTo splits n in half, moving the upper half of its entries onto
// recipient (a freshly initialized, empty leaf). Grounded on
// b_plus_tree_leaf_page.cpp's MoveHalfTo/CopyNFrom: half = size/2 (floor),
// recipient receives the top `half` entries.
func (n *LeafNode[K]) MoveHalfTo(recipient *LeafNode[K]) {
	half := n.size / 2
	start := n.size - half
	recipient.keys = append(recipient.keys, n.keys[start:]...)
	recipient.rids = append(recipient.rids, n.rids[start:]...)
	recipient.size += half

	n.keys = n.keys[:start]
	n.rids = n.rids[:start]
	n.size = start

	n.flush()
	recipient.flush()
}

// MoveAllTo merges n's entries onto the end of recipient (a left sibling)
// and splices recipient's next-pointer past n, for a coalesce.
func (n *LeafNode[K]) MoveAllTo(recipient *LeafNode[K]) {
	recipient.keys = append(recipient.keys, n.keys...)
	recipient.rids = append(recipient.rids, n.rids...)
	recipient.size += n.size
	recipient.nextPageID = n.nextPageID

	n.keys = nil
	n.rids = nil
	n.size = 0

	recipient.flush()
	n.flush()
}

// MoveFirstToEndOf moves n's first entry onto the end of recipient (a left
// sibling borrowing from n during redistribution).
func (n *LeafNode[K]) MoveFirstToEndOf(recipient *LeafNode[K]) {
	recipient.keys = append(recipient.keys, n.keys[0])
	recipient.rids = append(recipient.rids, n.rids[0])
	recipient.size++

	n.keys = n.keys[1:]
	n.rids = n.rids[1:]
	n.size--

	recipient.flush()
	n.flush()
}

// MoveLastToFrontOf moves n's last entry onto the front of recipient (a
// right sibling borrowing from n during redistribution).
func (n *LeafNode[K]) MoveLastToFrontOf(recipient *LeafNode[K]) {
	last := n.size - 1
	recipient.keys = append([]K{n.keys[last]}, recipient.keys...)
	recipient.rids = append([]RID{n.rids[last]}, recipient.rids...)
	recipient.size++

	n.keys = n.keys[:last]
	n.rids = n.rids[:last]
	n.size--

	recipient.flush()
	n.flush()
}

// InternalNode is the decoded, mutable view of an internal page: size
// children with size keys, where children[i] holds everything in
// [keys[i], keys[i+1]) and keys[0] is an unused sentinel.
type InternalNode[K any] struct {
	frame *storage.Frame
	codec KeyCodec[K]

	size         int
	maxSize      int
	parentPageID storage.PageID
	pageID       storage.PageID

	keys     []K
	children []storage.PageID
}

// InitInternal formats frame as a brand-new, empty internal page.
func InitInternal[K any](frame *storage.Frame, codec KeyCodec[K], parentPageID storage.PageID, maxSize int) *InternalNode[K] {
	n := &InternalNode[K]{
		frame:        frame,
		codec:        codec,
		maxSize:      maxSize,
		parentPageID: parentPageID,
		pageID:       frame.PageID(),
	}
	n.flush()
	return n
}

// LoadInternal decodes an existing internal page out of frame's bytes.
func LoadInternal[K any](frame *storage.Frame, codec KeyCodec[K]) *InternalNode[K] {
	buf := frame.Data()
	n := &InternalNode[K]{
		frame:        frame,
		codec:        codec,
		size:         int(int32(binary.LittleEndian.Uint32(buf[4:8]))),
		maxSize:      int(int32(binary.LittleEndian.Uint32(buf[8:12]))),
		parentPageID: storage.PageID(int32(binary.LittleEndian.Uint32(buf[12:16]))),
		pageID:       storage.PageID(int32(binary.LittleEndian.Uint32(buf[16:20]))),
	}
	off := internalHeaderSize
	for i := 0; i < n.size; i++ {
		k := codec.Decode(buf[off : off+codec.Size])
		off += codec.Size
		child := storage.PageID(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
		off += 4
		n.keys = append(n.keys, k)
		n.children = append(n.children, child)
	}
	return n
}

func (n *InternalNode[K]) flush() {
	buf := n.frame.Data()
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pageTypeInternal))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n.size))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.maxSize))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n.parentPageID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(n.pageID))

	off := internalHeaderSize
	for i := 0; i < n.size; i++ {
		copy(buf[off:off+n.codec.Size], n.codec.Encode(n.keys[i]))
		off += n.codec.Size
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.children[i]))
		off += 4
	}
	n.frame.SetDirty(true)
}

func (n *InternalNode[K]) Size() int                   { return n.size }
func (n *InternalNode[K]) MaxSize() int                 { return n.maxSize }
func (n *InternalNode[K]) PageID() storage.PageID       { return n.pageID }
func (n *InternalNode[K]) ParentPageID() storage.PageID { return n.parentPageID }
func (n *InternalNode[K]) SetParentPageID(id storage.PageID) {
	n.parentPageID = id
	n.flush()
}
func (n *InternalNode[K]) KeyAt(i int) K                { return n.keys[i] }
func (n *InternalNode[K]) ChildAt(i int) storage.PageID { return n.children[i] }

// ValueIndex returns the index of child in n.children, or -1.
func (n *InternalNode[K]) ValueIndex(child storage.PageID) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Lookup returns the child page id responsible for key: the largest i with
// keys[i] <= key (keys[0] is the unused sentinel, so i can be 0).
func (n *InternalNode[K]) Lookup(key K) storage.PageID {
	lo, hi := 1, n.size
	for lo < hi {
		mid := (lo + hi) / 2
		if n.codec.Compare(n.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return n.children[lo-1]
}

// PopulateNewRoot sets n up as a fresh root with exactly two children,
// used when a split at the old root propagates upward.
func (n *InternalNode[K]) PopulateNewRoot(leftChild storage.PageID, key K, rightChild storage.PageID) {
	n.keys = []K{n.codec.Zero, key}
	n.children = []storage.PageID{leftChild, rightChild}
	n.size = 2
	n.flush()
}

// InsertNodeAfter inserts (key, child) immediately after oldChild in the
// children array and returns the new size.
func (n *InternalNode[K]) InsertNodeAfter(oldChild storage.PageID, key K, child storage.PageID) int {
	i := n.ValueIndex(oldChild)
	at := i + 1
	n.keys = append(n.keys, n.codec.Zero)
	copy(n.keys[at+1:], n.keys[at:])
	n.keys[at] = key
	n.children = append(n.children, storage.InvalidPageID)
	copy(n.children[at+1:], n.children[at:])
	n.children[at] = child
	n.size++
	n.flush()
	return n.size
}

// RemoveAt deletes the entry at index i.
func (n *InternalNode[K]) RemoveAt(i int) {
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i], n.children[i+1:]...)
	n.size--
	n.flush()
}

// MoveHalfTo splits n in half onto a freshly initialized recipient,
// mirroring LeafNode.MoveHalfTo's half = size/2 convention.
func (n *InternalNode[K]) MoveHalfTo(recipient *InternalNode[K]) {
	half := n.size / 2
	start := n.size - half

	recipient.keys = append(recipient.keys, n.keys[start:]...)
	recipient.children = append(recipient.children, n.children[start:]...)
	recipient.size += half

	n.keys = n.keys[:start]
	n.children = n.children[:start]
	n.size = start

	n.flush()
	recipient.flush()
}

// MoveAllTo merges n's entries onto the end of recipient (a left sibling)
// during a coalesce. firstKey is the separator key that used to sit above n
// in the parent; it becomes the key paired with n's first child once
// appended, since an internal node's slot-0 key is a sentinel.
func (n *InternalNode[K]) MoveAllTo(recipient *InternalNode[K], firstKey K) {
	n.keys[0] = firstKey
	recipient.keys = append(recipient.keys, n.keys...)
	recipient.children = append(recipient.children, n.children...)
	recipient.size += n.size

	n.keys = nil
	n.children = nil
	n.size = 0

	recipient.flush()
	n.flush()
}

// MoveFirstToEndOf moves n's first child onto the end of recipient during
// redistribution. parentKey is the separator above n that becomes the real
// key for the moved entry once it is no longer in slot 0.
func (n *InternalNode[K]) MoveFirstToEndOf(recipient *InternalNode[K], parentKey K) {
	recipient.keys = append(recipient.keys, parentKey)
	recipient.children = append(recipient.children, n.children[0])
	recipient.size++

	n.keys = n.keys[1:]
	n.children = n.children[1:]
	n.size--
	if n.size > 0 {
		n.keys[0] = n.codec.Zero
	}

	recipient.flush()
	n.flush()
}

// MoveLastToFrontOf moves n's last child onto the front of recipient during
// redistribution. parentKey is the separator above recipient that becomes
// the real key for recipient's former first child, now at slot 1.
func (n *InternalNode[K]) MoveLastToFrontOf(recipient *InternalNode[K], parentKey K) {
	last := n.size - 1
	movedChild := n.children[last]

	recipient.keys = append([]K{n.codec.Zero}, recipient.keys...)
	recipient.keys[1] = parentKey
	recipient.children = append([]storage.PageID{movedChild}, recipient.children...)
	recipient.size++

	n.keys = n.keys[:last]
	n.children = n.children[:last]
	n.size--

	recipient.flush()
	n.flush()
}
