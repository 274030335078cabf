package storage

import (
	"container/list"
	"sync"
)

// Replacer chooses which unpinned frame to evict next. Pin and Unpin track
// eligibility: a pinned frame is never a victim.
//
// Grounded on _examples/original_source/src/buffer/lru_replacer.{h,cpp}, with
// one deliberate deviation: the original Unpin defensively evicts from the
// back of the list while Size() >= capacity before inserting the new frame.
// That only papers over a caller bug (unpinning more frames than the pool
// has room for) and is not reproduced here; this Unpin trusts the buffer
// pool to never call it past capacity.
type Replacer interface {
	// Victim picks a frame to evict and removes it from replacer tracking.
	// Returns false if every tracked frame is pinned (nothing to victimize).
	Victim() (FrameID, bool)

	// Pin removes a frame from victim eligibility. Called when a frame's
	// pin count goes from 0 to 1, and once up front for a freshly allocated
	// frame that has never been through Unpin.
	Pin(FrameID)

	// Unpin marks a frame eligible for eviction. Called when a frame's pin
	// count drops to 0.
	Unpin(FrameID)

	// Size reports how many frames are currently eligible for eviction.
	Size() int
}

// LRUReplacer evicts the least-recently-unpinned frame. Internally it is an
// ordered list with the most-recently-unpinned frame at the front and the
// least-recently-unpinned at the back, exactly the ordering the original
// std::list-based implementation maintains.
type LRUReplacer struct {
	mu    sync.Mutex
	list  *list.List
	elems map[FrameID]*list.Element
}

// NewLRUReplacer builds a replacer sized for a pool of numFrames frames.
// numFrames is only a capacity hint; the list grows and shrinks with Unpin
// and Victim regardless.
func NewLRUReplacer(numFrames int) *LRUReplacer {
	return &LRUReplacer{
		list:  list.New(),
		elems: make(map[FrameID]*list.Element, numFrames),
	}
}

func (r *LRUReplacer) Victim() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	back := r.list.Back()
	if back == nil {
		return InvalidFrameID, false
	}
	frameID := back.Value.(FrameID)
	r.list.Remove(back)
	delete(r.elems, frameID)
	return frameID, true
}

func (r *LRUReplacer) Pin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.elems[frameID]; ok {
		r.list.Remove(e)
		delete(r.elems, frameID)
	}
}

func (r *LRUReplacer) Unpin(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elems[frameID]; ok {
		return
	}
	r.elems[frameID] = r.list.PushFront(frameID)
}

func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list.Len()
}
