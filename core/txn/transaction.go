// Package txn provides the scratch object crab-latching descent threads
// through a B+Tree operation: the ordered queue of latches acquired on the
// way down, and the set of now-empty pages a delete discovered it must
// free once every latch is safely released.
//
// There is no commit/abort here, just bookkeeping for one crab-latched
// descent: held latches in acquisition order, and pages a delete
// discovered are now empty.
package txn

import (
	"github.com/google/uuid"

	"github.com/fenglin-Zhou/bustub/core/storage"
)

// LatchMode is the intent behind acquiring a latch during a descent.
type LatchMode int

const (
	ModeRead LatchMode = iota
	ModeInsert
	ModeDelete
)

// HeldLatch is one entry in a transaction's latch queue. A nil Frame marks
// the root-id latch sentinel, which guards BPlusTree.rootID itself
// rather than any one page.
type HeldLatch struct {
	Frame *storage.Frame
	Mode  LatchMode
}

// Transaction is a short-lived scratch object: one is created per B+Tree
// Insert/Remove call, threaded through the crab-latching descent, and
// discarded when the operation returns.
type Transaction struct {
	ID uuid.UUID

	held         []HeldLatch
	pagesToFree  []storage.PageID
}

// New creates a fresh Transaction for one tree operation.
func New() *Transaction {
	return &Transaction{ID: uuid.New()}
}

// PushRootIDLatch records that the caller holds the tree's root-id latch.
func (t *Transaction) PushRootIDLatch(mode LatchMode) {
	t.held = append(t.held, HeldLatch{Frame: nil, Mode: mode})
}

// PushPageLatch records that the caller holds f's page latch in mode.
func (t *Transaction) PushPageLatch(f *storage.Frame, mode LatchMode) {
	t.held = append(t.held, HeldLatch{Frame: f, Mode: mode})
}

// Held returns the current latch queue, oldest (outermost ancestor) first.
func (t *Transaction) Held() []HeldLatch { return t.held }

// FrameFor returns the already-held, already-latched frame for pageID, if
// this transaction acquired it earlier in the descent. Cascading structural
// changes (split/merge propagation) use this instead of re-fetching an
// ancestor, since the frame's latch is not re-entrant.
func (t *Transaction) FrameFor(pageID storage.PageID) (*storage.Frame, bool) {
	for _, h := range t.held {
		if h.Frame != nil && h.Frame.PageID() == pageID {
			return h.Frame, true
		}
	}
	return nil, false
}

// ClearHeld empties the latch queue without releasing anything; callers use
// this after they have manually released every entry.
func (t *Transaction) ClearHeld() { t.held = nil }

// AddPageToFree records that pageID's frame was emptied by a coalesce and
// must be deleted from the buffer pool once every latch on it is released.
func (t *Transaction) AddPageToFree(pageID storage.PageID) {
	t.pagesToFree = append(t.pagesToFree, pageID)
}

// PagesToFree returns the pages queued for deletion by this operation.
func (t *Transaction) PagesToFree() []storage.PageID { return t.pagesToFree }
