package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fenglin-Zhou/bustub/core/wal"
	"github.com/fenglin-Zhou/bustub/pkg/metrics"
)

// BufferPoolManager mediates every access to a page: fetch pins it into
// memory (reading from disk on a miss), unpin releases it, and structural
// callers (core/bptree) ask for brand-new pages directly. It owns exactly
// one frame array, one page table, one free list and one Replacer, all
// guarded by a single mutex — deliberately simple, matching
// _examples/original_source/src/buffer/buffer_pool_manager.cpp's shape
// rather than splitting locking per shard.
//
// FlushPage here does NOT evict: it writes a dirty frame back and clears
// the dirty bit, leaving the page resident and however-pinned it already
// was. The original C++ FlushPageImpl conflates the two — it resets the
// frame, drops it from the page table and pushes it onto the free list as
// a side effect of flushing, which would silently invalidate any other
// pinned reference to that page. That bug is not reproduced here.
type BufferPoolManager struct {
	mu sync.Mutex

	frames    []*Frame
	pageTable map[PageID]FrameID
	freeList  []FrameID
	replacer  Replacer

	disk *DiskManager
	log  *wal.LogManager // optional; nil disables WAL integration

	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewBufferPoolManager builds a pool of poolSize frames over disk. log and
// logger may be nil; metricsReg may be nil (a no-op registry is used).
func NewBufferPoolManager(poolSize int, disk *DiskManager, log *wal.LogManager, logger *zap.Logger, metricsReg *metrics.Registry) *BufferPoolManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsReg == nil {
		metricsReg = metrics.Noop()
	}

	bpm := &BufferPoolManager{
		frames:    make([]*Frame, poolSize),
		pageTable: make(map[PageID]FrameID, poolSize),
		freeList:  make([]FrameID, poolSize),
		replacer:  NewLRUReplacer(poolSize),
		disk:      disk,
		log:       log,
		logger:    logger,
		metrics:   metricsReg,
	}
	for i := 0; i < poolSize; i++ {
		bpm.frames[i] = newFrame(FrameID(i))
		bpm.freeList[i] = FrameID(i)
	}
	return bpm
}

// PoolSize returns the number of frames in the pool.
func (bpm *BufferPoolManager) PoolSize() int { return len(bpm.frames) }

// getAvailableFrame returns a frame ready to be repurposed: from the free
// list first, else the replacer's victim, writing it back first if dirty.
// Must be called with bpm.mu held.
func (bpm *BufferPoolManager) getAvailableFrame() (*Frame, error) {
	if n := len(bpm.freeList); n > 0 {
		id := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return bpm.frames[id], nil
	}

	victimID, ok := bpm.replacer.Victim()
	if !ok {
		return nil, ErrBufferPoolFull
	}
	victim := bpm.frames[victimID]
	if victim.IsDirty() {
		if err := bpm.writeBack(victim); err != nil {
			return nil, err
		}
	}
	delete(bpm.pageTable, victim.PageID())
	bpm.metrics.RecordEviction()
	return victim, nil
}

// writeBack flushes the log up through this frame's LSN, then writes the
// frame's bytes to disk and clears the dirty bit. Must be called with
// bpm.mu held.
func (bpm *BufferPoolManager) writeBack(f *Frame) error {
	if bpm.log != nil && f.LSN() != InvalidLSN {
		if err := bpm.log.Flush(); err != nil {
			return fmt.Errorf("buffer pool: flush wal before write-back of page %d: %w", f.PageID(), err)
		}
	}
	if err := bpm.disk.WritePage(f.PageID(), f.Data()); err != nil {
		return err
	}
	f.SetDirty(false)
	bpm.metrics.RecordFlush()
	return nil
}

// FetchPage pins page id into memory, reading it from disk on a miss, and
// returns the frame holding it. Every FetchPage must be matched by an
// UnpinPage.
func (bpm *BufferPoolManager) FetchPage(id PageID) (*Frame, error) {
	if id == InvalidPageID {
		return nil, ErrInvalidPageID
	}
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable[id]; ok {
		f := bpm.frames[frameID]
		f.pinCount++
		bpm.replacer.Pin(frameID)
		bpm.metrics.RecordHit()
		return f, nil
	}
	bpm.metrics.RecordMiss()

	f, err := bpm.getAvailableFrame()
	if err != nil {
		bpm.logger.Warn("buffer pool exhausted on fetch", zap.Int32("page_id", int32(id)))
		return nil, err
	}
	f.reset()
	if err := bpm.disk.ReadPage(id, f.Data()); err != nil {
		bpm.freeList = append(bpm.freeList, f.ID())
		return nil, err
	}
	f.pageID = id
	f.pinCount = 1
	bpm.pageTable[id] = f.ID()
	bpm.replacer.Pin(f.ID())
	bpm.logger.Debug("fetched page", zap.Int32("page_id", int32(id)), zap.Int("frame_id", int(f.ID())))
	return f, nil
}

// NewPage allocates a fresh page on disk, pins it, and returns its
// zeroed frame.
func (bpm *BufferPoolManager) NewPage() (*Frame, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	f, err := bpm.getAvailableFrame()
	if err != nil {
		bpm.logger.Warn("buffer pool exhausted on new page")
		return nil, err
	}
	id := bpm.disk.AllocatePage()
	f.reset()
	f.pageID = id
	f.pinCount = 1
	bpm.pageTable[id] = f.ID()
	bpm.replacer.Pin(f.ID())

	if err := bpm.disk.WritePage(id, f.Data()); err != nil {
		return nil, err
	}
	bpm.logger.Debug("allocated page", zap.Int32("page_id", int32(id)), zap.Int("frame_id", int(f.ID())))
	return f, nil
}

// UnpinPage releases one reference to page id. isDirty, if true, marks the
// page dirty regardless of whether it already was; it can never clear an
// existing dirty bit. When the pin count reaches zero the frame becomes
// eligible for eviction.
func (bpm *BufferPoolManager) UnpinPage(id PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}
	f := bpm.frames[frameID]
	if isDirty {
		f.SetDirty(true)
	}
	if f.pinCount <= 0 {
		bpm.logger.Warn("unpin of a page with pin count 0", zap.Int32("page_id", int32(id)))
		return fmt.Errorf("%w: page %d", ErrNotPinned, id)
	}
	f.pinCount--
	if f.pinCount == 0 {
		bpm.replacer.Unpin(frameID)
	}
	return nil
}

// FlushPage writes page id back to disk if dirty, without evicting it.
func (bpm *BufferPoolManager) FlushPage(id PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}
	f := bpm.frames[frameID]
	if !f.IsDirty() {
		return nil
	}
	return bpm.writeBack(f)
}

// FlushAllPages flushes every resident dirty page.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for id, frameID := range bpm.pageTable {
		f := bpm.frames[frameID]
		if f.IsDirty() {
			if err := bpm.writeBack(f); err != nil {
				return fmt.Errorf("flush page %d: %w", id, err)
			}
		}
	}
	return nil
}

// DeletePage removes page id from the pool and from disk. A pinned page
// cannot be deleted; DeletePage returns ErrPagePinned in that case rather
// than silently refusing.
func (bpm *BufferPoolManager) DeletePage(id PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[id]
	if !ok {
		bpm.disk.DeallocatePage(id)
		return nil
	}
	f := bpm.frames[frameID]
	if f.pinCount > 0 {
		return fmt.Errorf("%w: page %d", ErrPagePinned, id)
	}

	bpm.disk.DeallocatePage(id)
	delete(bpm.pageTable, id)
	f.reset()
	bpm.replacer.Pin(frameID)
	bpm.freeList = append(bpm.freeList, frameID)
	return nil
}
