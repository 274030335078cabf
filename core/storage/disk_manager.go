package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// DiskManager owns the single database file and hands out page ids. It has
// no notion of what a page contains — that is the buffer pool's and
// core/bptree's concern — and no notion of a reserved header region
// either: HeaderPageID is just the first id DiskManager ever hands out,
// and the catalog that lives there is an ordinary page managed through the
// buffer pool like any other.
//
// Deallocated ids are tracked in-memory only and lost across a restart;
// crash recovery is out of scope, so that is an acceptable trade.
type DiskManager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	pageCnt  int64
	freeList []PageID
	logger   *zap.Logger
}

// NewDiskManager opens path, creating it if absent, and seeds the next
// page id from the file's existing size.
func NewDiskManager(path string, logger *zap.Logger) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	dm := &DiskManager{
		file:    f,
		path:    path,
		pageCnt: info.Size() / PageSize,
		logger:  logger,
	}
	return dm, nil
}

// AllocatePage returns a fresh page id, preferring a previously deallocated
// one before extending the file.
func (d *DiskManager) AllocatePage() PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.freeList); n > 0 {
		id := d.freeList[n-1]
		d.freeList = d.freeList[:n-1]
		return id
	}
	id := PageID(d.pageCnt)
	d.pageCnt++
	return id
}

// DeallocatePage returns id to the free list. The file is never truncated;
// the slot is simply eligible for reuse by a future AllocatePage.
func (d *DiskManager) DeallocatePage(id PageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeList = append(d.freeList, id)
}

// ReadPage fills buf (len PageSize) with the on-disk contents of id. A page
// that was allocated but never written reads back as all zeroes.
func (d *DiskManager) ReadPage(id PageID, buf []byte) error {
	if id == InvalidPageID {
		return ErrInvalidPageID
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(id) * PageSize
	n, err := d.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read page %d: %v", ErrIO, id, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf (len PageSize) to id's slot, extending the file if
// needed.
func (d *DiskManager) WritePage(id PageID, buf []byte) error {
	if id == InvalidPageID {
		return ErrInvalidPageID
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(id) * PageSize
	if _, err := d.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: write page %d: %v", ErrIO, id, err)
	}
	return nil
}

// Sync flushes the underlying file to stable storage.
func (d *DiskManager) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close releases the underlying file handle.
func (d *DiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
