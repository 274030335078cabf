// Package catalog implements the header page every BPlusTree root id is
// registered in: storage.HeaderPageID (page 0), fetched and written back
// through the buffer pool exactly like any other page.
//
// The header page is a simple index_name -> root_page_id directory,
// written via InsertRecord on tree creation and UpdateRecord on every
// subsequent root change.
package catalog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fenglin-Zhou/bustub/core/storage"
)

// Catalog is the in-memory view of the header page, synchronized on every
// mutation.
type Catalog struct {
	bpm *storage.BufferPoolManager
	mu  sync.RWMutex
	// roots mirrors the on-disk record set; it is fully materialized in
	// memory since the catalog is expected to hold at most a handful of
	// named indexes, never a scan-sized dataset.
	roots map[string]storage.PageID
	order []string
}

// Open fetches the header page and decodes its records. If fresh is true,
// the header page is expected not to exist yet, and Open allocates it via
// bpm.NewPage, which the buffer pool guarantees is storage.HeaderPageID for
// a brand-new database file since it is always the first page allocated.
func Open(bpm *storage.BufferPoolManager, fresh bool) (*Catalog, error) {
	c := &Catalog{bpm: bpm, roots: make(map[string]storage.PageID)}

	if fresh {
		f, err := bpm.NewPage()
		if err != nil {
			return nil, fmt.Errorf("catalog: allocate header page: %w", err)
		}
		if f.PageID() != storage.HeaderPageID {
			return nil, fmt.Errorf("catalog: expected header page id %d, got %d", storage.HeaderPageID, f.PageID())
		}
		c.encode(f)
		f.SetDirty(true)
		return c, bpm.UnpinPage(f.PageID(), true)
	}

	f, err := bpm.FetchPage(storage.HeaderPageID)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch header page: %w", err)
	}
	c.decode(f)
	return c, bpm.UnpinPage(f.PageID(), false)
}

// RootPageID looks up the root page id registered for indexName.
func (c *Catalog) RootPageID(indexName string) (storage.PageID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.roots[indexName]
	return id, ok
}

// InsertRecord registers a brand-new index's root page id.
func (c *Catalog) InsertRecord(indexName string, root storage.PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.roots[indexName]; !exists {
		c.order = append(c.order, indexName)
	}
	c.roots[indexName] = root
	return c.flush()
}

// UpdateRecord rewrites an existing index's root page id, e.g. after a
// split grows a new root or a coalesce collapses one away.
func (c *Catalog) UpdateRecord(indexName string, root storage.PageID) error {
	return c.InsertRecord(indexName, root)
}

// flush re-fetches the header page, re-encodes the in-memory record set
// onto it, and unpins it dirty. Must be called with c.mu held.
func (c *Catalog) flush() error {
	f, err := c.bpm.FetchPage(storage.HeaderPageID)
	if err != nil {
		return fmt.Errorf("catalog: fetch header page for update: %w", err)
	}
	c.encodeLocked(f)
	return c.bpm.UnpinPage(f.PageID(), true)
}

// On-disk layout: uint32 record count, then per record:
// uint16 name length, name bytes, int32 root page id.

func (c *Catalog) encode(f *storage.Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.encodeLocked(f)
}

func (c *Catalog) encodeLocked(f *storage.Frame) {
	buf := f.Data()
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(c.order)))
	off := 4
	for _, name := range c.order {
		nb := []byte(name)
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(nb)))
		off += 2
		copy(buf[off:off+len(nb)], nb)
		off += len(nb)
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(c.roots[name]))
		off += 4
	}
}

func (c *Catalog) decode(f *storage.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := f.Data()
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	c.roots = make(map[string]storage.PageID, count)
	c.order = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
		name := string(buf[off : off+nameLen])
		off += nameLen
		root := storage.PageID(int32(binary.LittleEndian.Uint32(buf[off : off+4])))
		off += 4
		c.roots[name] = root
		c.order = append(c.order, name)
	}
}
