// Package wal implements the append-only log segment writer that the
// buffer pool holds a handle to. Crash recovery itself (replay,
// checkpointing, ARIES-style undo/redo) is out of scope; what remains is
// the write-ahead discipline the buffer pool must honor before evicting a
// dirty page: the covering log record must reach disk first.
//
// core/storage drives only Flush; Append is available to callers that log
// page writes. The package is deliberately decoupled from core/storage's PageID/TxnID types so this
// package has no import dependency on it.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecordType classifies a log record. The set mirrors the operations a
// B+Tree page can undergo. Neither core/storage nor core/bptree emits any
// of them; they are available to callers of Append.
type RecordType uint8

const (
	RecordUpdatePage RecordType = iota + 1
	RecordInsertKey
	RecordDeleteKey
	RecordSplitPage
	RecordMergePage
	RecordNewPage
	RecordFreePage
	RecordRootChange
)

// Record is one entry in the log. PageID is a plain int64 rather than
// storage.PageID so this package stays independent of core/storage.
type Record struct {
	LSN      int64
	PrevLSN  int64
	Type     RecordType
	PageID   int64
	Payload  []byte
	Written  time.Time
}

// LogManager appends records to a single growing segment file and exposes
// a Flush that guarantees everything appended before the call returns is
// on disk. There is no background flusher goroutine and no segment
// rotation: the log exists only to make the buffer pool's "flush log
// before evicting a dirty page" contract satisfiable, not to be replayed.
type LogManager struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	currentLSN int64
	logger     *zap.Logger
}

// NewLogManager creates the log segment wal.log under dir, or opens an
// existing one for append. LSNs start again at 1 for each LogManager.
func NewLogManager(dir string, logger *zap.Logger) (*LogManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create log dir: %w", err)
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open log file: %w", err)
	}
	return &LogManager{
		file:       f,
		writer:     bufio.NewWriter(f),
		currentLSN: 0,
		logger:     logger,
	}, nil
}

// Append serializes rec and buffers it for the next Flush, returning the
// LSN assigned to it. A caller that logs a page write stamps the covering
// frame with this LSN (storage.Frame.SetLSN); core/storage itself never
// calls Append.
func (lm *LogManager) Append(recType RecordType, pageID int64, payload []byte) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.currentLSN++
	rec := Record{
		LSN:     lm.currentLSN,
		Type:    recType,
		PageID:  pageID,
		Payload: payload,
		Written: time.Now(),
	}
	if err := writeRecord(lm.writer, rec); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	lm.logger.Debug("wal append",
		zap.Int64("lsn", rec.LSN),
		zap.Uint8("type", uint8(rec.Type)),
		zap.Int64("page_id", pageID))
	return rec.LSN, nil
}

// Flush guarantees every record appended so far is durable on disk. The
// buffer pool calls this before writing back a dirty frame whose LSN is
// covered by an unflushed record (write-ahead logging).
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if err := lm.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush buffer: %w", err)
	}
	if err := lm.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Close flushes and releases the log file.
func (lm *LogManager) Close() error {
	if err := lm.Flush(); err != nil {
		return err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.file.Close()
}

func writeRecord(w *bufio.Writer, rec Record) error {
	var hdr [21]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(rec.LSN))
	hdr[8] = byte(rec.Type)
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(rec.PageID))
	binary.LittleEndian.PutUint32(hdr[17:21], uint32(len(rec.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(rec.Payload) > 0 {
		if _, err := w.Write(rec.Payload); err != nil {
			return err
		}
	}
	return nil
}
