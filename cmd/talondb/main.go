// Command talondb is the CLI entrypoint over the buffer pool and B+Tree
// index: open a database file, then optionally drive inserts/removes from
// a whitespace-separated file of int64 keys, or dump the index in key
// order. Grounded on
// _examples/sushant-115-gojodb/core/indexing/btree/main.go's flag-driven
// shape and on _examples/original_source/src/storage/index/b_plus_tree.cpp's
// InsertFromFile/RemoveFromFile, which read exactly this format.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/fenglin-Zhou/bustub/core/bptree"
	"github.com/fenglin-Zhou/bustub/core/catalog"
	"github.com/fenglin-Zhou/bustub/core/storage"
	"github.com/fenglin-Zhou/bustub/core/wal"
	"github.com/fenglin-Zhou/bustub/pkg/logger"
)

func main() {
	dbPath := flag.String("db", "talon.db", "path to the database file")
	poolSize := flag.Int("pool-size", 64, "number of frames in the buffer pool")
	pageSize := flag.Int("page-size", storage.PageSize, "page size in bytes (must match the compiled-in constant)")
	leafMaxSize := flag.Int("leaf-max-size", 5, "max entries in a leaf page before it splits")
	internalMaxSize := flag.Int("internal-max-size", 5, "max entries in an internal page before it splits")
	logDir := flag.String("log-dir", "", "directory for the write-ahead log (defaults to <db>.wal alongside -db)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	insertFile := flag.String("insert-file", "", "file of whitespace-separated int64 keys to insert")
	removeFile := flag.String("remove-file", "", "file of whitespace-separated int64 keys to remove")
	dump := flag.Bool("dump", false, "print every key in the index, in order")
	flag.Parse()

	if *pageSize != storage.PageSize {
		fmt.Fprintf(os.Stderr, "talondb: -page-size %d does not match the compiled-in page size %d\n", *pageSize, storage.PageSize)
		os.Exit(1)
	}
	if *logDir == "" {
		*logDir = *dbPath + ".wal"
	}

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console"}, "talondb")
	if err != nil {
		fmt.Fprintf(os.Stderr, "talondb: build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*dbPath, *poolSize, *leafMaxSize, *internalMaxSize, *logDir, *insertFile, *removeFile, *dump, log); err != nil {
		log.Error("talondb failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(dbPath string, poolSize, leafMaxSize, internalMaxSize int, logDir, insertFile, removeFile string, dump bool, log *zap.Logger) error {
	fresh := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fresh = true
	}

	disk, err := storage.NewDiskManager(dbPath, log)
	if err != nil {
		return fmt.Errorf("open disk manager: %w", err)
	}
	defer disk.Close()

	logMgr, err := wal.NewLogManager(logDir, log)
	if err != nil {
		return fmt.Errorf("open log manager: %w", err)
	}
	defer logMgr.Close()

	bpm := storage.NewBufferPoolManager(poolSize, disk, logMgr, log, nil)

	cat, err := catalog.Open(bpm, fresh)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	tree := bptree.Open("primary", bpm, cat, bptree.Key8Codec, leafMaxSize, internalMaxSize, log)

	if insertFile != "" {
		if err := insertFromFile(tree, insertFile); err != nil {
			return fmt.Errorf("insert from %s: %w", insertFile, err)
		}
	}
	if removeFile != "" {
		if err := removeFromFile(tree, removeFile); err != nil {
			return fmt.Errorf("remove from %s: %w", removeFile, err)
		}
	}
	if dump {
		if err := dumpTree(tree, os.Stdout); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	return bpm.FlushAllPages()
}

// insertFromFile inserts every int64 key in path, using the key's own
// value as a synthetic RID page id so the index is self-describing for
// test-mode use.
func insertFromFile(tree *bptree.BPlusTree[bptree.Key8], path string) error {
	return scanKeys(path, func(v int64) error {
		return tree.Insert(bptree.NewKey8(v), bptree.RID{PageID: storage.PageID(v), Slot: 0})
	})
}

func removeFromFile(tree *bptree.BPlusTree[bptree.Key8], path string) error {
	return scanKeys(path, func(v int64) error {
		return tree.Remove(bptree.NewKey8(v))
	})
}

func scanKeys(path string, fn func(int64) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		var v int64
		if _, err := fmt.Sscanf(sc.Text(), "%d", &v); err != nil {
			return fmt.Errorf("parse key %q: %w", sc.Text(), err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

func dumpTree(tree *bptree.BPlusTree[bptree.Key8], w io.Writer) error {
	it, err := tree.Begin()
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Valid() {
		rid := it.Value()
		fmt.Fprintf(w, "%d -> page %d slot %d\n", it.Key().Int64(), rid.PageID, rid.Slot)
		it.Next()
	}
	return nil
}
