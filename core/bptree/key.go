// Package bptree implements a concurrent, crab-latched B+Tree index over
// pages served by a core/storage.BufferPoolManager.
//
// Key families follow BusTub's GenericKey<N>/GenericComparator<N> idea
// (_examples/original_source/src/storage/index/b_plus_tree.cpp's template
// instantiations: N in {4, 8, 16, 32, 64}): a fixed-width byte array big
// enough to hold the widest column type the tree indexes, compared
// byte-for-byte. Values are stored as int64 in the first eight bytes
// (Key4 keeps only the low 32 bits, in its four bytes), big-endian so a
// lexicographic byte compare is also a numeric compare for non-negative
// keys, with any remaining bytes zero.
package bptree

import (
	"bytes"
	"encoding/binary"

	"github.com/fenglin-Zhou/bustub/core/storage"
)

// RID locates one record: the page it lives on and its slot within that
// page. It is the value type every leaf entry stores.
type RID struct {
	PageID storage.PageID
	Slot   uint32
}

// Comparator orders two keys, returning <0, 0 or >0 the way bytes.Compare
// does.
type Comparator[K any] func(a, b K) int

// Key4, Key8, Key16, Key32 and Key64 are the fixed-width key families. Each
// stores an int64 value big-endian in its leading bytes; Key4 holds only
// the value's low 32 bits.
type (
	Key4  [4]byte
	Key8  [8]byte
	Key16 [16]byte
	Key32 [32]byte
	Key64 [64]byte
)

func NewKey4(v int64) Key4 {
	var k Key4
	binary.BigEndian.PutUint32(k[:], uint32(v))
	return k
}

func (k Key4) Int64() int64 { return int64(binary.BigEndian.Uint32(k[:])) }

func NewKey8(v int64) Key8 {
	var k Key8
	binary.BigEndian.PutUint64(k[:], uint64(v))
	return k
}

func (k Key8) Int64() int64 { return int64(binary.BigEndian.Uint64(k[:])) }

func NewKey16(v int64) Key16 {
	var k Key16
	binary.BigEndian.PutUint64(k[:8], uint64(v))
	return k
}

func (k Key16) Int64() int64 { return int64(binary.BigEndian.Uint64(k[:8])) }

func NewKey32(v int64) Key32 {
	var k Key32
	binary.BigEndian.PutUint64(k[:8], uint64(v))
	return k
}

func (k Key32) Int64() int64 { return int64(binary.BigEndian.Uint64(k[:8])) }

func NewKey64(v int64) Key64 {
	var k Key64
	binary.BigEndian.PutUint64(k[:8], uint64(v))
	return k
}

func (k Key64) Int64() int64 { return int64(binary.BigEndian.Uint64(k[:8])) }

func CompareKey4(a, b Key4) int   { return bytes.Compare(a[:], b[:]) }
func CompareKey8(a, b Key8) int   { return bytes.Compare(a[:], b[:]) }
func CompareKey16(a, b Key16) int { return bytes.Compare(a[:], b[:]) }
func CompareKey32(a, b Key32) int { return bytes.Compare(a[:], b[:]) }
func CompareKey64(a, b Key64) int { return bytes.Compare(a[:], b[:]) }

// KeyCodec supplies everything a generic BPlusTree[K] needs to serialize K
// onto a page and compare two instances of it.
type KeyCodec[K any] struct {
	Size    int
	Compare Comparator[K]
	Encode  func(K) []byte
	Decode  func([]byte) K
	Zero    K
}

// Key8Codec is the ready-made codec for int64-valued keys.
var Key8Codec = KeyCodec[Key8]{
	Size:    8,
	Compare: CompareKey8,
	Encode:  func(k Key8) []byte { return k[:] },
	Decode:  func(b []byte) Key8 { var k Key8; copy(k[:], b); return k },
}

var Key4Codec = KeyCodec[Key4]{
	Size:    4,
	Compare: CompareKey4,
	Encode:  func(k Key4) []byte { return k[:] },
	Decode:  func(b []byte) Key4 { var k Key4; copy(k[:], b); return k },
}

var Key16Codec = KeyCodec[Key16]{
	Size:    16,
	Compare: CompareKey16,
	Encode:  func(k Key16) []byte { return k[:] },
	Decode:  func(b []byte) Key16 { var k Key16; copy(k[:], b); return k },
}

var Key32Codec = KeyCodec[Key32]{
	Size:    32,
	Compare: CompareKey32,
	Encode:  func(k Key32) []byte { return k[:] },
	Decode:  func(b []byte) Key32 { var k Key32; copy(k[:], b); return k },
}

var Key64Codec = KeyCodec[Key64]{
	Size:    64,
	Compare: CompareKey64,
	Encode:  func(k Key64) []byte { return k[:] },
	Decode:  func(b []byte) Key64 { var k Key64; copy(k[:], b); return k },
}
