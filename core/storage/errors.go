package storage

import "errors"

// Sentinel errors for the buffer pool and disk manager. These are returned,
// never panicked: resource exhaustion and contract violations are expected
// operating conditions for an educational storage engine, not programmer
// bugs by themselves.
var (
	ErrBufferPoolFull = errors.New("buffer pool: no available frame, all pages pinned")
	ErrPageNotFound   = errors.New("buffer pool: page not resident")
	ErrPagePinned     = errors.New("buffer pool: page still pinned")
	ErrNotPinned      = errors.New("buffer pool: unpin of a page with pin count 0")
	ErrInvalidPageID  = errors.New("storage: invalid page id")
	ErrIO             = errors.New("storage: disk i/o error")
)
