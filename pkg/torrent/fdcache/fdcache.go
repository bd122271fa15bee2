// Package fdcache keeps a bounded set of open torrent data files shared by
// every torrent of a session.
package fdcache

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/NamanBalaji/tordisk/internal/errors"
	"github.com/NamanBalaji/tordisk/internal/logger"
)

// Preallocation decides how much disk is reserved when a file is created.
type Preallocation int

const (
	PreallocateNone Preallocation = iota
	// PreallocateSparse sets the final size without reserving blocks.
	PreallocateSparse
	// PreallocateFull reserves every block up front.
	PreallocateFull
)

// ParsePreallocation maps a config value to a Preallocation.
func ParsePreallocation(s string) Preallocation {
	switch s {
	case "sparse":
		return PreallocateSparse
	case "full":
		return PreallocateFull
	default:
		return PreallocateNone
	}
}

type key struct {
	torrent uuid.UUID
	file    int
}

type entry struct {
	f        *os.File
	path     string
	writable bool

	// refs counts outstanding Handles; an evicted entry is closed once
	// the last one is released
	refs    int
	evicted bool
}

func (e *entry) closeIfUnused() {
	if !e.evicted || e.refs > 0 {
		return
	}

	if err := e.f.Close(); err != nil {
		logger.Warnf("Closing %s: %v", e.path, err)
	}
}

// Handle is a checked out file. It stays open until Release, even when the
// cache evicts it in the meantime.
type Handle struct {
	*os.File

	c        *Cache
	e        *entry
	released bool
}

// Release returns the handle to the cache. Calling it twice is a no-op.
func (h *Handle) Release() {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	h.e.refs--
	h.e.closeIfUnused()
}

// Cache is an LRU of open files shared by the torrents of a session.
// Admitting a file past the limit evicts the least recently used one,
// whichever torrent owns it; an evicted file is closed when its last
// Handle is released.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

// New creates a cache holding at most limit idle open files.
func New(limit int) (*Cache, error) {
	// the callback runs inside lru calls, which are all made with mu held
	l, err := lru.NewWithEvict(limit, func(k, v interface{}) {
		e := v.(*entry)
		e.evicted = true
		e.closeIfUnused()
	})
	if err != nil {
		return nil, err
	}

	return &Cache{lru: l}, nil
}

func (c *Cache) pin(e *entry) *Handle {
	e.refs++
	return &Handle{File: e.f, c: c, e: e}
}

// GetCached checks out the cached descriptor for a file. It returns nil
// when there is none or when a writable one is needed but only a
// read-only one is open.
func (c *Cache) GetCached(torrent uuid.UUID, fileIndex int, forWrite bool) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key{torrent, fileIndex})
	if !ok {
		return nil
	}

	e := v.(*entry)
	if forWrite && !e.writable {
		return nil
	}

	return c.pin(e)
}

// Checkout returns a descriptor for path, opening it if needed. For
// writes the parent directories and the file are created, and a newly
// created file is preallocated to length. The second result reports
// whether the file was created by this call. The caller must Release the
// handle.
func (c *Cache) Checkout(torrent uuid.UUID, fileIndex int, path string, forWrite bool, prealloc Preallocation, length int64) (*Handle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{torrent, fileIndex}

	if v, ok := c.lru.Get(k); ok {
		e := v.(*entry)
		if e.path == path && (e.writable || !forWrite) {
			return c.pin(e), false, nil
		}
		// reopen: wrong mode, or the file was renamed under us
		c.lru.Remove(k)
	}

	f, created, err := open(path, forWrite, prealloc, length)
	if err != nil {
		return nil, false, err
	}

	e := &entry{f: f, path: path, writable: forWrite}
	h := c.pin(e)
	c.lru.Add(k, e)

	return h, created, nil
}

func open(path string, forWrite bool, prealloc Preallocation, length int64) (*os.File, bool, error) {
	if !forWrite {
		f, err := os.Open(path)
		if err != nil {
			return nil, false, errors.NewIOError(err, "open", path)
		}
		return f, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, errors.NewIOError(err, "mkdir", path)
	}

	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, errors.NewIOError(err, "open", path)
	}

	if created && length > 0 {
		if err := preallocate(f, prealloc, length); err != nil {
			f.Close()
			return nil, false, errors.NewIOError(err, "preallocate", path)
		}
	}

	return f, created, nil
}

func preallocate(f *os.File, prealloc Preallocation, length int64) error {
	switch prealloc {
	case PreallocateSparse:
		return f.Truncate(length)
	case PreallocateFull:
		return preallocateFull(f, length)
	default:
		return nil
	}
}

// CloseFile closes one file of a torrent, e.g. before it is renamed.
func (c *Cache) CloseFile(torrent uuid.UUID, fileIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key{torrent, fileIndex})
}

// CloseTorrent closes every file a torrent has open.
func (c *Cache) CloseTorrent(torrent uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range c.lru.Keys() {
		if k.(key).torrent == torrent {
			c.lru.Remove(k)
		}
	}
}

// Close closes every cached file.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// Len returns the number of cached files. Evicted files still held by a
// Handle are not counted.
func (c *Cache) Len() int {
	return c.lru.Len()
}
