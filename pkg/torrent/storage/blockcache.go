package storage

import (
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/NamanBalaji/tordisk/pkg/torrent/metainfo"
)

type blockKey struct {
	torrent uuid.UUID
	piece   int
	offset  uint32
	length  uint32
}

type pieceKey struct {
	torrent uuid.UUID
	piece   int
}

// blockCache remembers recently read blocks so a piece that is verified
// and then served to peers is read from disk once. A nil cache is valid
// and caches nothing.
//
// pieces indexes the cached keys by piece so invalidation does not walk
// the whole cache. It is kept in step by the eviction callback, which
// runs under the lru's lock; mu is never held while calling into lru.
type blockCache struct {
	lru *lru.Cache

	mu     sync.Mutex
	pieces map[pieceKey]map[blockKey]struct{}
}

func newBlockCache(bytes int64) (*blockCache, error) {
	entries := int(bytes / metainfo.MaxBlockSize)
	if entries <= 0 {
		return nil, nil
	}

	c := &blockCache{pieces: make(map[pieceKey]map[blockKey]struct{})}

	l, err := lru.NewWithEvict(entries, func(k, _ interface{}) {
		c.unindex(k.(blockKey))
	})
	if err != nil {
		return nil, err
	}
	c.lru = l

	return c, nil
}

func (c *blockCache) index(k blockKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pk := pieceKey{torrent: k.torrent, piece: k.piece}
	set, ok := c.pieces[pk]
	if !ok {
		set = make(map[blockKey]struct{})
		c.pieces[pk] = set
	}
	set[k] = struct{}{}
}

func (c *blockCache) unindex(k blockKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pk := pieceKey{torrent: k.torrent, piece: k.piece}
	if set, ok := c.pieces[pk]; ok {
		delete(set, k)
		if len(set) == 0 {
			delete(c.pieces, pk)
		}
	}
}

// takePiece returns the cached keys of one piece and forgets them.
func (c *blockCache) takePiece(pk pieceKey) []blockKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.pieces[pk]
	delete(c.pieces, pk)

	keys := make([]blockKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}

	return keys
}

// takeTorrent returns the cached keys of every piece of torrent and
// forgets them.
func (c *blockCache) takeTorrent(torrent uuid.UUID) []blockKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []blockKey
	for pk, set := range c.pieces {
		if pk.torrent != torrent {
			continue
		}
		for k := range set {
			keys = append(keys, k)
		}
		delete(c.pieces, pk)
	}

	return keys
}

func (c *blockCache) get(k blockKey) ([]byte, bool) {
	if c == nil {
		return nil, false
	}

	v, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}

	return v.([]byte), true
}

func (c *blockCache) put(k blockKey, data []byte) {
	if c == nil {
		return
	}

	c.index(k)
	c.lru.Add(k, append([]byte(nil), data...))
}

func (c *blockCache) dropPiece(torrent uuid.UUID, piece int) {
	if c == nil {
		return
	}

	for _, k := range c.takePiece(pieceKey{torrent: torrent, piece: piece}) {
		c.lru.Remove(k)
	}
}

func (c *blockCache) dropTorrent(torrent uuid.UUID) {
	if c == nil {
		return
	}

	for _, k := range c.takeTorrent(torrent) {
		c.lru.Remove(k)
	}
}

func (c *blockCache) purge() {
	if c == nil {
		return
	}

	c.lru.Purge()
}

func (c *blockCache) size() int {
	if c == nil {
		return 0
	}

	return c.lru.Len()
}
