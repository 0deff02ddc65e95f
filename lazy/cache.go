/*
	This file holds the in-memory chunk cache.  Entries are snappy-framed so a
	mostly-empty block costs little cache RAM.  A cache belongs to exactly one
	source handle; scene switches clear it wholesale.
*/

package lazy

import (
	"fmt"

	"github.com/coocood/freecache"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/codec"
)

// Cache holds previously fetched chunks keyed by scene and block coordinates.
type Cache struct {
	fc *freecache.Cache
}

// NewCache creates a chunk cache of roughly the given number of megabytes.
func NewCache(mbytes int) *Cache {
	if mbytes <= 0 {
		mbytes = bioimg.DefaultCacheMBytes
	}
	c := &Cache{fc: freecache.NewCache(mbytes << 20)}
	bioimg.Debugf("Created chunk cache of ~ %d MB\n", mbytes)
	return c
}

func cacheKey(prefix string, scene int, chunkAxes string, blockIndex []int) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s", prefix, scene, chunkAxes, ChunkKey(blockIndex)))
}

func (c *Cache) get(key []byte) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, err := c.fc.Get(key)
	if err != nil {
		if err != freecache.ErrNotFound {
			bioimg.Errorf("Error on chunk cache get of key %q: %v\n", key, err)
		}
		return nil, false
	}
	data, err := codec.Deserialize(v)
	if err != nil {
		bioimg.Errorf("Unable to deserialize cached chunk %q: %v\n", key, err)
		return nil, false
	}
	return data, true
}

func (c *Cache) set(key []byte, data []byte) {
	if c == nil {
		return
	}
	framed, err := codec.Serialize(data, codec.Snappy, codec.NoChecksum)
	if err != nil {
		bioimg.Errorf("Unable to serialize chunk for caching, key %q: %v\n", key, err)
		return
	}
	if err := c.fc.Set(key, framed, 0); err != nil {
		// An entry bigger than the cache allows is legal, just uncacheable.
		bioimg.Debugf("Chunk %q not cached: %v\n", key, err)
	}
}

// Clear drops every cached chunk.  Called on scene switches.
func (c *Cache) Clear() {
	if c != nil {
		c.fc.Clear()
	}
}

// EntryCount returns the number of cached chunks.
func (c *Cache) EntryCount() int64 {
	if c == nil {
		return 0
	}
	return c.fc.EntryCount()
}
