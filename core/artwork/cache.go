package artwork

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of decoded images kept by default.
const DefaultCacheSize = 64

// Hash is the cache key of an image: hex SHA-256 of its encoded bytes.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Cache keeps decoded images by content hash, evicting the least recently
// used one when full. It is safe for concurrent use.
type Cache struct {
	lru    *lru.Cache[string, *Image]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache holding at most size images.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, *Image](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get looks an image up by hash.
func (c *Cache) Get(hash string) (*Image, bool) {
	img, ok := c.lru.Get(hash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return img, ok
}

// Put stores img under its hash.
func (c *Cache) Put(img *Image) {
	c.lru.Add(img.Hash, img)
}

// Evict drops one image and reports whether it was cached.
func (c *Cache) Evict(hash string) bool {
	return c.lru.Remove(hash)
}

// Clear drops every image.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Len is the number of cached images.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats reports lookups since the cache was created.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
