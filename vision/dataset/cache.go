package dataset

import (
	"container/list"
	"fmt"
	"image"
	"sync"
)

// ImageCache is an LRU cache of decoded images keyed by file path.
type ImageCache struct {
	mu      sync.Mutex
	images  map[string]*image.RGBA
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int

	hits   int64
	misses int64
}

// NewImageCache creates a cache holding at most maxSize images.
func NewImageCache(maxSize int) *ImageCache {
	return &ImageCache{
		images:  make(map[string]*image.RGBA),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get returns the cached image for key. Callers must not modify it.
func (c *ImageCache) Get(key string) (*image.RGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.images[key]; ok {
		c.lru.MoveToFront(c.lruMap[key])
		c.hits++
		return img, true
	}
	c.misses++
	return nil, false
}

// Put stores img under key, evicting the least recently used entries.
func (c *ImageCache) Put(key string, img *image.RGBA) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.lruMap[key]; ok {
		c.images[key] = img
		c.lru.MoveToFront(elem)
		return
	}
	c.lruMap[key] = c.lru.PushFront(key)
	c.images[key] = img

	for c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		key := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.lruMap, key)
		delete(c.images, key)
	}
}

// Stats returns cache statistics.
func (c *ImageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lru.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every cached image. Statistics stay cumulative.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.images = make(map[string]*image.RGBA)
	c.lru = list.New()
	c.lruMap = make(map[string]*list.Element)
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String formats the statistics for logging.
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d images, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
