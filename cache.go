package pdfgate

import (
	"image"
	"slices"
	"sync"
	"sync/atomic"
)

// Raster is a rendered page: the pixel buffer and its size.
type Raster struct {
	Image  *image.RGBA
	Width  int
	Height int
}

func newRaster(img *image.RGBA) *Raster {
	b := img.Bounds()
	return &Raster{Image: img, Width: b.Dx(), Height: b.Dy()}
}

type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// PageCache maps page index to its first successful render. Entries are
// never replaced or evicted; a cache lives exactly as long as one
// document.
type PageCache struct {
	mu      sync.RWMutex
	entries map[int]*Raster

	hits   atomic.Int64
	misses atomic.Int64
}

func NewPageCache() *PageCache {
	return &PageCache{entries: make(map[int]*Raster)}
}

func (c *PageCache) Get(page int) (*Raster, bool) {
	c.mu.RLock()
	r, ok := c.entries[page]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return r, ok
}

// Has reports presence without touching the hit statistics.
func (c *PageCache) Has(page int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[page]
	return ok
}

// Put stores r unless page already has an entry, and returns the entry
// that is cached afterwards.
func (c *PageCache) Put(page int, r *Raster) *Raster {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[page]; ok {
		return existing
	}
	c.entries[page] = r
	return r
}

func (c *PageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pages returns the cached page indices in ascending order.
func (c *PageCache) Pages() []int {
	c.mu.RLock()
	pages := make([]int, 0, len(c.entries))
	for p := range c.entries {
		pages = append(pages, p)
	}
	c.mu.RUnlock()
	slices.Sort(pages)
	return pages
}

func (c *PageCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}
