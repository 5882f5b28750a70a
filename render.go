package pdfgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Renderer turns pages of one document into rasters sized to a container
// width, consulting and filling a PageCache.
type Renderer struct {
	doc    *Document
	cache  *PageCache
	logger *slog.Logger

	renders atomic.Int64
}

func NewRenderer(doc *Document, cache *PageCache, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewPageCache()
	}
	return &Renderer{doc: doc, cache: cache, logger: logger}
}

func (r *Renderer) Document() *Document {
	return r.doc
}

func (r *Renderer) Cache() *PageCache {
	return r.cache
}

// Renders is the number of pages actually rasterized (cache misses that
// reached the rasterizer).
func (r *Renderer) Renders() int64 {
	return r.renders.Load()
}

// RenderPage returns the cached raster for page when present. Otherwise
// it renders at scale containerWidth / page width and caches the result.
// A cached page is never re-rendered, even if containerWidth changes.
func (r *Renderer) RenderPage(ctx context.Context, page int, containerWidth int) (*Raster, error) {
	if cached, ok := r.cache.Get(page); ok {
		r.logger.Debug("Page cache hit", "page", page)
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if containerWidth <= 0 {
		return nil, fmt.Errorf("%w: page %d: container width %d", ErrPageRenderFailed, page, containerWidth)
	}

	info, err := r.doc.Page(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageRenderFailed, err)
	}
	if err := checkRasterSize(info, containerWidth); err != nil {
		r.logger.Error("Refusing to render page", "page", page, "error", err)
		return nil, fmt.Errorf("%w: page %d: %w", ErrPageRenderFailed, page, err)
	}
	content, err := r.doc.Contents(page)
	if err != nil {
		r.logger.Error("Failed to read page contents", "page", page, "error", err)
		return nil, fmt.Errorf("%w: page %d: %w", ErrPageRenderFailed, page, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := rasterize(info, content, containerWidth)
	r.renders.Add(1)
	return r.cache.Put(page, newRaster(img)), nil
}
