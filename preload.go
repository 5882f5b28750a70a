package pdfgate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPreloadDebounce = 300 * time.Millisecond

type SweepResult struct {
	Rendered int
	Skipped  int
	Failed   int
}

// Preloader renders every page that is not cached yet, in ascending
// order, at the container width current when the page is reached. Only
// one sweep runs at a time.
type Preloader struct {
	renderer *Renderer
	width    func() int
	debounce time.Duration
	logger   *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pending *delayedAction
	stopped bool
	wg      sync.WaitGroup
}

func NewPreloader(renderer *Renderer, width func() int, debounce time.Duration, logger *slog.Logger) *Preloader {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce < 0 {
		debounce = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Preloader{
		renderer: renderer,
		width:    width,
		debounce: debounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule (re)starts the debounce timer; when it fires a sweep runs in
// the background. Calls while a sweep is running are absorbed by the
// in-flight guard.
func (p *Preloader) Schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.pending.Cancel() {
		p.wg.Done()
	}
	p.wg.Add(1)
	p.pending = scheduleAction(p.debounce, func() {
		defer p.wg.Done()
		if _, err := p.Sweep(p.ctx); err != nil && !errors.Is(err, ErrSweepInFlight) {
			p.logger.Debug("Preload sweep ended early", "error", err)
		}
	})
}

// Running reports whether a sweep is in progress.
func (p *Preloader) Running() bool {
	return p.running.Load()
}

// Sweep walks pages 1..n. It returns ErrSweepInFlight without doing
// anything when another sweep holds the guard. Per-page failures are
// logged and counted; only cancellation stops the walk early.
func (p *Preloader) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !p.running.CompareAndSwap(false, true) {
		return res, ErrSweepInFlight
	}
	defer p.running.Store(false)

	count := p.renderer.Document().PageCount()
	cache := p.renderer.Cache()
	for page := 1; page <= count; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if cache.Has(page) {
			res.Skipped++
			continue
		}
		if _, err := p.renderer.RenderPage(ctx, page, p.width()); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.logger.Error("Preload failed", "page", page, "error", err)
			res.Failed++
			continue
		}
		res.Rendered++
		p.logger.Debug("Preloaded page", "page", page, "of", count)
	}
	return res, nil
}

// Wait blocks until no debounced sweep is pending or running.
func (p *Preloader) Wait() {
	p.wg.Wait()
}

// Stop cancels a pending sweep, signals a running one to stop and waits
// for it. The preloader cannot be restarted.
func (p *Preloader) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.pending.Cancel() {
		p.wg.Done()
	}
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}
