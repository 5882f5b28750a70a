package pdfgate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ViewerSource is everything a viewer fetches with the session token.
// *Client implements it.
type ViewerSource interface {
	DocumentSource
	ImageLoader
	DocumentURL(filename, token string) string
}

type ViewerConfig struct {
	Source         ViewerSource
	Filename       string
	ContainerWidth int

	// PreloadDebounce delays the background sweep after a page render.
	// Zero means DefaultPreloadDebounce.
	PreloadDebounce time.Duration

	// OnImageEvent receives image-stream state changes from the loading
	// goroutine.
	OnImageEvent func(ImageEvent)
	Logger       *slog.Logger
}

// View is what the presentation layer shows: EmbedView, PageView or
// ImageStreamView.
type View interface {
	view()
}

type EmbedView struct {
	URL string
}

type PageView struct {
	Page   int
	Count  int
	Raster *Raster
}

type ImageStreamView struct {
	Images []StreamImage
}

func (EmbedView) view()       {}
func (PageView) view()        {}
func (ImageStreamView) view() {}

// Viewer owns one display session of one document: the selected mode, the
// page cache, renderer, cursor and preloader. Everything it started is
// torn down by Close.
type Viewer struct {
	cfg     ViewerConfig
	session Session
	mode    DisplayMode
	logger  *slog.Logger

	width atomic.Int64
	gen   generation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	opened    bool
	closed    bool
	openErr   error
	renderer  *Renderer
	pager     *Pager
	preloader *Preloader
	stream    *ImageStreamLoader
	// preloadKicked is set once the first page render has scheduled a
	// sweep; later sweeps are triggered by cursor moves only.
	preloadKicked bool
}

// NewViewer selects the display mode once from the platform and the
// session's descriptor.
func NewViewer(session Session, platform Platform, cfg ViewerConfig) *Viewer {
	if cfg.PreloadDebounce == 0 {
		cfg.PreloadDebounce = DefaultPreloadDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mode := SelectDisplayMode(platform, session.Mode, cfg.Source.DocumentURL(cfg.Filename, session.Token))
	ctx, cancel := context.WithCancel(context.Background())
	v := &Viewer{
		cfg:     cfg,
		session: session,
		mode:    mode,
		logger:  logger.With("file", cfg.Filename, "mode", mode.Kind().String()),
		ctx:     ctx,
		cancel:  cancel,
	}
	v.width.Store(int64(cfg.ContainerWidth))
	return v
}

func (v *Viewer) Mode() DisplayMode {
	return v.mode
}

// Open prepares the selected mode. Canvas mode fetches and parses the
// document; image-stream mode starts the sequential image chain. Open is
// done at most once; a load failure is remembered and returned by Render.
func (v *Viewer) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewerClosed
	}
	if v.opened {
		err := v.openErr
		v.mu.Unlock()
		return err
	}
	v.opened = true
	v.mu.Unlock()

	token := v.gen.current()
	var err error
	switch m := v.mode.(type) {
	case NativeEmbed:
	case CanvasPaged:
		err = v.openCanvas(ctx, token)
	case ImageStream:
		err = v.openImageStream(m, token)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.openErr = err
	}
	return err
}

func (v *Viewer) openCanvas(ctx context.Context, token uint64) error {
	doc, err := OpenDocument(ctx, v.cfg.Source, v.cfg.Filename, v.session.Token, v.logger)
	if err != nil {
		v.logger.Error("Failed to load document", "error", err)
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.gen.live(token) {
		return ErrViewerClosed
	}
	v.renderer = NewRenderer(doc, NewPageCache(), v.logger)
	v.pager = NewPager(doc.PageCount())
	v.preloader = NewPreloader(v.renderer, v.containerWidth, v.cfg.PreloadDebounce, v.logger)
	return nil
}

func (v *Viewer) openImageStream(m ImageStream, token uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.gen.live(token) {
		return ErrViewerClosed
	}
	v.stream = NewImageStreamLoader(m.Images, v.session.Token, v.cfg.Source, v.logger)
	if v.cfg.OnImageEvent != nil {
		v.stream.OnEvent(v.cfg.OnImageEvent)
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := v.stream.Run(v.ctx); err != nil {
			v.logger.Debug("Image stream stopped", "error", err)
		}
	}()
	return nil
}

// Render produces the view of the current state for the selected mode.
func (v *Viewer) Render(ctx context.Context) (View, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewerClosed
	}
	if !v.opened {
		v.mu.Unlock()
		return nil, ErrNotOpened
	}
	if v.openErr != nil {
		err := v.openErr
		v.mu.Unlock()
		return nil, err
	}
	renderer, pager, stream := v.renderer, v.pager, v.stream
	v.mu.Unlock()

	switch m := v.mode.(type) {
	case NativeEmbed:
		return v.renderEmbed(m), nil
	case CanvasPaged:
		if renderer == nil || pager == nil {
			return nil, ErrNotOpened
		}
		return v.renderCanvas(ctx, renderer, pager)
	case ImageStream:
		if stream == nil {
			return nil, ErrNotOpened
		}
		return ImageStreamView{Images: stream.Snapshot()}, nil
	}
	return nil, ErrWrongMode
}

func (v *Viewer) renderEmbed(m NativeEmbed) View {
	return EmbedView{URL: m.URL}
}

func (v *Viewer) renderCanvas(ctx context.Context, renderer *Renderer, pager *Pager) (View, error) {
	token := v.gen.current()
	page := pager.Current()
	raster, err := renderer.RenderPage(ctx, page, v.containerWidth())
	if !v.gen.live(token) {
		return nil, ErrViewerClosed
	}
	if err != nil {
		v.logger.Error("Failed to render page", "page", page, "error", err)
		return nil, err
	}

	v.mu.Lock()
	kick := !v.preloadKicked && !v.closed
	v.preloadKicked = true
	preloader := v.preloader
	v.mu.Unlock()
	if kick {
		preloader.Schedule()
	}
	return PageView{Page: page, Count: pager.Count(), Raster: raster}, nil
}

// Next moves to the following page and reports whether the cursor moved.
func (v *Viewer) Next() (bool, error) {
	return v.navigate((*Pager).Next)
}

func (v *Viewer) Previous() (bool, error) {
	return v.navigate((*Pager).Previous)
}

// Goto moves to page n, clamped into range.
func (v *Viewer) Goto(n int) (bool, error) {
	return v.navigate(func(p *Pager) bool { return p.Goto(n) })
}

func (v *Viewer) navigate(move func(*Pager) bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false, ErrViewerClosed
	}
	if _, ok := v.mode.(CanvasPaged); !ok {
		return false, ErrWrongMode
	}
	if v.pager == nil {
		return false, v.openErrLocked()
	}
	moved := move(v.pager)
	if moved {
		v.preloader.Schedule()
	}
	return moved, nil
}

func (v *Viewer) openErrLocked() error {
	if v.openErr != nil {
		return v.openErr
	}
	return ErrNotOpened
}

// CurrentPage returns the cursor and the page count in canvas mode.
func (v *Viewer) CurrentPage() (page, count int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.mode.(CanvasPaged); !ok {
		return 0, 0, ErrWrongMode
	}
	if v.pager == nil {
		return 0, 0, v.openErrLocked()
	}
	return v.pager.Current(), v.pager.Count(), nil
}

// Resize changes the container width used for pages not rendered yet.
func (v *Viewer) Resize(width int) {
	v.width.Store(int64(width))
}

func (v *Viewer) containerWidth() int {
	return int(v.width.Load())
}

// Images returns the image-stream snapshot.
func (v *Viewer) Images() ([]StreamImage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == nil {
		if _, ok := v.mode.(ImageStream); !ok {
			return nil, ErrWrongMode
		}
		return nil, v.openErrLocked()
	}
	return v.stream.Snapshot(), nil
}

// Preloader returns the canvas-mode preloader, nil in other modes.
func (v *Viewer) Preloader() *Preloader {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.preloader
}

// Cache returns the canvas-mode page cache, nil in other modes.
func (v *Viewer) Cache() *PageCache {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.renderer == nil {
		return nil
	}
	return v.renderer.Cache()
}

// Close discards every pending result, stops the preloader and waits for
// the image chain.
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.gen.advance()
	v.cancel()
	preloader := v.preloader
	v.mu.Unlock()

	if preloader != nil {
		preloader.Stop()
	}
	v.wg.Wait()
	v.logger.Debug("Viewer closed")
}
