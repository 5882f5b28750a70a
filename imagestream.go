package pdfgate

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

type ImageState int

const (
	ImagePending ImageState = iota
	ImageEligible
	ImageLoading
	ImageLoaded
	ImageFailed
)

func (s ImageState) String() string {
	switch s {
	case ImagePending:
		return "pending"
	case ImageEligible:
		return "eligible"
	case ImageLoading:
		return "loading"
	case ImageLoaded:
		return "loaded"
	case ImageFailed:
		return "failed"
	}
	return "unknown"
}

// StreamImage is the state of one page image. Image holds the decoded
// page, or an error placeholder once the load failed.
type StreamImage struct {
	Name  string
	State ImageState
	Image image.Image
	Err   error
}

type ImageEvent struct {
	Index int
	Name  string
	State ImageState
	Err   error
}

// ImageLoader fetches one page image with the session credential.
type ImageLoader interface {
	LoadImage(ctx context.Context, name, token string) (image.Image, error)
}

// default placeholder size until a real page image tells us better
var defaultPlaceholderSize = image.Pt(612, 792)

// ImageStreamLoader loads page images strictly one after another. Only
// the first image starts eligible; finishing image i, successfully or
// not, makes image i+1 eligible.
type ImageStreamLoader struct {
	token  string
	loader ImageLoader
	logger *slog.Logger

	mu          sync.Mutex
	images      []StreamImage
	onEvent     func(ImageEvent)
	placeholder image.Point
}

func NewImageStreamLoader(names []string, token string, loader ImageLoader, logger *slog.Logger) *ImageStreamLoader {
	if logger == nil {
		logger = slog.Default()
	}
	images := make([]StreamImage, len(names))
	for i, name := range names {
		images[i] = StreamImage{Name: name, State: ImagePending}
	}
	if len(images) > 0 {
		images[0].State = ImageEligible
	}
	return &ImageStreamLoader{
		token:       token,
		loader:      loader,
		logger:      logger,
		images:      images,
		placeholder: defaultPlaceholderSize,
	}
}

// OnEvent registers a callback for every state change. It is called from
// the goroutine running Run.
func (s *ImageStreamLoader) OnEvent(fn func(ImageEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

func (s *ImageStreamLoader) Len() int {
	return len(s.images)
}

func (s *ImageStreamLoader) Snapshot() []StreamImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamImage, len(s.images))
	copy(out, s.images)
	return out
}

func (s *ImageStreamLoader) setState(i int, state ImageState, img image.Image, err error) {
	s.mu.Lock()
	s.images[i].State = state
	if img != nil {
		s.images[i].Image = img
	}
	s.images[i].Err = err
	fn := s.onEvent
	ev := ImageEvent{Index: i, Name: s.images[i].Name, State: state, Err: err}
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *ImageStreamLoader) markEligible(i int) {
	s.mu.Lock()
	if i >= len(s.images) || s.images[i].State != ImagePending {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.setState(i, ImageEligible, nil, nil)
}

// Run loads every image in order and returns when the chain is exhausted
// or ctx is cancelled. Load failures never stop the chain.
func (s *ImageStreamLoader) Run(ctx context.Context) error {
	for i := range s.images {
		s.mu.Lock()
		state, name := s.images[i].State, s.images[i].Name
		s.mu.Unlock()
		if state != ImageEligible {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(i, ImageLoading, nil, nil)
		img, err := s.loader.LoadImage(ctx, name, s.token)
		if ctx.Err() != nil {
			s.setState(i, ImageEligible, nil, nil)
			return ctx.Err()
		}
		if err != nil {
			s.logger.Error("Failed to load page image", "image", name, "error", err)
			s.mu.Lock()
			size := s.placeholder
			s.mu.Unlock()
			ph := errorPlaceholder(size.X, size.Y, fmt.Sprintf("Failed to load page %d", i+1))
			s.setState(i, ImageFailed, ph, fmt.Errorf("%w: %s: %w", ErrImageLoadFailed, name, err))
		} else {
			s.mu.Lock()
			s.placeholder = img.Bounds().Size()
			s.mu.Unlock()
			s.setState(i, ImageLoaded, img, nil)
		}
		s.markEligible(i + 1)
	}
	return nil
}
