package pdfgate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"sync"
)

// newTestLogger creates a logger that writes to a bytes.Buffer for capturing output.
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// syncBuffer is a bytes.Buffer safe for loggers used from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSyncLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// buildPDF numbers objects from 1 and writes a classic xref table with
// exact offsets. Object 1 must be the catalog.
func buildPDF(objects ...string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func pdfStream(dict, data string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

// samplePDF has n pages of 200x100 points. Each page paints a red
// rectangle at (10,10)-(60,40) and the text "Page i".
func samplePDF(n int) []byte {
	objects := []string{"<< /Type /Catalog /Pages 2 0 R >>", ""}
	var kids []string
	for i := 1; i <= n; i++ {
		pageNum := len(objects) + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> >> >> /Contents %d 0 R >>", pageNum+1),
			pdfStream("", fmt.Sprintf("1 0 0 rg 10 10 50 30 re f BT /F1 12 Tf 20 70 Td (Page %d) Tj ET", i)),
		)
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 200 100] >>", strings.Join(kids, " "), n)
	return buildPDF(objects...)
}

var red = color.RGBA{0xff, 0, 0, 0xff}

// fakeSource serves documents and page images from memory and records
// what was requested.
type fakeSource struct {
	mu         sync.Mutex
	docs       map[string][]byte
	images     map[string]image.Image
	failImages map[string]bool
	docFetches int
	loaded     []string
	active     int
	maxActive  int
	block      chan struct{}
	docBlock   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		docs:       make(map[string][]byte),
		images:     make(map[string]image.Image),
		failImages: make(map[string]bool),
	}
}

func (f *fakeSource) FetchDocument(ctx context.Context, filename, token string) ([]byte, error) {
	f.mu.Lock()
	f.docFetches++
	block := f.docBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.docs[filename]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (f *fakeSource) LoadImage(ctx context.Context, name, token string) (image.Image, error) {
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.loaded = append(f.loaded, name)
	block := f.block
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failImages[name] {
		return nil, errors.New("500 internal server error")
	}
	img, ok := f.images[name]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return img, nil
}

func (f *fakeSource) DocumentURL(filename, token string) string {
	return "https://docs.example/pdf/" + filename + "?token=" + token
}

func (f *fakeSource) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loaded...)
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
