package pdfgate

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpenDocument(t *testing.T) {
	src := newFakeSource()
	src.docs["sample.pdf"] = samplePDF(2)
	var logBuf bytes.Buffer
	doc, err := OpenDocument(context.Background(), src, "sample.pdf", "t", newTestLogger(&logBuf))
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if doc.PageCount() != 2 {
		t.Errorf("PageCount = %d, want 2", doc.PageCount())
	}
	if _, err := doc.Page(3); err == nil {
		t.Error("page 3 of 2 accepted")
	}
	if !strings.Contains(logBuf.String(), "Document opened") {
		t.Errorf("expected the open to be logged, got:\n%s", logBuf.String())
	}

	t.Run("fetch failure", func(t *testing.T) {
		_, err := OpenDocument(context.Background(), src, "missing.pdf", "t", newTestLogger(&logBuf))
		if !errors.Is(err, ErrDocumentLoadFailed) {
			t.Errorf("got %v, want ErrDocumentLoadFailed", err)
		}
	})

	t.Run("not a pdf", func(t *testing.T) {
		src.docs["junk.pdf"] = []byte("<html>login page</html>")
		_, err := OpenDocument(context.Background(), src, "junk.pdf", "t", newTestLogger(&logBuf))
		if !errors.Is(err, ErrDocumentLoadFailed) {
			t.Errorf("got %v, want ErrDocumentLoadFailed", err)
		}
	})
}

func TestPageGeometry(t *testing.T) {
	data := buildPDF(
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 400] >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 500 250] >>",
	)
	pages, err := pageGeometry(data)
	if err != nil {
		t.Fatalf("pageGeometry: %v", err)
	}
	want := []PageInfo{
		{Number: 1, MediaBox: [4]float64{0, 0, 300, 400}, Width: 300, Height: 400},
		{Number: 2, MediaBox: [4]float64{0, 0, 500, 250}, Width: 500, Height: 250},
	}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Errorf("geometry mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentWithoutContentParser(t *testing.T) {
	doc := &Document{Filename: "x.pdf", pages: []PageInfo{{Number: 1, Width: 100, Height: 50}}}
	content, err := doc.Contents(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(content.Commands) != 0 {
		t.Errorf("got %d commands from a geometry-only document", len(content.Commands))
	}
}
