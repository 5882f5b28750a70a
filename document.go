package pdfgate

import (
	"context"
	"fmt"
	"log/slog"
)

// DocumentSource fetches the protected document bytes.
type DocumentSource interface {
	FetchDocument(ctx context.Context, filename, token string) ([]byte, error)
}

// Document is an opened, parsed document. Pages are numbered from 1.
type Document struct {
	Filename string

	pages  []PageInfo
	parser *Parser // nil when only page geometry could be read
}

// OpenDocument performs the single fetch and parse of a document. Any
// failure is reported as ErrDocumentLoadFailed.
func OpenDocument(ctx context.Context, src DocumentSource, filename, token string, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := src.FetchDocument(ctx, filename, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentLoadFailed, filename, err)
	}
	doc, err := ParseDocument(data, filename, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Document opened", "file", filename, "pages", doc.PageCount(), "content", doc.parser != nil)
	return doc, nil
}

// ParseDocument reads page structure from data. When the content parser
// cannot handle the file, page sizes come from pdfcpu and the pages render
// blank.
func ParseDocument(data []byte, filename string, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser, err := NewPDFParser(data, logger)
	if err == nil {
		pages, perr := parser.Pages()
		if perr == nil {
			return &Document{Filename: filename, pages: pages, parser: parser}, nil
		}
		err = perr
	}
	logger.Warn("Content parser failed, falling back to page geometry", "file", filename, "error", err)

	pages, gerr := pageGeometry(data)
	if gerr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentLoadFailed, filename, err)
	}
	return &Document{Filename: filename, pages: pages}, nil
}

func (d *Document) PageCount() int {
	return len(d.pages)
}

func (d *Document) Page(n int) (PageInfo, error) {
	if n < 1 || n > len(d.pages) {
		return PageInfo{}, fmt.Errorf("page %d outside [1, %d]", n, len(d.pages))
	}
	return d.pages[n-1], nil
}

// Contents returns the draw commands of page n.
func (d *Document) Contents(n int) (*PageContent, error) {
	page, err := d.Page(n)
	if err != nil {
		return nil, err
	}
	if d.parser == nil {
		return &PageContent{}, nil
	}
	return d.parser.PageContents(page)
}
