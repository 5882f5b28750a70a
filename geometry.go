package pdfgate

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// pageGeometry reads only page sizes, for files the content parser cannot
// open (cross-reference streams, object streams).
func pageGeometry(data []byte) ([]PageInfo, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	dims, err := api.PageDims(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", ErrParserParseObjectError)
	}
	pages := make([]PageInfo, len(dims))
	for i, d := range dims {
		pages[i] = PageInfo{
			Number:   i + 1,
			MediaBox: [4]float64{0, 0, d.Width, d.Height},
			Width:    d.Width,
			Height:   d.Height,
		}
	}
	return pages, nil
}
