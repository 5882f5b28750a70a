package pdfgate

import (
	"net/http"

	"github.com/klauspost/compress/gzip"
)

type GzipCompression struct{}

func (g GzipCompression) Name() string {
	return "gzip"
}

func (g GzipCompression) Writer(w http.ResponseWriter) (FlusherWriter, error) {
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Del("Content-Length")
	gz := gzip.NewWriter(w)
	hf, _ := w.(http.Flusher)
	return &GzipFlusherWriter{gz: gz, hf: hf}, nil
}

type GzipFlusherWriter struct {
	gz *gzip.Writer
	hf http.Flusher
}

func (g *GzipFlusherWriter) Write(p []byte) (int, error) {
	return g.gz.Write(p)
}

func (g *GzipFlusherWriter) Flush() error {
	if err := g.gz.Flush(); err != nil {
		return err
	}
	if g.hf != nil {
		g.hf.Flush()
	}
	return nil
}

func (g *GzipFlusherWriter) Close() error {
	return g.gz.Close()
}
