package pdfgate

import (
	"net/http"

	"github.com/klauspost/compress/zstd"
)

type ZstdCompression struct{}

func (z ZstdCompression) Name() string {
	return "zstd"
}

func (z ZstdCompression) Writer(w http.ResponseWriter) (FlusherWriter, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	w.Header().Set("Content-Encoding", "zstd")
	w.Header().Del("Content-Length")
	hf, _ := w.(http.Flusher)
	return &ZstdFlusherWriter{zw: zw, hf: hf}, nil
}

type ZstdFlusherWriter struct {
	zw *zstd.Encoder
	hf http.Flusher
}

func (z *ZstdFlusherWriter) Write(p []byte) (int, error) {
	return z.zw.Write(p)
}

func (z *ZstdFlusherWriter) Flush() error {
	if err := z.zw.Flush(); err != nil {
		return err
	}
	if z.hf != nil {
		z.hf.Flush()
	}
	return nil
}

func (z *ZstdFlusherWriter) Close() error {
	return z.zw.Close()
}
