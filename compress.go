package pdfgate

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

type CompressionMethod interface {
	Name() string
	Writer(w http.ResponseWriter) (FlusherWriter, error)
}

// FlusherWriter is a response body writer that can be flushed and must
// be closed to emit trailing frames.
type FlusherWriter interface {
	io.Writer
	Flush() error
	Close() error
}

// DefaultCompressionMethods is the server preference order.
var DefaultCompressionMethods = []CompressionMethod{ZstdCompression{}, GzipCompression{}}

// negotiateCompression picks the first method in preference order the
// client accepts with a non-zero quality. It falls back to identity.
func negotiateCompression(r *http.Request, methods []CompressionMethod) CompressionMethod {
	accepted := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))
	for _, m := range methods {
		if q, ok := accepted[m.Name()]; ok && q > 0 {
			return m
		}
		if q, ok := accepted["*"]; ok && q > 0 {
			if _, named := accepted[m.Name()]; !named {
				return m
			}
		}
	}
	return IdentityCompression{}
}

func parseAcceptEncoding(header string) map[string]float64 {
	out := make(map[string]float64)
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		out[name] = q
	}
	return out
}

// compressedResponse sets the common headers and returns the body writer.
func compressedResponse(w http.ResponseWriter, r *http.Request, methods []CompressionMethod, contentType string) (FlusherWriter, error) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Add("Vary", "Accept-Encoding")

	fw, err := negotiateCompression(r, methods).Writer(w)
	if err != nil {
		http.Error(w, "Failed to initialize compression", http.StatusInternalServerError)
		return nil, err
	}
	return fw, nil
}

type IdentityCompression struct{}

func (IdentityCompression) Name() string {
	return "identity"
}

func (IdentityCompression) Writer(w http.ResponseWriter) (FlusherWriter, error) {
	return &identityWriter{w: w}, nil
}

type identityWriter struct {
	w http.ResponseWriter
}

func (i *identityWriter) Write(p []byte) (int, error) {
	return i.w.Write(p)
}

func (i *identityWriter) Flush() error {
	if f, ok := i.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (i *identityWriter) Close() error {
	return nil
}
