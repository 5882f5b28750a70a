package pdfgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// AuthRequest is the body of POST /auth.
type AuthRequest struct {
	Password    string `json:"password"`
	IsIOS       bool   `json:"isIOS"`
	PdfFilename string `json:"pdfFilename"`
}

// AuthResponse is the body of a 200 answer to POST /auth.
type AuthResponse struct {
	Token      string   `json:"token"`
	UsePngMode bool     `json:"usePngMode,omitempty"`
	PngFiles   []string `json:"pngFiles,omitempty"`
}

// Descriptor returns the display hint of the response, or nil.
func (r *AuthResponse) Descriptor() *ModeDescriptor {
	if !r.UsePngMode {
		return nil
	}
	return &ModeDescriptor{UsePngMode: true, PngFiles: r.PngFiles}
}

// Client talks to the authentication and document server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxBody    int64
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxBodySize limits how many decoded bytes one response may carry.
func WithMaxBodySize(n int64) ClientOption {
	return func(c *Client) {
		c.maxBody = n
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxBody:    256 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate performs one POST /auth exchange. A non-200 status is
// ErrAuthRejected; transport failures and unreadable bodies are
// ErrAuthUnreachable. There is no retry.
func (c *Client) Authenticate(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Authentication rejected", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	}

	var out AuthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrAuthUnreachable, err)
	}
	return &out, nil
}

func (c *Client) resourceURL(kind, filename, token string) string {
	return fmt.Sprintf("%s/%s/%s?token=%s", c.baseURL, kind, url.PathEscape(filename), url.QueryEscape(token))
}

// DocumentURL is GET {base}/pdf/{filename}?token={token}.
func (c *Client) DocumentURL(filename, token string) string {
	return c.resourceURL("pdf", filename, token)
}

// ImageURL is GET {base}/png/{filename}?token={token}.
func (c *Client) ImageURL(filename, token string) string {
	return c.resourceURL("png", filename, token)
}

func (c *Client) FetchDocument(ctx context.Context, filename, token string) ([]byte, error) {
	return c.fetch(ctx, c.DocumentURL(filename, token))
}

func (c *Client) LoadImage(ctx context.Context, name, token string) (image.Image, error) {
	data, err := c.fetch(ctx, c.ImageURL(name, token))
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}

// fetch negotiates zstd or gzip itself so both can be decoded; the
// transport's transparent gzip handling is bypassed once Accept-Encoding
// is set explicitly.
func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "zstd, gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", redactToken(target), resp.StatusCode)
	}

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, c.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", redactToken(target), c.maxBody)
	}
	return data, nil
}

func decodeBody(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

// redactToken keeps credentials out of error messages and logs.
func redactToken(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
