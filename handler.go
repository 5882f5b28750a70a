package pdfgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const DefaultImageWidth = 1224

type Config struct {
	// PasswordHash is a bcrypt hash as produced by HashPassword.
	PasswordHash []byte
	OpenDocument func(fileName string) ([]byte, error)

	// CompressionMethods in preference order; nil means
	// DefaultCompressionMethods.
	CompressionMethods []CompressionMethod

	// ImageWidth is the pixel width of server-rendered page images.
	ImageWidth int
	// PNGForConstrained offers image-stream mode to clients that report a
	// constrained platform.
	PNGForConstrained bool
	TokenTTL          time.Duration
	Logger            *slog.Logger
}

// HashPassword prepares password the same way the gate does and hashes
// it with bcrypt.
func HashPassword(password string, cost int) ([]byte, error) {
	prepared, err := preparePassword(password)
	if err != nil {
		return nil, err
	}
	return bcrypt.GenerateFromPassword([]byte(prepared), cost)
}

type gateHandler struct {
	config Config
	logger *slog.Logger
	tokens *tokenStore

	mu        sync.Mutex
	renderers map[string]*Renderer
}

// NewGateHandler serves POST /auth, GET /pdf/{filename} and
// GET /png/{filename}.
func NewGateHandler(config Config) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.CompressionMethods == nil {
		config.CompressionMethods = DefaultCompressionMethods
	}
	if config.ImageWidth <= 0 {
		config.ImageWidth = DefaultImageWidth
	}
	h := &gateHandler{
		config:    config,
		logger:    logger,
		tokens:    newTokenStore(config.TokenTTL),
		renderers: make(map[string]*Renderer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", h.handleAuth)
	mux.HandleFunc("GET /pdf/{filename}", h.handleDocument)
	mux.HandleFunc("GET /png/{filename}", h.handleImage)
	return mux
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *gateHandler) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.logger.Warn("Invalid auth request", "error", err)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	prepared, err := preparePassword(req.Password)
	if err != nil || bcrypt.CompareHashAndPassword(h.config.PasswordHash, []byte(prepared)) != nil {
		h.logger.Warn("Rejected password", "file", req.PdfFilename)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !ValidFileName(req.PdfFilename) {
		http.Error(w, "unknown document", http.StatusNotFound)
		return
	}

	resp := AuthResponse{}
	if h.config.PNGForConstrained && req.IsIOS {
		renderer, err := h.renderer(req.PdfFilename)
		if err != nil {
			h.logger.Error("Failed to open document", "file", req.PdfFilename, "error", err)
			http.Error(w, "unknown document", http.StatusNotFound)
			return
		}
		resp.UsePngMode = true
		resp.PngFiles = pageImageNames(req.PdfFilename, renderer.Document().PageCount())
	}

	token, err := h.tokens.issue(req.PdfFilename)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp.Token = token

	h.logger.Info("Issued token", "file", req.PdfFilename, "png_mode", resp.UsePngMode)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Failed to write auth response", "error", err)
	}
}

func (h *gateHandler) handleDocument(w http.ResponseWriter, r *http.Request) {
	fileName := r.PathValue("filename")
	document, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if document != fileName {
		h.logger.Warn("Token used for another document", "file", fileName)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := h.config.OpenDocument(fileName)
	if err != nil {
		h.logger.Error("Failed to open document", "file", fileName, "error", err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	fw, err := compressedResponse(w, r, h.config.CompressionMethods, "application/pdf")
	if err != nil {
		h.logger.Error("Compression error", "error", err)
		return
	}
	defer fw.Close()
	if _, err := fw.Write(data); err != nil {
		h.logger.Warn("Failed to send document", "file", fileName, "error", err)
	}
}

func (h *gateHandler) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	document, ok := h.authorize(w, r)
	if !ok {
		return
	}
	stem, page, err := parsePageImageName(name)
	if err != nil || stem != documentStem(document) {
		h.logger.Warn("Invalid page image request", "image", name, "error", err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	renderer, err := h.renderer(document)
	if err != nil {
		h.logger.Error("Failed to open document", "file", document, "error", err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if page > renderer.Document().PageCount() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	raster, err := renderer.RenderPage(r.Context(), page, h.config.ImageWidth)
	if err != nil {
		h.logger.Error("Failed to render page image", "image", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, raster.Image); err != nil {
		h.logger.Warn("Failed to send page image", "image", name, "error", err)
	}
}

// authorize checks the token query parameter and returns the document it
// grants.
func (h *gateHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	document, ok := h.tokens.lookup(r.URL.Query().Get("token"))
	if !ok {
		h.logger.Warn("Request with invalid token", "path", r.URL.Path)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return document, true
}

// renderer returns the shared renderer of a document; rendered page
// images are cached for the lifetime of the handler. Documents are parsed
// outside the lock and the first stored renderer wins.
func (h *gateHandler) renderer(fileName string) (*Renderer, error) {
	h.mu.Lock()
	r, ok := h.renderers[fileName]
	h.mu.Unlock()
	if ok {
		return r, nil
	}

	data, err := h.config.OpenDocument(fileName)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data, fileName, h.logger)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.renderers[fileName]; ok {
		return r, nil
	}
	r = NewRenderer(doc, NewPageCache(), h.logger)
	h.renderers[fileName] = r
	return r, nil
}

// ValidFileName reports whether name is a single path element, safe to
// join onto a directory.
func ValidFileName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func documentStem(fileName string) string {
	return strings.TrimSuffix(fileName, path.Ext(fileName))
}

func pageImageNames(fileName string, pages int) []string {
	stem := documentStem(fileName)
	names := make([]string, pages)
	for i := range names {
		names[i] = fmt.Sprintf("%s-page-%d.png", stem, i+1)
	}
	return names
}

var errBadImageName = errors.New("bad page image name")

// parsePageImageName splits "<stem>-page-<n>.png".
func parsePageImageName(name string) (string, int, error) {
	base, ok := strings.CutSuffix(name, ".png")
	if !ok {
		return "", 0, errBadImageName
	}
	i := strings.LastIndex(base, "-page-")
	if i < 0 {
		return "", 0, errBadImageName
	}
	page, err := strconv.Atoi(base[i+len("-page-"):])
	if err != nil || page < 1 {
		return "", 0, errBadImageName
	}
	return base[:i], page, nil
}
