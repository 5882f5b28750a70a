package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pdtp-workbench/pdfgate"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dir := flag.String("dir", ".", "directory holding the documents")
	password := flag.String("password", os.Getenv("PDFGATE_PASSWORD"), "document password (default $PDFGATE_PASSWORD)")
	pngForIOS := flag.Bool("png-ios", false, "serve page images to iOS clients")
	imageWidth := flag.Int("image-width", pdfgate.DefaultImageWidth, "page image width in pixels")
	maxConns := flag.Int("max-conns", 64, "maximum concurrent connections")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *password == "" {
		fmt.Fprintln(os.Stderr, "a password is required (-password or PDFGATE_PASSWORD)")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	hash, err := pdfgate.HashPassword(*password, bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}

	handler := pdfgate.NewGateHandler(pdfgate.Config{
		PasswordHash: hash,
		OpenDocument: func(fileName string) ([]byte, error) {
			return os.ReadFile(filepath.Join(*dir, filepath.Base(fileName)))
		},
		ImageWidth:        *imageWidth,
		PNGForConstrained: *pngForIOS,
		Logger:            logger,
	})

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	ln = netutil.LimitListener(ln, *maxConns)

	logger.Info("Document gate listening", "addr", ln.Addr().String(), "dir", *dir)
	log.Fatal(http.Serve(ln, pdfgate.CORSMiddleware(handler)))
}
