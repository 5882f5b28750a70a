package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/pdtp-workbench/pdfgate"
	"golang.org/x/term"
)

func main() {
	server := flag.String("server", os.Getenv("PDFGATE_SERVER"), "server base URL (default $PDFGATE_SERVER)")
	file := flag.String("file", "sample.pdf", "document to open")
	width := flag.Int("width", 800, "container width in pixels")
	out := flag.String("out", ".", "directory for rendered pages")
	ios := flag.Bool("ios", false, "report a constrained platform")
	local := flag.String("local-password", "", "password checked locally before the server")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *server == "" {
		fmt.Fprintln(os.Stderr, "a server is required (-server or PDFGATE_SERVER)")
		os.Exit(2)
	}
	client := pdfgate.NewClient(*server, pdfgate.WithLogger(logger))
	platform := pdfgate.Platform{Constrained: *ios}

	gate := pdfgate.NewAccessGate(pdfgate.GateConfig{
		Password:      *local,
		ServerMode:    true,
		Authenticator: client,
		DocumentName:  *file,
		Platform:      platform,
		Logger:        logger,
	})
	defer gate.Close()

	for gate.State() != pdfgate.GateAuthenticated {
		fmt.Print("password: ")
		passwd, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		gate.SetInput(string(passwd))
		if err := gate.Submit(ctx); err != nil {
			fmt.Println(gate.ErrorMessage())
			continue
		}
		select {
		case <-gate.Authenticated():
		case <-ctx.Done():
			os.Exit(1)
		}
	}
	session, _ := gate.Session()

	streamDone := make(chan struct{})
	var viewer *pdfgate.Viewer
	viewer = pdfgate.NewViewer(session, platform, pdfgate.ViewerConfig{
		Source:         client,
		Filename:       *file,
		ContainerWidth: *width,
		OnImageEvent: func(ev pdfgate.ImageEvent) {
			if ev.State != pdfgate.ImageLoaded && ev.State != pdfgate.ImageFailed {
				return
			}
			fmt.Printf("%s: %s\n", ev.Name, ev.State)
			if ev.Index == len(viewer.Mode().(pdfgate.ImageStream).Images)-1 {
				close(streamDone)
			}
		},
		Logger: logger,
	})
	defer viewer.Close()

	if err := viewer.Open(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := show(ctx, viewer, *file, *out, streamDone, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func show(ctx context.Context, viewer *pdfgate.Viewer, file, out string, streamDone <-chan struct{}, logger *slog.Logger) error {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	switch viewer.Mode().(type) {
	case pdfgate.NativeEmbed:
		view, err := viewer.Render(ctx)
		if err != nil {
			return err
		}
		fmt.Println(view.(pdfgate.EmbedView).URL)
		return nil

	case pdfgate.CanvasPaged:
		for {
			view, err := viewer.Render(ctx)
			if err != nil {
				return err
			}
			pv := view.(pdfgate.PageView)
			if err := writePNG(filepath.Join(out, fmt.Sprintf("%s-%d.png", stem, pv.Page)), pv.Raster.Image); err != nil {
				return err
			}
			fmt.Printf("page %d/%d\n", pv.Page, pv.Count)
			if moved, err := viewer.Next(); err != nil || !moved {
				return err
			}
		}

	case pdfgate.ImageStream:
		select {
		case <-streamDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		images, err := viewer.Images()
		if err != nil {
			return err
		}
		for _, img := range images {
			if !pdfgate.ValidFileName(img.Name) {
				logger.Warn("Skipping page image with unsafe name", "image", img.Name)
				continue
			}
			if err := writePNG(filepath.Join(out, img.Name), img.Image); err != nil {
				return err
			}
		}
	}
	return nil
}

func writePNG(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
