package pdfgate

import "slices"

type ModeKind int

const (
	ModeNativeEmbed ModeKind = iota
	ModeCanvasPaged
	ModeImageStream
)

func (k ModeKind) String() string {
	switch k {
	case ModeNativeEmbed:
		return "native-embed"
	case ModeCanvasPaged:
		return "canvas-paged"
	case ModeImageStream:
		return "image-stream"
	}
	return "unknown"
}

// DisplayMode is one of NativeEmbed, CanvasPaged or ImageStream.
type DisplayMode interface {
	Kind() ModeKind
	displayMode()
}

// NativeEmbed hands the token-bearing document URL to the platform viewer.
type NativeEmbed struct {
	URL string
}

// CanvasPaged renders pages locally with a pager and background preload.
type CanvasPaged struct{}

// ImageStream shows server-rendered page images loaded one after another.
type ImageStream struct {
	Images []string
}

func (NativeEmbed) Kind() ModeKind { return ModeNativeEmbed }
func (CanvasPaged) Kind() ModeKind { return ModeCanvasPaged }
func (ImageStream) Kind() ModeKind { return ModeImageStream }

func (NativeEmbed) displayMode() {}
func (CanvasPaged) displayMode() {}
func (ImageStream) displayMode() {}

// ModeDescriptor is the display hint carried by a successful /auth
// response.
type ModeDescriptor struct {
	UsePngMode bool
	PngFiles   []string
}

// SelectDisplayMode picks the display mode once. An explicit image-stream
// descriptor with images wins over the platform; otherwise native
// embedding is used where supported, else canvas rendering.
func SelectDisplayMode(platform Platform, desc *ModeDescriptor, documentURL string) DisplayMode {
	if desc != nil && desc.UsePngMode && len(desc.PngFiles) > 0 {
		return ImageStream{Images: slices.Clone(desc.PngFiles)}
	}
	if platform.NativeEmbed {
		return NativeEmbed{URL: documentURL}
	}
	return CanvasPaged{}
}
