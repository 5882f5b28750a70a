package pdfgate

import "image/color"

// DrawCommand is one paint operation extracted from a content stream, in
// painting order. Coordinates are PDF user space (origin bottom left).
type DrawCommand interface {
	drawCommand()
}

type TextCommand struct {
	X        float64 // baseline origin
	Y        float64
	Text     string
	FontID   string
	FontSize float64 // effective size after text and CTM scaling
	Color    color.RGBA
}

// ImageCommand paints XObject ImageID into the unit square mapped by CTM.
type ImageCommand struct {
	ImageID string
	CTM     Matrix
}

type PathOp int

const (
	PathMoveTo PathOp = iota
	PathLineTo
	PathCubeTo
	PathClose
)

type Point struct {
	X, Y float64
}

// PathSegment points are already transformed by the CTM.
type PathSegment struct {
	Op     PathOp
	Points []Point
}

type PathCommand struct {
	Segments    []PathSegment
	Fill        bool
	Stroke      bool
	EvenOdd     bool
	FillColor   color.RGBA
	StrokeColor color.RGBA
	LineWidth   float64 // in user space
}

func (*TextCommand) drawCommand()  {}
func (*ImageCommand) drawCommand() {}
func (*PathCommand) drawCommand()  {}
