package pdfgate

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"unicode"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var (
	textFontOnce sync.Once
	textFont     *opentype.Font
	textFontErr  error
)

func regularFont() (*opentype.Font, error) {
	textFontOnce.Do(func() {
		textFont, textFontErr = opentype.Parse(goregular.TTF)
	})
	return textFont, textFontErr
}

// rasterizer paints draw commands of one page into dst at a fixed scale.
type rasterizer struct {
	dst   *image.RGBA
	page  PageInfo
	scale float64
	fonts map[string]*Font

	embedded map[string]*opentype.Font
	faces    map[faceKey]font.Face
}

type faceKey struct {
	font string
	size int
}

// Rasters larger than this are refused before allocation.
const (
	MaxRasterSide   = 16384
	MaxRasterPixels = 64 << 20
)

func rasterHeight(page PageInfo, width int) int {
	return max(1, int(math.Round(page.Height*float64(width)/page.Width)))
}

// checkRasterSize reports whether page can be rendered width pixels wide
// within the raster limits.
func checkRasterSize(page PageInfo, width int) error {
	if !(page.Width > 0) || !(page.Height > 0) {
		return fmt.Errorf("page size %gx%g", page.Width, page.Height)
	}
	h := page.Height * float64(width) / page.Width
	if width > MaxRasterSide || h > MaxRasterSide || float64(width)*h > MaxRasterPixels {
		return fmt.Errorf("raster %dx%.0f exceeds %d pixels per side or %d pixels", width, h, MaxRasterSide, MaxRasterPixels)
	}
	return nil
}

// rasterize renders content into a white image width pixels wide, keeping
// the page aspect ratio.
func rasterize(page PageInfo, content *PageContent, width int) *image.RGBA {
	scale := float64(width) / page.Width
	height := rasterHeight(page, width)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(img, img.Bounds(), image.White, image.Point{}, xdraw.Src)

	r := &rasterizer{
		dst:      img,
		page:     page,
		scale:    scale,
		fonts:    content.Fonts,
		embedded: make(map[string]*opentype.Font),
		faces:    make(map[faceKey]font.Face),
	}
	for _, cmd := range content.Commands {
		switch c := cmd.(type) {
		case *PathCommand:
			r.drawPath(c)
		case *ImageCommand:
			if src, ok := content.Images[c.ImageID]; ok {
				r.drawImage(c, src)
			}
		case *TextCommand:
			r.drawText(c)
		}
	}
	return img
}

// device maps user space to pixel space (origin top left).
func (r *rasterizer) device(p Point) (float32, float32) {
	x := (p.X - r.page.MediaBox[0]) * r.scale
	y := (r.page.MediaBox[3] - p.Y) * r.scale
	return float32(x), float32(y)
}

func (r *rasterizer) newVector() *vector.Rasterizer {
	b := r.dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = xdraw.Over
	return z
}

func (r *rasterizer) drawPath(c *PathCommand) {
	if c.Fill {
		z := r.newVector()
		started := false
		for _, seg := range c.Segments {
			switch seg.Op {
			case PathMoveTo:
				x, y := r.device(seg.Points[0])
				z.MoveTo(x, y)
				started = true
			case PathLineTo:
				x, y := r.device(seg.Points[0])
				if !started {
					z.MoveTo(x, y)
					started = true
					continue
				}
				z.LineTo(x, y)
			case PathCubeTo:
				if !started {
					continue
				}
				bx, by := r.device(seg.Points[0])
				cx, cy := r.device(seg.Points[1])
				dx, dy := r.device(seg.Points[2])
				z.CubeTo(bx, by, cx, cy, dx, dy)
			case PathClose:
				if started {
					z.ClosePath()
				}
			}
		}
		z.Draw(r.dst, r.dst.Bounds(), image.NewUniform(c.FillColor), image.Point{})
	}
	if c.Stroke {
		r.strokePath(c)
	}
}

// strokePath flattens the path into line segments and paints each as a
// quad of the scaled line width (at least one pixel).
func (r *rasterizer) strokePath(c *PathCommand) {
	z := r.newVector()
	half := math.Max(c.LineWidth*r.scale, 1) / 2

	var pen, start Point
	line := func(a, b Point) {
		ax, ay := r.device(a)
		bx, by := r.device(b)
		dx, dy := float64(bx-ax), float64(by-ay)
		l := math.Hypot(dx, dy)
		if l == 0 {
			return
		}
		nx, ny := float32(-dy/l*half), float32(dx/l*half)
		z.MoveTo(ax+nx, ay+ny)
		z.LineTo(bx+nx, by+ny)
		z.LineTo(bx-nx, by-ny)
		z.LineTo(ax-nx, ay-ny)
		z.ClosePath()
	}
	for _, seg := range c.Segments {
		switch seg.Op {
		case PathMoveTo:
			pen = seg.Points[0]
			start = pen
		case PathLineTo:
			line(pen, seg.Points[0])
			pen = seg.Points[0]
		case PathCubeTo:
			const steps = 16
			p0, p1, p2, p3 := pen, seg.Points[0], seg.Points[1], seg.Points[2]
			prev := p0
			for i := 1; i <= steps; i++ {
				t := float64(i) / steps
				u := 1 - t
				next := Point{
					X: u*u*u*p0.X + 3*u*u*t*p1.X + 3*u*t*t*p2.X + t*t*t*p3.X,
					Y: u*u*u*p0.Y + 3*u*u*t*p1.Y + 3*u*t*t*p2.Y + t*t*t*p3.Y,
				}
				line(prev, next)
				prev = next
			}
			pen = p3
		case PathClose:
			line(pen, start)
			pen = start
		}
	}
	z.Draw(r.dst, r.dst.Bounds(), image.NewUniform(c.StrokeColor), image.Point{})
}

// drawImage scales src into the device bounding box of the unit square
// under the image CTM. Rotation and skew are not reproduced.
func (r *rasterizer) drawImage(c *ImageCommand, src image.Image) {
	corners := []Point{
		c.CTM.Apply(0, 0), c.CTM.Apply(1, 0),
		c.CTM.Apply(0, 1), c.CTM.Apply(1, 1),
	}
	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	for _, p := range corners {
		x, y := r.device(p)
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	dr := image.Rect(int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY))))
	if dr.Empty() || !dr.Overlaps(r.dst.Bounds()) {
		return
	}
	xdraw.BiLinear.Scale(r.dst, dr, src, src.Bounds(), xdraw.Over, nil)
}

// face returns the embedded program of fontID when it covers text, else
// the Go regular font. Faces are cached per half pixel of size.
func (r *rasterizer) face(fontID, text string, px float64) font.Face {
	size := int(math.Round(px * 2))
	src, name := r.embeddedFont(fontID), fontID
	if src == nil || !covers(src, text) {
		src, name = nil, ""
		if f, err := regularFont(); err == nil {
			src = f
		}
	}
	key := faceKey{font: name, size: size}
	if f, ok := r.faces[key]; ok {
		return f
	}
	var face font.Face = basicfont.Face7x13
	if src != nil {
		if of, err := opentype.NewFace(src, &opentype.FaceOptions{
			Size:    float64(size) / 2,
			DPI:     72,
			Hinting: font.HintingNone,
		}); err == nil {
			face = of
		}
	}
	r.faces[key] = face
	return face
}

func (r *rasterizer) embeddedFont(fontID string) *opentype.Font {
	if f, ok := r.embedded[fontID]; ok {
		return f
	}
	var parsed *opentype.Font
	if info := r.fonts[fontID]; info != nil && info.Program != nil {
		if f, err := opentype.Parse(info.Program); err == nil {
			parsed = f
		}
	}
	r.embedded[fontID] = parsed
	return parsed
}

func covers(f *opentype.Font, text string) bool {
	var buf sfnt.Buffer
	for _, c := range text {
		if unicode.IsSpace(c) {
			continue
		}
		if gi, err := f.GlyphIndex(&buf, c); err != nil || gi == 0 {
			return false
		}
	}
	return true
}

func (r *rasterizer) drawText(c *TextCommand) {
	px := c.FontSize * r.scale
	if px < 1 || c.Text == "" {
		return
	}
	x, y := r.device(Point{c.X, c.Y})
	d := font.Drawer{
		Dst:  r.dst,
		Src:  image.NewUniform(c.Color),
		Face: r.face(c.FontID, c.Text, px),
		Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
	}
	d.DrawString(c.Text)
}

var (
	placeholderFill   = color.RGBA{0xee, 0xee, 0xee, 0xff}
	placeholderBorder = color.RGBA{0xcc, 0x33, 0x33, 0xff}
)

// errorPlaceholder is drawn in place of a page image that failed to load.
func errorPlaceholder(width, height int, label string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(placeholderBorder), image.Point{}, xdraw.Src)
	if width > 4 && height > 4 {
		inner := image.Rect(2, 2, width-2, height-2)
		xdraw.Draw(img, inner, image.NewUniform(placeholderFill), image.Point{}, xdraw.Src)
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(placeholderBorder),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, height/2),
	}
	d.DrawString(label)
	return img
}
