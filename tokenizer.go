package pdfgate

import (
	"bytes"
	"image/color"
	"log/slog"
	"math"
	"strings"
)

// Matrix is a PDF transformation matrix in row-vector form:
// [x y 1] * M.
type Matrix [3][3]float64

func IdentityMatrix() Matrix {
	return Matrix{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
}

func newMatrix(a, b, c, d, e, f float64) Matrix {
	return Matrix{
		{a, b, 0},
		{c, d, 0},
		{e, f, 1},
	}
}

func (m Matrix) Multiply(n Matrix) Matrix {
	var result Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += m[i][k] * n[k][j]
			}
			result[i][j] = sum
		}
	}
	return result
}

func (m Matrix) Apply(x, y float64) Point {
	return Point{
		X: x*m[0][0] + y*m[1][0] + m[2][0],
		Y: x*m[0][1] + y*m[1][1] + m[2][1],
	}
}

// scale is the mean length of the transformed unit vectors.
func (m Matrix) scale() float64 {
	sx := math.Hypot(m[0][0], m[0][1])
	sy := math.Hypot(m[1][0], m[1][1])
	return (sx + sy) / 2
}

type GraphicsState struct {
	CTM         Matrix
	FillColor   color.RGBA
	StrokeColor color.RGBA
	LineWidth   float64
}

func NewGraphicsState() *GraphicsState {
	return &GraphicsState{
		CTM:         IdentityMatrix(),
		FillColor:   color.RGBA{A: 0xff},
		StrokeColor: color.RGBA{A: 0xff},
		LineWidth:   1,
	}
}

type TextState struct {
	Tm                Matrix
	Tlm               Matrix
	Font              string
	FontSize          float64
	CharSpacing       float64
	WordSpacing       float64
	HorizontalScaling float64
	Leading           float64
	Rise              float64
}

func NewTextState() *TextState {
	return &TextState{
		Tm:                IdentityMatrix(),
		Tlm:               IdentityMatrix(),
		FontSize:          12,
		HorizontalScaling: 100,
	}
}

// TokenObject interprets one page's content stream.
type TokenObject struct {
	fonts    map[string]*Font
	contents []byte
	logger   *slog.Logger
}

func NewTokenObject(contents []byte, fonts map[string]*Font, logger *slog.Logger) *TokenObject {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenObject{
		fonts:    fonts,
		contents: contents,
		logger:   logger,
	}
}

func (to *TokenObject) ExtractCommands() []DrawCommand {
	return to.processTokens(newLexer(to.contents))
}

// operator names that take no part in painting; accepted silently
var ignoredOperators = map[string]bool{
	"W": true, "W*": true, "gs": true, "cs": true, "CS": true, "ri": true,
	"i": true, "j": true, "J": true, "M": true, "d": true, "BX": true, "EX": true,
	"MP": true, "DP": true, "BMC": true, "BDC": true, "EMC": true, "sh": true,
	"d0": true, "d1": true,
}

func (to *TokenObject) processTokens(lx *lexer) []DrawCommand {
	graphicsStack := []*GraphicsState{NewGraphicsState()}
	textState := NewTextState()

	var (
		operands []Object
		commands []DrawCommand
		path     []PathSegment
		current  Point
		start    Point
	)

	gs := func() *GraphicsState { return graphicsStack[len(graphicsStack)-1] }
	nums := func(n int) ([]float64, bool) {
		if len(operands) < n {
			return nil, false
		}
		out := make([]float64, n)
		for i, o := range operands[len(operands)-n:] {
			v, ok := toFloat(o)
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	}
	addPoint := func(op PathOp, pts ...Point) {
		tr := make([]Point, len(pts))
		for i, pt := range pts {
			tr[i] = gs().CTM.Apply(pt.X, pt.Y)
		}
		path = append(path, PathSegment{Op: op, Points: tr})
	}
	paint := func(fill, stroke, evenOdd, closePath bool) {
		if closePath {
			path = append(path, PathSegment{Op: PathClose})
		}
		if len(path) > 0 && (fill || stroke) {
			commands = append(commands, &PathCommand{
				Segments:    path,
				Fill:        fill,
				Stroke:      stroke,
				EvenOdd:     evenOdd,
				FillColor:   gs().FillColor,
				StrokeColor: gs().StrokeColor,
				LineWidth:   gs().LineWidth * gs().CTM.scale(),
			})
		}
		path = nil
	}
	nextLine := func() {
		textState.Tm = textState.Tlm.Multiply(newMatrix(1, 0, 0, 1, 0, -textState.Leading))
		textState.Tlm = textState.Tm
	}
	showText := func(s String) {
		if len(s) == 0 {
			return
		}
		font := to.fonts[textState.Font]
		var text strings.Builder
		for _, b := range []byte(s) {
			text.WriteString(font.ToUnicode(b))
		}
		rise := newMatrix(1, 0, 0, 1, 0, textState.Rise)
		trm := rise.Multiply(textState.Tm).Multiply(gs().CTM)
		scaleY := math.Sqrt(trm[1][0]*trm[1][0] + trm[1][1]*trm[1][1])
		commands = append(commands, &TextCommand{
			X:        trm[2][0],
			Y:        trm[2][1],
			Text:     text.String(),
			FontID:   textState.Font,
			FontSize: textState.FontSize * scaleY,
			Color:    gs().FillColor,
		})
		// Glyph widths are not read; half an em per glyph keeps runs on
		// one line from overlapping.
		th := textState.HorizontalScaling / 100
		var adv float64
		for _, b := range []byte(s) {
			adv += 0.5*textState.FontSize + textState.CharSpacing
			if b == ' ' {
				adv += textState.WordSpacing
			}
		}
		textState.Tm = newMatrix(1, 0, 0, 1, adv*th, 0).Multiply(textState.Tm)
	}
	setColor := func(target *color.RGBA) {
		var comps []float64
		for _, o := range operands {
			if v, ok := toFloat(o); ok {
				comps = append(comps, v)
			}
		}
		if c, ok := parseColor(comps); ok {
			*target = c
		}
	}

	for {
		obj, err := lx.parseObject()
		if err != nil {
			if !lx.eof() {
				to.logger.Debug("Skipping malformed content token", "error", err)
				operands = nil
				continue
			}
			break
		}
		op, isOp := obj.(string)
		if !isOp {
			operands = append(operands, obj)
			continue
		}

		switch op {
		case "q":
			saved := *gs()
			graphicsStack = append(graphicsStack, &saved)
		case "Q":
			if len(graphicsStack) > 1 {
				graphicsStack = graphicsStack[:len(graphicsStack)-1]
			}
		case "cm":
			if v, ok := nums(6); ok {
				gs().CTM = newMatrix(v[0], v[1], v[2], v[3], v[4], v[5]).Multiply(gs().CTM)
			}
		case "w":
			if v, ok := nums(1); ok {
				gs().LineWidth = v[0]
			}
		case "g", "rg", "k", "sc", "scn":
			setColor(&gs().FillColor)
		case "G", "RG", "K", "SC", "SCN":
			setColor(&gs().StrokeColor)

		case "m":
			if v, ok := nums(2); ok {
				current = Point{v[0], v[1]}
				start = current
				addPoint(PathMoveTo, current)
			}
		case "l":
			if v, ok := nums(2); ok {
				current = Point{v[0], v[1]}
				addPoint(PathLineTo, current)
			}
		case "c":
			if v, ok := nums(6); ok {
				addPoint(PathCubeTo, Point{v[0], v[1]}, Point{v[2], v[3]}, Point{v[4], v[5]})
				current = Point{v[4], v[5]}
			}
		case "v":
			if v, ok := nums(4); ok {
				addPoint(PathCubeTo, current, Point{v[0], v[1]}, Point{v[2], v[3]})
				current = Point{v[2], v[3]}
			}
		case "y":
			if v, ok := nums(4); ok {
				addPoint(PathCubeTo, Point{v[0], v[1]}, Point{v[2], v[3]}, Point{v[2], v[3]})
				current = Point{v[2], v[3]}
			}
		case "re":
			if v, ok := nums(4); ok {
				x, y, w, h := v[0], v[1], v[2], v[3]
				addPoint(PathMoveTo, Point{x, y})
				addPoint(PathLineTo, Point{x + w, y})
				addPoint(PathLineTo, Point{x + w, y + h})
				addPoint(PathLineTo, Point{x, y + h})
				path = append(path, PathSegment{Op: PathClose})
				current = Point{x, y}
				start = current
			}
		case "h":
			path = append(path, PathSegment{Op: PathClose})
			current = start
		case "f", "F":
			paint(true, false, false, false)
		case "f*":
			paint(true, false, true, false)
		case "S":
			paint(false, true, false, false)
		case "s":
			paint(false, true, false, true)
		case "B":
			paint(true, true, false, false)
		case "B*":
			paint(true, true, true, false)
		case "b":
			paint(true, true, false, true)
		case "b*":
			paint(true, true, true, true)
		case "n":
			path = nil

		case "BT":
			textState.Tm = IdentityMatrix()
			textState.Tlm = IdentityMatrix()
		case "ET":
		case "Tf":
			if len(operands) >= 2 {
				if name, ok := operands[len(operands)-2].(Name); ok {
					textState.Font = string(name)
				}
				if size, ok := toFloat(operands[len(operands)-1]); ok {
					textState.FontSize = size
				}
			}
		case "Tc":
			if v, ok := nums(1); ok {
				textState.CharSpacing = v[0]
			}
		case "Tw":
			if v, ok := nums(1); ok {
				textState.WordSpacing = v[0]
			}
		case "Tz":
			if v, ok := nums(1); ok {
				textState.HorizontalScaling = v[0]
			}
		case "TL":
			if v, ok := nums(1); ok {
				textState.Leading = v[0]
			}
		case "Ts":
			if v, ok := nums(1); ok {
				textState.Rise = v[0]
			}
		case "Tm":
			if v, ok := nums(6); ok {
				textState.Tm = newMatrix(v[0], v[1], v[2], v[3], v[4], v[5])
				textState.Tlm = textState.Tm
			}
		case "Td", "TD":
			if v, ok := nums(2); ok {
				if op == "TD" {
					textState.Leading = -v[1]
				}
				textState.Tm = newMatrix(1, 0, 0, 1, v[0], v[1]).Multiply(textState.Tlm)
				textState.Tlm = textState.Tm
			}
		case "T*":
			nextLine()
		case "Tj":
			if len(operands) >= 1 {
				if s, ok := operands[len(operands)-1].(String); ok {
					showText(s)
				}
			}
		case "'":
			nextLine()
			if len(operands) >= 1 {
				if s, ok := operands[len(operands)-1].(String); ok {
					showText(s)
				}
			}
		case "\"":
			if len(operands) >= 3 {
				if aw, ok := toFloat(operands[len(operands)-3]); ok {
					textState.WordSpacing = aw
				}
				if ac, ok := toFloat(operands[len(operands)-2]); ok {
					textState.CharSpacing = ac
				}
				nextLine()
				if s, ok := operands[len(operands)-1].(String); ok {
					showText(s)
				}
			}
		case "TJ":
			if len(operands) >= 1 {
				if arr, ok := operands[len(operands)-1].(Array); ok {
					to.processTJ(arr, textState, showText)
				}
			}

		case "Do":
			if len(operands) >= 1 {
				if name, ok := operands[len(operands)-1].(Name); ok {
					commands = append(commands, &ImageCommand{
						ImageID: string(name),
						CTM:     gs().CTM,
					})
				}
			}
		case "BI":
			skipInlineImage(lx)
		default:
			if !ignoredOperators[op] {
				to.logger.Debug("Unknown content operator", "operator", op)
			}
		}
		operands = nil
	}
	return commands
}

// processTJ shows each string of a TJ array, applying the numeric
// kerning adjustments between them.
func (to *TokenObject) processTJ(items Array, textState *TextState, showText func(String)) {
	for _, item := range items {
		switch v := item.(type) {
		case String:
			showText(v)
		case int, float64:
			adj, _ := toFloat(v)
			tx := -adj / 1000 * textState.FontSize * (textState.HorizontalScaling / 100)
			textState.Tm = newMatrix(1, 0, 0, 1, tx, 0).Multiply(textState.Tm)
		}
	}
}

// skipInlineImage moves the lexer past "ID <data> EI".
func skipInlineImage(lx *lexer) {
	idx := bytes.Index(lx.data[lx.pos:], []byte("ID"))
	if idx < 0 {
		lx.pos = len(lx.data)
		return
	}
	lx.pos += idx + 2
	for lx.pos < len(lx.data) {
		end := bytes.Index(lx.data[lx.pos:], []byte("EI"))
		if end < 0 {
			lx.pos = len(lx.data)
			return
		}
		lx.pos += end + 2
		if lx.pos >= len(lx.data) || isWhiteSpace(lx.data[lx.pos]) {
			if isWhiteSpace(lx.data[lx.pos-3]) {
				return
			}
		}
	}
}

// parseColor accepts gray, RGB or CMYK components in [0, 1].
func parseColor(comps []float64) (color.RGBA, bool) {
	clamp := func(v float64) uint8 {
		return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	switch len(comps) {
	case 1:
		g := clamp(comps[0])
		return color.RGBA{g, g, g, 0xff}, true
	case 3:
		return color.RGBA{clamp(comps[0]), clamp(comps[1]), clamp(comps[2]), 0xff}, true
	case 4:
		c, m, y, k := comps[0], comps[1], comps[2], comps[3]
		return color.RGBA{
			clamp((1 - c) * (1 - k)),
			clamp((1 - m) * (1 - k)),
			clamp((1 - y) * (1 - k)),
			0xff,
		}, true
	}
	return color.RGBA{}, false
}
