package pdfgate

import (
	"bytes"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func extract(t *testing.T, contents string) ([]DrawCommand, string) {
	t.Helper()
	var logBuf bytes.Buffer
	cmds := NewTokenObject([]byte(contents), nil, newTestLogger(&logBuf)).ExtractCommands()
	return cmds, logBuf.String()
}

func TestTokenObjectTransforms(t *testing.T) {
	cmds, _ := extract(t, "q 2 0 0 2 100 50 cm 0 0 10 10 re f Q 0 0 1 1 re f")
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	scaled := cmds[0].(*PathCommand).Segments
	if got, want := scaled[2].Points[0], (Point{120, 70}); got != want {
		t.Errorf("transformed corner = %v, want %v", got, want)
	}
	restored := cmds[1].(*PathCommand).Segments
	if got, want := restored[2].Points[0], (Point{1, 1}); got != want {
		t.Errorf("corner after Q = %v, want %v", got, want)
	}
}

func TestTokenObjectConcatenationOrder(t *testing.T) {
	// translate then scale: the scale applies in the translated space
	cmds, _ := extract(t, "1 0 0 1 10 0 cm 2 0 0 2 0 0 cm 5 5 m 6 5 l S")
	pc := cmds[0].(*PathCommand)
	if got, want := pc.Segments[0].Points[0], (Point{20, 10}); got != want {
		t.Errorf("moveto = %v, want %v", got, want)
	}
	if pc.LineWidth != 2 {
		t.Errorf("line width = %v, want 2 (scaled by CTM)", pc.LineWidth)
	}
	if !pc.Stroke || pc.Fill {
		t.Errorf("stroke/fill = %v/%v, want true/false", pc.Stroke, pc.Fill)
	}
}

func TestTokenObjectText(t *testing.T) {
	t.Run("Td and TJ kerning", func(t *testing.T) {
		cmds, _ := extract(t, "BT /F1 10 Tf 100 200 Td [(A) -1000 (B)] TJ ET")
		if len(cmds) != 2 {
			t.Fatalf("got %d commands, want 2", len(cmds))
		}
		a, b := cmds[0].(*TextCommand), cmds[1].(*TextCommand)
		if a.X != 100 || a.Y != 200 || a.Text != "A" {
			t.Errorf("first run = %+v", a)
		}
		// half an em for "A" plus a full em of kerning
		if want := 100 + 5.0 + 10.0; math.Abs(b.X-want) > 1e-9 {
			t.Errorf("second run x = %v, want %v", b.X, want)
		}
	})

	t.Run("leading and T*", func(t *testing.T) {
		cmds, _ := extract(t, "BT /F1 12 Tf 14 TL 0 100 Td (one) Tj T* (two) Tj ET")
		two := cmds[1].(*TextCommand)
		if two.X != 0 || two.Y != 86 {
			t.Errorf("second line at (%v, %v), want (0, 86)", two.X, two.Y)
		}
	})

	t.Run("Tm scales the font size", func(t *testing.T) {
		cmds, _ := extract(t, "BT /F1 1 Tf 18 0 0 18 50 60 Tm (big) Tj ET")
		tc := cmds[0].(*TextCommand)
		if tc.FontSize != 18 || tc.X != 50 || tc.Y != 60 {
			t.Errorf("got %+v, want size 18 at (50, 60)", tc)
		}
	})

	t.Run("quote operators", func(t *testing.T) {
		cmds, _ := extract(t, "BT 10 TL 0 50 Td (a) Tj (b) ' 1 2 (c) \" ET")
		if len(cmds) != 3 {
			t.Fatalf("got %d commands, want 3", len(cmds))
		}
		got := []float64{cmds[0].(*TextCommand).Y, cmds[1].(*TextCommand).Y, cmds[2].(*TextCommand).Y}
		if diff := cmp.Diff([]float64{50, 40, 30}, got); diff != "" {
			t.Errorf("line positions mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestTokenObjectColors(t *testing.T) {
	cmds, _ := extract(t, "0.5 g 0 0 1 1 re f 0 1 1 0 k 0 0 1 1 re f 1 0 0 RG 0 0 m 1 1 l S")
	want := []color.RGBA{
		{0x80, 0x80, 0x80, 0xff},
		{0xff, 0, 0, 0xff},
	}
	for i, w := range want {
		if got := cmds[i].(*PathCommand).FillColor; got != w {
			t.Errorf("fill %d = %v, want %v", i, got, w)
		}
	}
	if got := cmds[2].(*PathCommand).StrokeColor; got != red {
		t.Errorf("stroke = %v, want red", got)
	}
}

func TestTokenObjectImagesAndSkipping(t *testing.T) {
	cmds, logs := extract(t, "q 100 0 0 50 10 20 cm /Im1 Do Q BI /W 1 /H 1 ID \x00\x01 EI 7 foo /X0 Do")
	want := []DrawCommand{
		&ImageCommand{ImageID: "Im1", CTM: newMatrix(100, 0, 0, 50, 10, 20)},
		&ImageCommand{ImageID: "X0", CTM: IdentityMatrix()},
	}
	if diff := cmp.Diff(want, cmds, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(logs, "Unknown content operator") || !strings.Contains(logs, "operator=foo") {
		t.Errorf("expected the unknown operator to be logged, got:\n%s", logs)
	}
}

func TestNewPathPainting(t *testing.T) {
	cmds, _ := extract(t, "0 0 m 10 0 l 10 10 l h n 0 0 m 5 5 l 0 5 l b*")
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1 (n discards the path)", len(cmds))
	}
	pc := cmds[0].(*PathCommand)
	if !pc.Fill || !pc.Stroke || !pc.EvenOdd {
		t.Errorf("b* painted fill=%v stroke=%v evenOdd=%v", pc.Fill, pc.Stroke, pc.EvenOdd)
	}
	if last := pc.Segments[len(pc.Segments)-1]; last.Op != PathClose {
		t.Errorf("b* did not close the path: %+v", last)
	}
}
