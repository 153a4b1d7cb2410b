package badge

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

// Document is a composed badge ready for rasterization.
type Document struct {
	SVG         string
	Base        string // hex canvas color
	Background  []byte // encoded image, drawn full-canvas
	Profile     []byte // encoded image, drawn into ProfileRect
	ProfileRect image.Rectangle
	// Text is drawn by rasterizers that cannot render SVG text nodes.
	Text []TextLayer
}

// TextLayer is one centered line of bitmap text.
type TextLayer struct {
	Text  string
	X, Y  int // center
	Scale int
	Color string
}

// Rasterizer turns a Document into PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document) ([]byte, error)
}

// VectorRasterizer draws in-process: base color, background art, profile
// art, then the SVG shapes via oksvg/rasterx, then text layers with a
// scaled bitmap face. Embedded <image> and <text> elements in the SVG are
// skipped by the SVG pass; the raster layers and TextLayers cover them.
type VectorRasterizer struct{}

func (VectorRasterizer) Rasterize(ctx context.Context, doc Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	canvas := image.NewRGBA(image.Rect(0, 0, Width, Height))

	base, err := parseHex(doc.Base)
	if err != nil {
		base = color.RGBA{A: 0xff}
	}
	stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(base), image.Point{}, stddraw.Src)

	if err := drawLayer(canvas, canvas.Bounds(), doc.Background); err != nil {
		return nil, fmt.Errorf("decode background: %w", err)
	}
	if err := drawLayer(canvas, doc.ProfileRect, doc.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(doc.SVG), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}
	icon.SetTarget(0, 0, Width, Height)
	scanner := rasterx.NewScannerGV(Width, Height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(Width, Height, scanner), 1)

	for _, t := range doc.Text {
		drawText(canvas, t)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawLayer(dst *image.RGBA, r image.Rectangle, data []byte) error {
	if len(data) == 0 || r.Empty() {
		return nil
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	draw.CatmullRom.Scale(dst, r, src, src.Bounds(), draw.Over, nil)
	return nil
}

func drawText(dst *image.RGBA, t TextLayer) {
	if t.Text == "" {
		return
	}
	scale := t.Scale
	if scale < 1 {
		scale = 1
	}
	c, err := parseHex(t.Color)
	if err != nil {
		c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Face: face, Src: image.NewUniform(c)}
	w := d.MeasureString(t.Text).Ceil()
	h := face.Metrics().Height.Ceil()
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	d.Dst = small
	d.Dot = fixed.P(0, face.Metrics().Ascent.Ceil())
	d.DrawString(t.Text)

	sw, sh := w*scale, h*scale
	x0, y0 := t.X-sw/2, t.Y-sh/2
	draw.NearestNeighbor.Scale(dst, image.Rect(x0, y0, x0+sw, y0+sh), small, small.Bounds(), draw.Over, nil)
}

func parseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
