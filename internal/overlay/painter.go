package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Painter is the drawing surface a Layer paints onto. Coordinates are
// surface pixels.
type Painter interface {
	Line(x1, y1, x2, y2, width float64, c color.Color)
	Dot(x, y, radius float64, c color.Color)
	Label(x, y float64, text string, c color.Color)
	Panel(x, y int, lines []string, style PanelStyle)
}

// ggPainter draws with fogleman/gg directly into the overlay surface.
type ggPainter struct {
	dc      *gg.Context
	surface *image.RGBA
}

// NewPainter returns a Painter that draws onto surface.
func NewPainter(surface *image.RGBA) Painter {
	dc := gg.NewContextForRGBA(surface)
	dc.SetFontFace(basicfont.Face7x13)
	return &ggPainter{dc: dc, surface: surface}
}

func (p *ggPainter) Line(x1, y1, x2, y2, width float64, c color.Color) {
	p.dc.SetColor(c)
	p.dc.SetLineWidth(width)
	p.dc.DrawLine(x1, y1, x2, y2)
	p.dc.Stroke()
}

func (p *ggPainter) Dot(x, y, radius float64, c color.Color) {
	p.dc.SetColor(c)
	p.dc.DrawCircle(x, y, radius)
	p.dc.Fill()
}

func (p *ggPainter) Label(x, y float64, text string, c color.Color) {
	p.dc.SetColor(c)
	p.dc.DrawString(text, x, y)
}

func (p *ggPainter) Panel(x, y int, lines []string, style PanelStyle) {
	DrawPanel(p.surface, x, y, lines, style)
}

// ParseColor parses #rgb or #rrggbb.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	var r, g, b uint8
	switch len(s) {
	case 6:
		if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
	case 3:
		if _, err := fmt.Sscanf(s, "%1x%1x%1x", &r, &g, &b); err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		r, g, b = r*17, g*17, b*17
	default:
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// MustColor is ParseColor for constants.
func MustColor(s string) color.RGBA {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}
