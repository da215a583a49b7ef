package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
)

// PanelStyle controls a text panel.
type PanelStyle struct {
	TextColor  color.RGBA
	Background *color.RGBA // nil for transparent
	Padding    int
	Opacity    float64 // background opacity
}

// DefaultPanelStyle is white text on a translucent dark panel.
var DefaultPanelStyle = PanelStyle{
	TextColor:  color.RGBA{255, 255, 255, 255},
	Background: &color.RGBA{15, 23, 42, 255},
	Padding:    5,
	Opacity:    0.8,
}

const lineHeight = 13 // basicfont.Face7x13

// HUD draws a block of status text in the top-left corner of the box.
type HUD struct {
	*BaseLayer
	lines func() []string
	x, y  int
	style PanelStyle
}

// NewHUD creates a HUD layer. lines is called every refresh.
func NewHUD(id string, lines func() []string) *HUD {
	return &HUD{
		BaseLayer: NewBaseLayer(id),
		lines:     lines,
		x:         8,
		y:         8,
		style:     DefaultPanelStyle,
	}
}

// SetPosition moves the panel
func (h *HUD) SetPosition(x, y int) {
	h.x = x
	h.y = y
}

// Draw implements Layer.
func (h *HUD) Draw(p Painter, _ geometry.Rect, box image.Rectangle) {
	lines := h.lines()
	if len(lines) == 0 {
		return
	}
	p.Panel(box.Min.X+h.x, box.Min.Y+h.y, lines, h.style)
}

// DrawPanel renders lines of text with an optional background onto img.
func DrawPanel(img *image.RGBA, x, y int, lines []string, style PanelStyle) {
	if len(lines) == 0 {
		return
	}
	face := basicfont.Face7x13

	measure := &font.Drawer{Face: face}
	widthPx := 0
	for _, line := range lines {
		if w := measure.MeasureString(line).Ceil(); w > widthPx {
			widthPx = w
		}
	}
	if widthPx == 0 {
		return
	}

	panelW := widthPx + style.Padding*2
	panelH := lineHeight*len(lines) + style.Padding*2

	if style.Background != nil {
		DrawRectangle(img, x, y, panelW, panelH, *style.Background, style.Opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, widthPx, lineHeight*len(lines)))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(style.TextColor),
		Face: face,
	}
	for i, line := range lines {
		// Baseline sits at the bottom of each line minus the descent
		d.Dot = fixed.Point26_6{X: 0, Y: fixed.I(lineHeight*(i+1) - face.Descent)}
		d.DrawString(line)
	}

	BlendImage(img, textImg, x+style.Padding, y+style.Padding, 1)
}
