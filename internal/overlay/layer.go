package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
)

// Layer is one thing drawn on the overlay each refresh.
type Layer interface {
	// ID returns the unique identifier for this layer
	ID() string

	// Draw paints the layer. rect is where the video sits inside box.
	Draw(p Painter, rect geometry.Rect, box image.Rectangle)

	// IsEnabled returns whether the layer should be drawn
	IsEnabled() bool

	// SetEnabled sets whether the layer should be drawn
	SetEnabled(enabled bool)
}

// BaseLayer provides the id and the enabled toggle shared by all layers.
// Toggles arrive from API goroutines, so the flag is atomic.
type BaseLayer struct {
	id      string
	enabled atomic.Bool
}

// NewBaseLayer creates an enabled base layer
func NewBaseLayer(id string) *BaseLayer {
	l := &BaseLayer{id: id}
	l.enabled.Store(true)
	return l
}

// ID returns the layer's unique identifier
func (l *BaseLayer) ID() string {
	return l.id
}

// IsEnabled returns whether the layer should be drawn
func (l *BaseLayer) IsEnabled() bool {
	return l.enabled.Load()
}

// SetEnabled sets whether the layer should be drawn
func (l *BaseLayer) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// BlendImage blends a source image onto a destination image at the given position
// with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 0xffff
			if alpha <= 0 {
				continue
			}

			// Straight-alpha "over" on premultiplied RGBA storage
			d := dst.RGBAAt(dx, dy)
			inv := 1 - alpha
			scale := opacity / 0x101
			dst.SetRGBA(dx, dy, color.RGBA{
				R: uint8(float64(sr)*scale + float64(d.R)*inv),
				G: uint8(float64(sg)*scale + float64(d.G)*inv),
				B: uint8(float64(sb)*scale + float64(d.B)*inv),
				A: uint8(alpha*255 + float64(d.A)*inv),
			})
		}
	}
}

// DrawRectangle blends a filled rectangle onto dst
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	if width <= 0 || height <= 0 {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(tmp, tmp.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, x, y, opacity)
}
