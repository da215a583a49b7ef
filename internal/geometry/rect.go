// Package geometry resolves where a video source is actually drawn inside a
// display box, so that normalized landmark coordinates can be mapped onto the
// same pixels the video occupies.
package geometry

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Fit is the policy used to place a source of one aspect ratio inside a box of
// another, mirroring CSS object-fit.
type Fit string

const (
	// FitContain scales the source to fit entirely inside the box (letterboxing).
	FitContain Fit = "contain"
	// FitCover scales the source to fill the box, cropping the overflow.
	FitCover Fit = "cover"
)

// ParseFit converts a configuration string into a Fit.
func ParseFit(s string) (Fit, error) {
	switch Fit(strings.ToLower(strings.TrimSpace(s))) {
	case FitContain:
		return FitContain, nil
	case FitCover:
		return FitCover, nil
	default:
		return "", fmt.Errorf("unknown fit mode %q (want contain or cover)", s)
	}
}

// Rect is a rectangle in display pixel space. X and Y may be negative under
// FitCover, where the source overflows the box.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Resolve returns the rectangle the source occupies inside a boxW x boxH box.
// Any zero (or negative, or NaN) dimension yields the full box.
func Resolve(boxW, boxH, srcW, srcH float64, fit Fit) Rect {
	if !positive(boxW) || !positive(boxH) || !positive(srcW) || !positive(srcH) {
		return Rect{Width: boxW, Height: boxH}
	}

	// Compare aspect ratios by cross multiplication so equal ratios compare
	// exactly and land on the full box.
	srcSide := srcW * boxH
	boxSide := srcH * boxW
	if srcSide == boxSide {
		return Rect{Width: boxW, Height: boxH}
	}
	wider := srcSide > boxSide

	fullWidth := wider
	if fit == FitCover {
		fullWidth = !wider
	}

	if fullWidth {
		height := boxW * srcH / srcW
		return Rect{X: 0, Y: (boxH - height) / 2, Width: boxW, Height: height}
	}
	width := boxH * srcW / srcH
	return Rect{X: (boxW - width) / 2, Y: 0, Width: width, Height: boxH}
}

// ResolveInt is Resolve for integer pixel sizes.
func ResolveInt(boxW, boxH, srcW, srcH int, fit Fit) Rect {
	return Resolve(float64(boxW), float64(boxH), float64(srcW), float64(srcH), fit)
}

// Map converts a normalized (0..1) coordinate to a pixel position inside r.
func (r Rect) Map(nx, ny float64) (float64, float64) {
	return r.X + nx*r.Width, r.Y + ny*r.Height
}

// Image rounds the rectangle to integer pixel bounds.
func (r Rect) Image() image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.Width))
	y1 := int(math.Round(r.Y + r.Height))
	return image.Rect(x0, y0, x1, y1)
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
