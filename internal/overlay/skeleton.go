package overlay

import (
	"image"
	"image/color"
	"strconv"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
)

// PointsFunc returns the landmarks to draw, or false when there is no
// current result.
type PointsFunc func() (predict.Landmarks, bool)

// Style controls how a Skeleton is drawn.
type Style struct {
	LineColor  color.RGBA
	LineWidth  float64
	PointColor color.RGBA
	Radius     float64
	LabelColor color.RGBA
}

// Predefined styles for the built-in pages.
var (
	HandStyle = Style{
		LineColor:  MustColor("#22d3ee"),
		LineWidth:  2,
		PointColor: MustColor("#a78bfa"),
		Radius:     3,
	}
	PoseStyle = Style{
		LineColor:  MustColor("#16a34a"),
		LineWidth:  2,
		PointColor: MustColor("#22c55e"),
		Radius:     3,
		LabelColor: MustColor("#ffffff"),
	}
	FaceStyle = Style{
		PointColor: MustColor("#38bdf8"),
		Radius:     1.5,
	}
)

// Skeleton draws landmarks as dots joined by topology edges. With no edges it
// is a plain point cloud.
type Skeleton struct {
	*BaseLayer
	points PointsFunc
	edges  []predict.Edge
	style  Style
	labels func() bool
}

// NewSkeleton creates a skeleton layer.
func NewSkeleton(id string, points PointsFunc, edges []predict.Edge, style Style) *Skeleton {
	return &Skeleton{
		BaseLayer: NewBaseLayer(id),
		points:    points,
		edges:     edges,
		style:     style,
	}
}

// NewPoints creates a layer that draws landmarks without edges.
func NewPoints(id string, points PointsFunc, style Style) *Skeleton {
	return NewSkeleton(id, points, nil, style)
}

// WithLabels annotates each point with its index while show returns true.
func (s *Skeleton) WithLabels(show func() bool) *Skeleton {
	s.labels = show
	return s
}

// Draw implements Layer. Edges with a missing endpoint are skipped.
func (s *Skeleton) Draw(p Painter, rect geometry.Rect, _ image.Rectangle) {
	pts, ok := s.points()
	if !ok || len(pts) == 0 {
		return
	}

	for _, e := range s.edges {
		a, okA := pts.At(e.A)
		b, okB := pts.At(e.B)
		if !okA || !okB {
			continue
		}
		x1, y1 := rect.Map(a.X, a.Y)
		x2, y2 := rect.Map(b.X, b.Y)
		p.Line(x1, y1, x2, y2, s.style.LineWidth, s.style.LineColor)
	}

	showLabels := s.labels != nil && s.labels()
	for i, pt := range pts {
		if pt == nil {
			continue
		}
		x, y := rect.Map(pt.X, pt.Y)
		p.Dot(x, y, s.style.Radius, s.style.PointColor)
		if showLabels {
			p.Label(x+4, y-4, strconv.Itoa(i), s.style.LabelColor)
		}
	}
}
