package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
)

func init() {
	logger.Silence()
}

type segment struct{ x1, y1, x2, y2 float64 }

type recordingPainter struct {
	lines  []segment
	dots   [][2]float64
	labels []string
	panels [][]string
}

func (p *recordingPainter) Line(x1, y1, x2, y2, _ float64, _ color.Color) {
	p.lines = append(p.lines, segment{x1, y1, x2, y2})
}

func (p *recordingPainter) Dot(x, y, _ float64, _ color.Color) {
	p.dots = append(p.dots, [2]float64{x, y})
}

func (p *recordingPainter) Label(_, _ float64, text string, _ color.Color) {
	p.labels = append(p.labels, text)
}

func (p *recordingPainter) Panel(_, _ int, lines []string, _ PanelStyle) {
	p.panels = append(p.panels, lines)
}

type harness struct {
	renderer *Renderer
	painter  *recordingPainter
	w, h     int
	fit      geometry.Fit
	iw, ih   int
	frames   int
	lastRect geometry.Rect
}

func newHarness(w, h, iw, ih int) *harness {
	hs := &harness{w: w, h: h, iw: iw, ih: ih, fit: geometry.FitContain}
	hs.renderer = NewRenderer(Config{
		Clock:     clock.NewMock(),
		Box:       func() (int, int, geometry.Fit) { return hs.w, hs.h, hs.fit },
		Intrinsic: func() (int, int) { return hs.iw, hs.ih },
		OnFrame: func(_ *image.RGBA, rect geometry.Rect) {
			hs.frames++
			hs.lastRect = rect
		},
		NewPainter: func(*image.RGBA) Painter {
			hs.painter = &recordingPainter{}
			return hs.painter
		},
	})
	return hs
}

func TestNothingDrawnWithoutResult(t *testing.T) {
	hs := newHarness(640, 480, 640, 480)
	absent := func() (predict.Landmarks, bool) { return nil, false }
	test.That(t, hs.renderer.AddLayer(NewSkeleton("hand", absent, predict.HandConnections, HandStyle)), test.ShouldBeNil)

	hs.renderer.DrawFrame()
	test.That(t, hs.painter.lines, test.ShouldBeEmpty)
	test.That(t, hs.painter.dots, test.ShouldBeEmpty)
	test.That(t, hs.frames, test.ShouldEqual, 1)
}

func TestEdgesWithMissingEndpointAreSkipped(t *testing.T) {
	hs := newHarness(100, 100, 100, 100)
	pts := predict.Landmarks{
		{X: 0.1, Y: 0.1},
		{X: 0.2, Y: 0.2},
		nil,
		{X: 0.4, Y: 0.4},
	}
	edges := []predict.Edge{{A: 0, B: 1}, {A: 1, B: 2}, {A: 2, B: 3}}
	layer := NewSkeleton("s", func() (predict.Landmarks, bool) { return pts, true }, edges, HandStyle)
	test.That(t, hs.renderer.AddLayer(layer), test.ShouldBeNil)

	hs.renderer.DrawFrame()
	test.That(t, hs.painter.lines, test.ShouldResemble, []segment{{10, 10, 20, 20}})
	test.That(t, hs.painter.dots, test.ShouldHaveLength, 3)
}

func TestPointsMapThroughContainRect(t *testing.T) {
	hs := newHarness(1280, 480, 640, 480)
	pts := predict.Of(predict.Point{X: 0, Y: 0}, predict.Point{X: 1, Y: 1}, predict.Point{X: 0.5, Y: 0.5})
	layer := NewPoints("p", func() (predict.Landmarks, bool) { return pts, true }, FaceStyle)
	test.That(t, hs.renderer.AddLayer(layer), test.ShouldBeNil)

	rect := hs.renderer.DrawFrame()
	test.That(t, rect, test.ShouldResemble, geometry.Rect{X: 320, Y: 0, Width: 640, Height: 480})
	test.That(t, hs.painter.dots, test.ShouldResemble, [][2]float64{{320, 0}, {960, 480}, {640, 240}})
}

func TestDisabledLayerDrawsNothing(t *testing.T) {
	hs := newHarness(100, 100, 100, 100)
	pts := predict.Of(predict.Point{X: 0.5, Y: 0.5})
	layer := NewPoints("p", func() (predict.Landmarks, bool) { return pts, true }, FaceStyle)
	test.That(t, hs.renderer.AddLayer(layer), test.ShouldBeNil)

	layer.SetEnabled(false)
	hs.renderer.DrawFrame()
	test.That(t, hs.painter.dots, test.ShouldBeEmpty)

	layer.SetEnabled(true)
	hs.renderer.SetEnabled(false)
	hs.renderer.DrawFrame()
	test.That(t, hs.painter.dots, test.ShouldBeEmpty)
}

func TestLabelsFollowToggle(t *testing.T) {
	hs := newHarness(100, 100, 100, 100)
	show := false
	pts := predict.Of(predict.Point{X: 0.5, Y: 0.5}, predict.Point{X: 0.6, Y: 0.6})
	layer := NewPoints("pose", func() (predict.Landmarks, bool) { return pts, true }, PoseStyle).
		WithLabels(func() bool { return show })
	test.That(t, hs.renderer.AddLayer(layer), test.ShouldBeNil)

	hs.renderer.DrawFrame()
	test.That(t, hs.painter.labels, test.ShouldBeEmpty)

	show = true
	hs.renderer.DrawFrame()
	test.That(t, hs.painter.labels, test.ShouldResemble, []string{"0", "1"})
}

func TestSurfaceResizedOnlyWhenBoxChanges(t *testing.T) {
	hs := newHarness(200, 100, 0, 0)
	hs.renderer.DrawFrame()
	hs.renderer.DrawFrame()
	test.That(t, hs.renderer.Stats().Resizes, test.ShouldEqual, uint64(1))

	hs.w = 300
	hs.renderer.DrawFrame()
	stats := hs.renderer.Stats()
	test.That(t, stats.Resizes, test.ShouldEqual, uint64(2))
	test.That(t, stats.Width, test.ShouldEqual, 300)
	test.That(t, stats.Frames, test.ShouldEqual, uint64(3))
}

func TestEveryFrameStartsBlank(t *testing.T) {
	var surface *image.RGBA
	draw := true
	r := NewRenderer(Config{
		Clock:     clock.NewMock(),
		Box:       func() (int, int, geometry.Fit) { return 50, 50, geometry.FitContain },
		Intrinsic: func() (int, int) { return 50, 50 },
		OnFrame: func(s *image.RGBA, _ geometry.Rect) {
			surface = s
		},
	})
	pts := predict.Of(predict.Point{X: 0.5, Y: 0.5})
	test.That(t, r.AddLayer(NewPoints("p", func() (predict.Landmarks, bool) { return pts, draw }, HandStyle)), test.ShouldBeNil)

	r.DrawFrame()
	test.That(t, surface.RGBAAt(25, 25).A, test.ShouldBeGreaterThan, 0)

	draw = false
	r.DrawFrame()
	for _, v := range surface.Pix {
		if v != 0 {
			t.Fatal("surface not cleared")
		}
	}
}

func TestHUDDrawsPanel(t *testing.T) {
	hs := newHarness(100, 100, 100, 100)
	hud := NewHUD("hud", func() []string { return []string{"A 92%", "model loaded"} })
	test.That(t, hs.renderer.AddLayer(hud), test.ShouldBeNil)

	hs.renderer.DrawFrame()
	test.That(t, hs.painter.panels, test.ShouldResemble, [][]string{{"A 92%", "model loaded"}})
}

func TestDuplicateLayerRejected(t *testing.T) {
	r := NewRenderer(Config{Clock: clock.NewMock()})
	absent := func() (predict.Landmarks, bool) { return nil, false }
	test.That(t, r.AddLayer(NewPoints("x", absent, FaceStyle)), test.ShouldBeNil)
	test.That(t, r.AddLayer(NewPoints("x", absent, FaceStyle)), test.ShouldNotBeNil)
	test.That(t, r.RemoveLayer("x"), test.ShouldBeNil)
	test.That(t, r.RemoveLayer("x"), test.ShouldNotBeNil)
}

func TestLoopStartStop(t *testing.T) {
	mock := clock.NewMock()
	frames := make(chan struct{}, 100)
	r := NewRenderer(Config{
		Clock:     mock,
		RefreshHz: 10,
		Box:       func() (int, int, geometry.Fit) { return 10, 10, geometry.FitContain },
		OnFrame:   func(*image.RGBA, geometry.Rect) { frames <- struct{}{} },
	})

	r.Start()
	r.Start()
	test.That(t, r.Running(), test.ShouldBeTrue)

	deadline := time.After(2 * time.Second)
	for got := false; !got; {
		mock.Add(100 * time.Millisecond)
		select {
		case <-frames:
			got = true
		case <-deadline:
			t.Fatal("no frame drawn")
		default:
		}
	}

	r.Stop()
	r.Stop()
	test.That(t, r.Running(), test.ShouldBeFalse)
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#22d3ee")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldResemble, color.RGBA{0x22, 0xd3, 0xee, 0xff})

	c, err = ParseColor("fff")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldResemble, color.RGBA{0xff, 0xff, 0xff, 0xff})

	_, err = ParseColor("#12")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDrawPanelPaintsBackground(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 40))
	DrawPanel(img, 0, 0, []string{"hi"}, DefaultPanelStyle)
	test.That(t, img.RGBAAt(1, 1).A, test.ShouldBeGreaterThan, 0)
	test.That(t, img.RGBAAt(99, 39).A, test.ShouldEqual, 0)
}
