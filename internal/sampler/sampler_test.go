package sampler

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
)

func init() {
	logger.Silence()
}

type fakeSource struct {
	img   image.Image
	noImg bool
}

func (f *fakeSource) Frame() (image.Image, bool) {
	if f.img == nil || f.noImg {
		return nil, false
	}
	return f.img, true
}

func (f *fakeSource) Size() (int, int) {
	if f.img == nil {
		return 0, 0
	}
	return f.img.Bounds().Dx(), f.img.Bounds().Dy()
}

func newSource(w, h int) *fakeSource {
	return &fakeSource{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

type response struct {
	body []byte
	err  error
}

type fakePredictor struct {
	mu        sync.Mutex
	responses []response
	frames    [][]byte
	extras    []map[string]string
	block     chan struct{}

	calls   atomic.Int32
	current atomic.Int32
	max     atomic.Int32
}

func (p *fakePredictor) Predict(ctx context.Context, _ string, frame []byte, extra map[string]string) ([]byte, error) {
	p.calls.Add(1)
	cur := p.current.Add(1)
	defer p.current.Add(-1)
	for {
		m := p.max.Load()
		if cur <= m || p.max.CompareAndSwap(m, cur) {
			break
		}
	}

	p.mu.Lock()
	p.frames = append(p.frames, frame)
	p.extras = append(p.extras, extra)
	resp := response{body: []byte(`{"label":"A"}`)}
	if len(p.responses) > 0 {
		resp = p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.body, resp.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func newASL(t *testing.T, src Source, p Predictor, clk clock.Clock) *Sampler[predict.ASLResult] {
	t.Helper()
	s, err := New(Config[predict.ASLResult]{
		Endpoint: "/api/asl/predict",
		FPS:      100,
		Clock:    clk,
	}, src, p)
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestInterval(t *testing.T) {
	test.That(t, Interval(100), test.ShouldEqual, 80*time.Millisecond)
	test.That(t, Interval(12.5), test.ShouldEqual, 80*time.Millisecond)
	test.That(t, Interval(10), test.ShouldEqual, 100*time.Millisecond)
	test.That(t, Interval(4), test.ShouldEqual, 250*time.Millisecond)
	test.That(t, Interval(3), test.ShouldEqual, 333*time.Millisecond)
	test.That(t, Interval(0), test.ShouldEqual, 100*time.Millisecond)
	test.That(t, Interval(-1), test.ShouldEqual, 100*time.Millisecond)
}

func TestTickDropsWhileInFlight(t *testing.T) {
	p := &fakePredictor{block: make(chan struct{})}
	s := newASL(t, newSource(64, 48), p, clock.NewMock())
	defer s.Close()

	gen := s.Generation()
	ctx := context.Background()
	test.That(t, s.Tick(ctx, gen), test.ShouldBeTrue)
	for i := 0; i < 99; i++ {
		test.That(t, s.Tick(ctx, gen), test.ShouldBeFalse)
	}
	waitFor(t, func() bool { return p.calls.Load() == 1 })

	close(p.block)
	waitFor(t, func() bool { return !s.InFlight() })
	test.That(t, p.max.Load(), test.ShouldEqual, int32(1))

	stats := s.Stats()
	test.That(t, stats.Ticks, test.ShouldEqual, uint64(100))
	test.That(t, stats.Skipped, test.ShouldEqual, uint64(99))
	test.That(t, stats.Succeeded, test.ShouldEqual, uint64(1))
}

func TestMockClockNeverOverlapsRequests(t *testing.T) {
	mock := clock.NewMock()
	p := &fakePredictor{block: make(chan struct{})}
	s := newASL(t, newSource(64, 48), p, mock)
	defer s.Close()

	s.SetEnabled(true)
	for i := 0; i < 100; i++ {
		mock.Add(s.Interval())
	}
	waitFor(t, func() bool { return p.calls.Load() == 1 })
	test.That(t, s.InFlight(), test.ShouldBeTrue)

	close(p.block)
	waitFor(t, func() bool { return !s.InFlight() })
	for i := 0; i < 100; i++ {
		mock.Add(s.Interval())
	}
	waitFor(t, func() bool { return p.calls.Load() >= 2 })

	test.That(t, p.max.Load(), test.ShouldEqual, int32(1))
	result, ok := s.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, result.Label, test.ShouldEqual, "A")
}

func TestUploadsNativeResolutionJPEG(t *testing.T) {
	p := &fakePredictor{}
	s := newASL(t, newSource(320, 240), p, clock.NewMock())

	o, err := s.SampleOnce(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.OK(), test.ShouldBeTrue)

	img, err := jpeg.Decode(bytes.NewReader(p.frames[0]))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 320)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 240)
}

func TestFailuresKeepStaleResult(t *testing.T) {
	p := &fakePredictor{responses: []response{
		{body: []byte(`{"label":"B","confidence":0.9}`)},
		{err: &predict.StatusError{Code: 503}},
		{body: []byte(`not json`)},
		{body: []byte(`{"label":"C"}`)},
	}}
	s := newASL(t, newSource(32, 32), p, clock.NewMock())

	var kinds []Kind
	s.OnError(func(o Outcome[predict.ASLResult]) { kinds = append(kinds, o.Kind) })

	ctx := context.Background()
	_, err := s.SampleOnce(ctx)
	test.That(t, err, test.ShouldBeNil)

	_, err = s.SampleOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	result, ok := s.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, result.Label, test.ShouldEqual, "B")
	test.That(t, s.LastError(), test.ShouldContainSubstring, "503")

	_, err = s.SampleOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	result, _ = s.Latest()
	test.That(t, result.Label, test.ShouldEqual, "B")
	test.That(t, kinds, test.ShouldResemble, []Kind{KindStatus, KindDecode})

	_, err = s.SampleOnce(ctx)
	test.That(t, err, test.ShouldBeNil)
	result, _ = s.Latest()
	test.That(t, result.Label, test.ShouldEqual, "C")
	test.That(t, s.LastError(), test.ShouldBeEmpty)
}

func TestCaptureFailureSkipsRequest(t *testing.T) {
	src := newSource(32, 32)
	src.noImg = true
	p := &fakePredictor{}
	s := newASL(t, src, p, clock.NewMock())

	o, err := s.SampleOnce(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Kind, test.ShouldEqual, KindCapture)
	test.That(t, o.Message(), test.ShouldEqual, "Camera capture failed")
	test.That(t, p.calls.Load(), test.ShouldEqual, int32(0))
	test.That(t, s.InFlight(), test.ShouldBeFalse)
}

func TestTickSkipsWithoutDimensions(t *testing.T) {
	p := &fakePredictor{}
	s := newASL(t, &fakeSource{}, p, clock.NewMock())

	test.That(t, s.Tick(context.Background(), s.Generation()), test.ShouldBeFalse)
	test.That(t, s.InFlight(), test.ShouldBeFalse)
	test.That(t, p.calls.Load(), test.ShouldEqual, int32(0))
}

func TestExtraEvaluatedEveryTick(t *testing.T) {
	p := &fakePredictor{}
	withFace := false
	s, err := New(Config[predict.SegmentationResult]{
		Endpoint: "/api/segmentation/predict",
		FPS:      3,
		Clock:    clock.NewMock(),
		Extra: func() map[string]string {
			if withFace {
				return map[string]string{"withFace": "true"}
			}
			return map[string]string{"withFace": "false"}
		},
	}, newSource(16, 16), p)
	test.That(t, err, test.ShouldBeNil)

	_, err = s.SampleOnce(context.Background())
	test.That(t, err, test.ShouldBeNil)
	withFace = true
	_, err = s.SampleOnce(context.Background())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, p.extras[0]["withFace"], test.ShouldEqual, "false")
	test.That(t, p.extras[1]["withFace"], test.ShouldEqual, "true")
}

func TestResponsesAfterTeardownAreDiscarded(t *testing.T) {
	p := &fakePredictor{block: make(chan struct{})}
	s := newASL(t, newSource(16, 16), p, clock.NewMock())
	defer s.Close()

	s.SetEnabled(true)
	test.That(t, s.Tick(context.Background(), s.Generation()), test.ShouldBeTrue)
	waitFor(t, func() bool { return p.calls.Load() == 1 })

	s.SetEnabled(false)
	close(p.block)
	waitFor(t, func() bool { return !s.InFlight() })

	_, ok := s.Latest()
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, s.Stats().Discarded, test.ShouldEqual, uint64(1))
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newASL(t, newSource(16, 16), &fakePredictor{}, clock.NewMock())
	s.SetEnabled(true)
	test.That(t, s.Enabled(), test.ShouldBeTrue)
	s.Close()
	s.Close()
	test.That(t, s.Enabled(), test.ShouldBeFalse)

	s.SetEnabled(true)
	test.That(t, s.Enabled(), test.ShouldBeFalse)
}
