// Package sampler grabs frames from a live source on a fixed cadence, uploads
// them to a prediction endpoint and keeps the latest decoded result.
//
// At most one request is outstanding per Sampler. A tick that finds a request
// in flight is dropped, so a slow backend lowers the effective sample rate
// instead of building a backlog.
package sampler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
)

const (
	// MinInterval caps the sample rate at 12.5 per second.
	MinInterval = 80 * time.Millisecond
	// DefaultFPS is used when the requested rate is not positive.
	DefaultFPS = 10
	// DefaultQuality is the JPEG quality used for uploads.
	DefaultQuality = 75
)

// Interval converts a sample rate into the tick interval.
func Interval(fps float64) time.Duration {
	if fps <= 0 {
		fps = DefaultFPS
	}
	ms := time.Duration(1000/fps) * time.Millisecond
	if ms < MinInterval {
		return MinInterval
	}
	return ms
}

// Source is the live video the sampler reads from.
type Source interface {
	Frame() (image.Image, bool)
	Size() (width, height int)
}

// Predictor uploads one encoded frame and returns the raw response body.
type Predictor interface {
	Predict(ctx context.Context, endpoint string, frame []byte, extra map[string]string) ([]byte, error)
}

// Config parameterizes a Sampler.
type Config[T any] struct {
	Endpoint string
	FPS      float64
	// Quality is the JPEG quality, 1-100.
	Quality int
	// Extra supplies additional form fields; it is called on every tick.
	Extra  func() map[string]string
	Decode predict.Decoder[T]
	Clock  clock.Clock
}

// Stats counts what the sampler has done since it was created.
type Stats struct {
	Endpoint    string        `json:"endpoint"`
	Interval    time.Duration `json:"interval"`
	Enabled     bool          `json:"enabled"`
	InFlight    bool          `json:"in_flight"`
	Ticks       uint64        `json:"ticks"`
	Skipped     uint64        `json:"skipped"`
	Requests    uint64        `json:"requests"`
	Succeeded   uint64        `json:"succeeded"`
	Failed      uint64        `json:"failed"`
	Discarded   uint64        `json:"discarded"`
	LastLatency time.Duration `json:"last_latency"`
	LastError   string        `json:"last_error,omitempty"`
}

// Sampler runs the upload loop for one endpoint.
type Sampler[T any] struct {
	cfg       Config[T]
	interval  time.Duration
	source    Source
	predictor Predictor
	clock     clock.Clock

	latest   atomic.Pointer[T]
	lastErr  atomic.Pointer[string]
	inFlight atomic.Bool
	gen      atomic.Uint64

	// buf is the native-resolution raster; only the in-flight goroutine uses it.
	buf *image.RGBA

	mu       sync.Mutex
	enabled  bool
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
	onResult []func(T)
	onError  []func(Outcome[T])

	ticks, skipped, requests, succeeded, failed, discarded atomic.Uint64
	lastLatency                                            atomic.Int64
}

// New creates a disabled sampler.
func New[T any](cfg Config[T], source Source, predictor Predictor) (*Sampler[T], error) {
	if source == nil {
		return nil, fmt.Errorf("sampler: nil source")
	}
	if predictor == nil {
		return nil, fmt.Errorf("sampler: nil predictor")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("sampler: empty endpoint")
	}
	if cfg.Decode == nil {
		cfg.Decode = predict.JSONDecoder[T]()
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Sampler[T]{
		cfg:       cfg,
		interval:  Interval(cfg.FPS),
		source:    source,
		predictor: predictor,
		clock:     clk,
	}, nil
}

// Interval returns the effective tick interval.
func (s *Sampler[T]) Interval() time.Duration { return s.interval }

// OnResult registers a callback for every stored result.
func (s *Sampler[T]) OnResult(fn func(T)) {
	s.mu.Lock()
	s.onResult = append(s.onResult, fn)
	s.mu.Unlock()
}

// OnError registers a callback for every failed attempt.
func (s *Sampler[T]) OnError(fn func(Outcome[T])) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

// Latest returns the most recent successful result.
func (s *Sampler[T]) Latest() (T, bool) {
	if v := s.latest.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// LastError returns the message of the last failed attempt, cleared by the
// next success.
func (s *Sampler[T]) LastError() string {
	if v := s.lastErr.Load(); v != nil {
		return *v
	}
	return ""
}

// InFlight reports whether a request is outstanding.
func (s *Sampler[T]) InFlight() bool { return s.inFlight.Load() }

// Enabled reports whether the tick loop is running.
func (s *Sampler[T]) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled starts or tears down the tick loop. Disabling cancels the timer
// and any outstanding request; a response that still arrives is discarded.
func (s *Sampler[T]) SetEnabled(on bool) {
	s.mu.Lock()
	if s.closed || s.enabled == on {
		s.mu.Unlock()
		return
	}

	if on {
		ctx, cancel := context.WithCancel(context.Background())
		s.enabled = true
		s.cancel = cancel
		s.done = make(chan struct{})
		gen := s.gen.Add(1)
		done := s.done
		s.mu.Unlock()

		logger.WithComponent("sampler").Debug().
			Str("endpoint", s.cfg.Endpoint).
			Dur("interval", s.interval).
			Msg("Sampler enabled")
		go s.run(ctx, gen, done)
		return
	}

	s.stopLocked()
	s.mu.Unlock()
	logger.WithComponent("sampler").Debug().Str("endpoint", s.cfg.Endpoint).Msg("Sampler disabled")
}

// Close tears the loop down for good. Safe to call repeatedly.
func (s *Sampler[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.closed = true
}

// stopLocked cancels the loop and waits for the ticker goroutine to exit.
func (s *Sampler[T]) stopLocked() {
	if !s.enabled {
		return
	}
	s.gen.Add(1)
	s.cancel()
	<-s.done
	s.enabled = false
	s.cancel = nil
	s.done = nil
}

func (s *Sampler[T]) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, gen)
		}
	}
}

// Tick runs one iteration: it returns immediately and the request, if any,
// completes in the background. It reports whether a request was started.
func (s *Sampler[T]) Tick(ctx context.Context, gen uint64) bool {
	s.ticks.Add(1)
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}
	if w, h := s.source.Size(); w <= 0 || h <= 0 {
		s.inFlight.Store(false)
		s.skipped.Add(1)
		return false
	}
	go s.sample(ctx, gen)
	return true
}

// Generation returns the id of the current loop; results carrying an older id
// are dropped.
func (s *Sampler[T]) Generation() uint64 { return s.gen.Load() }

func (s *Sampler[T]) sample(ctx context.Context, gen uint64) {
	log := logger.WithComponent("sampler")
	defer s.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("endpoint", s.cfg.Endpoint).Msg("Sample panicked")
			s.finish(gen, failedOutcome[T](KindCapture, fmt.Errorf("panic: %v", r), 0))
		}
	}()

	s.finish(gen, s.attempt(ctx))
}

// attempt captures, encodes, uploads and decodes one frame.
func (s *Sampler[T]) attempt(ctx context.Context) Outcome[T] {
	jpg, err := s.capture()
	if err != nil {
		return failedOutcome[T](KindCapture, err, 0)
	}

	var extra map[string]string
	if s.cfg.Extra != nil {
		extra = s.cfg.Extra()
	}

	s.requests.Add(1)
	start := s.clock.Now()
	body, err := s.predictor.Predict(ctx, s.cfg.Endpoint, jpg, extra)
	latency := s.clock.Since(start)
	if err != nil {
		return failedOutcome[T](classify(err), err, latency)
	}

	v, err := s.cfg.Decode(body)
	if err != nil {
		return failedOutcome[T](KindDecode, err, latency)
	}
	return okOutcome(v, latency)
}

// capture draws the current frame into the native-resolution buffer and
// encodes it as JPEG.
func (s *Sampler[T]) capture() ([]byte, error) {
	frame, ok := s.source.Frame()
	if !ok {
		return nil, fmt.Errorf("no frame available")
	}
	b := frame.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	if s.buf == nil || s.buf.Bounds().Dx() != b.Dx() || s.buf.Bounds().Dy() != b.Dy() {
		s.buf = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	draw.Draw(s.buf, s.buf.Bounds(), frame, b.Min, draw.Src)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, s.buf, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return out.Bytes(), nil
}

// finish applies an outcome unless the loop that issued it was torn down.
func (s *Sampler[T]) finish(gen uint64, o Outcome[T]) {
	if gen != s.gen.Load() {
		s.discarded.Add(1)
		return
	}
	s.lastLatency.Store(int64(o.Latency))

	s.mu.Lock()
	onResult := append([]func(T){}, s.onResult...)
	onError := append([]func(Outcome[T]){}, s.onError...)
	s.mu.Unlock()

	if o.OK() {
		v := o.Value
		s.latest.Store(&v)
		s.lastErr.Store(nil)
		s.succeeded.Add(1)
		for _, fn := range onResult {
			fn(v)
		}
		return
	}

	msg := o.Err.Error()
	s.lastErr.Store(&msg)
	s.failed.Add(1)
	logger.WithComponent("sampler").Warn().
		Err(o.Err).
		Str("endpoint", s.cfg.Endpoint).
		Stringer("kind", o.Kind).
		Msg("Sample failed")
	for _, fn := range onError {
		fn(o)
	}
}

// Reset forgets the latest result and error. A loop that is still enabled
// keeps running; only results it produces from now on are kept.
func (s *Sampler[T]) Reset() {
	s.latest.Store(nil)
	s.lastErr.Store(nil)
}

// Stats returns a snapshot of the counters.
func (s *Sampler[T]) Stats() Stats {
	return Stats{
		Endpoint:    s.cfg.Endpoint,
		Interval:    s.interval,
		Enabled:     s.Enabled(),
		InFlight:    s.inFlight.Load(),
		Ticks:       s.ticks.Load(),
		Skipped:     s.skipped.Load(),
		Requests:    s.requests.Load(),
		Succeeded:   s.succeeded.Load(),
		Failed:      s.failed.Load(),
		Discarded:   s.discarded.Load(),
		LastLatency: time.Duration(s.lastLatency.Load()),
		LastError:   s.LastError(),
	}
}

// SampleOnce runs a single synchronous attempt outside the loop. It respects
// the in-flight guard and returns an error if a request is already pending.
func (s *Sampler[T]) SampleOnce(ctx context.Context) (Outcome[T], error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Outcome[T]{}, fmt.Errorf("sampler: request already in flight")
	}
	defer s.inFlight.Store(false)
	o := s.attempt(ctx)
	s.finish(s.gen.Load(), o)
	return o, nil
}
