// Package overlay draws prediction landmarks and status text onto a
// transparent surface that sits over the video.
package overlay

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// DefaultRefreshHz is the draw rate when none is configured.
const DefaultRefreshHz = 30

// Config wires a Renderer to the display box and the video.
type Config struct {
	RefreshHz int
	Clock     clock.Clock

	// Box returns the display box the surface shares with the video.
	Box func() (width, height int, fit geometry.Fit)
	// Intrinsic returns the video's native size, or 0,0 when unknown.
	Intrinsic func() (width, height int)
	// OnFrame receives the finished surface. The surface is reused by the
	// next iteration and must not be retained.
	OnFrame func(surface *image.RGBA, rect geometry.Rect)
	// NewPainter overrides the gg painter.
	NewPainter func(surface *image.RGBA) Painter
}

// Stats describes the renderer's work so far.
type Stats struct {
	RefreshHz int    `json:"refresh_hz"`
	Running   bool   `json:"running"`
	Frames    uint64 `json:"frames"`
	Resizes   uint64 `json:"resizes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Layers    int    `json:"layers"`
}

// Renderer owns the overlay surface and the layers drawn on it.
type Renderer struct {
	cfg      Config
	clock    clock.Clock
	interval time.Duration

	mu      sync.RWMutex
	layers  []Layer
	enabled bool

	// drawMu serializes iterations so the surface has a single writer.
	drawMu  sync.Mutex
	surface *image.RGBA

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	frames  atomic.Uint64
	resizes atomic.Uint64
}

// NewRenderer creates a stopped renderer with no layers.
func NewRenderer(cfg Config) *Renderer {
	if cfg.RefreshHz <= 0 {
		cfg.RefreshHz = DefaultRefreshHz
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewPainter == nil {
		cfg.NewPainter = NewPainter
	}
	if cfg.Box == nil {
		cfg.Box = func() (int, int, geometry.Fit) { return 0, 0, geometry.FitContain }
	}
	if cfg.Intrinsic == nil {
		cfg.Intrinsic = func() (int, int) { return 0, 0 }
	}
	return &Renderer{
		cfg:      cfg,
		clock:    cfg.Clock,
		interval: time.Second / time.Duration(cfg.RefreshHz),
		enabled:  true,
	}
}

// AddLayer appends a layer; layers draw in insertion order.
func (r *Renderer) AddLayer(layer Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.layers {
		if l.ID() == layer.ID() {
			return fmt.Errorf("layer with ID %s already exists", layer.ID())
		}
	}
	r.layers = append(r.layers, layer)
	logger.WithComponent("overlay").Debug().Str("layer", layer.ID()).Msg("Added layer")
	return nil
}

// RemoveLayer removes a layer by id
func (r *Renderer) RemoveLayer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.layers {
		if l.ID() == id {
			r.layers = append(r.layers[:i], r.layers[i+1:]...)
			logger.WithComponent("overlay").Debug().Str("layer", id).Msg("Removed layer")
			return nil
		}
	}
	return fmt.Errorf("layer with ID %s not found", id)
}

// SetLayers replaces every layer at once.
func (r *Renderer) SetLayers(layers ...Layer) {
	r.mu.Lock()
	r.layers = append([]Layer(nil), layers...)
	r.mu.Unlock()
}

// Layer retrieves a layer by id
func (r *Renderer) Layer(id string) (Layer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.layers {
		if l.ID() == id {
			return l, true
		}
	}
	return nil, false
}

// Layers returns the layers in draw order
func (r *Renderer) Layers() []Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Layer(nil), r.layers...)
}

// SetEnabled turns the whole overlay on or off. A disabled overlay is still
// cleared every refresh.
func (r *Renderer) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// IsEnabled returns whether the overlay is drawn
func (r *Renderer) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// DrawFrame runs one refresh iteration and returns the rect that was used.
func (r *Renderer) DrawFrame() geometry.Rect {
	r.drawMu.Lock()
	defer r.drawMu.Unlock()

	w, h, fit := r.cfg.Box()
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}

	if r.surface == nil || r.surface.Bounds().Dx() != w || r.surface.Bounds().Dy() != h {
		r.surface = image.NewRGBA(image.Rect(0, 0, w, h))
		r.resizes.Add(1)
	} else {
		clear(r.surface.Pix)
	}

	iw, ih := r.cfg.Intrinsic()
	rect := geometry.ResolveInt(w, h, iw, ih, fit)

	r.mu.RLock()
	enabled := r.enabled
	layers := append([]Layer(nil), r.layers...)
	r.mu.RUnlock()

	if enabled && w > 0 && h > 0 {
		p := r.cfg.NewPainter(r.surface)
		box := r.surface.Bounds()
		for _, l := range layers {
			if l.IsEnabled() {
				l.Draw(p, rect, box)
			}
		}
	}

	r.frames.Add(1)
	if r.cfg.OnFrame != nil {
		r.cfg.OnFrame(r.surface, rect)
	}
	return rect
}

// Start launches the refresh loop. Calling Start on a running renderer does
// nothing.
func (r *Renderer) Start() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)

	logger.WithComponent("overlay").Debug().Int("refresh_hz", r.cfg.RefreshHz).Msg("Renderer started")
}

// Stop cancels the refresh loop and waits for it to exit. Safe to call
// repeatedly.
func (r *Renderer) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	logger.WithComponent("overlay").Debug().Msg("Renderer stopped")
}

// Running reports whether the refresh loop is active.
func (r *Renderer) Running() bool {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	return r.cancel != nil
}

func (r *Renderer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DrawFrame()
		}
	}
}

// Stats returns counters and the current surface size.
func (r *Renderer) Stats() Stats {
	r.drawMu.Lock()
	w, h := 0, 0
	if r.surface != nil {
		w, h = r.surface.Bounds().Dx(), r.surface.Bounds().Dy()
	}
	r.drawMu.Unlock()

	r.mu.RLock()
	n := len(r.layers)
	r.mu.RUnlock()

	return Stats{
		RefreshHz: r.cfg.RefreshHz,
		Running:   r.Running(),
		Frames:    r.frames.Load(),
		Resizes:   r.resizes.Load(),
		Width:     w,
		Height:    h,
		Layers:    n,
	}
}
