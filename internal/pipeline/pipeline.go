// Package pipeline ties one camera session to the page that is on screen: it
// runs that page's sampler, draws its layers over the video and keeps the
// label history and notices the viewer shows.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/history"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/notify"
	"github.com/bryanchriswhite/LandmarkLens/internal/overlay"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
	"github.com/bryanchriswhite/LandmarkLens/internal/sampler"
	"github.com/bryanchriswhite/LandmarkLens/internal/stage"
)

// Layer ids.
const (
	LayerHand = "hand"
	LayerHUD  = "hud"
	LayerPose = "pose"
	LayerFace = "face"
)

// PageConfig is the sampler setup of one page.
type PageConfig struct {
	Endpoint string
	FPS      float64
}

// DefaultPageConfigs are the endpoints and rates the prediction server serves.
var DefaultPageConfigs = map[Page]PageConfig{
	PageASL:          {Endpoint: "/api/asl/predict", FPS: 4},
	PageSegmentation: {Endpoint: "/api/segmentation/predict", FPS: 3},
}

// Display is the box the video and overlay share.
type Display struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Fit    geometry.Fit `json:"fit"`
}

// Config parameterizes a Pipeline.
type Config struct {
	Pages           map[Page]PageConfig
	DefaultPage     Page
	Display         Display
	Quality         int
	RefreshHz       int
	HistoryCapacity int
	NotifyTTL       time.Duration
	Clock           clock.Clock
	// Manual keeps the sampler loops off; uploads happen only via SampleOnce.
	Manual bool
	// NewPainter overrides the overlay painter.
	NewPainter func(surface *image.RGBA) overlay.Painter
}

// State is the snapshot served to clients.
type State struct {
	Page     Page            `json:"page"`
	Pages    []Page          `json:"pages"`
	Camera   camera.State    `json:"camera"`
	Toggles  map[string]bool `json:"toggles"`
	History  []string        `json:"history"`
	Result   interface{}     `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Sampler  sampler.Stats   `json:"sampler"`
	Display  Display         `json:"display"`
	Overlay  overlay.Stats   `json:"overlay"`
	Notices  []notify.Toast  `json:"notices"`
	Composed uint64          `json:"composed"`
}

// Pipeline is the running application state behind the API.
type Pipeline struct {
	cfg      Config
	session  *camera.Session
	stage    *stage.Stage
	renderer *overlay.Renderer
	history  *history.History
	notices  *notify.Center
	asl      *sampler.Sampler[predict.ASLResult]
	seg      *sampler.Sampler[predict.SegmentationResult]

	hand *overlay.Skeleton
	hud  *overlay.HUD
	pose *overlay.Skeleton
	face *overlay.Skeleton

	mu        sync.RWMutex
	page      Page
	toggles   map[Page]map[string]bool
	closed    bool
	listeners []chan State
}

// New wires a pipeline around session. Composed frames go to sink, which may
// be nil. The pipeline starts idle: call Start to run the overlay loop.
func New(cfg Config, session *camera.Session, predictor sampler.Predictor, sink stage.Sink) (*Pipeline, error) {
	if session == nil {
		return nil, fmt.Errorf("pipeline: nil camera session")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.DefaultPage == "" {
		cfg.DefaultPage = PageASL
	}
	if _, err := ParsePage(string(cfg.DefaultPage)); err != nil {
		return nil, err
	}
	pages := make(map[Page]PageConfig, len(DefaultPageConfigs))
	for page, pc := range DefaultPageConfigs {
		if override, ok := cfg.Pages[page]; ok {
			if override.Endpoint != "" {
				pc.Endpoint = override.Endpoint
			}
			if override.FPS > 0 {
				pc.FPS = override.FPS
			}
		}
		pages[page] = pc
	}
	cfg.Pages = pages
	if cfg.Display.Width == 0 || cfg.Display.Height == 0 {
		cfg.Display.Width, cfg.Display.Height = 1280, 720
	}

	st, err := stage.New(cfg.Display.Width, cfg.Display.Height, cfg.Display.Fit, session, sink)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		session: session,
		stage:   st,
		history: history.New(cfg.HistoryCapacity),
		notices: notify.NewCenter(cfg.Clock, cfg.NotifyTTL),
		page:    cfg.DefaultPage,
		toggles: map[Page]map[string]bool{
			PageASL:          defaultToggles(PageASL),
			PageSegmentation: defaultToggles(PageSegmentation),
		},
	}

	p.asl, err = sampler.New(sampler.Config[predict.ASLResult]{
		Endpoint: pages[PageASL].Endpoint,
		FPS:      pages[PageASL].FPS,
		Quality:  cfg.Quality,
		Clock:    cfg.Clock,
	}, session, predictor)
	if err != nil {
		return nil, err
	}
	p.seg, err = sampler.New(sampler.Config[predict.SegmentationResult]{
		Endpoint: pages[PageSegmentation].Endpoint,
		FPS:      pages[PageSegmentation].FPS,
		Quality:  cfg.Quality,
		Clock:    cfg.Clock,
		Extra: func() map[string]string {
			return map[string]string{"withFace": fmt.Sprint(p.Toggle(PageSegmentation, ToggleFace))}
		},
	}, session, predictor)
	if err != nil {
		return nil, err
	}

	p.asl.OnResult(p.onASLResult)
	p.asl.OnError(func(o sampler.Outcome[predict.ASLResult]) { p.notices.Push(o.Message()) })
	p.seg.OnResult(func(predict.SegmentationResult) { p.publish() })
	p.seg.OnError(func(o sampler.Outcome[predict.SegmentationResult]) { p.notices.Push(o.Message()) })

	p.renderer = overlay.NewRenderer(overlay.Config{
		RefreshHz:  cfg.RefreshHz,
		Clock:      cfg.Clock,
		Box:        st.Box,
		Intrinsic:  session.Size,
		OnFrame:    func(surface *image.RGBA, rect geometry.Rect) { st.Compose(surface, rect) },
		NewPainter: cfg.NewPainter,
	})
	p.buildLayers()

	session.OnChange(func(camera.State) {
		p.reconcile()
		p.publish()
	})
	p.reconcile()

	return p, nil
}

func (p *Pipeline) buildLayers() {
	p.hand = overlay.NewSkeleton(LayerHand, func() (predict.Landmarks, bool) {
		r, ok := p.asl.Latest()
		return r.HandLandmarks, ok
	}, predict.HandConnections, overlay.HandStyle)

	p.hud = overlay.NewHUD(LayerHUD, p.hudLines)

	// pose and face are drawn even before the first result, as empty sets
	p.pose = overlay.NewSkeleton(LayerPose, func() (predict.Landmarks, bool) {
		r, _ := p.seg.Latest()
		return r.PosePoints, true
	}, predict.PoseConnections, overlay.PoseStyle).WithLabels(func() bool {
		return p.Toggle(PageSegmentation, ToggleLabels)
	})
	p.face = overlay.NewPoints(LayerFace, func() (predict.Landmarks, bool) {
		r, _ := p.seg.Latest()
		return r.FacePoints, true
	}, overlay.FaceStyle)

	p.renderer.SetLayers(p.hand, p.hud, p.pose, p.face)
}

func (p *Pipeline) onASLResult(r predict.ASLResult) {
	if p.history.Observe(r.Label) {
		logger.WithComponent("pipeline").Debug().Str("label", r.Label).Msg("Label recorded")
	}
	p.publish()
}

// hudLines renders the ASL status block.
func (p *Pipeline) hudLines() []string {
	label, confidence, lps, model := "--", 0.0, 0, "waiting"
	if r, ok := p.asl.Latest(); ok {
		if r.Label != "" {
			label = r.Label
		}
		confidence = r.Confidence
		lps = r.LettersPerSecond
		model = r.Describe()
	}

	lines := []string{
		label,
		fmt.Sprintf("Confidence: %d%%", int(confidence*100+0.5)),
		fmt.Sprintf("Letters/sec: %d", lps),
		model,
	}
	if entries := p.history.Entries(); len(entries) > 0 {
		lines = append(lines, history.Join(entries))
	} else {
		lines = append(lines, "History empty")
	}
	if msg := p.session.State().ErrorMessage; msg != "" {
		lines = append(lines, msg)
	}
	return lines
}

// reconcile applies the page and toggles to the samplers and layers. The
// active sampler runs only while the camera is running and, on the ASL page,
// while freeze is off.
func (p *Pipeline) reconcile() {
	running := p.session.Running()

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	page := p.page
	asl := p.toggles[PageASL]
	seg := p.toggles[PageSegmentation]
	aslOn := running && !p.cfg.Manual && page == PageASL && !asl[ToggleFreeze]
	segOn := running && !p.cfg.Manual && page == PageSegmentation
	p.hand.SetEnabled(page == PageASL && asl[ToggleLandmarks])
	p.hud.SetEnabled(page == PageASL)
	p.pose.SetEnabled(page == PageSegmentation && seg[TogglePose])
	p.face.SetEnabled(page == PageSegmentation && seg[ToggleFace])
	p.mu.RUnlock()

	p.asl.SetEnabled(aslOn)
	p.seg.SetEnabled(segOn)
}

// Start runs the overlay refresh loop.
func (p *Pipeline) Start() {
	p.renderer.Start()
}

// StartCamera acquires the camera. On failure the error is raised as a notice
// and returned.
func (p *Pipeline) StartCamera(ctx context.Context) error {
	if err := p.session.Start(ctx); err != nil {
		p.notices.Push(camera.AcquireFailedMessage)
		return err
	}
	return nil
}

// StopCamera releases the camera; the active sampler stops with it.
func (p *Pipeline) StopCamera() error {
	return p.session.Stop()
}

// SetPermissionPrompt shows or hides the permission prompt.
func (p *Pipeline) SetPermissionPrompt(open bool) {
	if open {
		p.session.OpenPermission()
	} else {
		p.session.ClosePermission()
	}
}

// SelectPage switches pages. The page being left stops sampling and its
// result is dropped, so returning to it starts clean.
func (p *Pipeline) SelectPage(page Page) error {
	if _, err := ParsePage(string(page)); err != nil {
		return err
	}
	p.mu.Lock()
	if p.page == page {
		p.mu.Unlock()
		return nil
	}
	prev := p.page
	p.page = page
	p.mu.Unlock()

	p.reconcile()
	switch prev {
	case PageASL:
		p.asl.Reset()
	case PageSegmentation:
		p.seg.Reset()
	}

	logger.WithComponent("pipeline").Info().Str("from", string(prev)).Str("to", string(page)).Msg("Page selected")
	p.publish()
	return nil
}

// Page returns the current page.
func (p *Pipeline) Page() Page {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.page
}

// SetToggle sets a toggle of the current page.
func (p *Pipeline) SetToggle(name string, on bool) error {
	p.mu.Lock()
	toggles := p.toggles[p.page]
	if _, ok := toggles[name]; !ok {
		page := p.page
		p.mu.Unlock()
		return fmt.Errorf("page %s has no toggle %q", page, name)
	}
	toggles[name] = on
	p.mu.Unlock()

	p.reconcile()
	p.publish()
	return nil
}

// Toggle reads a toggle of any page.
func (p *Pipeline) Toggle(page Page, name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.toggles[page][name]
}

// Result returns the latest result of the current page.
func (p *Pipeline) Result() (interface{}, bool) {
	switch p.Page() {
	case PageSegmentation:
		if r, ok := p.seg.Latest(); ok {
			return r, true
		}
	default:
		if r, ok := p.asl.Latest(); ok {
			return r, true
		}
	}
	return nil, false
}

// History returns the label log, newest first.
func (p *Pipeline) History() []string {
	return p.history.Entries()
}

// ClearHistory empties the label log.
func (p *Pipeline) ClearHistory() {
	p.history.Clear()
	p.publish()
}

// Notices exposes the notification center.
func (p *Pipeline) Notices() *notify.Center {
	return p.notices
}

// SetDisplay changes the display box. Zero values keep the current setting.
func (p *Pipeline) SetDisplay(width, height int, fit geometry.Fit) error {
	if fit != "" {
		parsed, err := geometry.ParseFit(string(fit))
		if err != nil {
			return err
		}
		fit = parsed
	}
	w, h, _ := p.stage.Box()
	if width != 0 || height != 0 {
		if width == 0 {
			width = w
		}
		if height == 0 {
			height = h
		}
		if err := p.stage.Resize(width, height); err != nil {
			return err
		}
	}
	if fit != "" {
		p.stage.SetFit(fit)
	}
	p.publish()
	return nil
}

// DrawFrame runs one overlay iteration outside the refresh loop.
func (p *Pipeline) DrawFrame() geometry.Rect {
	return p.renderer.DrawFrame()
}

// Frame returns a copy of the last composed frame.
func (p *Pipeline) Frame() (*image.RGBA, bool) {
	return p.stage.Snapshot()
}

// SampleOnce runs one synchronous upload on the current page.
func (p *Pipeline) SampleOnce(ctx context.Context) error {
	var (
		err  error
		kind sampler.Kind
		msg  string
	)
	switch p.Page() {
	case PageSegmentation:
		var o sampler.Outcome[predict.SegmentationResult]
		o, err = p.seg.SampleOnce(ctx)
		kind, msg = o.Kind, o.Message()
		if err == nil && !o.OK() {
			err = fmt.Errorf("%s: %w", msg, o.Err)
		}
	default:
		var o sampler.Outcome[predict.ASLResult]
		o, err = p.asl.SampleOnce(ctx)
		kind, msg = o.Kind, o.Message()
		if err == nil && !o.OK() {
			err = fmt.Errorf("%s: %w", msg, o.Err)
		}
	}
	if err != nil {
		logger.WithComponent("pipeline").Debug().Err(err).Stringer("kind", kind).Msg("Single sample failed")
	}
	return err
}

// Snapshot returns the state served to clients.
func (p *Pipeline) Snapshot() State {
	p.mu.RLock()
	page := p.page
	toggles := make(map[string]bool, len(p.toggles[page]))
	for k, v := range p.toggles[page] {
		toggles[k] = v
	}
	p.mu.RUnlock()

	w, h, fit := p.stage.Box()
	st := State{
		Page:     page,
		Pages:    Pages(),
		Camera:   p.session.State(),
		Toggles:  toggles,
		History:  p.history.Entries(),
		Display:  Display{Width: w, Height: h, Fit: fit},
		Overlay:  p.renderer.Stats(),
		Notices:  p.notices.Active(),
		Composed: p.stage.Composed(),
	}
	if r, ok := p.Result(); ok {
		st.Result = r
	}
	switch page {
	case PageSegmentation:
		st.Sampler = p.seg.Stats()
		st.Error = p.seg.LastError()
	default:
		st.Sampler = p.asl.Stats()
		st.Error = p.asl.LastError()
	}
	return st
}

// Subscribe returns a channel that receives a snapshot after every change.
// Slow subscribers miss snapshots rather than block the pipeline.
func (p *Pipeline) Subscribe() chan State {
	ch := make(chan State, 4)
	p.mu.Lock()
	p.listeners = append(p.listeners, ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription.
func (p *Pipeline) Unsubscribe(ch chan State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.listeners {
		if l == ch {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (p *Pipeline) publish() {
	p.mu.RLock()
	if p.closed || len(p.listeners) == 0 {
		p.mu.RUnlock()
		return
	}
	p.mu.RUnlock()

	st := p.Snapshot()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.listeners {
		select {
		case ch <- st:
		default:
		}
	}
}

// Close stops the samplers, the overlay loop and the camera. Safe to call
// repeatedly.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	listeners := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	p.asl.Close()
	p.seg.Close()
	p.renderer.Stop()
	err := multierr.Append(nil, p.session.Close())
	for _, ch := range listeners {
		close(ch)
	}

	logger.WithComponent("pipeline").Info().Err(err).Msg("Pipeline closed")
	return err
}
