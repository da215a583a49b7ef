// Package stage composes the final picture: the live video placed inside the
// display box according to the fit policy, with the overlay surface on top.
// The video and the overlay share this one box, so landmarks line up with
// the pixels they were predicted from.
package stage

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// MaxDimension bounds the box on either axis.
const MaxDimension = 4096

// Source provides the current video frame.
type Source interface {
	Frame() (image.Image, bool)
}

// Sink receives composed frames. The frame is reused after the call returns.
type Sink interface {
	WriteFrame(frame *image.RGBA) error
}

// Stage owns the display box and the composed frame buffer.
type Stage struct {
	mu     sync.RWMutex
	width  int
	height int
	fit    geometry.Fit
	source Source
	sink   Sink

	frameMu sync.Mutex
	frame   *image.RGBA

	composed atomic.Uint64
	sinkErrs atomic.Uint64
}

// New creates a stage with the given box.
func New(width, height int, fit geometry.Fit, source Source, sink Sink) (*Stage, error) {
	if err := validate(width, height); err != nil {
		return nil, err
	}
	if fit == "" {
		fit = geometry.FitContain
	}
	return &Stage{width: width, height: height, fit: fit, source: source, sink: sink}, nil
}

func validate(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("invalid display box %dx%d (1..%d per axis)", width, height, MaxDimension)
	}
	return nil
}

// Box returns the display box and fit policy.
func (s *Stage) Box() (int, int, geometry.Fit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height, s.fit
}

// Resize changes the display box.
func (s *Stage) Resize(width, height int) error {
	if err := validate(width, height); err != nil {
		return err
	}
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	logger.WithComponent("stage").Info().Int("width", width).Int("height", height).Msg("Display box resized")
	return nil
}

// SetFit changes the fit policy.
func (s *Stage) SetFit(fit geometry.Fit) {
	s.mu.Lock()
	s.fit = fit
	s.mu.Unlock()
	logger.WithComponent("stage").Info().Str("fit", string(fit)).Msg("Fit policy changed")
}

// SetSource swaps the video source.
func (s *Stage) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// Compose draws the video into rect, lays overlay on top and hands the frame
// to the sink. It returns the composed frame, valid until the next call.
func (s *Stage) Compose(overlay *image.RGBA, rect geometry.Rect) *image.RGBA {
	s.mu.RLock()
	w, h := s.width, s.height
	src := s.source
	sink := s.sink
	s.mu.RUnlock()

	if overlay != nil {
		// The overlay was sized from the same box; follow it if a resize
		// landed between the two reads.
		w, h = overlay.Bounds().Dx(), overlay.Bounds().Dy()
	}

	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	if s.frame == nil || s.frame.Bounds().Dx() != w || s.frame.Bounds().Dy() != h {
		s.frame = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	frame := s.frame
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if src != nil {
		if video, ok := src.Frame(); ok {
			dr := rect.Image()
			if !dr.Empty() {
				// Scale clips dr to the frame, which crops the overflow under cover
				draw.ApproxBiLinear.Scale(frame, dr, video, video.Bounds(), draw.Src, nil)
			}
		}
	}

	if overlay != nil {
		draw.Draw(frame, frame.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
	}

	s.composed.Add(1)
	if sink != nil {
		if err := sink.WriteFrame(frame); err != nil {
			if s.sinkErrs.Add(1)%100 == 1 {
				logger.WithComponent("stage").Warn().Err(err).Msg("Failed to write frame")
			}
		}
	}
	return frame
}

// Snapshot returns a copy of the last composed frame.
func (s *Stage) Snapshot() (*image.RGBA, bool) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.frame == nil || s.composed.Load() == 0 {
		return nil, false
	}
	out := image.NewRGBA(s.frame.Bounds())
	copy(out.Pix, s.frame.Pix)
	return out, true
}

// Composed returns how many frames have been composed.
func (s *Stage) Composed() uint64 { return s.composed.Load() }
