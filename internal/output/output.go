package output

import (
	"image"

	"go.uber.org/multierr"
)

// Output defines the interface for frame output mechanisms, such as the
// MJPEG HTTP stream or a native X11 window.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a composed frame to the output. The frame buffer is
	// reused by the caller after WriteFrame returns.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}

// Fanout writes every frame to a set of outputs.
type Fanout []Output

// WriteFrame writes to each running output and combines the errors.
func (f Fanout) WriteFrame(frame *image.RGBA) error {
	var errs error
	for _, o := range f {
		if !o.IsRunning() {
			continue
		}
		errs = multierr.Append(errs, o.WriteFrame(frame))
	}
	return errs
}

// Stop stops every output and combines the errors.
func (f Fanout) Stop() error {
	var errs error
	for _, o := range f {
		errs = multierr.Append(errs, o.Stop())
	}
	return errs
}
