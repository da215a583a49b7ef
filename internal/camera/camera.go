package camera

import (
	"context"
	"image"
	"sync/atomic"
	"time"
)

// Profile is a capture constraint set: the resolution to ask the device for
// and which way it should face.
type Profile struct {
	Name       string `json:"name" yaml:"name"`
	Width      int    `json:"width" yaml:"width"`
	Height     int    `json:"height" yaml:"height"`
	FacingMode string `json:"facing_mode" yaml:"facing_mode"`
}

var (
	// PreferredProfile is tried first.
	PreferredProfile = Profile{Name: "preferred", Width: 640, Height: 480, FacingMode: "user"}
	// FallbackProfile is tried once when the preferred profile cannot be opened.
	FallbackProfile = Profile{Name: "fallback", Width: 320, Height: 240, FacingMode: "user"}
)

// Stream is a live video source. Frames are produced in the background; Frame
// returns the most recent one without blocking. Returned images are shared
// and must not be modified.
type Stream interface {
	// Frame returns the latest frame, or false before the first frame arrives.
	Frame() (image.Image, bool)

	// Size returns the intrinsic frame size, or 0,0 before the first frame.
	Size() (width, height int)

	// Label identifies the underlying device.
	Label() string

	// Close stops all tracks and releases the device.
	Close() error
}

// Opener acquires a Stream matching a Profile.
type Opener interface {
	Open(ctx context.Context, profile Profile) (Stream, error)
	Name() string
}

// OpenerFunc adapts a function into an Opener.
type OpenerFunc func(ctx context.Context, profile Profile) (Stream, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, profile Profile) (Stream, error) {
	return f(ctx, profile)
}

// Name implements Opener.
func (f OpenerFunc) Name() string { return "func" }

// frameSlot holds the latest decoded frame for a Stream.
type frameSlot struct {
	latest atomic.Pointer[image.RGBA]
	count  atomic.Uint64
	at     atomic.Int64
}

func (s *frameSlot) store(img *image.RGBA) {
	s.latest.Store(img)
	s.count.Add(1)
	s.at.Store(time.Now().UnixNano())
}

func (s *frameSlot) load() (image.Image, bool) {
	img := s.latest.Load()
	if img == nil {
		return nil, false
	}
	return img, true
}

func (s *frameSlot) size() (int, int) {
	img := s.latest.Load()
	if img == nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

// waitFirst blocks until a frame arrives, the timeout passes or ctx ends.
func (s *frameSlot) waitFirst(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		if s.latest.Load() != nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-poll.C:
		}
	}
}
