package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// SyntheticOpener produces an animated test pattern. It needs no hardware and
// is used for demos and tests.
type SyntheticOpener struct {
	// MaxWidth and MaxHeight, when set, make profiles larger than the limit
	// fail as a real device would.
	MaxWidth  int
	MaxHeight int
	// FPS of the pattern; defaults to 30.
	FPS int
}

// Name implements Opener.
func (o *SyntheticOpener) Name() string { return "synthetic" }

// Open implements Opener.
func (o *SyntheticOpener) Open(ctx context.Context, profile Profile) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if profile.Width <= 0 || profile.Height <= 0 {
		return nil, fmt.Errorf("invalid profile size %dx%d", profile.Width, profile.Height)
	}
	if (o.MaxWidth > 0 && profile.Width > o.MaxWidth) || (o.MaxHeight > 0 && profile.Height > o.MaxHeight) {
		return nil, fmt.Errorf("profile %dx%d exceeds device maximum %dx%d",
			profile.Width, profile.Height, o.MaxWidth, o.MaxHeight)
	}

	fps := o.FPS
	if fps <= 0 {
		fps = 30
	}

	s := &syntheticStream{
		width:    profile.Width,
		height:   profile.Height,
		interval: time.Second / time.Duration(fps),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.slot.store(s.render(0))
	go s.run()
	return s, nil
}

type syntheticStream struct {
	width    int
	height   int
	interval time.Duration
	slot     frameSlot

	closeOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func (s *syntheticStream) Frame() (image.Image, bool) { return s.slot.load() }
func (s *syntheticStream) Size() (int, int)          { return s.slot.size() }
func (s *syntheticStream) Label() string             { return "synthetic" }

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		<-s.done
	})
	return nil
}

func (s *syntheticStream) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n++
			s.slot.store(s.render(n))
		}
	}
}

var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// render draws color bars with a square that sweeps across the frame
func (s *syntheticStream) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	barW := s.width / len(barColors)
	if barW == 0 {
		barW = 1
	}
	for x := 0; x < s.width; x++ {
		c := barColors[min(x/barW, len(barColors)-1)]
		for y := 0; y < s.height; y++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
		}
	}

	size := s.height / 6
	if size < 2 {
		return img
	}
	span := s.width - size
	if span <= 0 {
		return img
	}
	x0 := (n * 4) % span
	y0 := (s.height - size) / 2
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	return img
}

// StillStream serves a single fixed image, e.g. a photo loaded from disk.
type StillStream struct {
	img    image.Image
	label  string
	mu     sync.Mutex
	closed bool
}

// NewStillStream wraps img as a Stream.
func NewStillStream(img image.Image, label string) *StillStream {
	return &StillStream{img: img, label: label}
}

// Frame returns the image until the stream is closed.
func (s *StillStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.img == nil {
		return nil, false
	}
	return s.img, true
}

// Size returns the image size.
func (s *StillStream) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Label implements Stream.
func (s *StillStream) Label() string { return s.label }

// Close implements Stream.
func (s *StillStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *StillStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
