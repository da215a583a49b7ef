package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// X11Opener turns the X11 root window into a video source. Each grab is
// scaled to the profile size, so the "camera" behaves like a fixed-resolution
// device.
type X11Opener struct {
	// Display is the X display name; empty uses $DISPLAY.
	Display string
	// Interval between grabs.
	Interval time.Duration
}

// Name implements Opener.
func (o *X11Opener) Name() string { return "x11" }

// Open implements Opener.
func (o *X11Opener) Open(_ context.Context, profile Profile) (Stream, error) {
	conn, err := xgb.NewConnDisplay(o.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	if depth := int(screen.RootDepth); depth != 24 && depth != 32 {
		conn.Close()
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}

	interval := o.Interval
	if interval <= 0 {
		interval = 66 * time.Millisecond
	}

	s := &x11Stream{
		conn:     conn,
		screen:   screen,
		width:    profile.Width,
		height:   profile.Height,
		interval: interval,
		label:    "x11:" + o.displayName(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	// The first grab happens inline so a broken display fails Open.
	img, err := s.grab()
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.slot.store(img)
	go s.run()

	logger.WithComponent("x11-camera").Info().
		Str("display", s.label).
		Uint16("screen_width", screen.WidthInPixels).
		Uint16("screen_height", screen.HeightInPixels).
		Int("width", profile.Width).
		Int("height", profile.Height).
		Msg("X11 screen source started")
	return s, nil
}

func (o *X11Opener) displayName() string {
	if o.Display == "" {
		return "default"
	}
	return o.Display
}

type x11Stream struct {
	conn     *xgb.Conn
	screen   *xproto.ScreenInfo
	width    int
	height   int
	interval time.Duration
	label    string
	slot     frameSlot

	closeOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func (s *x11Stream) Frame() (image.Image, bool) { return s.slot.load() }
func (s *x11Stream) Size() (int, int)          { return s.slot.size() }
func (s *x11Stream) Label() string             { return s.label }

func (s *x11Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		<-s.done
		s.conn.Close()
	})
	return nil
}

func (s *x11Stream) run() {
	defer close(s.done)
	log := logger.WithComponent("x11-camera")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			img, err := s.grab()
			if err != nil {
				log.Debug().Err(err).Msg("Screen grab failed")
				continue
			}
			s.slot.store(img)
		}
	}
}

// grab captures the root window and scales it to the stream size
func (s *x11Stream) grab() (*image.RGBA, error) {
	w := int(s.screen.WidthInPixels)
	h := int(s.screen.HeightInPixels)

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.screen.Root),
		0, 0,
		uint16(w), uint16(h),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	full := bgraToRGBA(reply.Data, w, h)
	if w == s.width && h == s.height {
		return full, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), full, full.Bounds(), draw.Src, nil)
	return scaled, nil
}

// bgraToRGBA converts 24/32-bit ZPixmap data to RGBA
func bgraToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}
