package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// maxRequestBytes keeps PutImage payloads below the 256KiB core limit.
const maxRequestBytes = 200 * 1024

// WindowOutput shows composed frames in a native X11 window.
type WindowOutput struct {
	config  Config
	display string

	mu      sync.Mutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	window  xproto.Window
	gc      xproto.Gcontext
	running bool

	bitsPerPixel uint8
	scanlinePad  uint8
	scaled       *image.RGBA
	data         []byte
}

// NewWindowOutput creates an X11 window output. display is the X display
// name; empty uses $DISPLAY.
func NewWindowOutput(config Config, display string) *WindowOutput {
	return &WindowOutput{config: config, display: display}
}

// Start connects to the X server, creates and maps the window
func (o *WindowOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("window output already running")
	}
	if o.config.Width <= 0 || o.config.Height <= 0 {
		return fmt.Errorf("invalid window size %dx%d", o.config.Width, o.config.Height)
	}

	conn, err := xgb.NewConnDisplay(o.display)
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)
	for _, format := range setup.PixmapFormats {
		if format.Depth == screen.RootDepth {
			o.bitsPerPixel = format.BitsPerPixel
			o.scanlinePad = format.ScanlinePad
			break
		}
	}
	if o.bitsPerPixel != 24 && o.bitsPerPixel != 32 {
		conn.Close()
		return fmt.Errorf("unsupported pixmap format: %d bits per pixel at depth %d", o.bitsPerPixel, screen.RootDepth)
	}

	window, err := xproto.NewWindowId(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		window,
		screen.Root,
		0, 0,
		uint16(o.config.Width), uint16(o.config.Height),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0x000000, xproto.EventMaskExposure | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create window: %w", err)
	}

	o.conn = conn
	o.screen = screen
	o.window = window

	log := logger.WithComponent("window")
	if err := o.setProperty("_NET_WM_NAME", "UTF8_STRING", "LandmarkLens"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := o.setProperty("WM_CLASS", "", "landmarklens\x00LandmarkLens\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(conn, window).Check(); err != nil {
		o.teardownLocked()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		o.teardownLocked()
		return fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(window), 0, nil).Check(); err != nil {
		o.teardownLocked()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	o.gc = gc
	conn.Sync()

	o.running = true
	log.Info().
		Int("width", o.config.Width).
		Int("height", o.config.Height).
		Uint32("window_id", uint32(window)).
		Msg("Display window created")
	return nil
}

// Stop destroys the window and closes the connection
func (o *WindowOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}
	o.teardownLocked()
	o.running = false
	logger.WithComponent("window").Info().Msg("Display window closed")
	return nil
}

func (o *WindowOutput) teardownLocked() {
	if o.conn == nil {
		return
	}
	if o.gc != 0 {
		xproto.FreeGC(o.conn, o.gc)
		o.gc = 0
	}
	if o.window != 0 {
		xproto.DestroyWindow(o.conn, o.window)
		o.window = 0
	}
	o.conn.Sync()
	o.conn.Close()
	o.conn = nil
}

// Name returns the output type name
func (o *WindowOutput) Name() string {
	return "X11 Window"
}

// IsRunning returns true if the window is shown
func (o *WindowOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// WriteFrame scales the frame to the window size if needed and puts it on
// screen.
func (o *WindowOutput) WriteFrame(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return fmt.Errorf("window output not running")
	}

	w, h := o.config.Width, o.config.Height
	src := frame
	if frame.Bounds().Dx() != w || frame.Bounds().Dy() != h {
		if o.scaled == nil {
			o.scaled = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		draw.ApproxBiLinear.Scale(o.scaled, o.scaled.Bounds(), frame, frame.Bounds(), draw.Src, nil)
		src = o.scaled
	}

	data, stride := o.packLocked(src)

	// Send horizontal strips so each request stays under the core protocol
	// request size limit.
	rows := maxRequestBytes / stride
	if rows < 1 {
		rows = 1
	}
	for y := 0; y < h; y += rows {
		n := min(rows, h-y)
		err := xproto.PutImageChecked(
			o.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(o.window),
			o.gc,
			uint16(w), uint16(n),
			0, int16(y),
			0,
			o.screen.RootDepth,
			data[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// packLocked converts RGBA to the server's ZPixmap layout (BGRx or BGR)
// with scanline padding.
func (o *WindowOutput) packLocked(img *image.RGBA) ([]byte, int) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	bytesPerPixel := int(o.bitsPerPixel) / 8
	padBytes := int(o.scanlinePad) / 8
	if padBytes == 0 {
		padBytes = 1
	}
	unpadded := width * bytesPerPixel
	stride := ((unpadded + padBytes - 1) / padBytes) * padBytes

	if len(o.data) != stride*height {
		o.data = make([]byte, stride*height)
	}
	data := o.data
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			si := x * 4
			di := x * bytesPerPixel
			dst[di] = row[si+2]
			dst[di+1] = row[si+1]
			dst[di+2] = row[si]
			if bytesPerPixel == 4 {
				if o.screen.RootDepth == 32 {
					dst[di+3] = row[si+3]
				} else {
					dst[di+3] = 0
				}
			}
		}
	}
	return data, stride
}

// setProperty sets a string property on the window. An empty typeName uses
// the STRING atom.
func (o *WindowOutput) setProperty(name, typeName, value string) error {
	prop, err := o.atom(name)
	if err != nil {
		return err
	}
	typ := xproto.Atom(xproto.AtomString)
	if typeName != "" {
		if typ, err = o.atom(typeName); err != nil {
			return err
		}
	}
	return xproto.ChangePropertyChecked(
		o.conn,
		xproto.PropModeReplace,
		o.window,
		prop,
		typ,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

func (o *WindowOutput) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(o.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
