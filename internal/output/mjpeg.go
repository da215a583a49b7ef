package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

// MJPEGOutput streams composed frames as Motion JPEG over HTTP so any browser
// tab can show the annotated video.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Last encoded frame
	frameMu    sync.RWMutex
	latestJPEG []byte
	lastUpdate time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount atomic.Uint64
	dropped    atomic.Uint64
	startTime  time.Time
}

// MJPEGStats summarizes stream activity.
type MJPEGStats struct {
	Running    bool          `json:"running"`
	Frames     uint64        `json:"frames"`
	Dropped    uint64        `json:"dropped"`
	Clients    int           `json:"clients"`
	FPS        float64       `json:"fps"`
	Uptime     time.Duration `json:"uptime"`
	LastUpdate time.Time     `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 85
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output.
// The HTTP handler is registered separately via HTTPHandler().
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)
	m.dropped.Store(0)

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount.Load()).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes a frame and sends it to all connected clients
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.latestJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
			m.dropped.Add(1)
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Latest returns the most recent encoded frame, or nil.
func (m *MJPEGOutput) Latest() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.latestJPEG
}

// Stats returns a snapshot of stream activity.
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clients := len(m.clients)
	m.clientsMu.RUnlock()

	frames := m.frameCount.Load()
	stats := MJPEGStats{
		Running:    running,
		Frames:     frames,
		Dropped:    m.dropped.Load(),
		Clients:    clients,
		LastUpdate: lastUpdate,
	}
	if running && !startTime.IsZero() {
		stats.Uptime = time.Since(startTime)
		if secs := stats.Uptime.Seconds(); secs > 0 {
			stats.FPS = float64(frames) / secs
		}
	}
	return stats
}

// HTTPHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream.
func (m *MJPEGOutput) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Str("remote", r.RemoteAddr).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		// Send the last frame right away so a new viewer is not blank
		if latest := m.Latest(); latest != nil {
			if err := writePart(w, latest); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SnapshotHandler serves the latest frame as a single JPEG.
func (m *MJPEGOutput) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest := m.Latest()
		if latest == nil {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(latest)
	}
}

// StatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := m.Stats()

		status, statusClass := "Stopped", "status-stopped"
		if s.Running {
			status, statusClass = "Running", "status-running"
		}
		last := "Never"
		if !s.LastUpdate.IsZero() {
			last = time.Since(s.LastUpdate).Round(time.Millisecond).String() + " ago"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>LandmarkLens - Stream Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
        .status-running { color: #4ec9b0; }
        .status-stopped { color: #ce9178; }
    </style>
</head>
<body>
    <h1>LandmarkLens Stream Stats</h1>
    <div class="stat"><span class="label">Status:</span> <span class="value %s">%s</span></div>
    <div class="stat"><span class="label">Box:</span> <span class="value">%dx%d @ %d FPS (target)</span></div>
    <div class="stat"><span class="label">Actual FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Dropped (slow clients):</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/" style="color: #569cd6;">Viewer</a></p>
</body>
</html>`,
			statusClass, status,
			m.config.Width, m.config.Height, m.config.FPS,
			s.FPS,
			s.Frames,
			s.Dropped,
			s.Clients,
			last,
			s.Uptime.Round(time.Second).String(),
		)
	}
}
