package config

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
)

// Config represents the application configuration
type Config struct {
	ServerPort    int                 `json:"server_port" yaml:"server_port"`
	LogLevel      string              `json:"log_level" yaml:"log_level"`
	Camera        CameraConfig        `json:"camera" yaml:"camera"`
	Predictor     PredictorConfig     `json:"predictor" yaml:"predictor"`
	Display       DisplayConfig       `json:"display" yaml:"display"`
	Pages         PagesConfig         `json:"pages" yaml:"pages"`
	History       HistoryConfig       `json:"history" yaml:"history"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
}

// CameraConfig selects the capture backend and its constraint profiles
type CameraConfig struct {
	Backend    string        `json:"backend" yaml:"backend"`
	Device     string        `json:"device" yaml:"device"`
	FacingMode string        `json:"facing_mode" yaml:"facing_mode"`
	Preferred  ProfileConfig `json:"preferred" yaml:"preferred"`
	Fallback   ProfileConfig `json:"fallback" yaml:"fallback"`
}

// ProfileConfig is a requested capture resolution
type ProfileConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// PredictorConfig points at the prediction backend
type PredictorConfig struct {
	BaseURL          string        `json:"base_url" yaml:"base_url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	JPEGQuality      int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	MaxResponseBytes int64         `json:"max_response_bytes" yaml:"max_response_bytes"`
}

// DisplayConfig describes the display box the video and overlay share
type DisplayConfig struct {
	Width         int    `json:"width" yaml:"width"`
	Height        int    `json:"height" yaml:"height"`
	RefreshHz     int    `json:"refresh_hz" yaml:"refresh_hz"`
	Fit           string `json:"fit" yaml:"fit"`
	StreamQuality int    `json:"stream_quality" yaml:"stream_quality"`
	Window        bool   `json:"window" yaml:"window"`
	WindowDisplay string `json:"window_display" yaml:"window_display"`
}

// PageConfig is the sampler setup of one page
type PageConfig struct {
	Endpoint string  `json:"endpoint" yaml:"endpoint"`
	FPS      float64 `json:"fps" yaml:"fps"`
}

// PagesConfig holds the per-page settings
type PagesConfig struct {
	Default      string     `json:"default" yaml:"default"`
	ASL          PageConfig `json:"asl" yaml:"asl"`
	Segmentation PageConfig `json:"segmentation" yaml:"segmentation"`
}

// HistoryConfig sizes the label history
type HistoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// NotificationsConfig controls toast lifetime
type NotificationsConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Camera: CameraConfig{
			Backend:    "auto",
			FacingMode: "user",
			Preferred:  ProfileConfig{Width: 640, Height: 480},
			Fallback:   ProfileConfig{Width: 320, Height: 240},
		},
		Predictor: PredictorConfig{
			BaseURL:          "http://localhost:8000",
			Timeout:          10 * time.Second,
			JPEGQuality:      75,
			MaxResponseBytes: 4 << 20,
		},
		Display: DisplayConfig{
			Width:         1280,
			Height:        720,
			RefreshHz:     30,
			Fit:           string(geometry.FitContain),
			StreamQuality: 85,
		},
		Pages: PagesConfig{
			Default:      "asl",
			ASL:          PageConfig{Endpoint: "/api/asl/predict", FPS: 4},
			Segmentation: PageConfig{Endpoint: "/api/segmentation/predict", FPS: 3},
		},
		History:       HistoryConfig{Capacity: 50},
		Notifications: NotificationsConfig{TTL: 2600 * time.Millisecond},
	}
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if _, err := geometry.ParseFit(c.Display.Fit); err != nil {
		return fmt.Errorf("display.fit: %w", err)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Predictor.JPEGQuality < 1 || c.Predictor.JPEGQuality > 100 {
		return fmt.Errorf("predictor.jpeg_quality must be 1-100, got %d", c.Predictor.JPEGQuality)
	}
	if c.Predictor.BaseURL == "" {
		return fmt.Errorf("predictor.base_url is required")
	}
	switch c.Pages.Default {
	case "asl", "segmentation":
	default:
		return fmt.Errorf("pages.default must be asl or segmentation, got %q", c.Pages.Default)
	}
	return nil
}

// fillDefaults replaces zero values left by a partial config file
func (c *Config) fillDefaults() {
	d := Defaults()
	if c.ServerPort == 0 {
		c.ServerPort = d.ServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Camera.Backend == "" {
		c.Camera.Backend = d.Camera.Backend
	}
	if c.Camera.FacingMode == "" {
		c.Camera.FacingMode = d.Camera.FacingMode
	}
	if c.Camera.Preferred.Width == 0 || c.Camera.Preferred.Height == 0 {
		c.Camera.Preferred = d.Camera.Preferred
	}
	if c.Camera.Fallback.Width == 0 || c.Camera.Fallback.Height == 0 {
		c.Camera.Fallback = d.Camera.Fallback
	}
	if c.Predictor.BaseURL == "" {
		c.Predictor.BaseURL = d.Predictor.BaseURL
	}
	if c.Predictor.Timeout == 0 {
		c.Predictor.Timeout = d.Predictor.Timeout
	}
	if c.Predictor.JPEGQuality == 0 {
		c.Predictor.JPEGQuality = d.Predictor.JPEGQuality
	}
	if c.Predictor.MaxResponseBytes == 0 {
		c.Predictor.MaxResponseBytes = d.Predictor.MaxResponseBytes
	}
	if c.Display.Width == 0 || c.Display.Height == 0 {
		c.Display.Width, c.Display.Height = d.Display.Width, d.Display.Height
	}
	if c.Display.RefreshHz == 0 {
		c.Display.RefreshHz = d.Display.RefreshHz
	}
	if c.Display.Fit == "" {
		c.Display.Fit = d.Display.Fit
	}
	if c.Display.StreamQuality == 0 {
		c.Display.StreamQuality = d.Display.StreamQuality
	}
	if c.Pages.Default == "" {
		c.Pages.Default = d.Pages.Default
	}
	if c.Pages.ASL.Endpoint == "" {
		c.Pages.ASL.Endpoint = d.Pages.ASL.Endpoint
	}
	if c.Pages.ASL.FPS == 0 {
		c.Pages.ASL.FPS = d.Pages.ASL.FPS
	}
	if c.Pages.Segmentation.Endpoint == "" {
		c.Pages.Segmentation.Endpoint = d.Pages.Segmentation.Endpoint
	}
	if c.Pages.Segmentation.FPS == 0 {
		c.Pages.Segmentation.FPS = d.Pages.Segmentation.FPS
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = d.History.Capacity
	}
	if c.Notifications.TTL == 0 {
		c.Notifications.TTL = d.Notifications.TTL
	}
}
