package commands

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
	"github.com/bryanchriswhite/LandmarkLens/internal/config"
	"github.com/bryanchriswhite/LandmarkLens/internal/geometry"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/output"
	"github.com/bryanchriswhite/LandmarkLens/internal/pipeline"
	"github.com/bryanchriswhite/LandmarkLens/internal/predict"
	"github.com/bryanchriswhite/LandmarkLens/internal/stage"
)

// app is everything a command needs to drive the pipeline.
type app struct {
	pipe    *pipeline.Pipeline
	mjpeg   *output.MJPEGOutput
	outputs output.Fanout
}

func newSession(cfg *config.Config) (*camera.Session, error) {
	opener, err := camera.NewOpener(camera.Options{
		Backend: cfg.Camera.Backend,
		Device:  cfg.Camera.Device,
	})
	if err != nil {
		return nil, err
	}
	preferred := camera.Profile{
		Name:       "preferred",
		Width:      cfg.Camera.Preferred.Width,
		Height:     cfg.Camera.Preferred.Height,
		FacingMode: cfg.Camera.FacingMode,
	}
	fallback := camera.Profile{
		Name:       "fallback",
		Width:      cfg.Camera.Fallback.Width,
		Height:     cfg.Camera.Fallback.Height,
		FacingMode: cfg.Camera.FacingMode,
	}
	logger.WithComponent("main").Info().
		Str("backend", opener.Name()).
		Msg("Camera backend selected")
	return camera.NewSession(opener, preferred, fallback), nil
}

// newApp builds the pipeline. With live set the sampler loops run, the MJPEG
// stream and, when configured, the X11 window are started and receive every
// frame. Otherwise uploads happen only through SampleOnce.
func newApp(cfg *config.Config, live bool) (*app, error) {
	session, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	client, err := predict.NewClient(predict.ClientConfig{
		BaseURL:          cfg.Predictor.BaseURL,
		Timeout:          cfg.Predictor.Timeout,
		MaxResponseBytes: cfg.Predictor.MaxResponseBytes,
	})
	if err != nil {
		return nil, err
	}

	a := &app{}
	var sink stage.Sink
	if live {
		outCfg := output.Config{
			Width:   cfg.Display.Width,
			Height:  cfg.Display.Height,
			FPS:     cfg.Display.RefreshHz,
			Quality: cfg.Display.StreamQuality,
		}
		a.mjpeg = output.NewMJPEGOutput(outCfg)
		if err := a.mjpeg.Start(); err != nil {
			return nil, err
		}
		a.outputs = append(a.outputs, a.mjpeg)

		if cfg.Display.Window {
			win := output.NewWindowOutput(outCfg, cfg.Display.WindowDisplay)
			if err := win.Start(); err != nil {
				logger.WithComponent("main").Warn().Err(err).Msg("X11 window output unavailable, continuing without it")
			} else {
				a.outputs = append(a.outputs, win)
			}
		}
		sink = a.outputs
	}

	fit, err := geometry.ParseFit(cfg.Display.Fit)
	if err != nil {
		return nil, err
	}
	a.pipe, err = pipeline.New(pipeline.Config{
		Pages: map[pipeline.Page]pipeline.PageConfig{
			pipeline.PageASL:          {Endpoint: cfg.Pages.ASL.Endpoint, FPS: cfg.Pages.ASL.FPS},
			pipeline.PageSegmentation: {Endpoint: cfg.Pages.Segmentation.Endpoint, FPS: cfg.Pages.Segmentation.FPS},
		},
		DefaultPage:     pipeline.Page(cfg.Pages.Default),
		Display:         pipeline.Display{Width: cfg.Display.Width, Height: cfg.Display.Height, Fit: fit},
		Quality:         cfg.Predictor.JPEGQuality,
		RefreshHz:       cfg.Display.RefreshHz,
		HistoryCapacity: cfg.History.Capacity,
		NotifyTTL:       cfg.Notifications.TTL,
		Manual:          !live,
	}, session, client, sink)
	if err != nil {
		return nil, multierr.Append(err, a.outputs.Stop())
	}
	return a, nil
}

// Close tears the pipeline and outputs down.
func (a *app) Close() error {
	err := a.pipe.Close()
	err = multierr.Append(err, a.outputs.Stop())
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
