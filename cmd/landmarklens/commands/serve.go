package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/LandmarkLens/internal/api"
	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

var startCamera bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the LandmarkLens server",
	Long: `Start the LandmarkLens HTTP server.

The server runs the overlay loop, serves the annotated MJPEG stream and the
web viewer, and exposes a REST API and websocket events for camera, page and
toggle control.`,
	Example: `  # Start server on default port (8080)
  landmarklens serve

  # Start on a custom port with the synthetic camera
  landmarklens serve --port 9090 --backend synthetic

  # Acquire the camera immediately
  landmarklens serve --start-camera

  # Start with debug logging
  landmarklens serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&startCamera, "start-camera", false, "acquire the camera on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("main")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Str("predictor", cfg.Predictor.BaseURL).
		Msg("Configuration loaded")

	a, err := newApp(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(a.pipe, configMgr, a.mjpeg)
	a.pipe.Start()

	if startCamera {
		if err := a.pipe.StartCamera(ctx); err != nil {
			// Not fatal: the viewer shows the error and can retry.
			log.Warn().Err(err).Bool("acquire_error", camera.IsAcquireError(err)).Msg("Camera did not start")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, cfg.ServerPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")
		return a.Close()
	})

	log.Info().
		Str("viewer", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("stream", fmt.Sprintf("http://localhost:%d/stream", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("LandmarkLens is running, press Ctrl+C to stop")

	return g.Wait()
}
