package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/LandmarkLens/internal/config"
	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

var (
	cfgFile string
	pretty  bool
	rootCmd = &cobra.Command{
		Use:   "landmarklens",
		Short: "LandmarkLens - live landmark overlays for sign and pose models",
		Long: `LandmarkLens samples frames from a camera, uploads them to a prediction
server and draws the returned hand, pose and face landmarks over the video.

Features:
  • Camera capture via mediadevices, GStreamer, X11 or a synthetic source
  • Rate-limited uploads with at most one request in flight
  • Hand skeleton, pose skeleton and face mesh overlays
  • Recognized label history
  • MJPEG stream and web viewer, optional X11 window
  • REST API and websocket events`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/landmarklens/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "camera backend (auto, mediadevices, gstreamer, x11, synthetic)")
	rootCmd.PersistentFlags().String("predictor", "", "prediction server base URL")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("camera.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("predictor.base_url", rootCmd.PersistentFlags().Lookup("predictor"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and layers environment and flags on top.
// It also initializes the logger at the resolved level.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg, err := configMgr.Resolve(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, pretty)
	return configMgr, cfg, nil
}
