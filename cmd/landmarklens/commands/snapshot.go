package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
	"github.com/bryanchriswhite/LandmarkLens/internal/pipeline"
)

var (
	snapshotPage    string
	snapshotOut     string
	snapshotTimeout time.Duration
	snapshotQuality int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture one annotated frame",
	Long: `Acquire the camera, upload a single frame to the prediction server and
write the frame with its overlay as a JPEG. The decoded result is printed as
JSON.`,
	Example: `  # Hand sign snapshot
  landmarklens snapshot --out sign.jpg

  # Pose and face snapshot from the synthetic source
  landmarklens snapshot --page segmentation --backend synthetic --out pose.jpg`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVar(&snapshotPage, "page", "", "page to sample (asl or segmentation, default from config)")
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "snapshot.jpg", "output JPEG path")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 15*time.Second, "overall deadline")
	snapshotCmd.Flags().IntVar(&snapshotQuality, "quality", 90, "JPEG quality of the written file")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if snapshotPage != "" {
		page, err := pipeline.ParsePage(snapshotPage)
		if err != nil {
			return err
		}
		cfg.Pages.Default = string(page)
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	if err := a.pipe.StartCamera(ctx); err != nil {
		return err
	}
	if err := a.pipe.SampleOnce(ctx); err != nil {
		return err
	}

	a.pipe.DrawFrame()
	frame, ok := a.pipe.Frame()
	if !ok {
		return fmt.Errorf("no frame was composed")
	}

	f, err := os.Create(snapshotOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", snapshotOut, err)
	}
	if err := jpeg.Encode(f, frame, &jpeg.Options{Quality: snapshotQuality}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	logger.WithComponent("main").Info().
		Str("path", snapshotOut).
		Str("page", string(a.pipe.Page())).
		Msg("Snapshot written")

	result, _ := a.pipe.Result()
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
