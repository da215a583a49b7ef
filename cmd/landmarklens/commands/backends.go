package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/LandmarkLens/internal/camera"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List camera backends",
	Long: `List the camera backends that can be passed to --backend or set as
camera.backend. "auto" tries mediadevices, then GStreamer.`,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range camera.Backends() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
