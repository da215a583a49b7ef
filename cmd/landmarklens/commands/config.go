package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/LandmarkLens/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage LandmarkLens configuration",
	Long:  `View and manage LandmarkLens configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the LandmarkLens configuration. With --effective the values from
LANDMARKLENS_* environment variables and command line flags are applied.`,
	Example: `  # Show configuration as YAML (default)
  landmarklens config show

  # Show configuration as JSON
  landmarklens config show --format json

  # Show what serve would run with
  LANDMARKLENS_SERVER_PORT=9090 landmarklens config show --effective`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value. Keys are dotted paths into the config file.`,
	Example: `  # Set server port
  landmarklens config set server_port 9090

  # Point at another prediction server
  landmarklens config set predictor.base_url http://gpu-box:8000

  # Sample the ASL page faster
  landmarklens config set pages.asl.fps 6`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get server port
  landmarklens config get server_port

  # Get a whole section
  landmarklens config get camera`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys",
	RunE:  runConfigKeys,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var (
	formatFlag    string
	effectiveFlag bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
	configShowCmd.Flags().BoolVar(&effectiveFlag, "effective", false, "apply environment and flag overrides")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	var (
		cfg *config.Config
		err error
	)
	if effectiveFlag {
		_, cfg, err = loadConfig()
		if err != nil {
			return err
		}
	} else {
		configMgr, err := config.NewManager(GetConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = configMgr.Get()
	}

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.SetValue(key, value); err != nil {
		return err
	}

	fmt.Printf("Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	value, err := configMgr.GetValue(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigKeys(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for _, key := range configMgr.Keys() {
		fmt.Println(key)
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
