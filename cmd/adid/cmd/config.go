package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianly1003/adid/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage adid configuration.

Without subcommands, shows the current effective configuration as YAML.

Examples:
  adid config              # Show current config
  adid config init         # Create config file with defaults
  adid config path         # Show config file search paths`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings.

By default, creates ~/.adid/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  adid config init          # Create ~/.adid/config.yaml
  adid config init --local  # Create ./config.yaml
  adid config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file locations.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file search paths",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.adid/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
	}

	if err := writeDefaultConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Config search paths (in order):")
	for i, dir := range config.SearchPaths() {
		loc := filepath.Join(os.ExpandEnv(dir), "config.yaml")
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Fprintln(out, "\nEnvironment overrides use the ADID_ prefix, e.g. ADID_SERVICE_PORT=9000")
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	if shown.Client.PrivateKey != "" {
		shown.Client.PrivateKey = "********"
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func writeDefaultConfig(path string) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}

	header := strings.Join([]string{
		"# adid configuration",
		"# Every key can be overridden with an ADID_ environment variable,",
		"# e.g. fetch.bind_timeout -> ADID_FETCH_BIND_TIMEOUT.",
		"",
	}, "\n")

	return os.WriteFile(path, append([]byte(header), data...), 0644)
}
