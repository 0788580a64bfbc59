package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/bundle"
	"github.com/psantana5/sealaunch/internal/config"
	"github.com/psantana5/sealaunch/internal/logging"
)

// AppName must match the launcher's data directory name
const AppName = "garden"

var (
	cfgFile      string
	rootDir      string
	payloadDir   string
	outputFormat string
	verbose      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "seactl",
	Short: "Inspect and maintain the sealaunch extraction cache",
	Long: `seactl lists, verifies, sweeps and pre-populates the generation directories
that sealaunch extracts its bundled archives into, and builds the manifest
that describes those archives.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <root>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "cache root (default from config or the per-user data directory)")
	rootCmd.PersistentFlags().StringVar(&payloadDir, "payload", "", "directory with manifest.yaml and archives (default: the bundled payload)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
}

// loadConfig applies the global flags on top of the regular config sources
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", cfgFile); err != nil {
			return nil, err
		}
	}
	if rootDir != "" {
		if err := os.Setenv(config.EnvPrefix+"_ROOT", rootDir); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(AppName)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Debug = true
	}
	return cfg, nil
}

// loadStore returns the artifacts the cache is checked against
func loadStore() (*artifact.Store, error) {
	if payloadDir != "" {
		store, err := artifact.Load(os.DirFS(payloadDir))
		if err != nil {
			return nil, fmt.Errorf("failed to load payload from %s: %w", payloadDir, err)
		}
		return store, nil
	}
	store, err := bundle.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load bundled payload (use --payload): %w", err)
	}
	return store, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	if cfg.Debug {
		return logging.New(logging.DEBUG, cfg.LogFormat == "json")
	}
	return logging.New(logging.WARN, cfg.LogFormat == "json")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
