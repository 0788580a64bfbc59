package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/sealaunch/internal/bundle"
	"github.com/psantana5/sealaunch/internal/config"
	"github.com/psantana5/sealaunch/internal/launch"
	"github.com/psantana5/sealaunch/internal/logging"
)

// AppName names the per-user data directory
const AppName = "garden"

// Version is set at build time with -ldflags
var Version = "dev"

// exitCode carries the child's exit code out of RunE
var exitCode int

// rootCmd runs the bundled runtime. Every argument belongs to the entry
// script, so the launcher parses no flags of its own.
var rootCmd = &cobra.Command{
	Use:                "sealaunch [args...]",
	Short:              "Run the bundled runtime",
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runLaunch,
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(AppName)
	if err != nil {
		return err
	}

	store, err := bundle.Load()
	if err != nil {
		return err
	}

	exitCode, err = launch.Run(context.Background(), launch.Options{
		App:     AppName,
		Version: Version,
		Config:  cfg,
		Store:   store,
		Args:    args,
		Log:     launch.NewLogger(cfg),
	})
	return err
}

// Execute runs the launcher and returns the process exit code
func Execute() int {
	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		logging.New(logging.WARN, false).Error(err.Error())
		return launch.ExitFailure
	}
	return exitCode
}
