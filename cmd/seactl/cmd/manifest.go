package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psantana5/sealaunch/internal/artifact"
)

var manifestStdout bool

var manifestCmd = &cobra.Command{
	Use:   "manifest <archive-dir>",
	Short: "Write manifest.yaml for a directory of archives",
	Long: `Hashes every *.tar.gz archive in the directory and writes the manifest that
sealaunch embeds next to them. Copy the directory into internal/bundle/payload
before building a release.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.Flags().BoolVar(&manifestStdout, "stdout", false, "print the manifest instead of writing it")
}

func runManifest(cmd *cobra.Command, args []string) error {
	dir := args[0]

	m, err := artifact.BuildManifest(dir)
	if err != nil {
		return err
	}
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if manifestStdout {
		_, err := os.Stdout.Write(data)
		return err
	}

	path := filepath.Join(dir, artifact.ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s (%d artifacts)\n", path, len(m.Artifacts))
	return nil
}
