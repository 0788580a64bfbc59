// Package invocation assembles the runtime command line for a generation
package invocation

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/psantana5/sealaunch/internal/config"
	"github.com/psantana5/sealaunch/internal/launcher"
)

const (
	// EnvCompileCache points the runtime at its code cache directory
	EnvCompileCache = "NODE_COMPILE_CACHE"

	// CompileCacheDir is created inside the generation directory
	CompileCacheDir = "v8cache"

	// FlamegraphProgram wraps the runtime when flame graphs are requested.
	// It must be installed on the user's machine.
	FlamegraphProgram = "npx"
)

// Build returns the command that runs the entry script of the generation in
// dir with runtime. userArgs are appended last, unchanged.
func Build(cfg *config.Config, runtime, dir string, userArgs []string) (launcher.Command, error) {
	var c launcher.Command

	if cfg.Flamegraph {
		c.Program = FlamegraphProgram
		c.Args = append(c.Args, "0x", "--", runtime)
	} else {
		c.Program = runtime
	}

	c.Args = append(c.Args,
		"--max-semi-space-size="+strconv.Itoa(cfg.MaxSemiSpaceSize),
		"--max-old-space-size="+strconv.Itoa(cfg.MaxOldSpaceSize),
		"--no-deprecation",
	)

	if cfg.CompileCache {
		cacheDir := filepath.Join(dir, CompileCacheDir)
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return launcher.Command{}, fmt.Errorf("failed to create compile cache %s: %w", cacheDir, err)
		}
		c.Env = append(c.Env, EnvCompileCache+"="+cacheDir)
	}

	c.Args = append(c.Args, cfg.NodeExtraParams...)

	entry := cfg.Entrypoint
	if entry == "" {
		entry = config.DefaultEntrypoint
	}
	c.Args = append(c.Args, filepath.Join(dir, filepath.FromSlash(entry)))
	c.Args = append(c.Args, userArgs...)

	return c, nil
}
