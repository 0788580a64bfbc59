//go:build !windows

package launch

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/cache"
	"github.com/psantana5/sealaunch/internal/config"
	"github.com/psantana5/sealaunch/internal/launcher"
	"github.com/psantana5/sealaunch/internal/logging"
	"github.com/psantana5/sealaunch/internal/platform"
	"github.com/psantana5/sealaunch/internal/testutil"
)

// runtimeStore builds a store whose bin/node is the given shell script
func runtimeStore(t *testing.T, script, digest string) *artifact.Store {
	t.Helper()
	store, err := artifact.New(
		artifact.Artifact{
			Name: "bin",
			Payload: testutil.TarGz(t,
				testutil.Entry{Name: "bin/node", Body: "#!/bin/sh\n" + script + "\n", Mode: 0o755},
			),
			Digest: []byte("bin-" + digest),
		},
		artifact.Artifact{
			Name:    "source",
			Payload: testutil.Files(t, map[string]string{"rollup/garden.mjs": "// entry"}),
			Digest:  []byte("source-" + digest),
		},
	)
	require.NoError(t, err)
	return store
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Root:             t.TempDir(),
		LogFormat:        "text",
		MaxOldSpaceSize:  4096,
		MaxSemiSpaceSize: 64,
		CompileCache:     true,
		Entrypoint:       config.DefaultEntrypoint,
	}
}

func TestRunPropagatesExitCodeAndArguments(t *testing.T) {
	cfg := testConfig(t)
	script := `printf '%s\n' "$@" > "$SEA_EXTRACTED_ROOT/args.txt"
printf '%s' "$NODE_COMPILE_CACHE" > "$SEA_EXTRACTED_ROOT/cache.txt"
exit 7`
	store := runtimeStore(t, script, "v1")

	code, err := Run(context.Background(), Options{
		App:    "garden",
		Config: cfg,
		Store:  store,
		Args:   []string{"deploy", "--yes"},
		Log:    logging.Discard(),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	gens, err := cache.List(cfg.Root, store)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	dir := gens[0].Path

	data, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{
		"--max-semi-space-size=64",
		"--max-old-space-size=4096",
		"--no-deprecation",
		filepath.Join(dir, "rollup", "garden.mjs"),
		"deploy",
		"--yes",
	}, args)

	data, err = os.ReadFile(filepath.Join(dir, "cache.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "v8cache"), string(data))
}

func TestRunReusesGeneration(t *testing.T) {
	cfg := testConfig(t)
	store := runtimeStore(t, "exit 0", "v1")

	for i := 0; i < 3; i++ {
		code, err := Run(context.Background(), Options{Config: cfg, Store: store, Log: logging.Discard()})
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	}

	gens, err := cache.List(cfg.Root, store)
	require.NoError(t, err)
	assert.Len(t, gens, 1)
}

func TestRunSignalFallback(t *testing.T) {
	cfg := testConfig(t)
	store := runtimeStore(t, "kill -KILL $$", "v1")

	code, err := Run(context.Background(), Options{Config: cfg, Store: store, Log: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, launcher.ExitSignalFallback, code)
}

func TestRunSpawnFailure(t *testing.T) {
	cfg := testConfig(t)
	store, err := artifact.New(artifact.Artifact{
		Name:    "source",
		Payload: testutil.Files(t, map[string]string{"rollup/garden.mjs": "x"}),
		Digest:  []byte("d"),
	})
	require.NoError(t, err)

	code, err := Run(context.Background(), Options{Config: cfg, Store: store, Log: logging.Discard()})
	assert.Equal(t, ExitFailure, code)
	var spawnErr *launcher.SpawnError
	assert.True(t, errors.As(err, &spawnErr), "got %v", err)
}

func TestRunSetupFailure(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.Root = filepath.Join(file, "root")

	code, err := Run(context.Background(), Options{Config: cfg, Store: runtimeStore(t, "exit 0", "v1"), Log: logging.Discard()})
	assert.Equal(t, ExitFailure, code)
	assert.Error(t, err)
}

func TestRunForwardsInterruptAndWaitsForChild(t *testing.T) {
	cfg := testConfig(t)
	script := `trap 'echo trapped > "$SEA_EXTRACTED_ROOT/trapped"; exit 42' INT
touch "$SEA_EXTRACTED_ROOT/ready"
sleep 30 &
wait`
	store := runtimeStore(t, script, "v1")

	// keeps a SIGINT that lands before the relay is installed from killing the test
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, os.Interrupt)
	defer signal.Stop(guard)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(50 * time.Millisecond):
			}
			ready, _ := filepath.Glob(filepath.Join(cfg.Root, "*", "ready"))
			if len(ready) > 0 {
				unix.Kill(os.Getpid(), unix.SIGINT)
			}
		}
	}()

	start := time.Now()
	code, err := Run(context.Background(), Options{Config: cfg, Store: store, Log: logging.Discard()})
	close(done)

	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.Less(t, time.Since(start), 20*time.Second, "interrupt must reach the child")

	trapped, err := filepath.Glob(filepath.Join(cfg.Root, "*", "trapped"))
	require.NoError(t, err)
	assert.Len(t, trapped, 1, "Run returned before the child handled the interrupt")
}

// brokenNotifyHost cannot register termination handlers
type brokenNotifyHost struct {
	platform.Host
}

func (h brokenNotifyHost) Notify(ch chan<- struct{}) (func(), error) {
	return nil, errors.New("handler table full")
}

func TestRunRelayInstallFailureKillsChild(t *testing.T) {
	cfg := testConfig(t)
	store := runtimeStore(t, "sleep 30", "v1")

	start := time.Now()
	code, err := Run(context.Background(), Options{
		Config: cfg,
		Store:  store,
		Host:   brokenNotifyHost{Host: platform.Current(nil)},
		Log:    logging.Discard(),
	})

	assert.Equal(t, ExitFailure, code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler table full")
	assert.Less(t, time.Since(start), 20*time.Second, "child must be killed, not waited for")
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "sealaunch.prom")

	code, err := Run(context.Background(), Options{Config: cfg, Store: runtimeStore(t, "exit 3", "v1"), Log: logging.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	data, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sealaunch_child_exits_total{reason="error"} 1`)
	assert.Contains(t, string(data), `sealaunch_generation_selections_total{mode="extracted"} 1`)
}

func TestRunRequiresConfigAndStore(t *testing.T) {
	code, err := Run(context.Background(), Options{})
	assert.Equal(t, ExitFailure, code)
	assert.Error(t, err)

	code, err = Run(context.Background(), Options{Config: testConfig(t)})
	assert.Equal(t, ExitFailure, code)
	assert.Error(t, err)
}
