package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load looks at for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ROOT", "CONFIG", "DEBUG", "LOG_FORMAT", "MAX_OLD_SPACE_SIZE",
		"MAX_SEMI_SPACE_SIZE", "NODE_EXTRA_PARAMS", "COMPILE_CACHE",
		"FLAMEGRAPH", "ENTRYPOINT", "METRICS_TEXTFILE", "OTLP_ENDPOINT", "SWEEP_RATE",
	} {
		name := EnvPrefix + "_" + key
		if old, ok := os.LookupEnv(name); ok {
			os.Unsetenv(name)
			t.Cleanup(func() { os.Setenv(name, old) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("SEA_ROOT", root)

	cfg, err := Load("garden")
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Root)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, DefaultMaxOldSpaceSize, cfg.MaxOldSpaceSize)
	assert.Equal(t, DefaultMaxSemiSpaceSize, cfg.MaxSemiSpaceSize)
	assert.Empty(t, cfg.NodeExtraParams)
	assert.True(t, cfg.CompileCache)
	assert.False(t, cfg.Flamegraph)
	assert.Equal(t, DefaultEntrypoint, cfg.Entrypoint)
	assert.Empty(t, cfg.File)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEA_ROOT", t.TempDir())
	t.Setenv("SEA_MAX_OLD_SPACE_SIZE", "8192")
	t.Setenv("SEA_MAX_SEMI_SPACE_SIZE", "32")
	t.Setenv("SEA_NODE_EXTRA_PARAMS", "--inspect, --trace-warnings")
	t.Setenv("SEA_COMPILE_CACHE", "0")
	t.Setenv("SEA_FLAMEGRAPH", "1")
	t.Setenv("SEA_LOG_FORMAT", "json")
	t.Setenv("SEA_SWEEP_RATE", "2.5")

	cfg, err := Load("garden")
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.MaxOldSpaceSize)
	assert.Equal(t, 32, cfg.MaxSemiSpaceSize)
	assert.Equal(t, []string{"--inspect", "--trace-warnings"}, cfg.NodeExtraParams)
	assert.False(t, cfg.CompileCache)
	assert.True(t, cfg.Flamegraph)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2.5, cfg.SweepRate)
}

func TestLoadDebugPresence(t *testing.T) {
	cases := map[string]bool{
		"":      true,
		"1":     true,
		"yes":   true,
		"0":     false,
		"false": false,
	}
	for val, want := range cases {
		clearEnv(t)
		t.Setenv("SEA_ROOT", t.TempDir())
		t.Setenv("SEA_DEBUG", val)

		cfg, err := Load("garden")
		require.NoError(t, err, "SEA_DEBUG=%q", val)
		assert.Equal(t, want, cfg.Debug, "SEA_DEBUG=%q", val)
	}
}

func TestLoadConfigFileInRoot(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	t.Setenv("SEA_ROOT", root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte(`
debug: true
max_old_space_size: 2048
node_extra_params:
  - --expose-gc
  - --stack-size=2000
entrypoint: dist/main.mjs
`), 0o644))
	t.Setenv("SEA_MAX_OLD_SPACE_SIZE", "1024")

	cfg, err := Load("garden")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "config.yaml"), cfg.File)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 1024, cfg.MaxOldSpaceSize, "environment wins over file")
	assert.Equal(t, []string{"--expose-gc", "--stack-size=2000"}, cfg.NodeExtraParams)
	assert.Equal(t, "dist/main.mjs", cfg.Entrypoint)
}

func TestLoadExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEA_ROOT", t.TempDir())
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("otlp_endpoint: localhost:4318\n"), 0o644))
	t.Setenv("SEA_CONFIG", file)

	cfg, err := Load("garden")
	require.NoError(t, err)
	assert.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SEA_ROOT", t.TempDir())
	t.Setenv("SEA_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load("garden")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Root: "/r", LogFormat: "xml", MaxOldSpaceSize: 0, MaxSemiSpaceSize: 1, SweepRate: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_old_space_size")
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "sweep_rate")
}

func TestDefaultRoot(t *testing.T) {
	switch runtime.GOOS {
	case "linux":
		t.Setenv("XDG_DATA_HOME", "/xdg")
		root, err := DefaultRoot("garden")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/xdg", "garden"), root)

		t.Setenv("XDG_DATA_HOME", "")
		t.Setenv("HOME", "/home/tester")
		root, err = DefaultRoot("garden")
		require.NoError(t, err)
		assert.Equal(t, "/home/tester/.local/share/garden", root)

	case "darwin":
		t.Setenv("XDG_DATA_HOME", "")
		t.Setenv("HOME", "/Users/tester")
		root, err := DefaultRoot("garden")
		require.NoError(t, err)
		assert.Equal(t, "/Users/tester/Library/Application Support/io.garden.garden", root)

	case "windows":
		root, err := DefaultRoot("garden")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(root, filepath.Join("garden", "garden", "data")), root)
	}
}

func TestSplitParams(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitParams("a,,b, "))
	assert.Equal(t, []string{"x"}, splitParams([]interface{}{"x", " "}))
	assert.Nil(t, splitParams(nil))
}
