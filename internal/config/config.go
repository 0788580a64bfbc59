// Package config loads launcher settings from defaults, an optional YAML
// file and SEA_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load
const EnvPrefix = "SEA"

const (
	DefaultMaxOldSpaceSize  = 4096
	DefaultMaxSemiSpaceSize = 64
	DefaultEntrypoint       = "rollup/garden.mjs"
)

// Config holds the launcher configuration
type Config struct {
	Root      string `mapstructure:"root" yaml:"root"`
	Debug     bool   `mapstructure:"debug" yaml:"debug"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	MaxOldSpaceSize  int      `mapstructure:"max_old_space_size" yaml:"max_old_space_size"`
	MaxSemiSpaceSize int      `mapstructure:"max_semi_space_size" yaml:"max_semi_space_size"`
	NodeExtraParams  []string `mapstructure:"-" yaml:"node_extra_params"`
	CompileCache     bool     `mapstructure:"compile_cache" yaml:"compile_cache"`
	Flamegraph       bool     `mapstructure:"flamegraph" yaml:"flamegraph"`
	Entrypoint       string   `mapstructure:"entrypoint" yaml:"entrypoint"`

	MetricsTextfile string  `mapstructure:"metrics_textfile" yaml:"metrics_textfile,omitempty"`
	OTLPEndpoint    string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`
	SweepRate       float64 `mapstructure:"sweep_rate" yaml:"sweep_rate"`

	// File is the config file that was read, if any
	File string `mapstructure:"-" yaml:"-"`
}

// Load reads the configuration for app. The config file is $SEA_CONFIG when
// set, otherwise config.yaml inside the root directory if it exists.
func Load(app string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root := os.Getenv(EnvPrefix + "_ROOT")
	if root == "" {
		var err error
		root, err = DefaultRoot(app)
		if err != nil {
			return nil, fmt.Errorf("failed to determine root directory: %w", err)
		}
	}

	v.SetDefault("root", root)
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")
	v.SetDefault("max_old_space_size", DefaultMaxOldSpaceSize)
	v.SetDefault("max_semi_space_size", DefaultMaxSemiSpaceSize)
	v.SetDefault("node_extra_params", "")
	v.SetDefault("compile_cache", true)
	v.SetDefault("flamegraph", false)
	v.SetDefault("entrypoint", DefaultEntrypoint)
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("sweep_rate", 0)

	file := os.Getenv(EnvPrefix + "_CONFIG")
	if file == "" {
		candidate := filepath.Join(root, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			file = candidate
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// presence of SEA_DEBUG enables debug output unless it is explicitly off
	if val, ok := os.LookupEnv(EnvPrefix + "_DEBUG"); ok {
		v.Set("debug", !isOff(val))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = file
	cfg.NodeExtraParams = splitParams(v.Get("node_extra_params"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if c.MaxOldSpaceSize <= 0 {
		errs = append(errs, fmt.Errorf("max_old_space_size must be positive, got %d", c.MaxOldSpaceSize))
	}
	if c.MaxSemiSpaceSize <= 0 {
		errs = append(errs, fmt.Errorf("max_semi_space_size must be positive, got %d", c.MaxSemiSpaceSize))
	}
	if c.SweepRate < 0 {
		errs = append(errs, fmt.Errorf("sweep_rate must not be negative, got %v", c.SweepRate))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// splitParams accepts a comma separated string (environment) or a list
// (config file)
func splitParams(raw interface{}) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []interface{}:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isOff(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "0", "false":
		return true
	}
	return false
}

// Qualifier is the reverse-domain prefix of the macOS data directory
const Qualifier = "io"

// DefaultRoot returns the per-user data directory for app:
//
//	linux    $XDG_DATA_HOME/<app>
//	darwin   ~/Library/Application Support/<qualifier>.<app>.<app>
//	windows  {RoamingAppData}\<app>\<app>\data
func DefaultRoot(app string) (string, error) {
	xdg.Reload()

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(xdg.DataHome, Qualifier+"."+app+"."+app), nil
	case "windows":
		dir, err := roamingAppData()
		if err != nil {
			return "", fmt.Errorf("failed to locate roaming app data: %w", err)
		}
		return filepath.Join(dir, app, app, "data"), nil
	default:
		if xdg.DataHome == "" {
			return "", errors.New("no data home directory")
		}
		return filepath.Join(xdg.DataHome, app), nil
	}
}
