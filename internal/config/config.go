package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = ".jobproto/config.yaml"

// Config represents the runtime configuration from .jobproto/config.yaml.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Validate ValidateConfig `yaml:"validate"`
	Render   RenderConfig   `yaml:"render"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ValidateConfig toggles optional validation rules.
type ValidateConfig struct {
	CheckParameterRefs bool `yaml:"check_parameter_refs"`
}

// RenderConfig holds defaults for the render command.
type RenderConfig struct {
	// DefaultDeployment is used when neither the request nor the document's
	// defaults.deployment select one.
	DefaultDeployment string `yaml:"default_deployment"`
	Output            string `yaml:"output"` // "json" or "yaml"
}

// StoreConfig defines compile history settings.
type StoreConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// MetricsConfig defines the Prometheus endpoint served by "serve".
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Validate: ValidateConfig{
			CheckParameterRefs: true,
		},
		Render: RenderConfig{
			Output: "json",
		},
		Store: StoreConfig{
			Enabled:    true,
			Path:       ".jobproto/history.db",
			MaxEntries: 500,
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// LoadConfig reads and parses a runtime config YAML file.
// Returns default config if the file doesn't exist. ${VAR} references are
// replaced with environment values before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	interpolated := interpolateEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Check(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Check reports settings that cannot be used.
func (c Config) Check() error {
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.Render.Output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown render.output %q", c.Render.Output)
	}
	if c.Store.MaxEntries < 0 {
		return fmt.Errorf("store.max_entries must not be negative")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
