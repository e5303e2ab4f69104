package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"seccompiler/pkg/artifact"
	"seccompiler/pkg/seccomp"
)

// EnvConfigPath names the environment variable consulted when no
// --config flag is given.
const EnvConfigPath = "SECCOMPILER_CONFIG"

// Config holds all application configuration.
type Config struct {
	Compiler CompilerConfig `yaml:"compiler"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Database DatabaseConfig `yaml:"database"`
}

type CompilerConfig struct {
	TargetArch string `yaml:"target_arch"` // empty means the --target-arch flag is required
	OutputFile string `yaml:"output_file"`
	Basic      bool   `yaml:"basic"` // deprecated: drop all argument conditions
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" (default) or "json"
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"` // node_exporter textfile collector target
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	AuditBuffer     int           `yaml:"audit_buffer"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Resolve picks the config file path: the flag value if set, else
// $SECCOMPILER_CONFIG. An empty result means built-in defaults.
func Resolve(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads configuration from a YAML file. An empty path yields the
// validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or environment
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Compiler: CompilerConfig{
			OutputFile: artifact.DefaultFileName,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Database: DatabaseConfig{
			DSN:             "",
			AuditBuffer:     64,
			MaxConns:        4,
			ConnMaxLifetime: 5 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Compiler.TargetArch != "" {
		if _, err := seccomp.ParseArch(c.Compiler.TargetArch); err != nil {
			return fmt.Errorf("compiler.target_arch: %w", err)
		}
	}
	if c.Compiler.OutputFile == "" {
		return fmt.Errorf("compiler.output_file must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return fmt.Errorf("metrics.textfile is required when metrics are enabled")
	}
	if c.Database.AuditBuffer < 1 {
		return fmt.Errorf("database.audit_buffer must be >= 1")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1")
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// AuditEnabled reports whether compilation runs should be recorded.
func (c *Config) AuditEnabled() bool {
	return c.Database.DSN != ""
}
