// Package config provides configuration management for wasserfall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the application configuration structure.
type Config struct {
	ConfigDB    string        `mapstructure:"config-db"`    // Path to the host/command sqlite database
	LogDB       string        `mapstructure:"log-db"`       // Path to the execution audit sqlite database
	ProjectRoot string        `mapstructure:"project-root"` // Base directory for relative key paths
	KnownHosts  string        `mapstructure:"known-hosts"`  // Path to the known_hosts file
	Workers     int           `mapstructure:"workers"`      // Maximum concurrent host sessions
	CmdTimeout  time.Duration `mapstructure:"cmd-timeout"`  // Per-unit execution timeout (0 for none)
	Quiet       bool          `mapstructure:"quiet"`        // Suppress non-error diagnostics
	Verbose     bool          `mapstructure:"verbose"`      // Print per-unit output
	DryRun      bool          `mapstructure:"dry-run"`      // Render commands without connecting
	TrustNew    bool          `mapstructure:"trust-new"`    // Accept and persist unknown host keys
	LogLevel    string        `mapstructure:"log-level"`    // Log level (info, error)
	LogFormat   string        `mapstructure:"log-format"`   // Log format (json, text)
}

// Manager defines the interface for configuration management.
type Manager interface {
	// Load reads configuration from all sources (files, env vars, CLI flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// BindFlags registers a cobra flag set as the highest-precedence source
	BindFlags(flags *pflag.FlagSet) error

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper.
type ViperManager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager.
func NewManager() *ViperManager {
	return &ViperManager{
		v: viper.New(),
	}
}

// SetDefaults establishes default configuration values.
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("config-db", "wasserfall.db")
	m.v.SetDefault("log-db", "wasserfall-log.db")
	m.v.SetDefault("project-root", ".")
	m.v.SetDefault("known-hosts", defaultKnownHosts())
	m.v.SetDefault("workers", 10)
	m.v.SetDefault("cmd-timeout", time.Duration(0))
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("verbose", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("trust-new", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// BindFlags registers a cobra flag set so explicitly set flags override
// every other configuration source.
func (m *ViperManager) BindFlags(flags *pflag.FlagSet) error {
	return m.v.BindPFlags(flags)
}

// Load reads configuration from all sources with proper precedence.
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	m.v.SetConfigName("config")
	m.v.SetConfigType("yaml")

	// Config paths in precedence order (current dir highest, system lowest).
	m.v.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		m.v.AddConfigPath(filepath.Join(homeDir, ".config", "wasserfall"))
	}
	m.v.AddConfigPath("/etc/wasserfall/")

	m.v.SetEnvPrefix("WASSERFALL")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent.
func (m *ViperManager) Validate(config *Config) error {
	if config.ConfigDB == "" {
		return fmt.Errorf("config-db must not be empty")
	}
	if config.LogDB == "" {
		return fmt.Errorf("log-db must not be empty")
	}

	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}
	if config.Workers > 1000 {
		return fmt.Errorf("workers too high: %d (maximum 1000)", config.Workers)
	}

	if config.CmdTimeout < 0 {
		return fmt.Errorf("cmd-timeout must be non-negative, got %v", config.CmdTimeout)
	}

	validLogLevels := map[string]bool{
		"info":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'info' or 'error'", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	return nil
}
