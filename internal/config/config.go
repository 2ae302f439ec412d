// Package config provides configuration management for greeter.
//
// This package handles loading configuration from multiple sources:
// - Configuration files (YAML, JSON, TOML) in $HOME/.greeter or /etc/greeter
// - Environment variables
// - Command line flags
// - Default values
//
// Configuration is loaded in order of precedence (highest to lowest):
// 1. Command line flags
// 2. Environment variables
// 3. Configuration file
// 4. Default values
//
// With no file, no GREETER_ variables and no flags the program prints
// "Hello, World!" once per second forever.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bebsworthy/greeter/internal/errors"
)

// envPrefix is prepended to every environment variable the config reads
const envPrefix = "GREETER"

// Policies understood by the greeter loop.
const (
	PolicyGraceful = "graceful"
	PolicyFaithful = "faithful"
)

// Config represents the complete greeter configuration
type Config struct {
	Greeter GreeterConfig `mapstructure:"greeter" yaml:"greeter"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// GreeterConfig contains the loop settings
type GreeterConfig struct {
	Message          string        `mapstructure:"message" yaml:"message"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	Count            int           `mapstructure:"count" yaml:"count"`
	Policy           string        `mapstructure:"policy" yaml:"policy"`
	ExitOnWriteError bool          `mapstructure:"exit_on_write_error" yaml:"exit_on_write_error"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputFile string `mapstructure:"output_file" yaml:"output_file"`
	Verbose    bool   `mapstructure:"verbose" yaml:"verbose"`
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Greeter: GreeterConfig{
			Message:          "Hello, World!",
			Interval:         1 * time.Second,
			Count:            0,
			Policy:           PolicyGraceful,
			ExitOnWriteError: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputFile: "",
			Verbose:    false,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":2112",
		},
	}
}

// LoadConfig loads configuration from various sources
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure environment variable handling
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set config file if provided
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Search for config.{yaml,yml,json,toml}; the extension picks the format
		v.SetConfigName("config")
		for _, dir := range GetConfigPaths() {
			v.AddConfigPath(dir)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// If a specific config file was provided and not found, that's an error
			if configFile != "" {
				return nil, errors.ConfigError(errors.CodeConfigNotFound, "config file not found: "+configFile, err)
			}
			// Otherwise we run on defaults
		} else if configFile != "" && os.IsNotExist(err) {
			return nil, errors.ConfigError(errors.CodeConfigNotFound, "config file not found: "+configFile, err)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Reload re-reads the configuration from the same sources LoadConfig uses.
// The returned config is validated; on error the caller keeps its old one.
func Reload(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("greeter.message", defaults.Greeter.Message)
	v.SetDefault("greeter.interval", defaults.Greeter.Interval)
	v.SetDefault("greeter.count", defaults.Greeter.Count)
	v.SetDefault("greeter.policy", defaults.Greeter.Policy)
	v.SetDefault("greeter.exit_on_write_error", defaults.Greeter.ExitOnWriteError)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.output_file", defaults.Logging.OutputFile)
	v.SetDefault("logging.verbose", defaults.Logging.Verbose)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", defaults.Metrics.ListenAddress)
}

// Validate checks a configuration that was assembled outside LoadConfig,
// for example after command line overrides were applied.
func Validate(config *Config) error {
	return validateConfig(config)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Greeter.Message == "" {
		return fmt.Errorf("greeter.message cannot be empty")
	}

	// The loop appends the line terminator itself.
	if strings.ContainsAny(config.Greeter.Message, "\r\n") {
		return fmt.Errorf("greeter.message must be a single line")
	}

	if config.Greeter.Interval <= 0 {
		return fmt.Errorf("greeter.interval must be positive, got %v", config.Greeter.Interval)
	}

	if config.Greeter.Count < 0 {
		return fmt.Errorf("greeter.count must be non-negative, got %d", config.Greeter.Count)
	}

	if config.Greeter.Policy != PolicyGraceful && config.Greeter.Policy != PolicyFaithful {
		return fmt.Errorf("greeter.policy must be '%s' or '%s', got %s", PolicyGraceful, PolicyFaithful, config.Greeter.Policy)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[config.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, got %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[config.Logging.Format] {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %s", config.Logging.Format)
	}

	if config.Metrics.Enabled && config.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address cannot be empty when metrics are enabled")
	}

	return nil
}

// GetConfigPaths returns the directories searched for a config file when
// none is given. The working directory is not searched.
func GetConfigPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".greeter"))
	}
	return append(paths, "/etc/greeter")
}

// GetEnvVarName returns the environment variable name for a config key
func GetEnvVarName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
