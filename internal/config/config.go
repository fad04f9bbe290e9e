package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("anonymouus")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/anonymouus/")
	viper.AddConfigPath("$HOME/.anonymouus/")

	// Environment variable overrides
	viper.SetEnvPrefix("ANONYMOUUS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Registry.Store {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("invalid registry store: %s (must be memory, redis, or postgres)", config.Registry.Store)
	}

	if config.Registry.TableFormat != "csv" && config.Registry.TableFormat != "parquet" {
		return fmt.Errorf("invalid registry table format: %s (must be csv or parquet)", config.Registry.TableFormat)
	}

	if config.Registry.DuplicateWarnThreshold <= 0 {
		return fmt.Errorf("invalid duplicate warn threshold: %d", config.Registry.DuplicateWarnThreshold)
	}

	switch config.Walker.ArchiveFormat {
	case "", "zip", "tar.gz":
	default:
		return fmt.Errorf("invalid archive format: %s (must be zip or tar.gz)", config.Walker.ArchiveFormat)
	}

	if len(config.Mapping.Delimiter) > 1 {
		return fmt.Errorf("invalid mapping delimiter: %q (must be a single character)", config.Mapping.Delimiter)
	}

	if len(config.Tabular.Delimiter) > 1 {
		return fmt.Errorf("invalid tabular delimiter: %q (must be a single character)", config.Tabular.Delimiter)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
