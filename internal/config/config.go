package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/redactd/")
	viper.AddConfigPath("$HOME/.redactd/")

	// Environment variable overrides
	viper.SetEnvPrefix("REDACTD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
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

	if config.Registry.PatternsFile == "" {
		return fmt.Errorf("registry patterns_file must be set")
	}

	if config.Detector.UnitBudget <= 0 {
		return fmt.Errorf("detector unit_budget must be positive, got %s", config.Detector.UnitBudget)
	}

	if config.Detector.MaxUnitBytes <= 0 {
		return fmt.Errorf("detector max_unit_bytes must be positive, got %d", config.Detector.MaxUnitBytes)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache enabled but redis_url is empty")
	}

	if config.Audit.Database.Enabled && config.Audit.Database.URL == "" {
		return fmt.Errorf("audit database enabled but url is empty")
	}

	if config.Audit.NATS.Enabled && config.Audit.NATS.URL == "" {
		return fmt.Errorf("audit nats enabled but url is empty")
	}

	if config.RateLimit.Enabled && config.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit enabled but rps is %v", config.RateLimit.RPS)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
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
