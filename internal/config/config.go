// Package config provides configuration management for the connector service.
// It supports environment variables, config files (YAML), and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service-level configuration.
type Config struct {
	// Environment is the deployment environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// ConnectorsConfigPath is the path to the connectors definition file
	ConnectorsConfigPath string `mapstructure:"connectors_config_path"`

	// HTTP server configuration
	HTTP HTTPConfig `mapstructure:"http"`

	// Manager configuration
	Manager ManagerConfig `mapstructure:"manager"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ManagerConfig holds connector manager configuration.
type ManagerConfig struct {
	// EventBuffer is the per-connector event channel capacity
	EventBuffer int `mapstructure:"event_buffer"`

	// AggregateBuffer is the fan-in channel capacity
	AggregateBuffer int `mapstructure:"aggregate_buffer"`

	// BulkTimeout bounds StartAll/StopAll per-connector operations
	BulkTimeout time.Duration `mapstructure:"bulk_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/edge-connectors")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.SetEnvPrefix("CONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("connectors_config_path", "./config/connectors.yaml")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("manager.event_buffer", 256)
	v.SetDefault("manager.aggregate_buffer", 1024)
	v.SetDefault("manager.bulk_timeout", 30*time.Second)
	v.SetDefault("manager.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("environment", "ENVIRONMENT")
	_ = v.BindEnv("connectors_config_path", "CONNECTORS_CONFIG_PATH")
	_ = v.BindEnv("http.port", "HTTP_PORT")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Manager.EventBuffer <= 0 {
		return fmt.Errorf("manager event buffer must be positive")
	}
	if c.Manager.AggregateBuffer <= 0 {
		return fmt.Errorf("manager aggregate buffer must be positive")
	}
	return nil
}
