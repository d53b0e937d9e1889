// Package config loads the engine configuration from a YAML file and
// FLUXSYNC_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxsync/internal/observability"
)

// Config is the engine configuration.
type Config struct {
	Database DatabaseConfig              `mapstructure:"database"`
	Listener ListenerConfig              `mapstructure:"listener"`
	PubSub   PubSubConfig                `mapstructure:"pubsub"`
	Metrics  MetricsConfig               `mapstructure:"metrics"`
	Tracing  observability.TracerConfig  `mapstructure:"tracing"`
	Debug    bool                        `mapstructure:"debug"`
}

// DatabaseConfig points at the upstream replica database.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int32         `mapstructure:"max_connections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ListenerConfig controls the change-feed listener.
type ListenerConfig struct {
	// Enabled starts the change-feed listener, which runs both the
	// LISTEN/NOTIFY path and the pub/sub path. With it off, neither runs.
	Enabled bool `mapstructure:"enabled"`
}

// PubSubConfig selects the cross-instance distribution backend.
type PubSubConfig struct {
	// Backend is "local" (single instance) or "redis".
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load reads configuration from an optional .env file, a fluxsync.yaml if
// present, and the environment.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables only")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLUXSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPaths := []string{
		"./fluxsync.yaml",
		"./fluxsync.yml",
		"/etc/fluxsync/fluxsync.yaml",
	}
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err == nil {
			viper.SetConfigFile(configPath)
			if err := viper.ReadInConfig(); err != nil {
				log.Warn().Err(err).Str("file", configPath).Msg("Config file found but could not be parsed, using environment and defaults")
			} else {
				log.Info().Str("file", configPath).Msg("Config file loaded")
			}
			break
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Validate checks the loaded configuration for contradictions.
func (c *Config) Validate() error {
	if c.Listener.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when the listener is enabled")
	}
	if c.PubSub.Backend == "redis" && c.PubSub.RedisURL == "" {
		return fmt.Errorf("pubsub.redis_url is required for the redis backend")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

func loadEnvFile() error {
	locations := []string{".env", ".env.local"}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults() {
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("listener.enabled", true)
	viper.SetDefault("pubsub.backend", "local")
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.address", ":9090")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.service_name", "fluxsync")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)
	viper.SetDefault("debug", false)
}
