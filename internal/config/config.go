// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Provider names accepted by DEFAULT_PROVIDER and run requests.
const (
	ProviderKling   = "kling"
	ProviderMiniMax = "minimax"
	ProviderRunway  = "runway"
	ProviderVeo     = "veo"
)

// Static errors for configuration validation.
var (
	// ErrNoProviderKey is returned when no provider API key is set at all.
	ErrNoProviderKey = errors.New("config: at least one of KLING_API_KEY, MINIMAX_API_KEY, RUNWAY_API_KEY, VEO_API_KEY is required")
	// ErrDefaultProviderKey is returned when DEFAULT_PROVIDER has no API key.
	ErrDefaultProviderKey = errors.New("config: DEFAULT_PROVIDER has no API key")
	// ErrInvalidValue is returned when a variable holds a value outside its allowed set.
	ErrInvalidValue = errors.New("config: invalid value")
)

var configValidator = validator.New()

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`

	// Output settings
	OutputDir string `env:"OUTPUT_DIR, default=./output" json:"output_dir" validate:"required"`
	TempDir   string `env:"TEMP_DIR, default=/tmp/scenechain" json:"temp_dir"`

	// Provider settings
	DefaultProvider string `env:"DEFAULT_PROVIDER, default=veo" json:"default_provider" validate:"oneof=kling minimax runway veo"`
	KlingAPIKey     string `env:"KLING_API_KEY" json:"-"` // Masked in JSON
	KlingModel      string `env:"KLING_MODEL, default=kling-v1" json:"kling_model"`
	MiniMaxAPIKey   string `env:"MINIMAX_API_KEY" json:"-"` // Masked in JSON
	MiniMaxModel    string `env:"MINIMAX_MODEL, default=T2V-01" json:"minimax_model"`
	RunwayAPIKey    string `env:"RUNWAY_API_KEY" json:"-"` // Masked in JSON
	RunwayModel     string `env:"RUNWAY_MODEL, default=gen4_turbo" json:"runway_model"`
	VeoAPIKey       string `env:"VEO_API_KEY" json:"-"` // Masked in JSON
	VeoModel        string `env:"VEO_MODEL, default=veo-3.0" json:"veo_model"`

	// Generation timing
	PollInterval time.Duration `env:"POLL_INTERVAL, default=10s" json:"poll_interval" validate:"gt=0"`
	RetryDelay   time.Duration `env:"RETRY_DELAY, default=5s" json:"retry_delay" validate:"gte=0"`

	// Frame extraction
	FFmpegPath string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=json text JSON TEXT"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`                                      // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// APIKey returns the API key configured for a provider.
func (c *Config) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderKling:
		return c.KlingAPIKey
	case ProviderMiniMax:
		return c.MiniMaxAPIKey
	case ProviderRunway:
		return c.RunwayAPIKey
	case ProviderVeo:
		return c.VeoAPIKey
	default:
		return ""
	}
}

// Model returns the default model configured for a provider.
func (c *Config) Model(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderKling:
		return c.KlingModel
	case ProviderMiniMax:
		return c.MiniMaxModel
	case ProviderRunway:
		return c.RunwayModel
	case ProviderVeo:
		return c.VeoModel
	default:
		return ""
	}
}

// ConfiguredProviders lists the providers that have an API key, in a fixed order.
func (c *Config) ConfiguredProviders() []string {
	var out []string
	for _, p := range []string{ProviderKling, ProviderMiniMax, ProviderRunway, ProviderVeo} {
		if c.APIKey(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and that the default provider can be used.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if len(c.ConfiguredProviders()) == 0 {
		return ErrNoProviderKey
	}
	if c.APIKey(c.DefaultProvider) == "" {
		return fmt.Errorf("%w: %s", ErrDefaultProviderKey, c.DefaultProvider)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OutputDir: %s, TempDir: %s, DefaultProvider: %s, Providers: %v, PollInterval: %s, RetryDelay: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.OutputDir,
		c.TempDir,
		c.DefaultProvider,
		c.ConfiguredProviders(),
		c.PollInterval,
		c.RetryDelay,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
