// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DISCORD_TOKEN, GEMINI_API_KEY, RELAY_*)
//  2. Config file (~/.relay/config.yaml)
//  3. Default values
//
// Security: token fields are never logged; use Config.LogValue-safe fields
// only when recording configuration at startup.
//
// Error handling follows the sentinel-error idiom: compare with errors.Is()
// and wrap with fmt.Errorf("%w: details").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingDiscordToken indicates the Discord bot token is not set.
	ErrMissingDiscordToken = errors.New("missing discord token")

	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidHistoryLimit indicates the history message count is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidContextBudget indicates the context character budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidLineLimit indicates the per-line truncation cap is out of range.
	ErrInvalidLineLimit = errors.New("invalid line limit")

	// ErrInvalidFlushThreshold indicates the streaming flush threshold is out of range.
	ErrInvalidFlushThreshold = errors.New("invalid flush threshold")
)

// Defaults for the tunable constants. Each may be overridden via config
// file or RELAY_* environment variable.
const (
	// DefaultModelName is the Gemini model used for generation.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultHistoryLimit is the number of channel messages loaded for context.
	DefaultHistoryLimit = 20

	// DefaultContextBudget is the maximum context size in characters.
	DefaultContextBudget = 6000

	// DefaultLineLimit is the per-line truncation cap in characters.
	DefaultLineLimit = 1000

	// DefaultFlushThreshold is the pending-output size, in characters, that
	// triggers a streaming edit.
	DefaultFlushThreshold = 120

	// MaxHistoryLimit bounds history fetches to what the platform returns
	// in a single page.
	MaxHistoryLimit = 100
)

// Config stores application configuration.
type Config struct {
	// DiscordToken authenticates the gateway connection. Never logged.
	DiscordToken string `mapstructure:"discord_token"`

	// GeminiAPIKey authenticates the model provider. Never logged.
	GeminiAPIKey string `mapstructure:"gemini_api_key"`

	// ModelName is the Gemini model identifier.
	ModelName string `mapstructure:"model_name"`

	// HistoryLimit is the default number of channel messages to load when a
	// request opts into history context.
	HistoryLimit int `mapstructure:"history_limit"`

	// ContextBudget is the maximum assembled-context size in characters;
	// older conversation is dropped first when exceeded.
	ContextBudget int `mapstructure:"context_budget"`

	// LineLimit is the per-message truncation cap in characters.
	LineLimit int `mapstructure:"line_limit"`

	// FlushThreshold is the pending-output size in characters that triggers
	// a message edit during streaming.
	FlushThreshold int `mapstructure:"flush_threshold"`

	// LogJSON switches log output to JSON records.
	LogJSON bool `mapstructure:"log_json"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, an optional config file and the
// environment. It does not validate; call Validate before use so that
// commands like "relay version" work with incomplete configuration.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("history_limit", DefaultHistoryLimit)
	v.SetDefault("context_budget", DefaultContextBudget)
	v.SetDefault("line_limit", DefaultLineLimit)
	v.SetDefault("flush_threshold", DefaultFlushThreshold)
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The two credentials keep their historical unprefixed names.
	if err := v.BindEnv("discord_token", "DISCORD_TOKEN", "RELAY_DISCORD_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind discord token: %w", err)
	}
	if err := v.BindEnv("gemini_api_key", "GEMINI_API_KEY", "RELAY_GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind gemini api key: %w", err)
	}

	if dir, err := configDir(); err == nil {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Missing config file is fine; env and defaults apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for use by the bot. It reports the
// first problem found as a wrapped sentinel error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DiscordToken) == "" {
		return ErrMissingDiscordToken
	}
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return ErrInvalidModelName
	}
	if c.HistoryLimit < 1 || c.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidHistoryLimit, c.HistoryLimit, MaxHistoryLimit)
	}
	if c.ContextBudget < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidContextBudget, c.ContextBudget)
	}
	if c.LineLimit < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidLineLimit, c.LineLimit)
	}
	if c.FlushThreshold < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidFlushThreshold, c.FlushThreshold)
	}
	return nil
}

// configDir returns the relay config directory (~/.relay), creating it
// with restrictive permissions if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(home, ".relay")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}
