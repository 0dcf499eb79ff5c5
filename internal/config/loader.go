package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PREBOARD_"

// dotenvFiles are read in order before anything else. Values already in the
// process environment win.
var dotenvFiles = []string{".env.local", ".env"}

// conventional maps provider-standard variable names onto config fields that
// are still empty after layering.
var conventional = []struct {
	key   string
	apply func(*Config, string)
	get   func(*Config) string
}{
	{"OPENAI_API_KEY", func(c *Config, v string) { c.OpenAIAPIKey = v }, func(c *Config) string { return c.OpenAIAPIKey }},
	{"AIRTABLE_TOKEN", func(c *Config, v string) { c.AirtableToken = v }, func(c *Config) string { return c.AirtableToken }},
	{"AIRTABLE_BASE_ID", func(c *Config, v string) { c.AirtableBaseID = v }, func(c *Config) string { return c.AirtableBaseID }},
	{"AIRTABLE_TABLE_ID", func(c *Config, v string) { c.AirtableTableID = v }, func(c *Config) string { return c.AirtableTableID }},
	{"DATABASE_URL", func(c *Config, v string) { c.DatabaseURL = v }, func(c *Config) string { return c.DatabaseURL }},
}

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file if PREBOARD_CONFIG is set
//  3. env vars prefixed PREBOARD_ (PREBOARD_TURN_TIMEOUT -> turn_timeout)
//
// .env.local and .env are loaded into the environment first when present.
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	for _, c := range conventional {
		if c.get(&cfg) != "" {
			continue
		}
		if v := os.Getenv(c.key); v != "" {
			c.apply(&cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the gateway relies on at startup.
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: port must not be empty", ErrInvalidConfig)
	case c.OracleBackend != "openai" && c.OracleBackend != "http":
		return fmt.Errorf("%w: oracle_backend must be openai or http, got %q", ErrInvalidConfig, c.OracleBackend)
	case c.OracleBackend == "http" && c.OracleURL == "":
		return fmt.Errorf("%w: oracle_url is required for the http oracle backend", ErrInvalidConfig)
	case c.ConnectTimeout <= 0 || c.TurnTimeout <= 0 || c.UploadHoldTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.TTSSpeed < 0.25 || c.TTSSpeed > 4:
		return fmt.Errorf("%w: tts_speed must be between 0.25 and 4, got %v", ErrInvalidConfig, c.TTSSpeed)
	case c.MaxConcurrentSessions <= 0:
		return fmt.Errorf("%w: max_concurrent_sessions must be positive", ErrInvalidConfig)
	}
	return nil
}

func loadDotenv() error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}
