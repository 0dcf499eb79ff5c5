package config

import "time"

// Config is the runtime configuration of the preboard gateway.
type Config struct {
	Port                  string `koanf:"port"`
	LogLevel              string `koanf:"log_level"`
	LogFile               string `koanf:"log_file"`
	MaxConcurrentSessions int    `koanf:"max_concurrent_sessions"`
	HTTPPoolSize          int    `koanf:"http_pool_size"`

	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIBaseURL string `koanf:"openai_base_url"`

	RealtimeURL       string        `koanf:"realtime_url"`
	RealtimeModel     string        `koanf:"realtime_model"`
	Voice             string        `koanf:"voice"`
	ConnectTimeout    time.Duration `koanf:"connect_timeout"`
	TurnTimeout       time.Duration `koanf:"turn_timeout"`
	UploadHoldTimeout time.Duration `koanf:"upload_hold_timeout"`

	ChatModel           string  `koanf:"chat_model"`
	CompletionMaxTokens int     `koanf:"completion_max_tokens"`
	TTSModel            string  `koanf:"tts_model"`
	TTSSpeed            float64 `koanf:"tts_speed"`
	TranscribeModel     string  `koanf:"transcribe_model"`

	OracleBackend   string        `koanf:"oracle_backend"`
	OracleURL       string        `koanf:"oracle_url"`
	OracleModel     string        `koanf:"oracle_model"`
	OracleMaxTokens int           `koanf:"oracle_max_tokens"`
	OracleTimeout   time.Duration `koanf:"oracle_timeout"`

	AirtableToken    string        `koanf:"airtable_token"`
	AirtableBaseID   string        `koanf:"airtable_base_id"`
	AirtableTableID  string        `koanf:"airtable_table_id"`
	AirtableURL      string        `koanf:"airtable_url"`
	AirtableCacheTTL time.Duration `koanf:"airtable_cache_ttl"`

	S3Bucket    string `koanf:"s3_bucket"`
	S3Region    string `koanf:"s3_region"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
	S3PublicURL string `koanf:"s3_public_url"`
	MaxUploadMB int    `koanf:"max_upload_mb"`

	NATSURL     string `koanf:"nats_url"`
	DatabaseURL string `koanf:"database_url"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Port:                  "8000",
		LogLevel:              "info",
		MaxConcurrentSessions: 100,
		HTTPPoolSize:          50,

		OpenAIBaseURL: "https://api.openai.com/v1",

		RealtimeURL:       "wss://api.openai.com/v1/realtime",
		RealtimeModel:     "gpt-4o-realtime-preview-2024-10-01",
		Voice:             "alloy",
		ConnectTimeout:    5 * time.Second,
		TurnTimeout:       8 * time.Second,
		UploadHoldTimeout: 45 * time.Second,

		ChatModel:           "gpt-4o-mini",
		CompletionMaxTokens: 150,
		TTSModel:            "tts-1",
		TTSSpeed:            1.0,
		TranscribeModel:     "whisper-1",

		OracleBackend:   "openai",
		OracleModel:     "gpt-4o-mini",
		OracleMaxTokens: 1000,
		OracleTimeout:   60 * time.Second,

		AirtableURL:      "https://api.airtable.com/v0",
		AirtableCacheTTL: 5 * time.Minute,

		S3Region:    "us-east-1",
		MaxUploadMB: 10,
	}
}

// AirtableEnabled reports whether candidate records can be read and written.
func (c *Config) AirtableEnabled() bool {
	return c.AirtableToken != "" && c.AirtableBaseID != "" && c.AirtableTableID != ""
}

// BlobEnabled reports whether uploads can be stored.
func (c *Config) BlobEnabled() bool {
	return c.S3Bucket != ""
}
