// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is optional: COMPANION_APP_BIND_ADDR wins over APP_BIND_ADDR.
const Prefix = "COMPANION"

// Config contains all runtime settings for the companion service.
type Config struct {
	BindAddr                 string        `envconfig:"APP_BIND_ADDR" default:":5000"`
	ShutdownTimeout          time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	SessionInactivityTimeout time.Duration `envconfig:"APP_SESSION_INACTIVITY_TIMEOUT" default:"10m"`
	MetricsNamespace         string        `envconfig:"APP_METRICS_NAMESPACE" default:"companion"`
	AllowAnyOrigin           bool          `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	MemoryDriver       string        `envconfig:"MEMORY_DRIVER" default:"auto"`
	SQLitePath         string        `envconfig:"DATABASE_PATH" default:"config/memory.db"`
	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	RedisAddr          string        `envconfig:"REDIS_ADDR"`
	RedisPassword      string        `envconfig:"REDIS_PASSWORD"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix        string        `envconfig:"REDIS_PREFIX" default:"companion"`
	MemoryRedactPII    bool          `envconfig:"MEMORY_REDACT_PII" default:"true"`
	MemoryWriteTimeout time.Duration `envconfig:"MEMORY_WRITE_TIMEOUT" default:"5s"`

	CompletionPrimaryMode    string        `envconfig:"COMPLETION_PRIMARY_MODE" default:"gemini"`
	CompletionFallbackMode   string        `envconfig:"COMPLETION_FALLBACK_MODE" default:"gemini"`
	GeminiAPIKey             string        `envconfig:"GEMINI_API_KEY"`
	GeminiPrimaryModel       string        `envconfig:"GEMINI_PRIMARY_MODEL" default:"gemini-1.5-flash"`
	GeminiFallbackModel      string        `envconfig:"GEMINI_FALLBACK_MODEL" default:"gemini-1.0-pro"`
	CompletionHTTPURL        string        `envconfig:"COMPLETION_HTTP_URL"`
	CompletionHTTPStrict     bool          `envconfig:"COMPLETION_HTTP_STRICT" default:"false"`
	CompletionAttemptTimeout time.Duration `envconfig:"COMPLETION_ATTEMPT_TIMEOUT" default:"30s"`

	PersonaFile string `envconfig:"PERSONA_FILE"`

	// SpeechProvider is auto (use whatever keys are present), mock or off.
	SpeechProvider         string        `envconfig:"SPEECH_PROVIDER" default:"auto"`
	SpeechTimeout          time.Duration `envconfig:"SPEECH_TIMEOUT" default:"30s"`
	NijiVoiceAPIKey        string        `envconfig:"NIJIVOICE_API_KEY"`
	NijiVoiceBaseURL       string        `envconfig:"NIJIVOICE_BASE_URL"`
	NijiVoiceSpeed         string        `envconfig:"NIJIVOICE_SPEED" default:"1.0"`
	VoiceCatalogTTL        time.Duration `envconfig:"VOICE_CATALOG_TTL" default:"30m"`
	ElevenLabsAPIKey       string        `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID      string        `envconfig:"ELEVENLABS_TTS_VOICE_ID"`
	ElevenLabsModelID      string        `envconfig:"ELEVENLABS_TTS_MODEL_ID" default:"eleven_multilingual_v2"`
	AssemblyAIAPIKey       string        `envconfig:"ASSEMBLYAI_API_KEY"`
	AssemblyAILanguage     string        `envconfig:"ASSEMBLYAI_LANGUAGE_CODE" default:"ja"`
	AssemblyAIPollInterval time.Duration `envconfig:"ASSEMBLYAI_POLL_INTERVAL" default:"3s"`
	AssemblyAIMaxPolls     int           `envconfig:"ASSEMBLYAI_MAX_POLLS" default:"40"`
	AudioProxyAllowedHosts []string      `envconfig:"AUDIO_PROXY_ALLOWED_HOSTS" default:".nijivoice.com"`
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables, applies defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.MemoryDriver = strings.ToLower(strings.TrimSpace(c.MemoryDriver))
	c.CompletionPrimaryMode = strings.ToLower(strings.TrimSpace(c.CompletionPrimaryMode))
	c.CompletionFallbackMode = strings.ToLower(strings.TrimSpace(c.CompletionFallbackMode))
	c.SpeechProvider = strings.ToLower(strings.TrimSpace(c.SpeechProvider))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.GeminiAPIKey = strings.TrimSpace(c.GeminiAPIKey)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.NijiVoiceAPIKey = strings.TrimSpace(c.NijiVoiceAPIKey)
	c.ElevenLabsAPIKey = strings.TrimSpace(c.ElevenLabsAPIKey)
	c.AssemblyAIAPIKey = strings.TrimSpace(c.AssemblyAIAPIKey)
}

// Validate rejects settings the service cannot start with. Missing provider
// credentials are not errors; those capabilities are disabled instead.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("APP_BIND_ADDR must not be empty")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.MemoryDriver {
	case "auto", "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unsupported MEMORY_DRIVER: %s", c.MemoryDriver)
	}
	if c.MemoryWriteTimeout <= 0 {
		return fmt.Errorf("MEMORY_WRITE_TIMEOUT must be positive")
	}
	for key, mode := range map[string]string{
		"COMPLETION_PRIMARY_MODE":  c.CompletionPrimaryMode,
		"COMPLETION_FALLBACK_MODE": c.CompletionFallbackMode,
	} {
		switch mode {
		case "gemini", "http", "mock", "fail":
		default:
			return fmt.Errorf("unsupported %s: %s", key, mode)
		}
	}
	if c.CompletionAttemptTimeout <= 0 {
		return fmt.Errorf("COMPLETION_ATTEMPT_TIMEOUT must be positive")
	}
	switch c.SpeechProvider {
	case "auto", "mock", "off":
	default:
		return fmt.Errorf("unsupported SPEECH_PROVIDER: %s", c.SpeechProvider)
	}
	if c.AssemblyAIPollInterval <= 0 {
		return fmt.Errorf("ASSEMBLYAI_POLL_INTERVAL must be positive")
	}
	if c.AssemblyAIMaxPolls <= 0 {
		return fmt.Errorf("ASSEMBLYAI_MAX_POLLS must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT: %s", c.LogFormat)
	}
	return nil
}
