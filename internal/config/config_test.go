package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.BindAddr)
	assert.Equal(t, "auto", cfg.MemoryDriver)
	assert.Equal(t, "config/memory.db", cfg.SQLitePath)
	assert.True(t, cfg.MemoryRedactPII)
	assert.Equal(t, "gemini", cfg.CompletionPrimaryMode)
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiPrimaryModel)
	assert.Equal(t, "gemini-1.0-pro", cfg.GeminiFallbackModel)
	assert.Equal(t, 30*time.Second, cfg.CompletionAttemptTimeout)
	assert.Equal(t, 3*time.Second, cfg.AssemblyAIPollInterval)
	assert.Equal(t, 40, cfg.AssemblyAIMaxPolls)
	assert.Equal(t, 30*time.Minute, cfg.VoiceCatalogTTL)
	assert.Empty(t, cfg.GeminiAPIKey)
	assert.Equal(t, []string{".nijivoice.com"}, cfg.AudioProxyAllowedHosts)
}

func TestLoadReadsPlainAndPrefixedNames(t *testing.T) {
	clearEnv(t)
	setEnv(t, "APP_BIND_ADDR", ":9191")
	setEnv(t, "COMPLETION_PRIMARY_MODE", " Mock ")
	setEnv(t, "AUDIO_PROXY_ALLOWED_HOSTS", "a.example.com,b.example.com")
	setEnv(t, "MEMORY_DRIVER", "sqlite")
	setEnv(t, "COMPANION_MEMORY_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.BindAddr)
	assert.Equal(t, "mock", cfg.CompletionPrimaryMode)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.AudioProxyAllowedHosts)
	assert.Equal(t, "memory", cfg.MemoryDriver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"MEMORY_DRIVER":                  "mongo",
		"COMPLETION_FALLBACK_MODE":       "openai",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"SPEECH_PROVIDER":                "azure",
		"ASSEMBLYAI_MAX_POLLS":           "0",
		"LOG_FORMAT":                     "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, key, value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadRejectsUnparsableDuration(t *testing.T) {
	clearEnv(t)
	setEnv(t, "COMPLETION_ATTEMPT_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\nAPP_BIND_ADDR=:7000\n"), 0o600))
	setEnv(t, "APP_BIND_ADDR", ":6000")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.GeminiAPIKey)
	// Already-set variables win over the file.
	assert.Equal(t, ":6000", cfg.BindAddr)
}

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

// clearEnv unsets every variable Load reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR", "APP_SHUTDOWN_TIMEOUT", "APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE", "APP_ALLOW_ANY_ORIGIN", "LOG_LEVEL", "LOG_FORMAT",
		"MEMORY_DRIVER", "DATABASE_PATH", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"REDIS_DB", "REDIS_PREFIX", "MEMORY_REDACT_PII", "MEMORY_WRITE_TIMEOUT",
		"COMPLETION_PRIMARY_MODE", "COMPLETION_FALLBACK_MODE", "GEMINI_API_KEY",
		"GEMINI_PRIMARY_MODEL", "GEMINI_FALLBACK_MODEL", "COMPLETION_HTTP_URL",
		"COMPLETION_HTTP_STRICT", "COMPLETION_ATTEMPT_TIMEOUT", "PERSONA_FILE",
		"SPEECH_PROVIDER", "SPEECH_TIMEOUT", "NIJIVOICE_API_KEY", "NIJIVOICE_BASE_URL",
		"NIJIVOICE_SPEED", "VOICE_CATALOG_TTL", "ELEVENLABS_API_KEY",
		"ELEVENLABS_TTS_VOICE_ID", "ELEVENLABS_TTS_MODEL_ID", "ASSEMBLYAI_API_KEY",
		"ASSEMBLYAI_LANGUAGE_CODE", "ASSEMBLYAI_POLL_INTERVAL", "ASSEMBLYAI_MAX_POLLS",
		"AUDIO_PROXY_ALLOWED_HOSTS",
	}
	for _, key := range keys {
		for _, k := range []string{key, Prefix + "_" + key} {
			t.Setenv(k, "")
			require.NoError(t, os.Unsetenv(k))
		}
	}
}
