package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayEnvKeys = []string{
	"NANDI_RELAY_ADDR",
	"NANDI_RELAY_MONGO_URI",
	"NANDI_RELAY_MONGO_DATABASE",
	"NANDI_RELAY_MONGO_COLLECTION",
	"NANDI_RELAY_REDIS_ADDR",
	"NANDI_RELAY_REDIS_PASSWORD",
	"NANDI_RELAY_REDIS_DB",
	"NANDI_RELAY_PROFILE_CACHE_TTL",
	"NANDI_RELAY_PROFILE_MISS_TTL",
	"NANDI_RELAY_TRANSFORM_URL",
	"NANDI_RELAY_TRANSFORM_IDENTITY_FAST_PATH",
	"NANDI_RELAY_TRANSFORM_RETRY_ATTEMPTS",
	"NANDI_RELAY_GREETING_TIMEOUT",
	"NANDI_RELAY_OUTBOUND_TIMEOUT",
	"NANDI_RELAY_INBOUND_TIMEOUT",
	"NANDI_RELAY_AGENT_WS_URL",
	"NANDI_RELAY_AGENT_CONNECT_TIMEOUT",
	"NANDI_RELAY_SUPPORTED_LANGUAGES",
	"NANDI_RELAY_DEFAULT_LANGUAGE",
	"NANDI_RELAY_GRACE_PERIOD",
	"NANDI_RELAY_MAX_SESSION_DURATION",
	"NANDI_RELAY_WS_PING_INTERVAL",
	"NANDI_RELAY_WS_WRITE_TIMEOUT",
	"NANDI_RELAY_WS_READ_LIMIT",
	"NANDI_RELAY_MAX_SESSIONS_PER_IDENTITY",
	"NANDI_RELAY_CONNECT_RPS",
	"NANDI_RELAY_CONNECT_BURST",
	"NANDI_RELAY_CORS_ORIGINS",
	"NANDI_RELAY_READ_HEADER_TIMEOUT",
	"NANDI_RELAY_SHUTDOWN_GRACE_PERIOD",
	"NANDI_RELAY_LOG_FORMAT",
	"NANDI_RELAY_LOG_LEVEL",
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnvKeys {
		t.Setenv(key, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("NANDI_RELAY_TRANSFORM_URL", "http://stt-tts:8000")
	t.Setenv("NANDI_RELAY_AGENT_WS_URL", "ws://agentic-core:8000/ws")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearRelayEnv(t)
	setRequired(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "nandi_system", cfg.MongoDatabase)
	assert.Equal(t, "farmers-data", cfg.MongoCollection)
	assert.Equal(t, DefaultSupportedLanguages, cfg.SupportedLanguages)
	assert.Equal(t, "English", cfg.DefaultLanguage)
	assert.True(t, cfg.TransformIdentityFast)
	assert.Equal(t, 30*time.Second, cfg.GreetingTimeout)
	assert.Equal(t, 30*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, 60*time.Second, cfg.InboundTimeout)
	assert.Greater(t, cfg.InboundTimeout, cfg.OutboundTimeout)
	assert.Equal(t, 2*time.Second, cfg.GracePeriod)
	assert.Zero(t, cfg.MaxSessionDuration)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadFromEnv_RequiresUpstreams(t *testing.T) {
	clearRelayEnv(t)

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NANDI_RELAY_TRANSFORM_URL")

	t.Setenv("NANDI_RELAY_TRANSFORM_URL", "http://stt-tts:8000")
	_, err = LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NANDI_RELAY_AGENT_WS_URL")
}

func TestLoadFromEnv_RejectsWrongSchemes(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("NANDI_RELAY_TRANSFORM_URL", "ws://stt-tts:8000")
	t.Setenv("NANDI_RELAY_AGENT_WS_URL", "ws://agent/ws")
	_, err := LoadFromEnv()
	require.Error(t, err)

	t.Setenv("NANDI_RELAY_TRANSFORM_URL", "http://stt-tts:8000")
	t.Setenv("NANDI_RELAY_AGENT_WS_URL", "http://agent/ws")
	_, err = LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_CustomLanguages(t *testing.T) {
	clearRelayEnv(t)
	setRequired(t)
	t.Setenv("NANDI_RELAY_SUPPORTED_LANGUAGES", "Hindi, Tamil ,English")
	t.Setenv("NANDI_RELAY_DEFAULT_LANGUAGE", "Hindi")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"Hindi", "Tamil", "English"}, cfg.SupportedLanguages)
	assert.Equal(t, "Hindi", cfg.DefaultLanguage)
}

func TestLoadFromEnv_DefaultLanguageMustBeSupported(t *testing.T) {
	clearRelayEnv(t)
	setRequired(t)
	t.Setenv("NANDI_RELAY_SUPPORTED_LANGUAGES", "Hindi,Tamil")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NANDI_RELAY_DEFAULT_LANGUAGE")
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"NANDI_RELAY_GRACE_PERIOD", "0s"},
		{"NANDI_RELAY_MAX_SESSION_DURATION", "-1s"},
		{"NANDI_RELAY_WS_PING_INTERVAL", "0s"},
		{"NANDI_RELAY_WS_READ_LIMIT", "0"},
		{"NANDI_RELAY_TRANSFORM_RETRY_ATTEMPTS", "-1"},
		{"NANDI_RELAY_INBOUND_TIMEOUT", "0s"},
		{"NANDI_RELAY_LOG_FORMAT", "xml"},
		{"NANDI_RELAY_LOG_LEVEL", "trace"},
		{"NANDI_RELAY_PROFILE_MISS_TTL", "-5s"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearRelayEnv(t)
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			_, err := LoadFromEnv()
			require.Error(t, err)
		})
	}
}

func TestLoadFromEnv_CacheTTLRequiredWhenRedisEnabled(t *testing.T) {
	clearRelayEnv(t)
	setRequired(t)
	t.Setenv("NANDI_RELAY_REDIS_ADDR", "localhost:6379")
	t.Setenv("NANDI_RELAY_PROFILE_CACHE_TTL", "0s")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_CORSOrigins(t *testing.T) {
	clearRelayEnv(t)
	setRequired(t)
	t.Setenv("NANDI_RELAY_CORS_ORIGINS", "https://nandi.example, http://localhost:3000")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Contains(t, cfg.CORSAllowedOrigins, "https://nandi.example")
	assert.Contains(t, cfg.CORSAllowedOrigins, "http://localhost:3000")
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
}
