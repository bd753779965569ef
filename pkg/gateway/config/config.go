package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Farmer directory (MongoDB).
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	// Optional Redis profile cache. Empty RedisAddr disables it.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProfileCacheTTL time.Duration
	ProfileMissTTL  time.Duration

	// Language transform service.
	TransformURL           string
	TransformIdentityFast  bool
	TransformRetryAttempts int
	GreetingTimeout        time.Duration
	OutboundTimeout        time.Duration
	InboundTimeout         time.Duration

	// Conversational agent endpoint.
	AgentWSURL          string
	AgentConnectTimeout time.Duration

	SupportedLanguages []string
	DefaultLanguage    string

	// Live relay.
	GracePeriod        time.Duration
	MaxSessionDuration time.Duration // 0 => no session deadline
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	WSReadLimit        int64

	// Admission.
	MaxSessionsPerIdentity int
	ConnectRPS             float64
	ConnectBurst           int

	CORSAllowedOrigins map[string]struct{} // empty => browsers with an Origin header are refused

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	LogFormat string
	LogLevel  string
}

var DefaultSupportedLanguages = []string{"Marathi", "Hindi", "Tamil", "English"}

const DefaultLanguage = "English"

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("NANDI_RELAY_ADDR", ":8080"),
		MongoURI:               envOr("NANDI_RELAY_MONGO_URI", "mongodb://localhost:27017/"),
		MongoDatabase:          envOr("NANDI_RELAY_MONGO_DATABASE", "nandi_system"),
		MongoCollection:        envOr("NANDI_RELAY_MONGO_COLLECTION", "farmers-data"),
		RedisAddr:              envOr("NANDI_RELAY_REDIS_ADDR", ""),
		RedisPassword:          os.Getenv("NANDI_RELAY_REDIS_PASSWORD"),
		RedisDB:                envIntOr("NANDI_RELAY_REDIS_DB", 0),
		ProfileCacheTTL:        envDurationOr("NANDI_RELAY_PROFILE_CACHE_TTL", 10*time.Minute),
		ProfileMissTTL:         envDurationOr("NANDI_RELAY_PROFILE_MISS_TTL", 30*time.Second),
		TransformURL:           envOr("NANDI_RELAY_TRANSFORM_URL", ""),
		TransformIdentityFast:  envBoolOr("NANDI_RELAY_TRANSFORM_IDENTITY_FAST_PATH", true),
		TransformRetryAttempts: envIntOr("NANDI_RELAY_TRANSFORM_RETRY_ATTEMPTS", 0),
		GreetingTimeout:        envDurationOr("NANDI_RELAY_GREETING_TIMEOUT", 30*time.Second),
		OutboundTimeout:        envDurationOr("NANDI_RELAY_OUTBOUND_TIMEOUT", 30*time.Second),
		InboundTimeout:         envDurationOr("NANDI_RELAY_INBOUND_TIMEOUT", 60*time.Second),
		AgentWSURL:             envOr("NANDI_RELAY_AGENT_WS_URL", ""),
		AgentConnectTimeout:    envDurationOr("NANDI_RELAY_AGENT_CONNECT_TIMEOUT", 10*time.Second),
		SupportedLanguages:     splitCSV(os.Getenv("NANDI_RELAY_SUPPORTED_LANGUAGES")),
		DefaultLanguage:        envOr("NANDI_RELAY_DEFAULT_LANGUAGE", DefaultLanguage),
		GracePeriod:            envDurationOr("NANDI_RELAY_GRACE_PERIOD", 2*time.Second),
		MaxSessionDuration:     envDurationOr("NANDI_RELAY_MAX_SESSION_DURATION", 0),
		WSPingInterval:         envDurationOr("NANDI_RELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("NANDI_RELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadLimit:            envInt64Or("NANDI_RELAY_WS_READ_LIMIT", 64*1024),
		MaxSessionsPerIdentity: envIntOr("NANDI_RELAY_MAX_SESSIONS_PER_IDENTITY", 2),
		ConnectRPS:             envFloat64Or("NANDI_RELAY_CONNECT_RPS", 1.0),
		ConnectBurst:           envIntOr("NANDI_RELAY_CONNECT_BURST", 5),
		CORSAllowedOrigins:     make(map[string]struct{}),
		ReadHeaderTimeout:      envDurationOr("NANDI_RELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("NANDI_RELAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		LogFormat:              strings.ToLower(envOr("NANDI_RELAY_LOG_FORMAT", "text")),
		LogLevel:               strings.ToLower(envOr("NANDI_RELAY_LOG_LEVEL", "info")),
	}
	if len(cfg.SupportedLanguages) == 0 {
		cfg.SupportedLanguages = append([]string(nil), DefaultSupportedLanguages...)
	}

	for _, origin := range splitCSV(os.Getenv("NANDI_RELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.TransformURL) == "" {
		return fmt.Errorf("NANDI_RELAY_TRANSFORM_URL must be set")
	}
	if u, err := url.Parse(cfg.TransformURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("NANDI_RELAY_TRANSFORM_URL must be an http(s) url")
	}
	if strings.TrimSpace(cfg.AgentWSURL) == "" {
		return fmt.Errorf("NANDI_RELAY_AGENT_WS_URL must be set")
	}
	if u, err := url.Parse(cfg.AgentWSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("NANDI_RELAY_AGENT_WS_URL must be a ws(s) url")
	}
	if strings.TrimSpace(cfg.MongoURI) == "" {
		return fmt.Errorf("NANDI_RELAY_MONGO_URI must be set")
	}
	if strings.TrimSpace(cfg.MongoDatabase) == "" || strings.TrimSpace(cfg.MongoCollection) == "" {
		return fmt.Errorf("NANDI_RELAY_MONGO_DATABASE and NANDI_RELAY_MONGO_COLLECTION must not be empty")
	}
	if cfg.RedisAddr != "" && cfg.ProfileCacheTTL <= 0 {
		return fmt.Errorf("NANDI_RELAY_PROFILE_CACHE_TTL must be > 0 when the cache is enabled")
	}
	if cfg.ProfileMissTTL < 0 {
		return fmt.Errorf("NANDI_RELAY_PROFILE_MISS_TTL must be >= 0")
	}
	if cfg.TransformRetryAttempts < 0 {
		return fmt.Errorf("NANDI_RELAY_TRANSFORM_RETRY_ATTEMPTS must be >= 0")
	}
	if cfg.GreetingTimeout <= 0 || cfg.OutboundTimeout <= 0 || cfg.InboundTimeout <= 0 {
		return fmt.Errorf("transform timeouts must be > 0")
	}
	if cfg.AgentConnectTimeout <= 0 {
		return fmt.Errorf("NANDI_RELAY_AGENT_CONNECT_TIMEOUT must be > 0")
	}
	if len(cfg.SupportedLanguages) == 0 {
		return fmt.Errorf("NANDI_RELAY_SUPPORTED_LANGUAGES must not be empty")
	}
	found := false
	for _, lang := range cfg.SupportedLanguages {
		if lang == cfg.DefaultLanguage {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("NANDI_RELAY_DEFAULT_LANGUAGE %q must be one of NANDI_RELAY_SUPPORTED_LANGUAGES", cfg.DefaultLanguage)
	}
	if cfg.GracePeriod <= 0 {
		return fmt.Errorf("NANDI_RELAY_GRACE_PERIOD must be > 0")
	}
	if cfg.MaxSessionDuration < 0 {
		return fmt.Errorf("NANDI_RELAY_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return fmt.Errorf("NANDI_RELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return fmt.Errorf("NANDI_RELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadLimit <= 0 {
		return fmt.Errorf("NANDI_RELAY_WS_READ_LIMIT must be > 0")
	}
	if cfg.MaxSessionsPerIdentity < 0 {
		return fmt.Errorf("NANDI_RELAY_MAX_SESSIONS_PER_IDENTITY must be >= 0")
	}
	if cfg.ConnectRPS < 0 || cfg.ConnectBurst < 0 {
		return fmt.Errorf("NANDI_RELAY_CONNECT_RPS and NANDI_RELAY_CONNECT_BURST must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("NANDI_RELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("NANDI_RELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("NANDI_RELAY_LOG_FORMAT must be one of text|json")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("NANDI_RELAY_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
