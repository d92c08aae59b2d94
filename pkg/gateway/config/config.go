package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/internal/envconf"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreRedis    StoreKind = "redis"
	StorePostgres StoreKind = "postgres"
)

// DefaultCORSOrigins are always allowed in addition to FRIDAY_CORS_ORIGINS.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:7860",
	"http://localhost:8000",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:7860",
	"http://127.0.0.1:8000",
}

type Config struct {
	Addr string

	// APIToken is the shared bearer secret for agent routes.
	APIToken string
	// APITokenGenerated is set when no token was configured and a random
	// one was minted for this process.
	APITokenGenerated bool

	// WebhookSecret keys the HMAC on /webhooks/{source}. Empty disables the route.
	WebhookSecret string

	// If true, the client IP used for rate limiting may come from
	// X-Forwarded-For. Only enable behind a trusted proxy.
	TrustProxyHeaders bool

	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	RateCapacity        float64
	RateRefillPerSec    float64
	RateRetention       time.Duration
	RateCleanupInterval time.Duration

	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// UpstreamTimeout bounds calls made on behalf of /agent/call-api and tools.
	UpstreamTimeout time.Duration
	// CallAPIAllowPrivate lets /agent/call-api reach loopback and private
	// networks.
	CallAPIAllowPrivate bool

	Store       StoreKind
	RedisURL    string
	DatabaseURL string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	RoomTokenTTL     time.Duration

	// GmailUser only toggles the email feature flag in /api/config.
	GmailUser string

	TavilyAPIKey     string
	TavilyBaseURL    string
	WeatherBaseURL   string
	GeocodingBaseURL string
	WttrBaseURL      string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envconf.String("FRIDAY_ADDR", ":8000"),
		APIToken:            envconf.First("", "FRIDAY_API_TOKEN", "INTERNAL_API_TOKEN"),
		WebhookSecret:       envconf.First("", "FRIDAY_WEBHOOK_SECRET", "WEBHOOK_SECRET"),
		TrustProxyHeaders:   envconf.Bool("FRIDAY_TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins:  make(map[string]struct{}),
		MaxBodyBytes:        envconf.Int64("FRIDAY_MAX_BODY_BYTES", 1<<20),
		RateCapacity:        envconf.Float64("FRIDAY_RATE_CAPACITY", 100),
		RateRefillPerSec:    envconf.Float64("FRIDAY_RATE_REFILL_PER_SEC", 10),
		RateRetention:       envconf.Duration("FRIDAY_RATE_RETENTION", time.Hour),
		RateCleanupInterval: envconf.Duration("FRIDAY_RATE_CLEANUP_INTERVAL", 5*time.Minute),
		ReadHeaderTimeout:   envconf.Duration("FRIDAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envconf.Duration("FRIDAY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envconf.Duration("FRIDAY_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		UpstreamTimeout:     envconf.Duration("FRIDAY_UPSTREAM_TIMEOUT", 10*time.Second),
		CallAPIAllowPrivate: envconf.Bool("FRIDAY_CALL_API_ALLOW_PRIVATE", false),
		Store:               StoreKind(strings.ToLower(envconf.String("FRIDAY_STORE", string(StoreMemory)))),
		RedisURL:            envconf.String("FRIDAY_REDIS_URL", ""),
		DatabaseURL:         envconf.First("", "FRIDAY_DATABASE_URL", "DATABASE_URL"),
		LiveKitURL:          envconf.First("", "FRIDAY_LIVEKIT_URL", "LIVEKIT_URL"),
		LiveKitAPIKey:       envconf.First("", "FRIDAY_LIVEKIT_API_KEY", "LIVEKIT_API_KEY"),
		LiveKitAPISecret:    envconf.First("", "FRIDAY_LIVEKIT_API_SECRET", "LIVEKIT_API_SECRET"),
		RoomTokenTTL:        envconf.Duration("FRIDAY_ROOM_TOKEN_TTL", time.Hour),
		GmailUser:           envconf.First("", "FRIDAY_GMAIL_USER", "GMAIL_USER"),
		TavilyAPIKey:        envconf.First("", "FRIDAY_TAVILY_API_KEY", "TAVILY_API_KEY"),
		TavilyBaseURL:       envconf.String("FRIDAY_TAVILY_BASE_URL", "https://api.tavily.com"),
		WeatherBaseURL:      envconf.String("FRIDAY_WEATHER_BASE_URL", "https://api.open-meteo.com"),
		GeocodingBaseURL:    envconf.String("FRIDAY_GEOCODING_BASE_URL", "https://geocoding-api.open-meteo.com"),
		WttrBaseURL:         envconf.String("FRIDAY_WTTR_BASE_URL", "https://wttr.in"),
	}

	for _, origin := range DefaultCORSOrigins {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	for _, origin := range envconf.SplitCSV(envconf.First("", "FRIDAY_CORS_ORIGINS", "ALLOWED_ORIGINS")) {
		cfg.CORSAllowedOrigins[strings.TrimRight(origin, "/")] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.RateCapacity <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_RATE_CAPACITY must be > 0")
	}
	if cfg.RateRefillPerSec <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_RATE_REFILL_PER_SEC must be > 0")
	}
	if cfg.RateRetention <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_RATE_RETENTION must be > 0")
	}
	if cfg.RateCleanupInterval <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_RATE_CLEANUP_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.RoomTokenTTL <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_ROOM_TOKEN_TTL must be > 0")
	}

	switch cfg.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("FRIDAY_REDIS_URL must be set when FRIDAY_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("FRIDAY_DATABASE_URL must be set when FRIDAY_STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("FRIDAY_STORE must be one of memory|redis|postgres")
	}

	for name, raw := range map[string]string{
		"FRIDAY_TAVILY_BASE_URL":    cfg.TavilyBaseURL,
		"FRIDAY_WEATHER_BASE_URL":   cfg.WeatherBaseURL,
		"FRIDAY_GEOCODING_BASE_URL": cfg.GeocodingBaseURL,
		"FRIDAY_WTTR_BASE_URL":      cfg.WttrBaseURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if cfg.APIToken == "" {
		tok, err := randomToken()
		if err != nil {
			return Config{}, fmt.Errorf("generate ephemeral api token: %w", err)
		}
		cfg.APIToken = tok
		cfg.APITokenGenerated = true
	}

	return cfg, nil
}

// RoomTokensEnabled reports whether LiveKit credentials are configured.
func (c Config) RoomTokensEnabled() bool {
	return c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
