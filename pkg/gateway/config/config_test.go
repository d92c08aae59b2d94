package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"FRIDAY_ADDR",
	"FRIDAY_API_TOKEN",
	"INTERNAL_API_TOKEN",
	"FRIDAY_WEBHOOK_SECRET",
	"WEBHOOK_SECRET",
	"FRIDAY_TRUST_PROXY_HEADERS",
	"FRIDAY_CORS_ORIGINS",
	"ALLOWED_ORIGINS",
	"FRIDAY_MAX_BODY_BYTES",
	"FRIDAY_RATE_CAPACITY",
	"FRIDAY_RATE_REFILL_PER_SEC",
	"FRIDAY_RATE_RETENTION",
	"FRIDAY_RATE_CLEANUP_INTERVAL",
	"FRIDAY_READ_HEADER_TIMEOUT",
	"FRIDAY_READ_TIMEOUT",
	"FRIDAY_SHUTDOWN_GRACE_PERIOD",
	"FRIDAY_UPSTREAM_TIMEOUT",
	"FRIDAY_STORE",
	"FRIDAY_REDIS_URL",
	"FRIDAY_DATABASE_URL",
	"DATABASE_URL",
	"FRIDAY_LIVEKIT_URL",
	"LIVEKIT_URL",
	"FRIDAY_LIVEKIT_API_KEY",
	"LIVEKIT_API_KEY",
	"FRIDAY_LIVEKIT_API_SECRET",
	"LIVEKIT_API_SECRET",
	"FRIDAY_ROOM_TOKEN_TTL",
	"FRIDAY_GMAIL_USER",
	"GMAIL_USER",
	"FRIDAY_TAVILY_API_KEY",
	"TAVILY_API_KEY",
	"FRIDAY_TAVILY_BASE_URL",
	"FRIDAY_WEATHER_BASE_URL",
	"FRIDAY_GEOCODING_BASE_URL",
	"FRIDAY_WTTR_BASE_URL",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("FRIDAY_API_TOKEN", "tok")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.APIToken != "tok" || cfg.APITokenGenerated {
		t.Fatalf("token=%q generated=%v", cfg.APIToken, cfg.APITokenGenerated)
	}
	if cfg.RateCapacity != 100 || cfg.RateRefillPerSec != 10 || cfg.RateRetention != time.Hour {
		t.Fatalf("rate=%v/%v/%v", cfg.RateCapacity, cfg.RateRefillPerSec, cfg.RateRetention)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("store=%q", cfg.Store)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Fatalf("upstream timeout=%v", cfg.UpstreamTimeout)
	}
	for _, origin := range DefaultCORSOrigins {
		if _, ok := cfg.CORSAllowedOrigins[origin]; !ok {
			t.Fatalf("missing default origin %q", origin)
		}
	}
	if cfg.RoomTokensEnabled() {
		t.Fatalf("room tokens should be disabled without livekit credentials")
	}
}

func TestLoadFromEnv_FallsBackToInternalAPIToken(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("INTERNAL_API_TOKEN", "legacy")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.APIToken != "legacy" {
		t.Fatalf("token=%q", cfg.APIToken)
	}
}

func TestLoadFromEnv_GeneratesEphemeralToken(t *testing.T) {
	clearGatewayEnv(t)

	a, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	b, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if !a.APITokenGenerated || len(a.APIToken) < 32 {
		t.Fatalf("token=%q generated=%v", a.APIToken, a.APITokenGenerated)
	}
	if a.APIToken == b.APIToken {
		t.Fatalf("ephemeral tokens should differ per load")
	}
}

func TestLoadFromEnv_CORSMergesCustomOrigins(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("FRIDAY_API_TOKEN", "tok")
	t.Setenv("ALLOWED_ORIGINS", "https://friday.onrender.com/, https://app.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	for _, origin := range []string{"https://friday.onrender.com", "https://app.example.com", "http://localhost:3000"} {
		if _, ok := cfg.CORSAllowedOrigins[origin]; !ok {
			t.Fatalf("missing origin %q in %v", origin, cfg.CORSAllowedOrigins)
		}
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		key, value, wantErr string
	}{
		{"FRIDAY_MAX_BODY_BYTES", "0", "FRIDAY_MAX_BODY_BYTES"},
		{"FRIDAY_RATE_CAPACITY", "-1", "FRIDAY_RATE_CAPACITY"},
		{"FRIDAY_RATE_REFILL_PER_SEC", "0", "FRIDAY_RATE_REFILL_PER_SEC"},
		{"FRIDAY_UPSTREAM_TIMEOUT", "0s", "FRIDAY_UPSTREAM_TIMEOUT"},
		{"FRIDAY_STORE", "cassandra", "FRIDAY_STORE"},
		{"FRIDAY_STORE", "redis", "FRIDAY_REDIS_URL"},
		{"FRIDAY_STORE", "postgres", "FRIDAY_DATABASE_URL"},
		{"FRIDAY_WTTR_BASE_URL", "wttr.in", "FRIDAY_WTTR_BASE_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("FRIDAY_API_TOKEN", "tok")
			t.Setenv(tc.key, tc.value)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_StoreSelection(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("FRIDAY_API_TOKEN", "tok")
	t.Setenv("FRIDAY_STORE", "Redis")
	t.Setenv("FRIDAY_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Store != StoreRedis || cfg.RedisURL == "" {
		t.Fatalf("store=%q url=%q", cfg.Store, cfg.RedisURL)
	}
}
