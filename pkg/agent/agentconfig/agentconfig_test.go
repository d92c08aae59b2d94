package agentconfig

import (
	"strings"
	"testing"
	"time"
)

var agentEnvKeys = []string{
	"FRIDAY_AGENT_NAME",
	"FRIDAY_BRIDGE_URL",
	"INTERNAL_API_URL",
	"FRIDAY_API_TOKEN",
	"INTERNAL_API_TOKEN",
	"FRIDAY_BRIDGE_TIMEOUT",
	"FRIDAY_HEALTH_TIMEOUT",
	"FRIDAY_BRIDGE_RPS",
	"FRIDAY_MAX_ATTEMPTS",
	"FRIDAY_BACKOFF_BASE",
	"FRIDAY_REALTIME_URL",
	"LIVEKIT_AGENT_URL",
	"FRIDAY_REALTIME_TOKEN",
	"FRIDAY_ROOM",
	"FRIDAY_IDENTITY",
	"FRIDAY_ASSIGNMENT_URL",
	"FRIDAY_ASSIGNMENT_TIMEOUT",
	"FRIDAY_GREETING",
	"FRIDAY_ENABLE_EXTERNAL_API_CALLS",
	"ENABLE_EXTERNAL_API_CALLS",
}

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, key := range agentEnvKeys {
		t.Setenv(key, "")
	}
	t.Setenv("FRIDAY_REALTIME_URL", "ws://localhost:7880/agent")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearAgentEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.AgentName != "Friday" || cfg.BridgeURL != "http://localhost:8000" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.MaxAttempts != 3 || cfg.BackoffBase != 5*time.Second {
		t.Fatalf("retry policy attempts=%d base=%v", cfg.MaxAttempts, cfg.BackoffBase)
	}
	if cfg.BridgeTimeout != 10*time.Second || cfg.HealthTimeout != 2*time.Second {
		t.Fatalf("timeouts bridge=%v health=%v", cfg.BridgeTimeout, cfg.HealthTimeout)
	}
	if !cfg.ExternalCalls {
		t.Fatalf("external calls should default on")
	}
	if cfg.Identity != "agent-friday" {
		t.Fatalf("identity=%q", cfg.Identity)
	}
}

func TestLoadFromEnv_HealthTimeoutIsCapped(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("FRIDAY_HEALTH_TIMEOUT", "30s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.HealthTimeout != MaxHealthTimeout {
		t.Fatalf("health timeout=%v", cfg.HealthTimeout)
	}
}

func TestLoadFromEnv_LegacyNames(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("INTERNAL_API_URL", "http://bridge:9000/")
	t.Setenv("INTERNAL_API_TOKEN", "secret")
	t.Setenv("ENABLE_EXTERNAL_API_CALLS", "false")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.BridgeURL != "http://bridge:9000" || cfg.BridgeToken != "secret" {
		t.Fatalf("bridge url=%q token=%q", cfg.BridgeURL, cfg.BridgeToken)
	}
	if cfg.ExternalCalls {
		t.Fatalf("ENABLE_EXTERNAL_API_CALLS=false ignored")
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	cases := []struct {
		key, value, wantVar string
	}{
		{"FRIDAY_MAX_ATTEMPTS", "0", "FRIDAY_MAX_ATTEMPTS"},
		{"FRIDAY_BRIDGE_TIMEOUT", "-1s", "FRIDAY_BRIDGE_TIMEOUT"},
		{"FRIDAY_BRIDGE_RPS", "-2", "FRIDAY_BRIDGE_RPS"},
		{"INTERNAL_API_URL", "localhost", "INTERNAL_API_URL"},
		{"FRIDAY_REALTIME_URL", "http://example.com", "FRIDAY_REALTIME_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearAgentEnv(t)
			t.Setenv(tc.key, tc.value)
			_, err := LoadFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.wantVar) {
				t.Fatalf("err=%v, want mention of %s", err, tc.wantVar)
			}
		})
	}
}

func TestLoadFromEnv_RequiresRealtimeURL(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv("FRIDAY_REALTIME_URL", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error")
	}
}
