// Package agentconfig holds the agent worker's process configuration.
package agentconfig

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/internal/envconf"
)

// MaxHealthTimeout bounds the advisory backend probe.
const MaxHealthTimeout = 2 * time.Second

const defaultGreeting = "Greet the user and offer your assistance."

type Config struct {
	AgentName string

	// BridgeURL is the bridge server's base URL; BridgeToken is the shared
	// bearer secret it expects.
	BridgeURL     string
	BridgeToken   string
	BridgeTimeout time.Duration
	HealthTimeout time.Duration
	// BridgeRPS paces outbound bridge calls; 0 disables pacing.
	BridgeRPS float64

	MaxAttempts int
	BackoffBase time.Duration

	RealtimeURL   string
	RealtimeToken string
	Room          string
	Identity      string

	// AssignmentURL, when set, is polled once per startup until the bridge
	// reports a room for this agent.
	AssignmentURL     string
	AssignmentTimeout time.Duration

	Greeting      string
	ExternalCalls bool
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		AgentName:         envconf.String("FRIDAY_AGENT_NAME", "Friday"),
		BridgeURL:         envconf.First("http://localhost:8000", "FRIDAY_BRIDGE_URL", "INTERNAL_API_URL"),
		BridgeToken:       envconf.First("", "FRIDAY_API_TOKEN", "INTERNAL_API_TOKEN"),
		BridgeTimeout:     envconf.Duration("FRIDAY_BRIDGE_TIMEOUT", 10*time.Second),
		HealthTimeout:     envconf.Duration("FRIDAY_HEALTH_TIMEOUT", MaxHealthTimeout),
		BridgeRPS:         envconf.Float64("FRIDAY_BRIDGE_RPS", 0),
		MaxAttempts:       envconf.Int("FRIDAY_MAX_ATTEMPTS", 3),
		BackoffBase:       envconf.Duration("FRIDAY_BACKOFF_BASE", 5*time.Second),
		RealtimeURL:       envconf.First("", "FRIDAY_REALTIME_URL", "LIVEKIT_AGENT_URL"),
		RealtimeToken:     envconf.String("FRIDAY_REALTIME_TOKEN", ""),
		Room:              envconf.String("FRIDAY_ROOM", ""),
		Identity:          envconf.String("FRIDAY_IDENTITY", ""),
		AssignmentURL:     envconf.String("FRIDAY_ASSIGNMENT_URL", ""),
		AssignmentTimeout: envconf.Duration("FRIDAY_ASSIGNMENT_TIMEOUT", 30*time.Second),
		Greeting:          envconf.String("FRIDAY_GREETING", defaultGreeting),
		ExternalCalls:     envconf.Bool("FRIDAY_ENABLE_EXTERNAL_API_CALLS", envconf.Bool("ENABLE_EXTERNAL_API_CALLS", true)),
	}
	cfg.BridgeURL = strings.TrimRight(cfg.BridgeURL, "/")

	if u, err := url.Parse(cfg.BridgeURL); err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("INTERNAL_API_URL must be an absolute URL")
	}
	if cfg.BridgeTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_BRIDGE_TIMEOUT must be > 0")
	}
	if cfg.HealthTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_HEALTH_TIMEOUT must be > 0")
	}
	if cfg.HealthTimeout > MaxHealthTimeout {
		cfg.HealthTimeout = MaxHealthTimeout
	}
	if cfg.BridgeRPS < 0 {
		return Config{}, fmt.Errorf("FRIDAY_BRIDGE_RPS must be >= 0")
	}
	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("FRIDAY_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.BackoffBase < 0 {
		return Config{}, fmt.Errorf("FRIDAY_BACKOFF_BASE must be >= 0")
	}
	if cfg.RealtimeURL == "" {
		return Config{}, fmt.Errorf("FRIDAY_REALTIME_URL must be set")
	}
	if u, err := url.Parse(cfg.RealtimeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return Config{}, fmt.Errorf("FRIDAY_REALTIME_URL must be a ws:// or wss:// URL")
	}
	if cfg.AssignmentURL != "" && cfg.AssignmentTimeout <= 0 {
		return Config{}, fmt.Errorf("FRIDAY_ASSIGNMENT_TIMEOUT must be > 0")
	}
	if cfg.Identity == "" {
		cfg.Identity = "agent-" + strings.ToLower(cfg.AgentName)
	}
	return cfg, nil
}
