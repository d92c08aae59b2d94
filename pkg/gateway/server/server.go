package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/uchakatopro-hue/friday-jarvis/internal/clock"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/auth"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/config"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/egress"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/handlers"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/lifecycle"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/metrics"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/mw"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/ratelimit"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/roomtoken"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/tools/search"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/tools/weather"
)

// Options carries collaborators that tests and the command may supply.
// Nil fields get defaults built from the config.
type Options struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Clock   clock.Clock
	// Transport overrides the outbound transport for tools and call-api.
	Transport http.RoundTripper
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     store.Store
	gate      *auth.Gate
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	client    *bridge.Client
	callAPI   *bridge.Client
	egress    egress.Policy
	weather   *weather.Tool
	search    *search.Tavily
	issuer    *roomtoken.Issuer
}

func New(cfg config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIToken == "" {
		return nil, errors.New("server: api token is required")
	}

	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New("")
	}

	// Outbound calls on behalf of tools and call-api never carry the
	// shared secret.
	client, err := bridge.New(bridge.Options{
		Timeout:   cfg.UpstreamTimeout,
		Transport: opts.Transport,
		Logger:    logger,
		Clock:     opts.Clock,
		OnResult:  m.RecordBridgeCall,
	})
	if err != nil {
		return nil, err
	}

	policy := egress.Policy{AllowPrivate: cfg.CallAPIAllowPrivate}
	callTransport := opts.Transport
	if callTransport == nil {
		callTransport = policy.Transport()
	}
	callAPI, err := bridge.New(bridge.Options{
		Timeout:   cfg.UpstreamTimeout,
		Transport: callTransport,
		Logger:    logger,
		Clock:     opts.Clock,
		OnResult:  m.RecordBridgeCall,
	})
	if err != nil {
		return nil, err
	}

	wx, err := weather.New(weather.Options{
		Client:           client,
		GeocodingBaseURL: cfg.GeocodingBaseURL,
		ForecastBaseURL:  cfg.WeatherBaseURL,
		WttrBaseURL:      cfg.WttrBaseURL,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	var issuer *roomtoken.Issuer
	if cfg.RoomTokensEnabled() {
		issuer, err = roomtoken.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.RoomTokenTTL)
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     st,
		gate:      auth.NewGate(cfg.APIToken),
		metrics:   m,
		lifecycle: &lifecycle.Lifecycle{},
		client:    client,
		callAPI:   callAPI,
		egress:    policy,
		weather:   wx,
		search:    search.NewTavily(cfg.TavilyAPIKey, cfg.TavilyBaseURL, client),
		issuer:    issuer,
		limiter: ratelimit.New(ratelimit.Config{
			Capacity:   cfg.RateCapacity,
			RefillRate: cfg.RateRefillPerSec,
			Retention:  cfg.RateRetention,
			Clock:      opts.Clock,
		}),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("GET /health", handlers.HealthHandler{Lifecycle: s.lifecycle})
	s.mux.Handle("GET /api/config", handlers.ConfigHandler{Config: s.cfg})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("POST /create-room", handlers.CreateRoomHandler{LiveKitURL: s.cfg.LiveKitURL, Logger: s.logger})
	s.mux.Handle("GET /token", handlers.TokenHandler{Issuer: s.issuer})

	s.mux.Handle("POST /agent/event", handlers.EventHandler{Store: s.store, Logger: s.logger})
	s.mux.Handle("POST /agent/intent", handlers.IntentHandler{
		Store:   s.store,
		Weather: s.weather,
		Search:  s.search,
		Logger:  s.logger,
	})
	s.mux.Handle("POST /agent/call-api", handlers.CallAPIHandler{
		Client:  s.callAPI,
		Timeout: s.cfg.UpstreamTimeout,
		Check: func(ctx context.Context, endpoint string) error {
			_, err := s.egress.CheckURL(ctx, endpoint)
			return err
		},
	})
	s.mux.Handle("GET /agent/context/{user_id}", handlers.ContextHandler{Store: s.store})
	s.mux.Handle("POST /interactions/log", handlers.InteractionLogHandler{Store: s.store})

	if s.cfg.WebhookSecret != "" {
		s.mux.Handle("POST /webhooks/{source}", mw.Signature(s.cfg.WebhookSecret, s.logger,
			handlers.WebhookHandler{Store: s.store, Logger: s.logger}))
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// public reports routes served without the bearer gate. Webhooks carry
// their own HMAC check.
func public(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/api/config", "/metrics", "/token", "/create-room":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/webhooks/")
}

func exemptFromLimit(r *http.Request) bool {
	return r.URL.Path == "/health" || r.URL.Path == "/metrics"
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, mw.RateLimitOptions{
		TrustProxyHeaders: s.cfg.TrustProxyHeaders,
		Exempt:            exemptFromLimit,
		OnDenied:          s.metrics.RecordRateLimitDenied,
	}, h)
	h = mw.Auth(s.gate, public, s.logger, h)
	h = mw.FailedAuthLimit(s.limiter, mw.RateLimitOptions{
		TrustProxyHeaders: s.cfg.TrustProxyHeaders,
		Exempt:            exemptFromLimit,
		OnDenied:          s.metrics.RecordRateLimitDenied,
	}, h)
	h = mw.BodyLimit(s.cfg.MaxBodyBytes, h)
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = s.metrics.Middleware(s.mux, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) Limiter() *ratelimit.Limiter { return s.limiter }

func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

func (s *Server) SetDraining() { s.lifecycle.SetDraining(true) }

// Close releases the outbound client and the store.
func (s *Server) Close() error {
	_ = s.client.Close()
	_ = s.callAPI.Close()
	return s.store.Close()
}
