package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/uchakatopro-hue/friday-jarvis/internal/dotenv"
	"github.com/uchakatopro-hue/friday-jarvis/internal/envconf"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/config"
	gatewayserver "github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/server"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store/pgstore"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/gateway/store/redisstore"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(context.Context, config.Config) (store.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		return redisstore.Open(ctx, cfg.RedisURL, redisstore.Options{})
	case config.StorePostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	default:
		return store.NewMemory(), nil
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

type flags struct {
	envFile    string
	configFile string
	addr       string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	fs := pflag.NewFlagSet("friday-bridge", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.configFile, "config", os.Getenv("FRIDAY_CONFIG_FILE"), "optional YAML file of FRIDAY_* defaults")
	fs.StringVar(&f.addr, "addr", "", "listen address (overrides FRIDAY_ADDR)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func runBridge(ctx context.Context, logger *slog.Logger, addr string, deps bridgeDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil {
		return errors.New("missing config or store dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if cfg.APITokenGenerated {
		logger.Warn("FRIDAY_API_TOKEN is not set; generated an ephemeral token, agents must share it to authenticate")
	}

	st, err := deps.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	gw, err := gatewayserver.New(cfg, logger, gatewayserver.Options{Store: st})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("build server: %w", err)
	}
	defer gw.Close()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go gw.Limiter().Run(sweepCtx, cfg.RateCleanupInterval, func(removed, remaining int) {
		gw.Metrics().RecordSweep(removed, remaining)
		if removed > 0 {
			logger.Debug("rate limiter sweep", "removed", removed, "remaining", remaining)
		}
	})

	httpSrv := buildHTTPServer(cfg, gw.Handler())
	logger.Info("starting bridge server", "addr", cfg.Addr, "store", string(cfg.Store), "room_tokens", cfg.RoomTokensEnabled())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge server stopped")
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	f, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if err := dotenv.LoadFile(f.envFile); err != nil {
		fmt.Fprintf(stderr, "friday-bridge: %v\n", err)
		return 1
	}
	if f.configFile != "" {
		if err := dotenv.LoadYAML(f.configFile); err != nil {
			fmt.Fprintf(stderr, "friday-bridge: %v\n", err)
			return 1
		}
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: envconf.LogLevel("FRIDAY_LOG_LEVEL")}))
	if err := runBridge(ctx, logger, f.addr, deps); err != nil {
		fmt.Fprintf(stderr, "friday-bridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultBridgeDeps()))
}
