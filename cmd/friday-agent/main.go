package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/uchakatopro-hue/friday-jarvis/internal/dotenv"
	"github.com/uchakatopro-hue/friday-jarvis/internal/envconf"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/agent/agentconfig"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/agent/assistant"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/agent/realtime"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/agent/supervisor"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

type flags struct {
	envFile    string
	configFile string
	room       string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	fs := pflag.NewFlagSet("friday-agent", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var f flags
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&f.configFile, "config", os.Getenv("FRIDAY_CONFIG_FILE"), "optional YAML file of FRIDAY_* defaults")
	fs.StringVar(&f.room, "room", "", "room to join (overrides FRIDAY_ROOM)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

// liveSession is the part of *realtime.Session the conversation loop needs.
type liveSession interface {
	Utterances() <-chan realtime.Utterance
	Say(ctx context.Context, text string) error
	Close() error
	Err() error
}

// converse answers each final transcript until the session ends or ctx is
// cancelled.
func converse(ctx context.Context, sess liveSession, a *assistant.Assistant, logger *slog.Logger) error {
	utterances := sess.Utterances()
	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			return nil
		case u, ok := <-utterances:
			if !ok {
				return sess.Err()
			}
			reply := a.HandleUserInput(ctx, u.UserID, u.Text, nil)
			if err := sess.Say(ctx, reply); err != nil {
				logger.Warn("speak reply failed", "user_id", u.UserID, "err", err)
			}
		}
	}
}

func runAgent(ctx context.Context, logger *slog.Logger, cfg agentconfig.Config) error {
	client, err := bridge.New(bridge.Options{
		BaseURL:       cfg.BridgeURL,
		Token:         cfg.BridgeToken,
		Timeout:       cfg.BridgeTimeout,
		HealthTimeout: cfg.HealthTimeout,
		RPS:           cfg.BridgeRPS,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build bridge client: %w", err)
	}
	defer client.Close()

	dialer, err := realtime.NewDialer(realtime.Options{
		URL:       cfg.RealtimeURL,
		Token:     cfg.RealtimeToken,
		Room:      cfg.Room,
		Identity:  cfg.Identity,
		AgentName: cfg.AgentName,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	advisory := []supervisor.Step{supervisor.HealthStep(client)}
	if cfg.AssignmentURL != "" {
		advisory = append(advisory, supervisor.AssignmentStep(&supervisor.PollWaiter{Client: client, URL: cfg.AssignmentURL}, cfg.AssignmentTimeout))
	}

	sup, err := supervisor.New(supervisor.Config{
		Connector: supervisor.ConnectFunc(func(ctx context.Context) (supervisor.Session, error) {
			sess, err := dialer.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return sess, nil
		}),
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		Advisory:    advisory,
		Greeting:    cfg.Greeting,
		Events:      client,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting agent", "agent", cfg.AgentName, "bridge_url", cfg.BridgeURL, "room", cfg.Room)
	sess, err := sup.Run(ctx)
	if err != nil {
		if errors.Is(err, supervisor.ErrCancelled) {
			logger.Info("agent startup cancelled")
			return nil
		}
		return err
	}

	a := assistant.New(client, assistant.Options{ExternalCalls: cfg.ExternalCalls, Logger: logger})
	if err := converse(ctx, sess.(*realtime.Session), a, logger); err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	logger.Info("agent stopped")
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer) int {
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
		fmt.Fprintf(stderr, "friday-agent: %v\n", err)
		return 1
	}
	if f.configFile != "" {
		if err := dotenv.LoadYAML(f.configFile); err != nil {
			fmt.Fprintf(stderr, "friday-agent: %v\n", err)
			return 1
		}
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: envconf.LogLevel("FRIDAY_LOG_LEVEL")}))

	cfg, err := agentconfig.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "friday-agent: load config: %v\n", err)
		return 1
	}
	if f.room != "" {
		cfg.Room = f.room
	}

	if err := runAgent(ctx, logger, cfg); err != nil {
		logger.Error("agent worker failed", "err", err)
		fmt.Fprintf(stderr, "friday-agent: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
