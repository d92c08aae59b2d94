// Package supervisor brings an agent session up: connect, run advisory
// steps once, start, and greet. Connect or start failures are retried with
// a linear backoff (base*attempt) up to a fixed number of attempts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/internal/clock"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 5 * time.Second

	DefaultFinalEventTimeout = 2 * time.Second
)

type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateHealthCheck State = "health_check"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateRetrying    State = "retrying"
	StateFailed      State = "failed"
)

var (
	ErrRetryExhausted = errors.New("session failed to start")
	ErrCancelled      = errors.New("session startup cancelled")
)

// RetryExhaustedError is returned after MaxAttempts failed tries. Last is
// the error from the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("supervisor: %s after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Session is a realtime agent session.
type Session interface {
	Start(ctx context.Context) error
	GenerateReply(ctx context.Context, instructions string) error
	Close() error
}

// Connector opens a session. An error covers every sub-cause (dial,
// negotiation); the supervisor retries all of them alike.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

type ConnectFunc func(ctx context.Context) (Session, error)

func (f ConnectFunc) Connect(ctx context.Context) (Session, error) { return f(ctx) }

// EventSender receives best-effort lifecycle events.
type EventSender interface {
	SendEvent(ctx context.Context, eventType string, data map[string]any) error
}

// onceSender delivers an event in a single attempt, without retries.
type onceSender interface {
	SendEventOnce(ctx context.Context, eventType string, data map[string]any) error
}

type Transition struct {
	From    State
	To      State
	Attempt int
	Delay   time.Duration
	Err     error
}

type Config struct {
	Connector   Connector
	MaxAttempts int
	BackoffBase time.Duration

	// Advisory steps run once per Run, after the first successful
	// connect. Their outcomes are logged and never fail startup.
	Advisory []Step

	// Greeting is passed to Session.GenerateReply once the session runs.
	Greeting string

	Events       EventSender
	OnTransition func(Transition)

	// FinalEventTimeout bounds delivery of the session_failed event so a
	// dead backend cannot hold up the exit.
	FinalEventTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

type Supervisor struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.Connector == nil {
		return nil, errors.New("supervisor: connector is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.FinalEventTimeout <= 0 {
		cfg.FinalEventTimeout = DefaultFinalEventTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		clock:  clock.Or(cfg.Clock),
		logger: logger,
		state:  StateIdle,
	}, nil
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) transition(to State, attempt int, delay time.Duration, err error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(Transition{From: from, To: to, Attempt: attempt, Delay: delay, Err: err})
	}
}

// Run drives startup to Running and returns the live session, or returns
// a *RetryExhaustedError, an ErrCancelled-wrapped error, or the greeting
// failure. The caller owns the returned session.
func (s *Supervisor) Run(ctx context.Context) (Session, error) {
	advisoryDone := false
	var lastErr error

	for attempt := 1; ; attempt++ {
		s.transition(StateConnecting, attempt, 0, nil)
		s.logger.Info("starting agent session", "attempt", attempt, "max_attempts", s.cfg.MaxAttempts)

		sess, err := s.cfg.Connector.Connect(ctx)
		if err == nil && sess == nil {
			err = errors.New("connector returned no session")
		}
		if err == nil {
			if !advisoryDone {
				advisoryDone = true
				s.transition(StateHealthCheck, attempt, 0, nil)
				s.runAdvisory(ctx)
			}
			s.transition(StateStarting, attempt, 0, nil)
			if err = sess.Start(ctx); err != nil {
				_ = sess.Close()
			}
		}

		if err == nil {
			s.transition(StateRunning, attempt, 0, nil)
			s.logger.Info("agent session started", "attempt", attempt)
			s.emit(ctx, "session_started", map[string]any{"attempt": attempt})

			if err := sess.GenerateReply(ctx, s.cfg.Greeting); err != nil {
				_ = sess.Close()
				return nil, fmt.Errorf("supervisor: initial reply: %w", err)
			}
			return sess, nil
		}

		if ctx.Err() != nil {
			return nil, s.cancelled(ctx, attempt)
		}

		lastErr = err
		s.logger.Error("agent session error", "attempt", attempt, "err", err)

		if attempt >= s.cfg.MaxAttempts {
			s.transition(StateFailed, attempt, 0, err)
			s.logger.Error("failed to start agent session", "attempts", attempt, "err", err)
			s.emitFinal(ctx, "session_failed", map[string]any{"attempts": attempt, "error": err.Error()})
			return nil, &RetryExhaustedError{Attempts: attempt, Last: lastErr}
		}

		delay := s.cfg.BackoffBase * time.Duration(attempt)
		s.transition(StateRetrying, attempt, delay, err)
		s.logger.Info("retrying agent session", "attempt", attempt, "delay", delay.String())

		select {
		case <-ctx.Done():
			return nil, s.cancelled(ctx, attempt)
		case <-s.clock.After(delay):
		}
	}
}

func (s *Supervisor) cancelled(ctx context.Context, attempt int) error {
	s.transition(StateFailed, attempt, 0, ctx.Err())
	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

func (s *Supervisor) runAdvisory(ctx context.Context) {
	for _, step := range s.cfg.Advisory {
		out := step(ctx)
		if out.OK {
			s.logger.Info("advisory step ok", "step", out.Step, "detail", out.Detail)
			continue
		}
		s.logger.Warn("advisory step failed, continuing", "step", out.Step, "detail", out.Detail, "err", out.Err)
	}
}

func (s *Supervisor) emit(ctx context.Context, eventType string, data map[string]any) {
	if s.cfg.Events == nil || ctx.Err() != nil {
		return
	}
	if err := s.cfg.Events.SendEvent(ctx, eventType, data); err != nil {
		s.logger.Warn("send event failed", "event_type", eventType, "err", err)
	}
}

// emitFinal sends eventType in one attempt capped at FinalEventTimeout.
func (s *Supervisor) emitFinal(ctx context.Context, eventType string, data map[string]any) {
	if s.cfg.Events == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FinalEventTimeout)
	defer cancel()

	send := s.cfg.Events.SendEvent
	if once, ok := s.cfg.Events.(onceSender); ok {
		send = once.SendEventOnce
	}
	if err := send(ctx, eventType, data); err != nil {
		s.logger.Warn("send event failed", "event_type", eventType, "err", err)
	}
}
