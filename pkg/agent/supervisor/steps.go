package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/uchakatopro-hue/friday-jarvis/internal/clock"
	"github.com/uchakatopro-hue/friday-jarvis/pkg/bridge"
)

// Step is a best-effort startup action.
type Step func(ctx context.Context) StepOutcome

// StepOutcome is what a Step reports instead of an error, so advisory
// failures stay distinct from fatal ones.
type StepOutcome struct {
	Step   string
	OK     bool
	Detail string
	Err    error
}

// HealthProber is satisfied by *bridge.Client.
type HealthProber interface {
	Health(ctx context.Context) bridge.HealthOutcome
}

// HealthStep probes the backend bridge.
func HealthStep(p HealthProber) Step {
	return func(ctx context.Context) StepOutcome {
		h := p.Health(ctx)
		return StepOutcome{
			Step:   "bridge_health",
			OK:     h.Healthy,
			Detail: fmt.Sprintf("status=%d latency=%s", h.Status, h.Latency.Round(time.Millisecond)),
			Err:    h.Err,
		}
	}
}

// Waiter blocks until the worker has been assigned a job or room.
type Waiter interface {
	WaitForAssignment(ctx context.Context) (string, error)
}

// AssignmentStep waits for an assignment for at most timeout.
func AssignmentStep(w Waiter, timeout time.Duration) Step {
	return func(ctx context.Context) StepOutcome {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		id, err := w.WaitForAssignment(ctx)
		if err != nil {
			return StepOutcome{Step: "wait_for_assignment", Err: err}
		}
		return StepOutcome{Step: "wait_for_assignment", OK: true, Detail: id}
	}
}

// PollWaiter polls URL through the bridge client until it answers 200 with
// a non-empty "room" field. 204 and 404 mean "not yet".
type PollWaiter struct {
	Client   *bridge.Client
	URL      string
	Interval time.Duration
	Clock    clock.Clock
}

func (w *PollWaiter) WaitForAssignment(ctx context.Context) (string, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clk := clock.Or(w.Clock)
	for {
		resp, err := w.Client.Call(ctx, bridge.Request{Method: http.MethodGet, URL: w.URL, Op: "wait_for_assignment", NoRetry: true})
		switch {
		case err == nil:
			var body struct {
				Room string `json:"room"`
			}
			if derr := resp.Decode(&body); derr == nil && body.Room != "" {
				return body.Room, nil
			}
		case bridge.StatusOf(err) == http.StatusNotFound:
		default:
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", errors.Join(errors.New("no assignment received"), ctx.Err())
		case <-clk.After(interval):
		}
	}
}
