// Package clock lets time-dependent code run against the wall clock in
// production and against a manually advanced clock in tests.
//
// Components take a Clock instead of calling time.Now, time.After or
// time.NewTicker directly. Tests pair Fake with WaitForTimers so a
// goroutine's pending wait is registered before the test advances time:
//
//	c := clock.Fake(epoch)
//	go sup.Run(ctx)
//	c.WaitForTimers(1)
//	c.Advance(5 * time.Second)
package clock

import "time"

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker mirrors time.Ticker for both clock implementations.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Or returns c, or the real clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
