package lifecycle

import "sync/atomic"

// Lifecycle is shared between the bridge server's health handler and its
// shutdown path. While draining, /health reports 503 so load balancers stop
// routing new agent traffic before in-flight requests finish.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
