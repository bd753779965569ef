package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle holds the process drain state shared by the readiness probe and
// the live handler, which refuses new sessions while draining.
type Lifecycle struct {
	draining atomic.Bool
	since    atomic.Int64 // unix nanos of the last transition into draining
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if draining && !l.draining.Swap(true) {
		l.since.Store(time.Now().UnixNano())
		return
	}
	if !draining {
		l.draining.Store(false)
		l.since.Store(0)
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince is zero when not draining.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil || !l.draining.Load() {
		return time.Time{}
	}
	ns := l.since.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
