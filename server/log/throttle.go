package log

import (
	"sync"
	"time"
)

// Throttle limits how often a repeating message is emitted.
// Frame-rate failures would otherwise flood the log.
type Throttle struct {
	Interval time.Duration

	lock       sync.Mutex
	last       time.Time
	suppressed int
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{Interval: interval}
}

// Allow returns true if the caller should log now. If true, it also returns the
// number of messages that were suppressed since the previous one.
func (t *Throttle) Allow(now time.Time) (bool, int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.Interval {
		t.suppressed++
		return false, 0
	}
	n := t.suppressed
	t.last = now
	t.suppressed = 0
	return true, n
}

// Warnf writes to log, unless another warning was written within Interval
func (t *Throttle) Warnf(log interface {
	Warnf(format string, a ...interface{})
}, format string, a ...interface{}) {
	ok, suppressed := t.Allow(time.Now())
	if !ok {
		return
	}
	if suppressed != 0 {
		format += " (%v similar messages suppressed)"
		a = append(a, suppressed)
	}
	log.Warnf(format, a...)
}
