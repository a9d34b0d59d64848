package diagnostics

import (
	"sync"

	"golang.org/x/time/rate"
)

// OutputThrottle bounds how often `output` DAP events may be emitted per
// category, so a tight console.log loop in user script cannot flood the
// single transport writer.
type OutputThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	eventsPerSecond float64
	burst           int
}

// NewOutputThrottle returns a throttle allowing eventsPerSecond sustained
// output events per category, with the given burst allowance.
func NewOutputThrottle(eventsPerSecond float64, burst int) *OutputThrottle {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 200
	}
	if burst <= 0 {
		burst = 50
	}
	return &OutputThrottle{
		limiters:        make(map[string]*rate.Limiter),
		eventsPerSecond: eventsPerSecond,
		burst:           burst,
	}
}

// Allow reports whether an output event in category may be emitted now.
// Rejected events are still recorded in the diagnostics ring buffer by
// the caller; only the outbound DAP `output` event is dropped.
func (t *OutputThrottle) Allow(category string) bool {
	return t.limiterFor(category).Allow()
}

func (t *OutputThrottle) limiterFor(category string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[category]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.eventsPerSecond), t.burst)
		t.limiters[category] = l
	}
	return l
}
