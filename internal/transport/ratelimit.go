package transport

import (
	"time"

	"github.com/bhandras/notebook/internal/clock"
)

// rateLimiter implements spec §3's "sliding list of request timestamps
// within a window" — rejection happens before a frame is sent.
type rateLimiter struct {
	clk    clock.Clock
	max    int
	window time.Duration
	times  []time.Time
}

func newRateLimiter(clk clock.Clock, max int, window time.Duration) *rateLimiter {
	return &rateLimiter{clk: clk, max: max, window: window}
}

// Allow reports whether a send may proceed now, and if so records it.
func (r *rateLimiter) Allow() bool {
	now := r.clk.Now()
	cutoff := now.Add(-r.window)

	kept := r.times[:0]
	for _, t := range r.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.times = kept

	if len(r.times) >= r.max {
		return false
	}
	r.times = append(r.times, now)
	return true
}

// Count returns the number of sends currently within the window,
// without mutating state, for observability.
func (r *rateLimiter) Count() int {
	now := r.clk.Now()
	cutoff := now.Add(-r.window)
	n := 0
	for _, t := range r.times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
