package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock for tests, starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// FakeClock is a manually-advanced Clock. Advance fires any due timers
// and tickers synchronously, in the goroutine that calls Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

var _ Clock = (*FakeClock)(nil)

type fakeWaiter struct {
	deadline time.Time
	period   time.Duration // zero for one-shot
	ch       chan time.Time
	fn       func()
	stopped  bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, &fakeWaiter{deadline: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	w := &fakeWaiter{deadline: c.now.Add(d), fn: f}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return &fakeTimer{c: c, w: w}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.now.Add(d), period: d, ch: ch}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return &fakeTicker{c: c, w: w}
}

func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward by d, firing any waiters whose
// deadline falls at or before the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	due := c.dueLocked(target)
	c.mu.Unlock()

	for _, w := range due {
		if w.ch != nil {
			select {
			case w.ch <- target:
			default:
			}
		}
		if w.fn != nil {
			w.fn()
		}
	}
}

func (c *FakeClock) dueLocked(target time.Time) []*fakeWaiter {
	sort.Slice(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	var due []*fakeWaiter
	var remaining []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if !w.deadline.After(target) {
			due = append(due, w)
			if w.period > 0 {
				w.deadline = w.deadline.Add(w.period)
				remaining = append(remaining, w)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	return due
}

// PendingTimers reports how many outstanding timers/tickers have not
// yet fired, for tests asserting on scheduling without racing Advance.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

type fakeTimer struct {
	c *FakeClock
	w *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wasActive := !t.w.stopped
	t.w.stopped = true
	return wasActive
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	wasActive := !t.w.stopped
	t.w.stopped = false
	t.w.deadline = t.c.now.Add(d)
	t.c.waiters = append(t.c.waiters, t.w)
	return wasActive
}

type fakeTicker struct {
	c *FakeClock
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.w.stopped = true
}
