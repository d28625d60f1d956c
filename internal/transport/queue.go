package transport

import (
	"time"

	"github.com/bhandras/notebook/internal/clock"
)

// queuedRequest is spec §3's "Queued request": submitted while
// disconnected, bounded FIFO, dropped when stale or when the queue
// overflows.
type queuedRequest struct {
	token      string
	action     string
	args       any
	enqueuedAt time.Time
	pending    *pendingRequest
}

// requestQueue is a bounded FIFO of queuedRequest, dropping the oldest
// entry on overflow (rejecting it with queue-overflow) and expiring
// entries older than maxAge (rejecting with queue-expired).
type requestQueue struct {
	clk     clock.Clock
	maxSize int
	maxAge  time.Duration
	items   []*queuedRequest
}

func newRequestQueue(clk clock.Clock, maxSize int, maxAge time.Duration) *requestQueue {
	return &requestQueue{clk: clk, maxSize: maxSize, maxAge: maxAge}
}

// Push enqueues req, dropping (and rejecting) the oldest entry first if
// the queue is already at capacity.
func (q *requestQueue) Push(req *queuedRequest) {
	if len(q.items) >= q.maxSize {
		dropped := q.items[0]
		q.items = q.items[1:]
		if dropped.pending != nil {
			dropped.pending.rejectWith(&Error{Kind: ErrQueueOverflow, Message: "queue overflow: dropped oldest request"})
		}
	}
	q.items = append(q.items, req)
}

// DrainExpired removes and rejects entries older than maxAge. Flush
// calls it right before a reconnect flush; there is no periodic
// maintenance tick, so a stale entry stays queued until the next Flush
// or RejectAll.
func (q *requestQueue) DrainExpired() {
	now := q.clk.Now()
	var kept []*queuedRequest
	for _, item := range q.items {
		if now.Sub(item.enqueuedAt) > q.maxAge {
			if item.pending != nil {
				item.pending.rejectWith(&Error{Kind: ErrQueueExpired, Message: "queued request expired"})
			}
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
}

// Flush removes all entries in FIFO order, first dropping stale ones,
// for replay when the socket reopens.
func (q *requestQueue) Flush() []*queuedRequest {
	q.DrainExpired()
	items := q.items
	q.items = nil
	return items
}

// RejectAll empties the queue, rejecting every entry with err — used on
// permanent close.
func (q *requestQueue) RejectAll(err *Error) {
	for _, item := range q.items {
		if item.pending != nil {
			item.pending.rejectWith(err)
		}
	}
	q.items = nil
}

// Len reports the current queue depth for observability.
func (q *requestQueue) Len() int { return len(q.items) }
