package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/clock"
)

func TestQueuePushOverflowRejectsOldest(t *testing.T) {
	fc := clock.Fake(time.Now())
	q := newRequestQueue(fc, 2, time.Minute)

	p1 := newPendingRequest("t1", "a_t1", "a_t1_error", fc.Now())
	p2 := newPendingRequest("t2", "a_t2", "a_t2_error", fc.Now())
	p3 := newPendingRequest("t3", "a_t3", "a_t3_error", fc.Now())

	q.Push(&queuedRequest{token: "t1", pending: p1, enqueuedAt: fc.Now()})
	q.Push(&queuedRequest{token: "t2", pending: p2, enqueuedAt: fc.Now()})
	require.Equal(t, 2, q.Len())

	q.Push(&queuedRequest{token: "t3", pending: p3, enqueuedAt: fc.Now()})
	require.Equal(t, 2, q.Len())

	res := <-p1.result
	require.Error(t, res.err)
	te, ok := res.err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrQueueOverflow, te.Kind)
}

func TestQueueDrainExpiredRejectsStaleEntries(t *testing.T) {
	fc := clock.Fake(time.Now())
	q := newRequestQueue(fc, 10, 30*time.Second)

	p1 := newPendingRequest("t1", "a_t1", "a_t1_error", fc.Now())
	q.Push(&queuedRequest{token: "t1", pending: p1, enqueuedAt: fc.Now()})

	fc.Advance(31 * time.Second)
	p2 := newPendingRequest("t2", "a_t2", "a_t2_error", fc.Now())
	q.Push(&queuedRequest{token: "t2", pending: p2, enqueuedAt: fc.Now()})

	q.DrainExpired()
	require.Equal(t, 1, q.Len())

	res := <-p1.result
	require.Error(t, res.err)
	te, ok := res.err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrQueueExpired, te.Kind)
}

func TestQueueFlushDrainsExpiredThenReturnsRest(t *testing.T) {
	fc := clock.Fake(time.Now())
	q := newRequestQueue(fc, 10, 30*time.Second)

	pStale := newPendingRequest("stale", "a_stale", "a_stale_error", fc.Now())
	q.Push(&queuedRequest{token: "stale", pending: pStale, enqueuedAt: fc.Now()})

	fc.Advance(31 * time.Second)
	pFresh := newPendingRequest("fresh", "a_fresh", "a_fresh_error", fc.Now())
	q.Push(&queuedRequest{token: "fresh", pending: pFresh, enqueuedAt: fc.Now()})

	items := q.Flush()
	require.Len(t, items, 1)
	require.Equal(t, "fresh", items[0].token)
	require.Equal(t, 0, q.Len())
}

func TestQueueRejectAllEmptiesQueue(t *testing.T) {
	fc := clock.Fake(time.Now())
	q := newRequestQueue(fc, 10, time.Minute)

	p1 := newPendingRequest("t1", "a_t1", "a_t1_error", fc.Now())
	q.Push(&queuedRequest{token: "t1", pending: p1, enqueuedAt: fc.Now()})

	q.RejectAll(&Error{Kind: ErrConnectionLost, Message: "closed"})
	require.Equal(t, 0, q.Len())

	res := <-p1.result
	require.Error(t, res.err)
}
