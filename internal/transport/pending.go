package transport

import (
	"sync"
	"time"

	"github.com/bhandras/notebook/internal/eventbus"
)

// pendingRequest is spec §3's "Pending request": created on invoke(),
// destroyed on response/error/timeout/abort/close — exactly one of
// those resolves it, ever.
type pendingRequest struct {
	token         string
	responseTopic string
	errorTopic    string
	startedAt     time.Time

	result chan invokeResult

	mu         sync.Mutex
	resolved   bool
	subs       []eventbus.Disposable
	timer      interface{ Stop() bool }
}

type invokeResult struct {
	data any
	err  error
}

func newPendingRequest(token, responseTopic, errorTopic string, startedAt time.Time) *pendingRequest {
	return &pendingRequest{
		token:         token,
		responseTopic: responseTopic,
		errorTopic:    errorTopic,
		startedAt:     startedAt,
		result:        make(chan invokeResult, 1),
	}
}

func (p *pendingRequest) addSub(d eventbus.Disposable) {
	p.mu.Lock()
	p.subs = append(p.subs, d)
	p.mu.Unlock()
}

// release disposes every subscription exactly once, satisfying the
// testable invariant that all per-request subscriptions are released on
// resolution.
func (p *pendingRequest) release() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, s := range subs {
		s.Dispose()
	}
}

func (p *pendingRequest) resolveWith(data any) {
	p.finish(invokeResult{data: data})
}

func (p *pendingRequest) rejectWith(err error) {
	p.finish(invokeResult{err: err})
}

func (p *pendingRequest) finish(res invokeResult) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.mu.Unlock()

	p.release()
	p.result <- res
}
