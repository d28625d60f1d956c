package beacon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bhandras/notebook/internal/clock"
	"github.com/bhandras/notebook/internal/eventbus"
)

// Options configures a Bridge.
type Options struct {
	Channel Channel
	Clock   clock.Clock

	HandshakeRetries int           // default 3
	HandshakeMinWait time.Duration // default 1s
	HandshakeMaxWait time.Duration // default 5s

	CallRetries int // default 2, per verb
}

func (o *Options) setDefaults() {
	if o.HandshakeRetries == 0 {
		o.HandshakeRetries = 3
	}
	if o.HandshakeMinWait == 0 {
		o.HandshakeMinWait = time.Second
	}
	if o.HandshakeMaxWait == 0 {
		o.HandshakeMaxWait = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.CallRetries == 0 {
		o.CallRetries = 2
	}
}

// Bridge drives the parent side of the postMessage protocol.
type Bridge struct {
	opts Options
	ch   Channel
	clk  clock.Clock
	bus  *eventbus.Bus

	mu       sync.Mutex
	ready    bool
	inflight map[string]chan Message // verb -> waiter, one outstanding call per verb

	Navigator *Navigator

	stop chan struct{}
}

// New constructs a Bridge and starts its receive loop.
func New(opts Options) *Bridge {
	opts.setDefaults()
	b := &Bridge{
		opts:     opts,
		ch:       opts.Channel,
		clk:      opts.Clock,
		bus:      eventbus.New(),
		inflight: make(map[string]chan Message),
		stop:     make(chan struct{}),
	}
	b.Navigator = newNavigator(b.bus, b.clk)
	go b.recvLoop()
	b.bus.On("urlChange", func(data any) {
		if url, ok := data.(string); ok {
			b.Navigator.observeChildNavigation(url)
		}
	})
	return b
}

func (b *Bridge) recvLoop() {
	for {
		select {
		case <-b.stop:
			return
		case raw, ok := <-b.ch.Recv():
			if !ok {
				return
			}
			msg, err := decodeMessage(raw)
			if err != nil {
				continue
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg Message) {
	verb := msg.Type
	if len(verb) > len(typePrefix) {
		verb = verb[len(typePrefix):]
	}

	b.mu.Lock()
	waiter, ok := b.inflight[verb]
	if ok {
		delete(b.inflight, verb)
	}
	b.mu.Unlock()

	if ok {
		waiter <- msg
		return
	}
	b.bus.Emit(verb, msg.Payload)
}

func (b *Bridge) send(verb string, payload any) error {
	msg := Message{
		Type:      verbType(verb),
		Payload:   payload,
		Timestamp: b.clk.Now().UnixNano() / int64(time.Millisecond),
		Source:    SourceParent,
		ID:        nextMessageID(),
	}
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return b.ch.Send(raw)
}

// Handshake waits for the child to be ready: sends beacon:discover and
// awaits beacon:ready, retrying the whole exchange with backoff on
// failure per spec §4.8.
func (b *Bridge) Handshake(ctx context.Context) error {
	b.mu.Lock()
	b.ready = false
	b.mu.Unlock()

	wait := b.opts.HandshakeMinWait
	var lastErr error
	for attempt := 0; attempt < b.opts.HandshakeRetries; attempt++ {
		_, err := b.sendAndWaitForOnce(ctx, "discover", "ready", nil, 5*time.Second)
		if err == nil {
			b.mu.Lock()
			b.ready = true
			b.mu.Unlock()
			return nil
		}
		lastErr = err
		if attempt == b.opts.HandshakeRetries-1 {
			break
		}
		jittered := time.Duration(float64(wait) * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clk.After(jittered):
		}
		wait *= 2
		if wait > b.opts.HandshakeMaxWait {
			wait = b.opts.HandshakeMaxWait
		}
	}
	return fmt.Errorf("beacon: handshake failed after %d attempts: %w", b.opts.HandshakeRetries, lastErr)
}

// sendAndWaitFor sends reqType with payload and awaits respType,
// retrying up to Options.CallRetries times if the call times out.
func (b *Bridge) sendAndWaitFor(ctx context.Context, reqType, respType string, payload any, timeout time.Duration) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= b.opts.CallRetries; attempt++ {
		data, err := b.sendAndWaitForOnce(ctx, reqType, respType, payload, timeout)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, lastErr
}

// sendAndWaitForOnce performs a single request/response round trip. Only
// one outstanding call per verb is supported; the responder topic is
// the fixed verb name, not a per-call id.
func (b *Bridge) sendAndWaitForOnce(ctx context.Context, reqType, respType string, payload any, timeout time.Duration) (any, error) {
	waiter := make(chan Message, 1)

	b.mu.Lock()
	if _, busy := b.inflight[respType]; busy {
		b.mu.Unlock()
		return nil, fmt.Errorf("beacon: call already outstanding for verb %q", respType)
	}
	b.inflight[respType] = waiter
	b.mu.Unlock()

	if err := b.send(reqType, payload); err != nil {
		b.mu.Lock()
		delete(b.inflight, respType)
		b.mu.Unlock()
		return nil, err
	}

	select {
	case msg := <-waiter:
		return msg.Payload, nil
	case <-b.clk.After(timeout):
		b.mu.Lock()
		delete(b.inflight, respType)
		b.mu.Unlock()
		return nil, fmt.Errorf("beacon: timed out waiting for %q: %w", respType, context.DeadlineExceeded)
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.inflight, respType)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

// On subscribes to beacon events pushed without a matching inflight
// call (e.g. spontaneous urlChange, historyChange).
func (b *Bridge) On(topic string, fn eventbus.Handler) eventbus.Disposable {
	return b.bus.On(topic, fn)
}

// Close stops the receive loop.
func (b *Bridge) Close() {
	close(b.stop)
}

// Operations — spec §4.8's named verb pairs.

func (b *Bridge) Ping(ctx context.Context) error {
	_, err := b.sendAndWaitFor(ctx, "ping", "pong", nil, 5*time.Second)
	return err
}

func (b *Bridge) GetDebugInfo(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "getDebugInfo", "debugInfo", nil, 10*time.Second)
}

func (b *Bridge) GetConsoleEvents(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "getConsoleEvents", "consoleEvents", nil, 10*time.Second)
}

func (b *Bridge) GetErrorEvents(ctx context.Context) (any, error) {
	return b.sendAndWaitFor(ctx, "getErrorEvents", "errorEvents", nil, 10*time.Second)
}

func (b *Bridge) ClearConsole(ctx context.Context) error {
	return b.send("clearConsole", nil)
}

func (b *Bridge) ClearErrors(ctx context.Context) error {
	return b.send("clearErrors", nil)
}

func (b *Bridge) ExecuteCode(ctx context.Context, code string) (any, error) {
	return b.sendAndWaitFor(ctx, "executeCode", "codeExecutionResult", map[string]any{"code": code}, 10*time.Second)
}

func (b *Bridge) InspectElement(ctx context.Context, selector string) (any, error) {
	return b.sendAndWaitFor(ctx, "inspectElement", "elementInspectionResult", map[string]any{"selector": selector}, 10*time.Second)
}

func (b *Bridge) Fetch(ctx context.Context, req any) (any, error) {
	return b.sendAndWaitFor(ctx, "fetch", "fetchResult", req, 10*time.Second)
}

// DebugRequest is the payload for Debug.
type DebugRequest struct {
	Path    string
	Options DebugOptions
}

// DebugOptions configures Debug's navigation wait and timeout.
type DebugOptions struct {
	Timeout   time.Duration
	WaitAfter time.Duration
}

// Debug, when the target path differs from the current one, records it
// with Navigator.Visit and re-runs Handshake; it then optionally waits
// and requests capture with a timeout equal to options.timeout + 5s
// (spec §4.8). Visit only updates the local history: no navigation
// message is sent to the child.
func (b *Bridge) Debug(ctx context.Context, req DebugRequest) (any, error) {
	if req.Path != "" && req.Path != b.Navigator.CurrentURL() {
		b.Navigator.Visit(req.Path)
		if err := b.Handshake(ctx); err != nil {
			return nil, err
		}
	}
	if req.Options.WaitAfter > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.clk.After(req.Options.WaitAfter):
		}
	}

	timeout := req.Options.Timeout + 5*time.Second
	return b.sendAndWaitFor(ctx, "debug", "debugResult", req, timeout)
}
