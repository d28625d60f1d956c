// Package transport implements the request/response multiplexer,
// subscription routing, keepalive, rate limiting, queueing, retries, and
// close-code policy described in spec §4.3 — the heart of the notebook
// SDK. It sits on top of internal/socket (which knows nothing of
// frames) and internal/wire (the frame codec), and is itself the thing
// internal/session and the subsystem adapters talk to.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandras/notebook/internal/clock"
	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/logging"
	"github.com/bhandras/notebook/internal/socket"
	"github.com/bhandras/notebook/internal/wire"
)

const (
	clientIDEvent  = "App.Actions.GetClientId"
	bootErrorEvent = "Events.BootError"
)

// Options configures a Transport.
type Options struct {
	Socket *socket.Socket
	Clock  clock.Clock
	Logger *slog.Logger // defaults to logging.Nop()

	KeepaliveInterval time.Duration // default 30s
	ConnectTimeout    time.Duration // default 10s

	MaxRetries     int           // default 10
	RetryBaseDelay time.Duration // default 1s
	RetryCapDelay  time.Duration // default 30s

	RateLimitPerSecond int // default 50

	QueueMaxSize int           // default 100
	QueueMaxAge  time.Duration // default 30s
}

func (o *Options) setDefaults() {
	if o.KeepaliveInterval == 0 {
		o.KeepaliveInterval = 30 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 10
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.RetryCapDelay == 0 {
		o.RetryCapDelay = 30 * time.Second
	}
	if o.RateLimitPerSecond == 0 {
		o.RateLimitPerSecond = 50
	}
	if o.QueueMaxSize == 0 {
		o.QueueMaxSize = 100
	}
	if o.QueueMaxAge == 0 {
		o.QueueMaxAge = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

// CallOptions configures one invoke() call per spec §5's
// cancellation/timeout model.
type CallOptions struct {
	Timeout     time.Duration
	AbortSignal <-chan struct{}
}

// Counters is the observability snapshot from spec §4.3.
type Counters struct {
	Messages        int64
	Errors          int64
	AvgResponseTime time.Duration
	ReconnectCount  int64
	QueueDepth      int
	SinceLastPing   time.Duration
	SinceLastPong   time.Duration
}

// HealthState is spec §4.3's derived Healthy/Degraded/Unhealthy state.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

// Transport is the request/response multiplexer over one Socket.
type Transport struct {
	opts Options
	sock *socket.Socket
	clk  clock.Clock
	log  *slog.Logger
	bus  *eventbus.Bus
	disp *dispatcher

	rl    *rateLimiter
	queue *requestQueue

	closed atomic.Bool // set once Close has run; checked before touching disp

	mu      sync.Mutex
	open    bool
	stopped bool
	pending map[string]*pendingRequest

	connectWaiters []chan error
	connecting     bool

	clientID string

	tokenSeq int64

	lastPingAt atomic.Value // time.Time
	lastPongAt atomic.Value // time.Time

	keepalive clock.Ticker

	msgCount  int64
	errCount  int64
	reconnects int64
	respTimes []time.Duration
	respMu    sync.Mutex
}

// New builds a Transport bound to sock.
func New(opts Options) *Transport {
	opts.setDefaults()

	t := &Transport{
		opts:    opts,
		sock:    opts.Socket,
		clk:     opts.Clock,
		log:     opts.Logger,
		bus:     eventbus.New(),
		disp:    newDispatcher(256),
		rl:      newRateLimiter(opts.Clock, opts.RateLimitPerSecond, time.Second),
		queue:   newRequestQueue(opts.Clock, opts.QueueMaxSize, opts.QueueMaxAge),
		pending: make(map[string]*pendingRequest),
	}
	t.bus.OnHandlerPanic = func(topic string, recovered any) {
		t.log.Error("event handler panicked", "topic", topic, "recovered", recovered)
	}

	sock := opts.Socket
	sock.On("open", func(any) { t.disp.do(t.handleOpen) })
	sock.On("close", func(data any) {
		ev, _ := data.(socket.CloseEvent)
		t.disp.do(func() { t.handleClose(ev.Code, ev.Reason) })
	})
	sock.On("error", func(data any) {
		t.disp.do(func() { t.bus.Emit("transport.error", data) })
	})
	sock.On("message", func(data any) {
		b, _ := data.([]byte)
		t.disp.do(func() { t.handleMessage(b) })
	})

	return t
}

// Bus exposes the transport's event bus so subsystem adapters can
// subscribe to server-pushed topics.
func (t *Transport) Bus() *eventbus.Bus { return t.bus }

// Logger exposes the transport's configured logger so layers built on
// top (internal/session and its adapters) can log through the same
// sink instead of each defaulting to their own.
func (t *Transport) Logger() *slog.Logger { return t.log }

// ClientID returns the id recorded from the server's client-id event,
// if any has arrived yet.
func (t *Transport) ClientID() string {
	v := t.disp.call(func() any { return t.clientID })
	s, _ := v.(string)
	return s
}

// Connect is idempotent and coalesces concurrent callers onto one
// in-flight attempt, per spec §4.3.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return &Error{Kind: ErrConnectionLost, Message: "transport closed"}
	}

	waitCh := make(chan error, 1)
	shouldDial, _ := t.disp.call(func() any {
		if t.open {
			waitCh <- nil
			return false
		}
		t.connectWaiters = append(t.connectWaiters, waitCh)
		if t.connecting {
			return false
		}
		t.connecting = true
		return true
	}).(bool)

	if shouldDial {
		t.sock.Connect()
	}

	timeout := t.opts.ConnectTimeout
	timer := t.clk.After(timeout)
	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return &Error{Kind: ErrConnectionTimeout, Message: fmt.Sprintf("connect exceeded %s", timeout)}
	}
}

func (t *Transport) handleOpen() {
	t.open = true
	t.connecting = false
	for _, w := range t.connectWaiters {
		w <- nil
	}
	t.connectWaiters = nil

	now := t.clk.Now()
	t.lastPingAt.Store(now)
	t.lastPongAt.Store(now)

	if t.keepalive != nil {
		t.keepalive.Stop()
	}
	t.keepalive = t.clk.NewTicker(t.opts.KeepaliveInterval)
	go t.keepaliveLoop(t.keepalive)

	for _, item := range t.queue.Flush() {
		t.sendQueued(item)
	}

	t.bus.Emit("transport.connected", nil)
}

func (t *Transport) keepaliveLoop(ticker clock.Ticker) {
	for range ticker.C() {
		t.disp.do(t.onKeepaliveTick)
	}
}

func (t *Transport) onKeepaliveTick() {
	if !t.open {
		return
	}
	lastPong, _ := t.lastPongAt.Load().(time.Time)
	if !lastPong.IsZero() && t.clk.Now().Sub(lastPong) > 3*t.opts.KeepaliveInterval {
		t.reconnects++
		t.sock.Close()
		t.sock.Reconnect()
		return
	}
	t.lastPingAt.Store(t.clk.Now())
	go func() {
		if _, err := t.Invoke(context.Background(), "ping", nil, CallOptions{Timeout: t.opts.KeepaliveInterval}); err != nil {
			return
		}
		t.disp.do(func() { t.lastPongAt.Store(t.clk.Now()) })
	}()
}

func (t *Transport) handleClose(code int, reason string) {
	wasOpen := t.open
	t.open = false
	_ = wasOpen

	err := closeCodeError(code, reason)

	for _, w := range t.connectWaiters {
		w <- err
	}
	t.connectWaiters = nil
	t.connecting = false

	t.rejectAllPendingLocked(err)

	switch code {
	case 1000, 1008:
		t.queue.RejectAll(err)
		t.sock.Close()
	default:
		t.reconnects++
	}

	if t.keepalive != nil {
		t.keepalive.Stop()
		t.keepalive = nil
	}

	t.bus.Emit("transport.disconnected", CloseInfo{Code: code, Reason: reason})
}

// CloseInfo is the payload for the "transport.disconnected" event.
type CloseInfo struct {
	Code   int
	Reason string
}

func closeCodeError(code int, reason string) *Error {
	if code == 1008 || (code != 0 && strings.Contains(strings.ToLower(reason), "rate limit")) {
		return &Error{Kind: ErrRateLimit, Code: code, Message: reason}
	}
	return &Error{Kind: ErrConnectionLost, Code: code, Message: reason}
}

func (t *Transport) rejectAllPendingLocked(err *Error) {
	for tok, p := range t.pending {
		delete(t.pending, tok)
		p.rejectWith(err)
	}
}

func (t *Transport) handleMessage(raw []byte) {
	t.msgCount++
	f, err := wire.Decode(raw)
	if err != nil {
		t.errCount++
		t.log.Warn("dropping invalid message", "error", err)
		t.bus.Emit("transport.error", &Error{Kind: ErrInvalidMessage, Message: err.Error()})
		return
	}

	switch f.Kind {
	case wire.KindEvent:
		switch f.Event {
		case clientIDEvent:
			if id, ok := f.Data.(string); ok {
				t.clientID = id
			}
			t.bus.Emit("transport.clientId", f.Data)
		case bootErrorEvent:
			t.errCount++
			t.log.Error("notebook reported a boot error, dropping connection state")
			t.bus.Emit("transport.error", &Error{Kind: ErrInvalidMessage, Message: "boot-error"})
		default:
			topic := f.Event
			if f.As != "" {
				topic = f.As
			}
			t.bus.Emit(topic, f.Data)
		}
	case wire.KindResponse:
		t.bus.Emit(f.Event, f.Data)
	case wire.KindError:
		t.bus.Emit(f.Event, f.Data)
	}
}

func (t *Transport) sendQueued(item *queuedRequest) {
	if item.pending == nil {
		return
	}
	t.registerAndSend(item.pending, item.action, item.args)
}

// Invoke performs one action call with retries, per spec §4.3.
func (t *Transport) Invoke(ctx context.Context, action string, args any, opts CallOptions) (any, error) {
	var lastErr error
	delay := t.opts.RetryBaseDelay

	for attempt := 0; attempt <= t.opts.MaxRetries; attempt++ {
		data, err := t.invokeOnce(ctx, action, args, opts)
		if err == nil {
			return data, nil
		}
		lastErr = err

		te, ok := err.(*Error)
		if !ok || !te.Retriable() {
			return nil, err
		}
		if attempt == t.opts.MaxRetries {
			break
		}

		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.clk.After(jittered):
		}
		delay *= 2
		if delay > t.opts.RetryCapDelay {
			delay = t.opts.RetryCapDelay
		}
	}
	return nil, lastErr
}

func (t *Transport) invokeOnce(ctx context.Context, action string, args any, opts CallOptions) (any, error) {
	if t.closed.Load() {
		return nil, &Error{Kind: ErrConnectionLost, Message: "transport closed"}
	}

	allowed, _ := t.disp.call(func() any { return t.rl.Allow() }).(bool)
	if !allowed {
		return nil, &Error{Kind: ErrRateLimit, Message: "client-side rate limit window saturated"}
	}

	if opts.AbortSignal != nil {
		select {
		case <-opts.AbortSignal:
			return nil, &Error{Kind: ErrAbort, Message: "aborted before send"}
		default:
		}
	}

	token := t.nextToken(action)
	responseTopic := action + "_" + token
	errorTopic := action + "_" + token + "_error"

	startedAt := t.clk.Now()
	p := newPendingRequest(token, responseTopic, errorTopic, startedAt)

	t.disp.call(func() any {
		if t.open {
			t.registerAndSend(p, action, args)
			return nil
		}
		t.queue.Push(&queuedRequest{
			token: token, action: action, args: args,
			enqueuedAt: startedAt, pending: p,
		})
		return nil
	})

	return t.awaitResult(ctx, p, opts)
}

func (t *Transport) registerAndSend(p *pendingRequest, action string, args any) {
	t.pending[p.token] = p

	respSub := t.bus.Once(p.responseTopic, func(data any) {
		t.disp.do(func() {
			delete(t.pending, p.token)
			t.recordResponseTime(p.startedAt)
		})
		p.resolveWith(data)
	})
	errSub := t.bus.Once(p.errorTopic, func(data any) {
		t.disp.do(func() { delete(t.pending, p.token) })
		p.rejectWith(applicationError(data))
	})
	p.addSub(respSub)
	p.addSub(errSub)

	f := wire.Frame{
		Kind:          wire.KindRequest,
		Action:        action,
		ResponseEvent: p.responseTopic,
		ErrorEvent:    p.errorTopic,
		Data:          args,
	}
	b, err := wire.Encode(f)
	if err != nil {
		delete(t.pending, p.token)
		p.rejectWith(&Error{Kind: ErrInvalidMessage, Message: err.Error()})
		return
	}
	if err := t.sock.Send(b); err != nil {
		delete(t.pending, p.token)
		p.rejectWith(&Error{Kind: ErrConnectionLost, Message: err.Error()})
	}
}

func applicationError(data any) *Error {
	e := &Error{Kind: ErrApplication, Raw: data}
	if m, ok := data.(map[string]any); ok {
		if code, ok := m["code"].(int64); ok {
			e.Code = int(code)
		}
		if msg, ok := m["message"].(string); ok {
			e.Message = msg
		}
	}
	return e
}

func (t *Transport) awaitResult(ctx context.Context, p *pendingRequest, opts CallOptions) (any, error) {
	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timeoutCh = t.clk.After(opts.Timeout)
	}
	var abortCh <-chan struct{} = opts.AbortSignal

	select {
	case res := <-p.result:
		return res.data, res.err
	case <-timeoutCh:
		t.disp.do(func() { delete(t.pending, p.token) })
		p.rejectWith(&Error{Kind: ErrRequestTimeout, Message: "request timed out"})
		return nil, (<-p.result).err
	case <-abortCh:
		t.disp.do(func() { delete(t.pending, p.token) })
		p.rejectWith(&Error{Kind: ErrAbort, Message: "aborted"})
		return nil, (<-p.result).err
	case <-ctx.Done():
		t.disp.do(func() { delete(t.pending, p.token) })
		p.rejectWith(&Error{Kind: ErrAbort, Message: ctx.Err().Error()})
		return nil, (<-p.result).err
	}
}

func (t *Transport) recordResponseTime(startedAt time.Time) {
	d := t.clk.Now().Sub(startedAt)
	t.respMu.Lock()
	t.respTimes = append(t.respTimes, d)
	if len(t.respTimes) > 100 {
		t.respTimes = t.respTimes[len(t.respTimes)-100:]
	}
	t.respMu.Unlock()
}

func (t *Transport) nextToken(action string) string {
	seq := atomic.AddInt64(&t.tokenSeq, 1)
	return fmt.Sprintf("%x-%x", seq, t.clk.Now().UnixNano())
}

// Listen subscribes to a server-pushed topic; a thin pass-through to
// the event bus per spec §4.4.
func (t *Transport) Listen(topic string, fn eventbus.Handler) eventbus.Disposable {
	return t.bus.On(topic, fn)
}

// Stats returns an observability snapshot.
func (t *Transport) Stats() Counters {
	if t.closed.Load() {
		return Counters{}
	}
	c := t.disp.call(func() any {
		lastPing, _ := t.lastPingAt.Load().(time.Time)
		lastPong, _ := t.lastPongAt.Load().(time.Time)

		var since func(time.Time) time.Duration
		now := t.clk.Now()
		since = func(tt time.Time) time.Duration {
			if tt.IsZero() {
				return 0
			}
			return now.Sub(tt)
		}

		t.respMu.Lock()
		var total time.Duration
		for _, d := range t.respTimes {
			total += d
		}
		avg := time.Duration(0)
		if len(t.respTimes) > 0 {
			avg = total / time.Duration(len(t.respTimes))
		}
		t.respMu.Unlock()

		return Counters{
			Messages:        t.msgCount,
			Errors:          t.errCount,
			AvgResponseTime: avg,
			ReconnectCount:  t.reconnects,
			QueueDepth:      t.queue.Len(),
			SinceLastPing:   since(lastPing),
			SinceLastPong:   since(lastPong),
		}
	})
	counters, _ := c.(Counters)
	return counters
}

// Health derives the Healthy/Degraded/Unhealthy classification from
// spec §4.3.
func (t *Transport) Health() HealthState {
	c := t.Stats()
	open, _ := t.disp.call(func() any { return t.open }).(bool)

	if !open {
		return Unhealthy
	}
	if c.SinceLastPong > 2*t.opts.KeepaliveInterval {
		return Unhealthy
	}
	errRate := 0.0
	if c.Messages > 0 {
		errRate = float64(c.Errors) / float64(c.Messages)
	}
	if errRate > 0.5 {
		return Unhealthy
	}
	if c.AvgResponseTime > 5*time.Second || errRate > 0.1 {
		return Degraded
	}
	return Healthy
}

// Close performs spec §4.3's Disposal: stops keepalive, rejects all
// pending and queued requests, releases subscriptions, closes the
// socket, and emits a final transport.closed event. Subsequent Close
// calls are no-ops.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.disp.call(func() any {
		if t.stopped {
			return nil
		}
		t.stopped = true
		t.open = false
		if t.keepalive != nil {
			t.keepalive.Stop()
			t.keepalive = nil
		}
		err := &Error{Kind: ErrConnectionLost, Message: "transport closed"}
		t.rejectAllPendingLocked(err)
		t.queue.RejectAll(err)
		return nil
	})
	t.sock.Close()
	t.bus.Emit("transport.closed", nil)
	for _, topic := range t.bus.Topics() {
		t.bus.Off(topic)
	}
	t.disp.stop()
	return nil
}
