// Package socket implements the reconnecting duplex byte-oriented
// connection described in spec §4.2: lazy start, randomised exponential
// backoff reconnection, ready-state reporting, and open/close/error/
// message events. It knows nothing about frames, actions, or topics —
// that belongs to internal/transport.
//
// The connection-state machine is modeled as an internal/actor reducer,
// grounded on the teacher's generic single-goroutine actor scaffold, so
// all state transitions are serialized onto one executor per spec §5.
package socket

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bhandras/notebook/internal/actor"
	"github.com/bhandras/notebook/internal/clock"
	"github.com/bhandras/notebook/internal/eventbus"
)

// Options configures a Socket.
type Options struct {
	// URL is the ws:// or wss:// endpoint to dial.
	URL string
	// Header is sent with the dial handshake (e.g. auth headers).
	Header http.Header
	// StartClosed, when true, defers the first connection attempt until
	// Reconnect is called explicitly.
	StartClosed bool
	// Clock is the time source; defaults to clock.Real().
	Clock clock.Clock
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Socket is a reconnecting duplex connection.
type Socket struct {
	opts   Options
	clk    clock.Clock
	bus    *eventbus.Bus
	actor  *actor.Actor[socketState]
	rt     *runtime
	dialer *websocket.Dialer
}

// New constructs a Socket. It does not dial until Connect/Reconnect is
// called, or immediately if Options.StartClosed is false.
func New(opts Options) *Socket {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	s := &Socket{opts: opts, clk: clk, bus: eventbus.New(), dialer: dialer}
	s.rt = &runtime{socket: s}
	s.actor = actor.New(socketState{ready: StateClosed}, reduce, s.rt)
	s.actor.Start()

	if !opts.StartClosed {
		s.Connect()
	}
	return s
}

// On subscribes to one of "open", "close", "error", "message".
func (s *Socket) On(topic string, fn eventbus.Handler) eventbus.Disposable {
	return s.bus.On(topic, fn)
}

// ReadyState returns the current connection state.
func (s *Socket) ReadyState() ReadyState {
	return s.actor.State().ready
}

// Connect requests a connection attempt; idempotent while already
// connecting or open.
func (s *Socket) Connect() {
	s.actor.Enqueue(inConnectRequested{})
}

// Reconnect is Connect's public alias for explicit caller-driven
// reconnection after a policy-driven Close.
func (s *Socket) Reconnect() {
	s.Connect()
}

// Send writes a binary message. It is a no-op error if the socket is
// not open; callers (the Transport) are responsible for queueing.
func (s *Socket) Send(data []byte) error {
	conn := s.rt.currentConn()
	if conn == nil {
		return fmt.Errorf("socket: not open")
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close performs an explicit, caller-initiated close: no further
// reconnection is attempted until Connect/Reconnect is called again.
func (s *Socket) Close() {
	s.actor.Enqueue(inCloseRequested{})
}

// runtime interprets effects emitted by the connection-state reducer:
// dialing, arming reconnect timers (with jitter, since the reducer
// itself must stay deterministic), closing connections, and forwarding
// events to the bus.
type runtime struct {
	socket *Socket

	mu        sync.Mutex
	conn      *websocket.Conn
	readCtx   context.Context
	readStop  context.CancelFunc
	reconnect clock.Timer
}

func (r *runtime) currentConn() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effDial:
			go r.dial(e.attempt, emit)
		case effScheduleReconnect:
			r.armReconnect(e.delay, e.attempt, emit)
		case effEmitOpen:
			r.socket.bus.Emit("open", nil)
		case effEmitClose:
			r.socket.bus.Emit("close", CloseEvent{Code: e.code, Reason: e.reason})
		case effEmitError:
			r.socket.bus.Emit("error", e.err)
		case effCloseConn:
			r.closeConn()
		case effCancelReconnect:
			r.mu.Lock()
			if r.reconnect != nil {
				r.reconnect.Stop()
				r.reconnect = nil
			}
			r.mu.Unlock()
		}
	}
}

func (r *runtime) Stop() {
	r.closeConn()
	r.mu.Lock()
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	r.mu.Unlock()
}

// CloseEvent is the payload delivered on the "close" topic.
type CloseEvent struct {
	Code   int
	Reason string
}

func (r *runtime) armReconnect(delaySeconds float64, attempt int, emit func(actor.Input)) {
	jittered := delaySeconds * (0.5 + rand.Float64())
	d := time.Duration(jittered * float64(time.Second))

	r.mu.Lock()
	if r.reconnect != nil {
		r.reconnect.Stop()
	}
	r.reconnect = r.socket.clk.AfterFunc(d, func() {
		emit(inBackoffElapsed{attempt: attempt})
	})
	r.mu.Unlock()
}

func (r *runtime) dial(attempt int, emit func(actor.Input)) {
	conn, _, err := r.socket.dialer.Dial(r.socket.opts.URL, r.socket.opts.Header)
	if err != nil {
		emit(inDialFailed{err: err})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.conn = conn
	r.readCtx, r.readStop = ctx, cancel
	r.mu.Unlock()

	emit(inDialSucceeded{})
	go r.readLoop(conn, ctx, emit)
}

func (r *runtime) readLoop(conn *websocket.Conn, ctx context.Context, emit func(actor.Input)) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason, expected := classifyClose(ctx, err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			emit(inSocketClosed{code: code, reason: reason, expected: expected})
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		r.socket.bus.Emit("message", data)
	}
}

func classifyClose(ctx context.Context, err error) (code int, reason string, expected bool) {
	select {
	case <-ctx.Done():
		return websocket.CloseNormalClosure, "closed by caller", true
	default:
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text, false
	}
	return websocket.CloseAbnormalClosure, err.Error(), false
}

func (r *runtime) closeConn() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	if r.readStop != nil {
		r.readStop()
	}
	r.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
