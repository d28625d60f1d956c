// Package session implements spec §4.4: one Transport bound to one
// notebook URL, the re-initialisation handshake, and fan-out to the
// per-subsystem facades. Grounded on the teacher's
// cli/internal/websocket/client.go Connect/WaitForConnect/handler
// registration shape, adapted off Socket.IO onto internal/transport.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/transport"
)

const notebookInitializedEvent = "notebook.initialized"

// InitResult is the payload resolved by Ready(): environment, preview
// URL, and opened ports, per spec §4.4.
type InitResult struct {
	Env        map[string]string
	PreviewURL string
	Ports      []int
	Raw        any
}

// Resubscriber re-issues a subsystem's server-side subscriptions after
// reconnect (notably filesystem watches, per spec §4.4's "on every
// reconnect, re-registers per-subsystem server subscriptions").
type Resubscriber interface {
	Resubscribe(ctx context.Context) error
}

// Session owns one Transport for one notebook.
type Session struct {
	t   *transport.Transport
	log *slog.Logger

	mu            sync.Mutex
	readyInit     *InitResult
	readyErr      error
	readyWaiters  []chan struct{}
	readyInFlight bool

	resubscribers []Resubscriber
}

// New wraps an already-constructed Transport as a Session, logging
// through the same *slog.Logger the Transport was configured with.
func New(t *transport.Transport) *Session {
	return &Session{t: t, log: t.Logger()}
}

// Transport exposes the underlying Transport for subsystem adapters to
// bind to during construction.
func (s *Session) Transport() *transport.Transport { return s.t }

// RegisterResubscriber adds r to the set re-invoked on every reconnect.
func (s *Session) RegisterResubscriber(r Resubscriber) {
	s.mu.Lock()
	s.resubscribers = append(s.resubscribers, r)
	s.mu.Unlock()
}

// Ready forces a connection if the socket is lazily closed, then awaits
// the server's notebook.initialized event, per spec §4.4.
func (s *Session) Ready(ctx context.Context) (*InitResult, error) {
	s.mu.Lock()
	if s.readyInit != nil {
		init := s.readyInit
		s.mu.Unlock()
		return init, nil
	}
	if s.readyInFlight {
		ch := make(chan struct{})
		s.readyWaiters = append(s.readyWaiters, ch)
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
		init, err := s.readyInit, s.readyErr
		s.mu.Unlock()
		return init, err
	}
	s.readyInFlight = true
	s.mu.Unlock()

	init, err := s.doReady(ctx)

	s.mu.Lock()
	s.readyInit, s.readyErr = init, err
	s.readyInFlight = false
	waiters := s.readyWaiters
	s.readyWaiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	return init, err
}

func (s *Session) doReady(ctx context.Context) (*InitResult, error) {
	initCh := make(chan any, 1)
	sub := s.t.Listen(notebookInitializedEvent, func(data any) {
		select {
		case initCh <- data:
		default:
		}
	})
	defer sub.Dispose()

	if err := s.t.Connect(ctx); err != nil {
		return nil, err
	}
	if _, err := s.t.Invoke(ctx, "ping", nil, transport.CallOptions{Timeout: 10 * time.Second}); err != nil {
		return nil, err
	}

	select {
	case data := <-initCh:
		return parseInitResult(data), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("session: init error: %w", ctx.Err())
	}
}

func parseInitResult(data any) *InitResult {
	r := &InitResult{Raw: data}
	m, ok := data.(map[string]any)
	if !ok {
		return r
	}
	switch env := m["env"].(type) {
	case map[string]string:
		r.Env = env
	case map[string]any:
		r.Env = make(map[string]string, len(env))
		for k, v := range env {
			if s, ok := v.(string); ok {
				r.Env[k] = s
			}
		}
	}
	if url, ok := m["previewUrl"].(string); ok {
		r.PreviewURL = url
	}
	if ports, ok := m["ports"].([]any); ok {
		for _, p := range ports {
			switch n := p.(type) {
			case int64:
				r.Ports = append(r.Ports, int(n))
			case int:
				r.Ports = append(r.Ports, n)
			}
		}
	}
	return r
}

// Reconnect preserves listeners, reconnects the socket, then re-runs
// the init handshake and every registered resubscriber.
func (s *Session) Reconnect(ctx context.Context) (*InitResult, error) {
	s.mu.Lock()
	s.readyInit = nil
	s.readyErr = nil
	s.mu.Unlock()

	init, err := s.Ready(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	resubs := append([]Resubscriber(nil), s.resubscribers...)
	s.mu.Unlock()
	for _, r := range resubs {
		if err := r.Resubscribe(ctx); err != nil {
			s.log.Error("resubscribe failed after reconnect", "error", err)
			return init, fmt.Errorf("session: resubscribe failed: %w", err)
		}
	}
	return init, nil
}

// Invoke is a thin pass-through to the transport.
func (s *Session) Invoke(ctx context.Context, action string, args any, opts transport.CallOptions) (any, error) {
	return s.t.Invoke(ctx, action, args, opts)
}

// Listen is a thin pass-through to the transport's event bus.
func (s *Session) Listen(topic string, fn eventbus.Handler) eventbus.Disposable {
	return s.t.Listen(topic, fn)
}

// Ping invokes the "ping" action.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.t.Invoke(ctx, "ping", nil, transport.CallOptions{Timeout: 10 * time.Second})
	return err
}

// Health exposes the transport's derived health classification.
func (s *Session) Health() transport.HealthState { return s.t.Health() }

// Dispose releases all adapter subscriptions and closes the socket.
func (s *Session) Dispose() error {
	return s.t.Close()
}
