// Package process implements spec §4.5: spawn() returning a process
// handle with an input sink, an output source, an exit future, kill,
// and resize, plus the independent multiplexed terminal operations.
package process

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/transport"
)

// Chunk is one unit of process output, byte- or string-valued
// depending on what the server sends.
type Chunk struct {
	Bytes []byte
	Text  string
}

// Handle is spec §3's "Process handle".
type Handle struct {
	ID      string
	Command string
	Kind    string
	Created time.Time

	output chan Chunk
	exit   chan int

	sess *session.Session

	mu        sync.Mutex
	terminated bool
	outSub    eventbus.Disposable
	closeSub  eventbus.Disposable
}

var idSeq int64

func nextID() string {
	n := atomic.AddInt64(&idSeq, 1)
	return fmt.Sprintf("proc-%d-%d", n, time.Now().UnixNano())
}

// Spawn allocates a client-side id, registers the terminal.output.<id>
// and terminal.close.<id> listeners before sending the spawn request
// (spec §4.5's ordering requirement), then invokes terminal.spawn.
func Spawn(ctx context.Context, sess *session.Session, command string, args []string, opts SpawnOptions) (*Handle, error) {
	id := opts.ID
	if id == "" {
		id = nextID()
	}

	h := &Handle{
		ID:      id,
		Command: command,
		Kind:    opts.Kind,
		Created: time.Now(),
		output:  make(chan Chunk, 64),
		exit:    make(chan int, 1),
		sess:    sess,
	}

	if opts.AbortSignal != nil {
		select {
		case <-opts.AbortSignal:
			// Spec §8: spawn with an already-aborted signal resolves exit
			// with a synthetic value and never subscribes to output.
			h.exit <- -1
			close(h.output)
			return h, nil
		default:
		}
	}

	h.outSub = sess.Listen("terminal.output."+id, func(data any) {
		h.output <- chunkFromData(data)
	})
	h.closeSub = sess.Listen("terminal.close."+id, func(data any) {
		h.terminate(exitCodeFromData(data))
	})

	if opts.AbortSignal != nil {
		go func() {
			<-opts.AbortSignal
			_ = h.Kill(context.Background())
		}()
	}

	args2 := append([]string(nil), args...)
	_, err := sess.Invoke(ctx, "terminal.spawn", map[string]any{
		"command": command,
		"args":    args2,
		"id":      id,
	}, transport.CallOptions{})
	if err != nil {
		h.terminate(-1)
		return nil, err
	}
	return h, nil
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	ID          string
	Kind        string
	AbortSignal <-chan struct{}
}

func chunkFromData(data any) Chunk {
	switch v := data.(type) {
	case []byte:
		return Chunk{Bytes: v}
	case string:
		return Chunk{Text: v}
	case map[string]any:
		if b, ok := v["output"].([]byte); ok {
			return Chunk{Bytes: b}
		}
		if s, ok := v["output"].(string); ok {
			return Chunk{Text: s}
		}
	}
	return Chunk{}
}

func exitCodeFromData(data any) int {
	if m, ok := data.(map[string]any); ok {
		switch v := m["exitCode"].(type) {
		case int64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

// Output returns the lazy, finite, non-restartable output stream.
func (h *Handle) Output() <-chan Chunk { return h.output }

// Exit returns a channel that delivers exactly one exit code.
func (h *Handle) Exit() <-chan int { return h.exit }

// Input forwards one chunk as terminal.input {id, input}.
func (h *Handle) Input(ctx context.Context, data []byte) error {
	_, err := h.sess.Invoke(ctx, "terminal.input", map[string]any{
		"id":    h.ID,
		"input": data,
	}, transport.CallOptions{})
	return err
}

// CloseInput disposes the handle's subscriptions; inputs are not
// restartable once closed.
func (h *Handle) CloseInput() {
	h.terminate(-1)
}

// Resize sends terminal.resize.
func (h *Handle) Resize(ctx context.Context, cols, rows int) error {
	_, err := h.sess.Invoke(ctx, "terminal.resize", map[string]any{
		"id": h.ID, "cols": cols, "rows": rows,
	}, transport.CallOptions{})
	return err
}

// Kill sends terminal.close and disposes subscriptions. Idempotent.
func (h *Handle) Kill(ctx context.Context) error {
	_, err := h.sess.Invoke(ctx, "terminal.close", map[string]any{"id": h.ID}, transport.CallOptions{})
	h.terminate(-1)
	return err
}

func (h *Handle) terminate(exitCode int) {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.mu.Unlock()

	if h.outSub != nil {
		h.outSub.Dispose()
	}
	if h.closeSub != nil {
		h.closeSub.Dispose()
	}
	close(h.output)
	select {
	case h.exit <- exitCode:
	default:
	}
}

// List, Create, and the remaining independently-multiplexed terminal
// operations (spec §4.5: "terminal also supports multiplexed
// create/list/resize/input independent of spawn").

// List returns the server's current terminal listing.
func List(ctx context.Context, sess *session.Session) (any, error) {
	return sess.Invoke(ctx, "terminal.list", nil, transport.CallOptions{})
}

// Create starts a terminal without the process-handle plumbing Spawn
// provides — used for plain shell terminals managed independently.
func Create(ctx context.Context, sess *session.Session, opts map[string]any) (any, error) {
	return sess.Invoke(ctx, "terminal.create", opts, transport.CallOptions{})
}

// Start starts a previously-created terminal by id.
func Start(ctx context.Context, sess *session.Session, id string) (any, error) {
	return sess.Invoke(ctx, "terminal.start", map[string]any{"id": id}, transport.CallOptions{})
}
