// Package notebook is the public client SDK surface for typed,
// reliable, bidirectional access to a remote containerized notebook:
// create/fork/delete notebooks over HTTP, then drive a running
// notebook's terminal, filesystem, and language server over one
// reconnecting duplex channel. Grounded on the teacher's
// cli/sdk/sdk.go public method surface (Connect/Disconnect/list-style
// calls), minus its gomobile and end-to-end-encryption specifics,
// which have no analogue in this SDK's single-bearer-token auth model.
package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bhandras/notebook/internal/clock"
	"github.com/bhandras/notebook/internal/config"
	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/fsadapter"
	"github.com/bhandras/notebook/internal/httpapi"
	"github.com/bhandras/notebook/internal/logging"
	"github.com/bhandras/notebook/internal/lsp"
	"github.com/bhandras/notebook/internal/process"
	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/socket"
	"github.com/bhandras/notebook/internal/transport"
)

// Options configures a Client. See internal/config.Options for field
// documentation; it is re-exported here as the package's public
// configuration type.
type Options = config.Options

// HealthState is the transport's derived Healthy/Degraded/Unhealthy
// classification, re-exported for callers who only import this package.
type HealthState = transport.HealthState

const (
	Healthy   = transport.Healthy
	Degraded  = transport.Degraded
	Unhealthy = transport.Unhealthy
)

// Notebook mirrors httpapi.Notebook, re-exported at package level.
type Notebook = httpapi.Notebook

// CreateOptions mirrors httpapi.CreateOptions.
type CreateOptions = httpapi.CreateOptions

// Client is the entry point: it owns the HTTP collaborator connection
// and mints Sessions bound to specific running notebooks.
type Client struct {
	opts Options
	http *httpapi.Client
}

// New constructs a Client from an already-validated Options. Use
// config.Load or config.Defaults to build one, or NewFromEnv.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		opts: opts,
		http: httpapi.New(opts.BaseURL, opts.Token),
	}, nil
}

// NewFromEnv builds a Client from NOTEBOOK_* environment variables.
func NewFromEnv() (*Client, error) {
	opts, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(opts)
}

// CreateNotebook provisions a new notebook via the HTTP collaborator.
func (c *Client) CreateNotebook(ctx context.Context, opts CreateOptions) (*Notebook, error) {
	return c.http.CreateNotebook(ctx, opts)
}

// GetNotebook fetches a notebook's current record.
func (c *Client) GetNotebook(ctx context.Context, id string) (*Notebook, error) {
	return c.http.GetNotebook(ctx, id)
}

// ForkNotebook creates a new notebook seeded from an existing one.
func (c *Client) ForkNotebook(ctx context.Context, id string) (*Notebook, error) {
	return c.http.ForkNotebook(ctx, id)
}

// DeleteNotebook tears a notebook down.
func (c *Client) DeleteNotebook(ctx context.Context, id string) error {
	return c.http.DeleteNotebook(ctx, id)
}

// Connect opens a Session bound to the running notebook identified by
// nb's PreviewURL (the duplex channel endpoint), lazily dialing per
// Options.StartClosed.
func (c *Client) Connect(nb *Notebook) (*Session, error) {
	wsURL, err := wsURLFromPreview(nb.PreviewURL, c.opts.BaseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)

	clk := clock.Real()
	level := slog.LevelInfo
	if c.opts.Debug {
		level = slog.LevelDebug
	}
	logger := logging.New(level, nil)

	sock := socket.New(socket.Options{
		URL:         wsURL,
		Header:      header,
		StartClosed: c.opts.StartClosed,
		Clock:       clk,
	})
	tr := transport.New(transport.Options{
		Socket:             sock,
		Clock:              clk,
		Logger:             logger,
		KeepaliveInterval:  c.opts.PingInterval,
		MaxRetries:         c.opts.MaxRetries,
		RateLimitPerSecond: c.opts.RateLimitPerSecond,
		QueueMaxSize:       c.opts.QueueMaxSize,
		QueueMaxAge:        c.opts.QueueMaxAge,
	})
	sess := session.New(tr)

	s := &Session{sess: sess, sock: sock}
	s.FS = fsadapter.New(sess)
	return s, nil
}

func wsURLFromPreview(previewURL, fallbackBase string) (string, error) {
	base := previewURL
	if base == "" {
		base = fallbackBase
	}
	if base == "" {
		return "", fmt.Errorf("notebook: no preview URL or base URL to derive a socket endpoint from")
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://"), nil
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://"), nil
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base, nil
	default:
		return "", fmt.Errorf("notebook: unrecognized base URL scheme: %q", base)
	}
}

// Session wraps one running notebook's duplex channel and its
// subsystem facades.
type Session struct {
	sess *session.Session
	sock *socket.Socket

	FS *fsadapter.Adapter
}

// Ready forces a connection and awaits the server's initialization
// handshake.
func (s *Session) Ready(ctx context.Context) (*session.InitResult, error) {
	return s.sess.Ready(ctx)
}

// Reconnect re-runs the handshake and every registered resubscriber.
func (s *Session) Reconnect(ctx context.Context) (*session.InitResult, error) {
	return s.sess.Reconnect(ctx)
}

// Invoke performs a generic typed request/response call. T must match
// the shape of the action's response payload.
func Invoke[T any](ctx context.Context, s *Session, action string, args any, opts transport.CallOptions) (T, error) {
	var zero T
	data, err := s.sess.Invoke(ctx, action, args, opts)
	if err != nil {
		return zero, err
	}
	typed, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("notebook: action %q returned unexpected type %T", action, data)
	}
	return typed, nil
}

// Listen subscribes to a server-pushed topic.
func (s *Session) Listen(topic string, fn eventbus.Handler) eventbus.Disposable {
	return s.sess.Listen(topic, fn)
}

// Spawn starts a terminal/process on the notebook.
func (s *Session) Spawn(ctx context.Context, command string, args []string, opts process.SpawnOptions) (*process.Handle, error) {
	return process.Spawn(ctx, s.sess, command, args, opts)
}

// StartLSP opens a language-server connection addressed by id.
func (s *Session) StartLSP(ctx context.Context, id string) (*lsp.Connection, error) {
	return lsp.Start(ctx, s.sess, id)
}

// Health returns the duplex channel's derived health classification.
func (s *Session) Health() HealthState { return s.sess.Health() }

// Dispose releases all adapter subscriptions and closes the channel.
func (s *Session) Dispose() error { return s.sess.Dispose() }
