// Package lsp implements spec §4.7: per-session-id LSP connections
// multiplexed on the same transport, addressed by a caller-chosen id.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bhandras/notebook/internal/eventbus"
	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/transport"
)

// Connection is one caller-addressed LSP session.
type Connection struct {
	ID   string
	sess *session.Session

	onMessage func(payload string)
	onClosed  func()
	onError   func(err any)

	respSub  eventbus.Disposable
	closeSub eventbus.Disposable
	errSub   eventbus.Disposable
}

// Start opens an LspConnection for id; the caller chooses id and it
// must be unique per notebook (spec §3's invariant).
func Start(ctx context.Context, sess *session.Session, id string) (*Connection, error) {
	c := &Connection{ID: id, sess: sess}

	c.respSub = sess.Listen("lsp.response."+id, func(data any) {
		if c.onMessage != nil {
			if s, ok := data.(string); ok {
				c.onMessage(s)
			}
		}
	})
	c.closeSub = sess.Listen("lsp.closed."+id, func(any) {
		if c.onClosed != nil {
			c.onClosed()
		}
		c.releaseSubs()
	})
	c.errSub = sess.Listen("lsp.error."+id, func(data any) {
		if c.onError != nil {
			c.onError(data)
		}
	})

	if _, err := sess.Invoke(ctx, "lsp.start", map[string]any{"id": id}, transport.CallOptions{}); err != nil {
		c.releaseSubs()
		return nil, err
	}
	return c, nil
}

// OnMessage registers the handler invoked for each lsp.response.<id>.
func (c *Connection) OnMessage(fn func(payload string)) { c.onMessage = fn }

// OnClosed registers the handler invoked on lsp.closed.<id>.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

// OnError registers the handler invoked on lsp.error.<id>.
func (c *Connection) OnError(fn func(err any)) { c.onError = fn }

// Message sends one JSON-RPC payload string over lsp.message. The
// payload itself is forwarded opaquely; only its outer structure is
// validated so a malformed call fails locally instead of on the server.
func (c *Connection) Message(ctx context.Context, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("lsp: payload for %q is not valid JSON", c.ID)
	}
	_, err := c.sess.Invoke(ctx, "lsp.message", map[string]any{
		"id": c.ID, "payload": payload,
	}, transport.CallOptions{})
	return err
}

// Close forwards the connection's dispose to lsp.close.
func (c *Connection) Close(ctx context.Context) error {
	_, err := c.sess.Invoke(ctx, "lsp.close", map[string]any{"id": c.ID}, transport.CallOptions{})
	c.releaseSubs()
	return err
}

func (c *Connection) releaseSubs() {
	if c.respSub != nil {
		c.respSub.Dispose()
		c.respSub = nil
	}
	if c.closeSub != nil {
		c.closeSub.Dispose()
		c.closeSub = nil
	}
	if c.errSub != nil {
		c.errSub.Dispose()
		c.errSub = nil
	}
}
