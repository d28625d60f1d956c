package lsp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/lsp"
	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/socket"
	"github.com/bhandras/notebook/internal/transport"
	"github.com/bhandras/notebook/internal/wstest"
)

func newTestSession(t *testing.T, srv *wstest.Server) *session.Session {
	t.Helper()
	sock := socket.New(socket.Options{URL: srv.WSURL(), StartClosed: true})
	tr := transport.New(transport.Options{Socket: sock})
	sess := session.New(tr)
	_, err := sess.Ready(context.Background())
	require.NoError(t, err)
	return sess
}

func TestMessageRoundTrips(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := lsp.Start(ctx, sess, "main-ts")
	require.NoError(t, err)

	received := make(chan string, 1)
	conn.OnMessage(func(payload string) { received <- payload })

	require.NoError(t, conn.Message(ctx, `{"jsonrpc":"2.0","method":"initialize"}`))

	select {
	case payload := <-received:
		require.Equal(t, `{"jsonrpc":"2.0","method":"initialize"}`, payload)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lsp response")
	}
}

func TestCloseFiresOnClosedAndReleasesSubs(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := lsp.Start(ctx, sess, "closed-id")
	require.NoError(t, err)

	closed := make(chan struct{})
	conn.OnClosed(func() { close(closed) })

	require.NoError(t, conn.Close(ctx))

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for onClosed callback")
	}

	bus := sess.Transport().Bus()
	for _, topic := range []string{"lsp.response.closed-id", "lsp.closed.closed-id", "lsp.error.closed-id"} {
		require.Zero(t, bus.ListenerCount(topic), topic)
	}
}
