package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/session"
	"github.com/bhandras/notebook/internal/socket"
	"github.com/bhandras/notebook/internal/transport"
	"github.com/bhandras/notebook/internal/wstest"
)

func newTestSession(t *testing.T, srv *wstest.Server) *session.Session {
	t.Helper()
	sock := socket.New(socket.Options{URL: srv.WSURL(), StartClosed: true})
	tr := transport.New(transport.Options{Socket: sock})
	return session.New(tr)
}

func TestSessionReadyResolvesWithInitPayload(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()

	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	init, err := sess.Ready(ctx)
	require.NoError(t, err)
	require.NotNil(t, init)
	require.Equal(t, srv.HTTPURL(), init.PreviewURL)
}

func TestSessionReadyCoalescesConcurrentCallers(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()

	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := sess.Ready(ctx)
			results <- err
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-results)
	}
}

type resubCall struct{ n int }

func (r *resubCall) Resubscribe(ctx context.Context) error {
	r.n++
	return nil
}

func TestSessionReconnectRerunsResubscribers(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()

	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := sess.Ready(ctx)
	require.NoError(t, err)

	r := &resubCall{}
	sess.RegisterResubscriber(r)

	_, err = sess.Reconnect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r.n)
}
