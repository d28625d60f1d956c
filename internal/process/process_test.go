package process_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/process"
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

func TestSpawnCollectsOutputAndExit(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := process.Spawn(ctx, sess, "/bin/echo", []string{"hello-notebook"}, process.SpawnOptions{})
	require.NoError(t, err)

	var collected []byte
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case chunk, ok := <-h.Output():
			if !ok {
				break loop
			}
			collected = append(collected, chunk.Bytes...)
		case <-timeout:
			t.Fatal("timed out waiting for output/close")
		}
	}
	require.Contains(t, string(collected), "hello-notebook")

	select {
	case code := <-h.Exit():
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit code")
	}
}

func TestSpawnWithAlreadyAbortedSignalSkipsOutput(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx := context.Background()
	aborted := make(chan struct{})
	close(aborted)

	h, err := process.Spawn(ctx, sess, "/bin/sleep", []string{"5"}, process.SpawnOptions{AbortSignal: aborted})
	require.NoError(t, err)

	_, ok := <-h.Output()
	require.False(t, ok, "output channel should already be closed")

	select {
	case code := <-h.Exit():
		require.Equal(t, -1, code)
	case <-time.After(time.Second):
		t.Fatal("expected synthetic exit code immediately")
	}
}

func TestKillTerminatesProcess(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := process.Spawn(ctx, sess, "/bin/sleep", []string{"30"}, process.SpawnOptions{})
	require.NoError(t, err)

	require.NoError(t, h.Kill(ctx))

	select {
	case <-h.Exit():
	case <-time.After(5 * time.Second):
		t.Fatal("expected exit after Kill")
	}
}
