package fsadapter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/fsadapter"
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

func TestWatchObservesRealFilesystemChanges(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	dir := t.TempDir()
	a := fsadapter.New(sess)

	changes := make(chan fsadapter.FileChange, 8)
	watch, err := a.Watch(context.Background(), dir, nil, func(fc fsadapter.FileChange) {
		changes <- fc
	})
	require.NoError(t, err)
	defer watch.Dispose(context.Background())

	target := filepath.Join(dir, "new-file.txt")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))

	select {
	case fc := <-changes:
		require.Equal(t, target, fc.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch notification")
	}
}

func TestWatchResubscribesOnReconnect(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	dir := t.TempDir()
	a := fsadapter.New(sess)

	changes := make(chan fsadapter.FileChange, 8)
	_, err := a.Watch(context.Background(), dir, nil, func(fc fsadapter.FileChange) {
		changes <- fc
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = sess.Reconnect(ctx)
	require.NoError(t, err)

	target := filepath.Join(dir, "after-reconnect.txt")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))

	select {
	case fc := <-changes:
		require.Equal(t, target, fc.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for post-reconnect watch notification")
	}
}

func TestFindAndSearchRoundTrip(t *testing.T) {
	srv := wstest.New()
	defer srv.Close()
	sess := newTestSession(t, srv)
	defer sess.Dispose()

	a := fsadapter.New(sess)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// wstest's default handler generically acks any unmodeled action with
	// its own args, so Find/Search round-trip through the real wire codec
	// even though the fake server has no search engine behind them.
	_, err := a.Find(ctx, "*.go", nil)
	require.NoError(t, err)

	res, err := a.Search(ctx, "TODO", fsadapter.DefaultSearchOptions(), func(any) bool { return true })
	require.NoError(t, err)
	require.False(t, res.HasMore)
}
