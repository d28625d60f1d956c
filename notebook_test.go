package notebook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/config"
	"github.com/bhandras/notebook/internal/httpapi"
	"github.com/bhandras/notebook/internal/process"
	"github.com/bhandras/notebook/internal/wstest"
)

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(config.Options{})
	require.Error(t, err)
}

func TestWsURLFromPreviewSchemes(t *testing.T) {
	cases := []struct {
		name, in, want string
		wantErr        bool
	}{
		{"https", "https://notebook.example", "wss://notebook.example", false},
		{"http", "http://notebook.example", "ws://notebook.example", false},
		{"already-ws", "ws://notebook.example", "ws://notebook.example", false},
		{"already-wss", "wss://notebook.example", "wss://notebook.example", false},
		{"unrecognized", "ftp://notebook.example", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := wsURLFromPreview(c.in, "")
			if c.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestWsURLFromPreviewFallsBackToBaseWhenPreviewEmpty(t *testing.T) {
	got, err := wsURLFromPreview("", "http://fallback.example")
	require.NoError(t, err)
	require.Equal(t, "ws://fallback.example", got)
}

func TestWsURLFromPreviewErrorsWithNoInput(t *testing.T) {
	_, err := wsURLFromPreview("", "")
	require.Error(t, err)
}

func TestConnectReadySpawnAgainstFakeServers(t *testing.T) {
	httpSrv := httpapi.NewFakeServer()
	defer httpSrv.Close()

	wsSrv := wstest.New()
	defer wsSrv.Close()

	c, err := New(config.Options{
		BaseURL:            httpSrv.URL(),
		Token:              "tok",
		StartClosed:        true,
		PingInterval:       30 * time.Second,
		MaxRetries:         10,
		RateLimitPerSecond: 50,
		QueueMaxSize:       100,
		QueueMaxAge:        30 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nb, err := c.CreateNotebook(ctx, CreateOptions{Template: "go"})
	require.NoError(t, err)

	// Point the notebook record at the fake duplex server instead of the
	// fake HTTP server's own (non-websocket) URL.
	nb.PreviewURL = wsSrv.HTTPURL()

	sess, err := c.Connect(nb)
	require.NoError(t, err)
	defer sess.Dispose()

	init, err := sess.Ready(ctx)
	require.NoError(t, err)
	require.NotNil(t, init)

	require.Equal(t, Healthy, sess.Health())

	h, err := sess.Spawn(ctx, "/bin/echo", []string{"ok"}, process.SpawnOptions{})
	require.NoError(t, err)
	for range h.Output() {
	}
	select {
	case code := <-h.Exit():
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for spawned process to exit")
	}
}
