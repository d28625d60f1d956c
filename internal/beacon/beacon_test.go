package beacon_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/beacon"
	"github.com/bhandras/notebook/internal/clock"
)

// fakeChild drives the far end of a MemoryChannel pair, replying to
// requests the way the in-page script would.
type fakeChild struct {
	ch *beacon.MemoryChannel
}

func startFakeChild(ch *beacon.MemoryChannel, respond func(verb string, payload any) (string, any, bool)) *fakeChild {
	c := &fakeChild{ch: ch}
	go func() {
		for raw := range ch.Recv() {
			var msg beacon.Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			verb := msg.Type[len("beacon:"):]
			respVerb, payload, ok := respond(verb, msg.Payload)
			if !ok {
				continue
			}
			reply := beacon.Message{
				Type:      "beacon:" + respVerb,
				Payload:   payload,
				Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
				Source:    beacon.SourceChild,
				ID:        "fake-child-reply",
			}
			out, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			ch.Send(out)
		}
	}()
	return c
}

func TestHandshakeSucceedsWhenChildReplies(t *testing.T) {
	parent, child := beacon.NewMemoryChannelPair()
	startFakeChild(child, func(verb string, payload any) (string, any, bool) {
		if verb == "discover" {
			return "ready", nil, true
		}
		return "", nil, false
	})

	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Handshake(ctx))
}

func TestHandshakeRetriesThenFailsWhenChildNeverReplies(t *testing.T) {
	parent, _ := beacon.NewMemoryChannelPair()
	fc := clock.Fake(time.Now())

	b := beacon.New(beacon.Options{
		Channel:          parent,
		Clock:            fc,
		HandshakeRetries: 2,
		HandshakeMinWait: 10 * time.Millisecond,
		HandshakeMaxWait: 20 * time.Millisecond,
	})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- b.Handshake(ctx) }()

	// sendAndWaitFor's per-attempt timeout is fixed at 5s inside Handshake,
	// so advance the fake clock past it for both attempts, plus the
	// backoff sleep between them.
	for i := 0; i < 4; i++ {
		time.Sleep(10 * time.Millisecond)
		fc.Advance(6 * time.Second)
	}

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not give up in time")
	}
}

func TestPingRoundTrip(t *testing.T) {
	parent, child := beacon.NewMemoryChannelPair()
	startFakeChild(child, func(verb string, payload any) (string, any, bool) {
		switch verb {
		case "discover":
			return "ready", nil, true
		case "ping":
			return "pong", nil, true
		}
		return "", nil, false
	})

	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Handshake(ctx))
	require.NoError(t, b.Ping(ctx))
}

func TestSendAndWaitForRejectsConcurrentCallsForSameVerb(t *testing.T) {
	parent, _ := beacon.NewMemoryChannelPair()
	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- b.Ping(ctx) }()
	time.Sleep(50 * time.Millisecond)

	err := b.Ping(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already outstanding")

	<-errCh
}

func TestExecuteCodeRoundTrip(t *testing.T) {
	parent, child := beacon.NewMemoryChannelPair()
	startFakeChild(child, func(verb string, payload any) (string, any, bool) {
		switch verb {
		case "discover":
			return "ready", nil, true
		case "executeCode":
			m, _ := payload.(map[string]any)
			return "codeExecutionResult", map[string]any{"result": m["code"]}, true
		}
		return "", nil, false
	})

	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Handshake(ctx))

	result, err := b.ExecuteCode(ctx, "1+1")
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1+1", m["result"])
}

func TestNavigatorHistoryTruncatesForwardOnVisit(t *testing.T) {
	parent, _ := beacon.NewMemoryChannelPair()
	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	nav := b.Navigator
	nav.Visit("/a")
	nav.Visit("/b")
	require.True(t, nav.CanGoBack())
	require.False(t, nav.CanGoForward())

	require.True(t, nav.GoBack())
	require.Equal(t, "/a", nav.CurrentURL())
	require.True(t, nav.CanGoForward())

	nav.Visit("/c")
	require.Equal(t, "/c", nav.CurrentURL())
	require.False(t, nav.CanGoForward(), "visiting from a back position truncates the forward tail")
}

func TestNavigatorObserveChildNavigationDeduplicatesSameURL(t *testing.T) {
	parent, child := beacon.NewMemoryChannelPair()
	b := beacon.New(beacon.Options{Channel: parent, Clock: clock.Real()})
	defer b.Close()

	changes := make(chan string, 8)
	b.On("historyChange", func(data any) {
		m, ok := data.(map[string]any)
		if !ok {
			return
		}
		if url, ok := m["url"].(string); ok {
			require.Equal(t, "push", m["direction"])
			changes <- url
		}
	})

	sendURLChange := func(url string) {
		msg := beacon.Message{Type: "beacon:urlChange", Payload: url, Source: beacon.SourceChild, ID: "x"}
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		require.NoError(t, child.Send(raw))
	}

	sendURLChange("/page-1")
	select {
	case url := <-changes:
		require.Equal(t, "/page-1", url)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for historyChange")
	}

	sendURLChange("/page-1")
	select {
	case url := <-changes:
		t.Fatalf("unexpected duplicate historyChange for %q", url)
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(t, "/page-1", b.Navigator.CurrentURL())
}
