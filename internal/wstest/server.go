// Package wstest implements a fake notebook duplex server for
// end-to-end tests: a real websocket upgrade (grounded on
// ricochet1k-orbitmesh's internal/api/terminal_ws.go), real PTYs for
// terminal.* actions (grounded on chriswa-spaceterm's
// pty-daemon/session.go), and real filesystem watching for fs.watch
// (fsnotify, from ricochet1k-orbitmesh's go.mod). It speaks the same
// wire.Frame encoding the production client does, so tests built on it
// exercise the whole stack down to the socket.
package wstest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bhandras/notebook/internal/wire"
)

// Server is an in-process fake notebook collaborator's duplex endpoint.
type Server struct {
	httpSrv *httptest.Server

	mu    sync.Mutex
	conns map[*conn]struct{}

	// SkipInit, if true, suppresses the automatic notebook.initialized
	// push on connect, for tests that want to drive the handshake
	// themselves.
	SkipInit bool
	// RejectNextUpgrade, when non-zero, closes the next connection
	// immediately after upgrade with that close code, then resets to zero.
	RejectNextUpgrade int
}

// New starts a Server listening on an ephemeral local port.
func New() *Server {
	s := &Server{conns: make(map[*conn]struct{})}

	r := chi.NewRouter()
	r.Get("/", s.handleUpgrade)
	s.httpSrv = httptest.NewServer(r)
	return s
}

// WSURL is the server's ws:// endpoint.
func (s *Server) WSURL() string {
	return "ws" + s.httpSrv.URL[len("http"):]
}

// HTTPURL is the server's http:// base, which doubles as the fake
// notebook's previewUrl in the notebook.initialized push.
func (s *Server) HTTPURL() string {
	return s.httpSrv.URL
}

// Close shuts the server and every active PTY/watcher down.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.closeAll()
	}
	s.httpSrv.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	rejectCode := s.RejectNextUpgrade
	s.RejectNextUpgrade = 0
	s.mu.Unlock()
	if rejectCode != 0 {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(rejectCode, "rejected"), time.Now().Add(time.Second))
		ws.Close()
		return
	}

	c := &conn{
		ws:       ws,
		send:     make(chan wire.Frame, 64),
		terms:    make(map[string]*termProc),
		watchers: make(map[string]*fsnotify.Watcher),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go c.writeLoop()
	if !s.SkipInit {
		c.send <- wire.Frame{Kind: wire.KindEvent, Event: "notebook.initialized", Data: map[string]any{
			"env":        map[string]string{},
			"previewUrl": s.httpSrv.URL,
			"ports":      []any{},
		}}
	}
	c.readLoop()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

type conn struct {
	ws   *websocket.Conn
	send chan wire.Frame

	mu       sync.Mutex
	terms    map[string]*termProc
	watchers map[string]*fsnotify.Watcher
}

type termProc struct {
	ptmx *os.File
	done chan struct{}
}

func (c *conn) writeLoop() {
	for f := range c.send {
		b, err := wire.Encode(f)
		if err != nil {
			continue
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return
		}
	}
}

func (c *conn) readLoop() {
	defer c.closeAll()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		if f.Kind != wire.KindRequest {
			continue
		}
		c.handleRequest(f)
	}
}

func (c *conn) reply(f wire.Frame, data any) {
	c.send <- wire.Frame{Kind: wire.KindEvent, Event: f.ResponseEvent, Data: data}
}

func (c *conn) fail(f wire.Frame, name, message string) {
	c.send <- wire.Frame{Kind: wire.KindEvent, Event: f.ErrorEvent, Data: map[string]any{
		"name": name, "message": message,
	}}
}

func (c *conn) handleRequest(f wire.Frame) {
	switch f.Action {
	case "ping":
		c.reply(f, map[string]any{"pong": true})
	case "terminal.spawn":
		c.handleSpawn(f)
	case "terminal.input":
		c.handleInput(f)
	case "terminal.resize":
		c.handleResize(f)
	case "terminal.close":
		c.handleTermClose(f)
	case "fs.watch":
		c.handleWatch(f)
	case "fs.unwatch":
		c.handleUnwatch(f)
	case "lsp.start":
		c.handleLSPStart(f)
	case "lsp.message":
		c.handleLSPMessage(f)
	case "lsp.close":
		c.handleLSPClose(f)
	default:
		// Generic ack so unmodeled actions (fs.info, fs.write, ...) still
		// resolve in tests that don't care about their effect.
		c.reply(f, f.Data)
	}
}

func argString(data any, key string) string {
	m, _ := data.(map[string]any)
	s, _ := m[key].(string)
	return s
}

func argStringSlice(data any, key string) []string {
	m, _ := data.(map[string]any)
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, _ := e.(string)
			out = append(out, s)
		}
		return out
	}
	return nil
}

func argInt(data any, key string) int {
	m, _ := data.(map[string]any)
	switch v := m[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (c *conn) closeAll() {
	c.mu.Lock()
	terms := c.terms
	c.terms = map[string]*termProc{}
	watchers := c.watchers
	c.watchers = map[string]*fsnotify.Watcher{}
	c.mu.Unlock()

	for _, t := range terms {
		stopPty(t)
	}
	for _, w := range watchers {
		w.Close()
	}
}
