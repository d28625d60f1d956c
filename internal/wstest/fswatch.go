package wstest

import (
	"github.com/fsnotify/fsnotify"

	"github.com/bhandras/notebook/internal/wire"
)

func (c *conn) handleWatch(f wire.Frame) {
	path := argString(f.Data, "path")

	c.mu.Lock()
	_, already := c.watchers[path]
	c.mu.Unlock()
	if already {
		c.reply(f, nil)
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.fail(f, "Unavailable", err.Error())
		return
	}
	if err := w.Add(path); err != nil {
		w.Close()
		c.fail(f, "FileNotFound", err.Error())
		return
	}

	c.mu.Lock()
	c.watchers[path] = w
	c.mu.Unlock()

	go c.pumpWatch(path, w)
	c.reply(f, nil)
}

func (c *conn) pumpWatch(path string, w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			c.send <- wire.Frame{Kind: wire.KindEvent, Event: "fs.watch." + path, Data: map[string]any{
				"type":   changeType(ev.Op),
				"path":   ev.Name,
				"isFile": true,
				"exists": ev.Op&fsnotify.Remove == 0,
			}}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

func changeType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "Added"
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return "Deleted"
	default:
		return "Updated"
	}
}

func (c *conn) handleUnwatch(f wire.Frame) {
	path := argString(f.Data, "path")

	c.mu.Lock()
	w, ok := c.watchers[path]
	delete(c.watchers, path)
	c.mu.Unlock()
	if ok {
		w.Close()
	}
	c.reply(f, nil)
}
