package wstest

import (
	"os/exec"

	"github.com/creack/pty"

	"github.com/bhandras/notebook/internal/wire"
)

func (c *conn) handleSpawn(f wire.Frame) {
	id := argString(f.Data, "id")
	command := argString(f.Data, "command")
	args := argStringSlice(f.Data, "args")

	cmd := exec.Command(command, args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		c.fail(f, "SpawnFailed", err.Error())
		return
	}

	t := &termProc{ptmx: ptmx, done: make(chan struct{})}
	c.mu.Lock()
	c.terms[id] = t
	c.mu.Unlock()

	go c.pumpOutput(id, t)
	go c.awaitExit(id, cmd, t)

	c.reply(f, map[string]any{"id": id})
}

func (c *conn) pumpOutput(id string, t *termProc) {
	buf := make([]byte, 4096)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			c.send <- wire.Frame{Kind: wire.KindEvent, Event: "terminal.output." + id, Data: out}
		}
		if err != nil {
			return
		}
	}
}

func (c *conn) awaitExit(id string, cmd *exec.Cmd, t *termProc) {
	err := cmd.Wait()
	close(t.done)
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}
	c.send <- wire.Frame{Kind: wire.KindEvent, Event: "terminal.close." + id, Data: map[string]any{"exitCode": int64(exitCode)}}

	c.mu.Lock()
	delete(c.terms, id)
	c.mu.Unlock()
}

func (c *conn) handleInput(f wire.Frame) {
	id := argString(f.Data, "id")
	m, _ := f.Data.(map[string]any)
	data, _ := m["input"].([]byte)

	c.mu.Lock()
	t, ok := c.terms[id]
	c.mu.Unlock()
	if !ok {
		c.fail(f, "FileNotFound", "no such terminal: "+id)
		return
	}
	if _, err := t.ptmx.Write(data); err != nil {
		c.fail(f, "Unavailable", err.Error())
		return
	}
	c.reply(f, nil)
}

func (c *conn) handleResize(f wire.Frame) {
	id := argString(f.Data, "id")
	cols := argInt(f.Data, "cols")
	rows := argInt(f.Data, "rows")

	c.mu.Lock()
	t, ok := c.terms[id]
	c.mu.Unlock()
	if !ok {
		c.fail(f, "FileNotFound", "no such terminal: "+id)
		return
	}
	_ = pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	c.reply(f, nil)
}

func (c *conn) handleTermClose(f wire.Frame) {
	id := argString(f.Data, "id")

	c.mu.Lock()
	t, ok := c.terms[id]
	delete(c.terms, id)
	c.mu.Unlock()
	if !ok {
		c.reply(f, nil)
		return
	}
	stopPty(t)
	c.reply(f, nil)
}

func stopPty(t *termProc) {
	t.ptmx.Close()
}
