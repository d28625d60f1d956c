package wstest

import "github.com/bhandras/notebook/internal/wire"

// handleLSPStart just acks; the fake server has no real language
// server behind it, only enough plumbing to exercise the client's
// multiplexing.
func (c *conn) handleLSPStart(f wire.Frame) {
	c.reply(f, nil)
}

// handleLSPMessage echoes the payload back on lsp.response.<id>, so
// tests can assert a round trip without a real language server.
func (c *conn) handleLSPMessage(f wire.Frame) {
	id := argString(f.Data, "id")
	payload := argString(f.Data, "payload")
	c.send <- wire.Frame{Kind: wire.KindEvent, Event: "lsp.response." + id, Data: payload}
	c.reply(f, nil)
}

func (c *conn) handleLSPClose(f wire.Frame) {
	id := argString(f.Data, "id")
	c.send <- wire.Frame{Kind: wire.KindEvent, Event: "lsp.closed." + id, Data: nil}
	c.reply(f, nil)
}
