// Package beacon implements spec §4.8: the iframe postMessage bridge
// for in-browser preview debugging. Go has no DOM or iframe, so the
// bridge is modeled over an injectable Channel abstraction instead of a
// literal window.postMessage call; production embedders wire Channel to
// whatever message-passing surface they actually have (a webview
// relay, a CDP session, …). The MemoryChannel pair shipped here is for
// tests, grounded on bureau-foundation-bureau's transport/
// signaler_memory.go in-process signaling pattern.
package beacon

// Channel is the minimal duplex byte-message surface the beacon
// protocol runs over.
type Channel interface {
	Send(data []byte) error
	Recv() <-chan []byte
}

// MemoryChannel is an in-process Channel backed by a buffered queue,
// for driving a beacon and its simulated child end without a real
// browser.
type MemoryChannel struct {
	out chan []byte
	in  chan []byte
}

// NewMemoryChannelPair returns two MemoryChannels wired to each other:
// parent.Send is child.Recv, and vice versa.
func NewMemoryChannelPair() (parent, child *MemoryChannel) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	parent = &MemoryChannel{out: a, in: b}
	child = &MemoryChannel{out: b, in: a}
	return parent, child
}

func (m *MemoryChannel) Send(data []byte) error {
	m.out <- data
	return nil
}

func (m *MemoryChannel) Recv() <-chan []byte { return m.in }
