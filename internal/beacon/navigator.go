package beacon

import (
	"sync"
	"time"

	"github.com/bhandras/notebook/internal/clock"
	"github.com/bhandras/notebook/internal/eventbus"
)

// Navigator tracks the child iframe's URL history on the parent side,
// since the parent cannot read the iframe's window.history directly.
// It mirrors child-initiated navigations (via urlChange pushes) and
// supports parent-initiated navigation requests.
type Navigator struct {
	bus *eventbus.Bus
	clk clock.Clock

	mu      sync.Mutex
	history []string
	index   int // current position in history
}

func newNavigator(bus *eventbus.Bus, clk clock.Clock) *Navigator {
	return &Navigator{
		bus:     bus,
		clk:     clk,
		history: []string{""},
		index:   0,
	}
}

func (n *Navigator) now() int64 {
	return n.clk.Now().UnixNano() / int64(time.Millisecond)
}

// CurrentURL returns the URL the navigator believes the child is on.
func (n *Navigator) CurrentURL() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history[n.index]
}

// CanGoBack reports whether Back has anywhere to go.
func (n *Navigator) CanGoBack() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index > 0
}

// CanGoForward reports whether Forward has anywhere to go.
func (n *Navigator) CanGoForward() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index < len(n.history)-1
}

// Visit records a parent-initiated navigation to url, truncating any
// forward history past the current position.
func (n *Navigator) Visit(url string) {
	n.mu.Lock()
	n.history = append(n.history[:n.index+1], url)
	n.index = len(n.history) - 1
	n.mu.Unlock()
	n.emitHistory(url, "push")
	n.emitState()
}

// GoBack moves one step back in history, if possible.
func (n *Navigator) GoBack() bool {
	n.mu.Lock()
	if n.index == 0 {
		n.mu.Unlock()
		return false
	}
	n.index--
	url := n.history[n.index]
	n.mu.Unlock()
	n.emitHistory(url, "back")
	n.emitState()
	return true
}

// GoForward moves one step forward in history, if possible.
func (n *Navigator) GoForward() bool {
	n.mu.Lock()
	if n.index >= len(n.history)-1 {
		n.mu.Unlock()
		return false
	}
	n.index++
	url := n.history[n.index]
	n.mu.Unlock()
	n.emitHistory(url, "forward")
	n.emitState()
	return true
}

// Reload re-emits navigationStateChange for the current position; the
// history and its position are left unchanged.
func (n *Navigator) Reload() {
	n.emitState()
}

// observeChildNavigation records a navigation the child performed on
// its own (e.g. an in-app link click), pushing it onto history exactly
// like a parent-initiated Visit so CanGoBack/CanGoForward stay correct.
func (n *Navigator) observeChildNavigation(url string) {
	n.mu.Lock()
	if n.history[n.index] == url {
		n.mu.Unlock()
		return
	}
	n.history = append(n.history[:n.index+1], url)
	n.index = len(n.history) - 1
	n.mu.Unlock()
	n.emitHistory(url, "push")
	n.emitState()
}

func (n *Navigator) emitHistory(url, direction string) {
	n.bus.Emit("historyChange", map[string]any{
		"url":       url,
		"direction": direction,
		"timestamp": n.now(),
	})
}

func (n *Navigator) emitState() {
	n.mu.Lock()
	currentIndex := n.index
	historyLength := len(n.history)
	n.mu.Unlock()
	n.bus.Emit("navigationStateChange", map[string]any{
		"canGoBack":     n.CanGoBack(),
		"canGoForward":  n.CanGoForward(),
		"currentIndex":  currentIndex,
		"historyLength": historyLength,
		"timestamp":     n.now(),
	})
}
