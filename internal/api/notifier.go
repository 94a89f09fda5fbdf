package api

import (
	"sync"
)

// ExpiryNotifier is a single-slot registration point for the
// session-expired signal. Register replaces any previously registered
// callback; firing with no callback registered is a no-op.
//
// It decouples the transport layer from application state: the pipeline
// only knows how to fire the slot, the app shell decides what session
// loss means.
type ExpiryNotifier struct {
	mu       sync.Mutex
	callback func()
}

func NewExpiryNotifier() *ExpiryNotifier {
	return &ExpiryNotifier{}
}

// Register sets the active callback. At most one callback is active at a
// time, this is intentionally not a pub/sub bus.
func (n *ExpiryNotifier) Register(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callback = fn
}

func (n *ExpiryNotifier) fire() {
	n.mu.Lock()
	fn := n.callback
	n.mu.Unlock()

	if fn != nil {
		fn()
	}
}
