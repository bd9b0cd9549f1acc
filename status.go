package mindsync

import (
	"sync"

	"github.com/mindsentry/mindsync/internal/types"
)

// statusNotifier fans sync-status updates out to UI subscribers. Messages
// are last-write-wins progress strings, never raw errors.
type statusNotifier struct {
	mu        sync.Mutex
	listeners map[int]func(types.Status)
	nextID    int
}

func newStatusNotifier() *statusNotifier {
	return &statusNotifier{listeners: make(map[int]func(types.Status))}
}

func (n *statusNotifier) subscribe(cb func(types.Status)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = cb
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *statusNotifier) notify(st types.Status) {
	n.mu.Lock()
	cbs := make([]func(types.Status), 0, len(n.listeners))
	for _, cb := range n.listeners {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb(st)
	}
}

func (n *statusNotifier) reset() {
	n.mu.Lock()
	n.listeners = make(map[int]func(types.Status))
	n.mu.Unlock()
}
