// Package netmon is the single source of truth for whether outbound network
// calls are likely to succeed. A Probe is polled on an interval and
// subscribers are notified on every online/offline transition, so the sync
// engine never talks to a platform reachability API directly.
package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is delivered to subscribers on every connectivity transition.
type State struct {
	Connected bool
}

// Monitor is the surface consumed by the sync engine and UI components.
type Monitor interface {
	// Subscribe registers cb for every transition and returns its
	// unsubscribe function. Multiple subscribers each receive every event.
	Subscribe(cb func(State)) (unsubscribe func())

	// IsConnectedNow performs a one-shot reachability check. Probe failures
	// read as offline (fail-closed).
	IsConnectedNow(ctx context.Context) bool

	// UnsubscribeAll tears down every registered listener.
	UnsubscribeAll()
}

// Probe reports current reachability. Errors are treated as offline.
type Probe func(ctx context.Context) (bool, error)

// HTTPProbe builds a Probe that issues a HEAD request against url, typically
// the API health endpoint. Any response at all counts as connected; only
// transport failure means offline.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		_ = resp.Body.Close()
		return true, nil
	}
}

// Watcher polls a Probe and broadcasts transitions. Zero history is kept;
// subscribers see events only.
type Watcher struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	listeners map[int]func(State)
	nextID    int
	last      *bool // nil until the first poll completes

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher constructs a Watcher and starts its polling goroutine.
func NewWatcher(probe Probe, interval time.Duration, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &Watcher{
		probe:     probe,
		interval:  interval,
		timeout:   interval,
		log:       log,
		listeners: make(map[int]func(State)),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Watcher) Subscribe(cb func(State)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = cb
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *Watcher) IsConnectedNow(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	ok, err := w.probe(ctx)
	if err != nil {
		// Fail closed: a stale "assume offline" is safer than a sync storm.
		w.log.Debug().Err(err).Msg("connectivity probe failed, assuming offline")
		return false
	}
	return ok
}

func (w *Watcher) UnsubscribeAll() {
	w.mu.Lock()
	w.listeners = make(map[int]func(State))
	w.mu.Unlock()
}

// Close stops the polling goroutine. Safe to call multiple times.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	connected, err := w.probe(ctx)
	cancel()
	if err != nil {
		connected = false
	}

	w.mu.Lock()
	transition := w.last == nil || *w.last != connected
	w.last = &connected
	var cbs []func(State)
	if transition {
		for _, cb := range w.listeners {
			cbs = append(cbs, cb)
		}
	}
	w.mu.Unlock()

	if !transition {
		return
	}
	w.log.Info().Bool("connected", connected).Msg("connectivity transition")
	for _, cb := range cbs {
		cb(State{Connected: connected})
	}
}
