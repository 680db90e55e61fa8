package chat

import (
	"context"
	"sync"
)

// inflight tracks the running exchange of each conversation so it can be
// aborted. All methods are safe for concurrent use.
type inflight struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[string]inflightEntry
}

type inflightEntry struct {
	id     uint64
	cancel context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{entries: make(map[string]inflightEntry)}
}

// start registers an exchange for convID. It reports false if one is
// already running. The returned release must be called when the exchange
// ends; it only removes its own registration.
func (r *inflight) start(convID string, cancel context.CancelFunc) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.entries[convID]; busy {
		return nil, false
	}
	r.nextID++
	id := r.nextID
	r.entries[convID] = inflightEntry{id: id, cancel: cancel}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.entries[convID]; ok && e.id == id {
			delete(r.entries, convID)
		}
	}, true
}

// cancel stops the exchange of convID. It reports false when none runs.
// The registration stays until the exchange releases it, so a new Send is
// rejected until the aborted one has persisted its messages.
func (r *inflight) cancel(convID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[convID]
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// active reports whether convID has a running exchange.
func (r *inflight) active(convID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[convID]
	return ok
}
