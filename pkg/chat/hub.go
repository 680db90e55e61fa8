package chat

import (
	"sync"

	"github.com/rhuss/alpha/pkg/api"
	"github.com/rhuss/alpha/pkg/debug"
)

// Hub fans out messages_added notifications to the subscribers of a
// tenant. Slow subscribers miss notifications rather than block the
// publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan api.MessagesAdded]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan api.MessagesAdded]struct{}{}}
}

// Subscribe registers a subscriber for tenant with a buffer of buf
// notifications. The returned function unsubscribes and closes the
// channel; it is safe to call more than once.
func (h *Hub) Subscribe(tenant string, buf int) (<-chan api.MessagesAdded, func()) {
	ch := make(chan api.MessagesAdded, buf)
	h.mu.Lock()
	if _, ok := h.subs[tenant]; !ok {
		h.subs[tenant] = map[chan api.MessagesAdded]struct{}{}
	}
	h.subs[tenant][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[tenant]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(h.subs, tenant)
				}
			}
		})
	}
}

// Publish delivers ev to every subscriber of tenant.
func (h *Hub) Publish(tenant string, ev api.MessagesAdded) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[tenant] {
		select {
		case ch <- ev:
		default:
			debug.Log("transport", "subscriber full, notification dropped", "conversation", ev.ConversationID)
		}
	}
}

// Subscribers returns the number of subscribers of tenant.
func (h *Hub) Subscribers(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenant])
}
