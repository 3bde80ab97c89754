package invalidation

import "sync"

// EvictFunc drops a dataset from one cache and reports whether it was held.
type EvictFunc func(dataset string) bool

// Hub fans an invalidation out to every cache that subscribed during startup.
type Hub struct {
	mu   sync.RWMutex
	subs []EvictFunc
}

func NewHub() *Hub { return &Hub{} }

func (h *Hub) Subscribe(fn EvictFunc) {
	h.mu.Lock()
	h.subs = append(h.subs, fn)
	h.mu.Unlock()
}

// Dispatch returns how many caches actually held the dataset.
func (h *Hub) Dispatch(dataset string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, fn := range h.subs {
		if fn(dataset) {
			n++
		}
	}
	return n
}
