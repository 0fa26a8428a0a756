package papersources

import (
	"sort"
	"sync"

	"github.com/helixir/research-aggregation-service/internal/domain"
)

// Registry holds the adapters and request queues wired at startup.
// It provides thread-safe registration and lookup by source tag.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.SourceTag]*Adapter
	queues   map[string]*RequestQueue
}

// NewRegistry creates a new registry with no adapters.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.SourceTag]*Adapter),
		queues:   make(map[string]*RequestQueue),
	}
}

// Register adds an adapter to the registry.
// If an adapter with the same source tag already exists, it will be replaced.
// This method is thread-safe.
func (r *Registry) Register(adapter *Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.SourceType()] = adapter
}

// RegisterQueue tracks a backend request queue for health reporting and teardown.
func (r *Registry) RegisterQueue(q *RequestQueue) {
	if q == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[q.Name()] = q
}

// Get returns the adapter for a source tag, or nil if not registered.
// This method is thread-safe.
func (r *Registry) Get(tag domain.SourceTag) *Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[tag]
}

// Adapters returns all registered adapters in canonical source order.
func (r *Registry) Adapters() []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]*Adapter, 0, len(r.adapters))
	for _, tag := range domain.AllSourceTags() {
		if a, ok := r.adapters[tag]; ok {
			adapters = append(adapters, a)
		}
	}
	return adapters
}

// EnabledTags returns the tags of registered adapters whose source is
// switched on, in canonical order.
func (r *Registry) EnabledTags() []domain.SourceTag {
	adapters := r.Adapters()
	tags := make([]domain.SourceTag, 0, len(adapters))
	for _, a := range adapters {
		if a.IsEnabled() {
			tags = append(tags, a.SourceType())
		}
	}
	return tags
}

// QueueDepths returns the number of waiting requests per queue name.
func (r *Registry) QueueDepths() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	depths := make(map[string]int, len(r.queues))
	for name, q := range r.queues {
		depths[name] = q.Len()
	}
	return depths
}

// ClearQueues discards every queued request on every registered queue and
// returns the total discarded. It is used at shutdown.
func (r *Registry) ClearQueues() int {
	r.mu.RLock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	total := 0
	for _, name := range names {
		r.mu.RLock()
		q := r.queues[name]
		r.mu.RUnlock()
		total += q.ClearQueue()
	}
	return total
}
