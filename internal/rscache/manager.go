package rscache

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Manager keeps the caches of the service and clears them by ID.  It is safe
// for concurrent use.
type Manager struct {
	mu     *sync.Mutex
	caches map[string]Clearer
}

// NewManager returns a new initialized *Manager.
func NewManager() (m *Manager) {
	return &Manager{
		mu:     &sync.Mutex{},
		caches: map[string]Clearer{},
	}
}

// Add adds cache by id.  cache must not be nil and id must be unique.
func (m *Manager) Add(id string, cache Clearer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.caches[id]; ok {
		panic(fmt.Errorf("rscache: cache with id %q already added", id))
	}

	m.caches[id] = cache
}

// ClearByID clears the cache with the given id, if there is one.
func (m *Manager) ClearByID(id string) {
	m.mu.Lock()
	cache := m.caches[id]
	m.mu.Unlock()

	if cache != nil {
		cache.Clear()
	}
}

// IDs returns a sorted list of the stored cache IDs.
func (m *Manager) IDs() (ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Sorted(maps.Keys(m.caches))
}
