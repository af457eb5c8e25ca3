// Package rscache contains the cache interfaces, the LRU implementation used to
// keep prepared filter payloads, and a manager that allows clearing the caches
// by ID.
package rscache

// Interface is the cache interface.
type Interface[K, T any] interface {
	// Clearer completely clears cache.
	Clearer

	// Set sets key and val as cache pair.
	Set(key K, val T)

	// Get gets val from the cache using key.
	Get(key K) (val T, ok bool)

	// Len returns the number of items in the cache.
	Len() (n int)
}

// Clearer is a partial cache interface.
type Clearer interface {
	// Clear completely clears cache.
	Clear()
}

// Empty is an [Interface] implementation that does nothing.
type Empty[K, T any] struct{}

// type check
var _ Interface[any, any] = Empty[any, any]{}

// Set implements the [Interface] interface for Empty.
func (Empty[K, T]) Set(_ K, _ T) {}

// Get implements the [Interface] interface for Empty.
func (Empty[K, T]) Get(_ K) (val T, ok bool) {
	return val, false
}

// Clear implements the [Interface] interface for Empty.
func (Empty[K, T]) Clear() {}

// Len implements the [Interface] interface for Empty.
func (Empty[K, T]) Len() (n int) {
	return 0
}
