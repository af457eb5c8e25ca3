package confbuild

import "context"

// Metrics is the interface for metrics of the configuration builder.
type Metrics interface {
	// IncrementCustomCacheLookups increments the number of lookups of the
	// custom filter payload cache.  hit is true if the cached payload has been
	// used.
	IncrementCustomCacheLookups(ctx context.Context, hit bool)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// IncrementCustomCacheLookups implements the [Metrics] interface for
// EmptyMetrics.
func (EmptyMetrics) IncrementCustomCacheLookups(_ context.Context, _ bool) {}
