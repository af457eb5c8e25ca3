package metrics

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/rulesync/internal/confbuild"
	"github.com/prometheus/client_golang/prometheus"
)

// ConfBuild is the Prometheus-based implementation of the [confbuild.Metrics]
// interface.
type ConfBuild struct {
	// cacheHits is a counter of the lookups of the custom filter payload cache
	// that returned the cached payload.
	cacheHits prometheus.Counter

	// cacheMisses is a counter of the lookups of the custom filter payload
	// cache that required fetching the content from the storage.
	cacheMisses prometheus.Counter
}

// NewConfBuild registers the configuration builder metrics in reg and returns a
// properly initialized *ConfBuild.
func NewConfBuild(namespace string, reg prometheus.Registerer) (m *ConfBuild, err error) {
	const cacheLookups = "custom_cache_lookups_total"

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      cacheLookups,
		Namespace: namespace,
		Subsystem: subsystemConfBuild,
		Help: "The number of custom filter payload cache lookups. " +
			"Label hit is 1 if the cached payload was used.",
	}, []string{"hit"})

	err = reg.Register(lookups)
	if err != nil {
		return nil, fmt.Errorf("registering metrics %q: %w", cacheLookups, err)
	}

	return &ConfBuild{
		cacheHits:   lookups.WithLabelValues("1"),
		cacheMisses: lookups.WithLabelValues("0"),
	}, nil
}

// type check
var _ confbuild.Metrics = (*ConfBuild)(nil)

// IncrementCustomCacheLookups implements the [confbuild.Metrics] interface for
// *ConfBuild.
func (m *ConfBuild) IncrementCustomCacheLookups(_ context.Context, hit bool) {
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
