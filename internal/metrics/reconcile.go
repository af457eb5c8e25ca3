package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile is the Prometheus-based implementation of the [reconcile.Metrics]
// interface.
type Reconcile struct {
	// applyDuration is a histogram with the durations of the apply cycles.
	applyDuration prometheus.Observer

	// appliesSuccess is a counter of the successful apply cycles.
	appliesSuccess prometheus.Counter

	// appliesError is a counter of the failed apply cycles.
	appliesError prometheus.Counter

	// activeRules is a gauge with the number of active rules.
	activeRules prometheus.Gauge

	// ruleCounts is a gauge vector with the rule counts per category.
	ruleCounts *prometheus.GaugeVec

	// ruleCeilings is a gauge vector with the rule ceilings per category.
	ruleCeilings *prometheus.GaugeVec

	// limitsExceeded is a gauge vector that is 1 if the category exceeds its
	// ceiling.
	limitsExceeded *prometheus.GaugeVec

	// coalesced is a counter of the update requests that have been coalesced
	// into a pending one.
	coalesced prometheus.Counter

	// remediated is a counter of the user rules disabled by remediation.
	remediated prometheus.Counter

	// unrecovered is a counter of the remediation passes that left rejected
	// rules.
	unrecovered prometheus.Counter
}

// NewReconcile registers the reconciliation controller metrics in reg and
// returns a properly initialized *Reconcile.
func NewReconcile(namespace string, reg prometheus.Registerer) (m *Reconcile, err error) {
	const (
		applyDuration  = "apply_duration_seconds"
		applies        = "applies_total"
		activeRules    = "active_rules"
		ruleCounts     = "rules"
		ruleCeilings   = "rule_ceilings"
		limitsExceeded = "limits_exceeded"
		coalesced      = "coalesced_requests_total"
		remediated     = "remediated_rules_total"
		unrecovered    = "unrecovered_rejections_total"
	)

	applyDurationHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:      applyDuration,
		Namespace: namespace,
		Subsystem: subsystemReconcile,
		Help:      "Time elapsed on a single apply cycle.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
	})

	appliesCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      applies,
		Namespace: namespace,
		Subsystem: subsystemReconcile,
		Help:      "The number of apply cycles.  Label is_success is 1 if the cycle succeeded.",
	}, []string{"is_success"})

	m = &Reconcile{
		applyDuration:  applyDurationHist,
		appliesSuccess: appliesCounter.WithLabelValues("1"),
		appliesError:   appliesCounter.WithLabelValues("0"),
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:      activeRules,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The number of active rules after the last successful apply.",
		}),
		ruleCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      ruleCounts,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The number of rules in the last applied configuration by category.",
		}, []string{"category"}),
		ruleCeilings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      ruleCeilings,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The maximum number of rules by category.",
		}, []string{"category"}),
		limitsExceeded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:      limitsExceeded,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "Equals 1 if the category exceeds its ceiling.",
		}, []string{"category"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      coalesced,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The number of update requests coalesced into a pending one.",
		}),
		remediated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      remediated,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The number of user rules disabled after being rejected.",
		}),
		unrecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:      unrecovered,
			Namespace: namespace,
			Subsystem: subsystemReconcile,
			Help:      "The number of remediation passes that left rejected rules.",
		}),
	}

	var errs []error
	collectors := container.KeyValues[string, prometheus.Collector]{{
		Key:   applyDuration,
		Value: applyDurationHist,
	}, {
		Key:   applies,
		Value: appliesCounter,
	}, {
		Key:   activeRules,
		Value: m.activeRules,
	}, {
		Key:   ruleCounts,
		Value: m.ruleCounts,
	}, {
		Key:   ruleCeilings,
		Value: m.ruleCeilings,
	}, {
		Key:   limitsExceeded,
		Value: m.limitsExceeded,
	}, {
		Key:   coalesced,
		Value: m.coalesced,
	}, {
		Key:   remediated,
		Value: m.remediated,
	}, {
		Key:   unrecovered,
		Value: m.unrecovered,
	}}

	for _, c := range collectors {
		err = reg.Register(c.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("registering metrics %q: %w", c.Key, err))
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// type check
var _ reconcile.Metrics = (*Reconcile)(nil)

// ObserveApply implements the [reconcile.Metrics] interface for *Reconcile.
func (m *Reconcile) ObserveApply(_ context.Context, dur time.Duration, err error) {
	m.applyDuration.Observe(dur.Seconds())

	if err == nil {
		m.appliesSuccess.Inc()
	} else {
		m.appliesError.Inc()
	}
}

// SetLimits implements the [reconcile.Metrics] interface for *Reconcile.
func (m *Reconcile) SetLimits(_ context.Context, l *rulelimits.Limits, activeRules int) {
	m.activeRules.Set(float64(activeRules))

	for _, cat := range rulelimits.Categories {
		c := l.Count(cat)
		name := cat.String()

		m.ruleCounts.WithLabelValues(name).Set(float64(c.Value))
		m.ruleCeilings.WithLabelValues(name).Set(float64(c.Ceiling))
		m.limitsExceeded.WithLabelValues(name).Set(boolToFloat(c.Exceeded()))
	}
}

// IncrementCoalesced implements the [reconcile.Metrics] interface for
// *Reconcile.
func (m *Reconcile) IncrementCoalesced(_ context.Context) {
	m.coalesced.Inc()
}

// AddRemediated implements the [reconcile.Metrics] interface for *Reconcile.
func (m *Reconcile) AddRemediated(_ context.Context, n int) {
	m.remediated.Add(float64(n))
}

// IncrementUnrecovered implements the [reconcile.Metrics] interface for
// *Reconcile.
func (m *Reconcile) IncrementUnrecovered(_ context.Context) {
	m.unrecovered.Inc()
}
