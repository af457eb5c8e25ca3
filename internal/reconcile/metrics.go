package reconcile

import (
	"context"
	"time"

	"github.com/AdguardTeam/rulesync/internal/rulelimits"
)

// Metrics is an interface that is used for the collection of the
// reconciliation statistics.
type Metrics interface {
	// ObserveApply records the duration and the outcome of a single apply
	// cycle.  err is nil if the cycle has succeeded.
	ObserveApply(ctx context.Context, dur time.Duration, err error)

	// SetLimits sets the rule counts and ceilings after a successful apply.
	// l must not be nil.
	SetLimits(ctx context.Context, l *rulelimits.Limits, activeRules int)

	// IncrementCoalesced increments the number of update requests that have
	// been merged into an already pending one.
	IncrementCoalesced(ctx context.Context)

	// AddRemediated adds n to the number of automatically disabled rules.
	AddRemediated(ctx context.Context, n int)

	// IncrementUnrecovered increments the number of remediation passes that
	// did not resolve all rejections.
	IncrementUnrecovered(ctx context.Context)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveApply implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveApply(_ context.Context, _ time.Duration, _ error) {}

// SetLimits implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) SetLimits(_ context.Context, _ *rulelimits.Limits, _ int) {}

// IncrementCoalesced implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementCoalesced(_ context.Context) {}

// AddRemediated implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) AddRemediated(_ context.Context, _ int) {}

// IncrementUnrecovered implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementUnrecovered(_ context.Context) {}
