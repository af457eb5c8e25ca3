// Package notify contains the observer notification channel of the
// reconciliation controller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
)

// EventType is the type of a notification event.
type EventType uint8

// EventType values.
const (
	// EventTypeRulesUpdated means that the active rule set has changed after a
	// successful apply.
	EventTypeRulesUpdated EventType = iota + 1

	// EventTypeLimitsExceeded means that the rule ceilings have become
	// exceeded, or the set of exceeded categories has changed.
	EventTypeLimitsExceeded

	// EventTypeUnrecoveredRejection means that the runtime still rejects user
	// rules after a remediation pass.
	EventTypeUnrecoveredRejection
)

// String implements the [fmt.Stringer] interface for EventType.
func (t EventType) String() (s string) {
	switch t {
	case EventTypeRulesUpdated:
		return "rules_updated"
	case EventTypeLimitsExceeded:
		return "limits_exceeded"
	case EventTypeUnrecoveredRejection:
		return "unrecovered_rejection"
	default:
		return fmt.Sprintf("!bad_event_type_%d", uint8(t))
	}
}

// Event is a single notification.  Observers must not modify it.
type Event struct {
	// Limits are the rule limits after the apply.  It is nil for
	// [EventTypeUnrecoveredRejection].
	Limits *rulelimits.Limits

	// Rejected are the user rules still rejected.  It is only set for
	// [EventTypeUnrecoveredRejection].
	Rejected []filter.RuleText

	// Revision is the revision of the registry snapshot that has been applied.
	Revision uint64

	// ActiveRules is the number of active rules after the apply.
	ActiveRules int

	// Type is the type of the event.
	Type EventType
}

// Observer receives the notifications.
type Observer interface {
	// Observe handles the event.  e must not be nil and must not be modified.
	Observe(ctx context.Context, e *Event)
}

// ObserverFunc is a function that implements the [Observer] interface.
type ObserverFunc func(ctx context.Context, e *Event)

// type check
var _ Observer = ObserverFunc(nil)

// Observe implements the [Observer] interface for ObserverFunc.
func (f ObserverFunc) Observe(ctx context.Context, e *Event) {
	f(ctx, e)
}

// Notifier sends the notifications to the observers.
type Notifier interface {
	// Notify sends e to all observers.  It must not block.  e must not be nil.
	Notify(ctx context.Context, e *Event)
}

// Broadcaster is a [Notifier] that delivers every event to each subscribed
// observer in a separate goroutine.  The order of the delivery is unspecified
// and a panicking observer doesn't affect other observers or the caller.
type Broadcaster struct {
	logger *slog.Logger

	// mu protects observers.
	mu        *sync.RWMutex
	observers []Observer

	// wg tracks the running deliveries.
	wg *sync.WaitGroup
}

// NewBroadcaster returns a new properly initialized *Broadcaster.  logger is
// used to report panics of the observers and must not be nil.
func NewBroadcaster(logger *slog.Logger) (b *Broadcaster) {
	return &Broadcaster{
		logger: logger,
		mu:     &sync.RWMutex{},
		wg:     &sync.WaitGroup{},
	}
}

// Subscribe adds o to the observers.  o must not be nil.
func (b *Broadcaster) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers = append(b.observers, o)
}

// type check
var _ Notifier = (*Broadcaster)(nil)

// Notify implements the [Notifier] interface for *Broadcaster.  The observers
// receive a context that isn't canceled together with ctx.
func (b *Broadcaster) Notify(ctx context.Context, e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, o := range b.observers {
		b.wg.Add(1)
		go b.deliver(ctx, o, e)
	}
}

// deliver sends e to o and recovers from its panics.
func (b *Broadcaster) deliver(ctx context.Context, o Observer, e *Event) {
	defer b.wg.Done()
	defer slogutil.RecoverAndLog(ctx, b.logger)

	o.Observe(ctx, e)
}

// Wait blocks until all current deliveries are finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// LogObserver is an [Observer] that logs the events.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver returns a new *LogObserver.  logger must not be nil.
func NewLogObserver(logger *slog.Logger) (o *LogObserver) {
	return &LogObserver{
		logger: logger,
	}
}

// type check
var _ Observer = (*LogObserver)(nil)

// Observe implements the [Observer] interface for *LogObserver.
func (o *LogObserver) Observe(ctx context.Context, e *Event) {
	switch e.Type {
	case EventTypeLimitsExceeded:
		o.logger.WarnContext(ctx, "rule limits exceeded", "limits", e.Limits)
	case EventTypeUnrecoveredRejection:
		o.logger.ErrorContext(ctx, "rules still rejected", "rules", e.Rejected)
	default:
		o.logger.InfoContext(
			ctx,
			"rules updated",
			"revision", e.Revision,
			"active", e.ActiveRules,
		)
	}
}
