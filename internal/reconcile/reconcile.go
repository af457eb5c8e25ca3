// Package reconcile contains the reconciliation controller, which serializes
// and debounces the update requests and drives the configuration from the
// registry into the runtime.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/notify"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"golang.org/x/time/rate"
)

// State is the state of the controller.
type State uint8

// State values.
const (
	// StateIdle means that there are no pending requests and no apply is in
	// flight.
	StateIdle State = iota

	// StatePendingApply means that a request is queued and the debounce
	// window has not elapsed yet.
	StatePendingApply

	// StateApplying means that a build and apply cycle is in flight.
	StateApplying

	// StateRemediating means that the rejected user rules of the last apply
	// are being disabled.
	StateRemediating
)

// String implements the [fmt.Stringer] interface for State.
func (s State) String() (str string) {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingApply:
		return "pending_apply"
	case StateApplying:
		return "applying"
	case StateRemediating:
		return "remediating"
	default:
		return fmt.Sprintf("!bad_state_%d", uint8(s))
	}
}

// UpdateOptions are the options of a single update request.
type UpdateOptions struct {
	// SkipLimitsCheck, if true, disables the limits-exceeded notification for
	// the apply that covers this request.  If several requests are coalesced,
	// the check is only skipped if all of them skip it.
	SkipLimitsCheck bool
}

// Snapshotter returns the snapshots of the filter registry.
type Snapshotter interface {
	// Snapshot returns the current state of the registry.  snap must not be
	// modified.
	Snapshot() (snap *registry.Snapshot)
}

// Builder builds the configurations from the registry snapshots.
type Builder interface {
	// Build returns the configuration for snap.  snap must not be nil.
	Build(ctx context.Context, snap *registry.Snapshot) (c *filter.Configuration, err error)
}

// Remediator disables the rejected rules.
type Remediator interface {
	// Remediate disables the rules from errs that were a part of applied and
	// returns the disabled lines.  applied must not be nil.
	Remediate(
		ctx context.Context,
		errs []*filter.RuleError,
		applied *filter.Configuration,
	) (removed []filter.RuleText)
}

// Config is the configuration structure for the controller.
type Config struct {
	// Logger is used to log the cycles of the controller.  It must not be
	// nil.
	Logger *slog.Logger

	// Clock is used to measure the duration of apply cycles.  It must not be
	// nil.
	Clock timeutil.Clock

	// ErrColl is used to collect the failed cycles and the unrecovered
	// rejections.  It must not be nil.
	ErrColl errcoll.Interface

	// Metrics is used for the collection of the reconciliation statistics.  It
	// must not be nil.
	Metrics Metrics

	// Registry is the source of the filter state.  It must not be nil.
	Registry Snapshotter

	// Builder builds the configurations.  It must not be nil.
	Builder Builder

	// Runtime applies the configurations.  It must not be nil.
	Runtime filter.Runtime

	// Remediator disables the rejected user rules.  It must not be nil.
	Remediator Remediator

	// Tracker receives the limits of every successful apply.  It must not be
	// nil.
	Tracker *rulelimits.Tracker

	// Notifier receives the events.  It must not be nil.
	Notifier notify.Notifier

	// Scheduler is used for the debounce timer.  It must not be nil.
	Scheduler Scheduler

	// Debounce is the quiet period after the last request before an apply
	// starts.  It must not be negative.
	Debounce time.Duration

	// UnrecoveredReportInterval is the minimum interval between two
	// unrecovered-rejection reports sent to ErrColl.  It must be positive.
	UnrecoveredReportInterval time.Duration
}

// Controller is the reconciliation controller.  Only one apply cycle is ever in
// flight, and the requests received during a cycle are coalesced into the next
// one.
type Controller struct {
	logger     *slog.Logger
	clock      timeutil.Clock
	errColl    errcoll.Interface
	metrics    Metrics
	registry   Snapshotter
	builder    Builder
	runtime    filter.Runtime
	remediator Remediator
	tracker    *rulelimits.Tracker
	notifier   notify.Notifier
	scheduler  Scheduler
	reportLim  *rate.Limiter

	// fire receives a value when the debounce window of the pending request
	// has elapsed.
	fire chan struct{}

	// done is closed on shutdown.
	done chan struct{}

	// stopped is closed when the loop exits.
	stopped chan struct{}

	// mu protects the fields below up to debounce.
	mu       *sync.Mutex
	pending  *request
	timer    Timer
	timerGen uint64
	seq      uint64
	state    State
	isDown   bool

	debounce time.Duration
}

// request is the set of coalesced update requests waiting for a cycle.
type request struct {
	// waiters receive the result of the cycle covering the request.  Each
	// channel must be buffered.
	waiters []chan<- error

	// seq is the sequence number of the latest request merged into this one.
	seq uint64

	// skipLimitsCheck is true if all merged requests skip the limits check.
	skipLimitsCheck bool

	// afterRemediation is true if the request only consists of the corrective
	// request queued after a remediation.
	afterRemediation bool
}

// New returns a new properly initialized *Controller.  c must not be nil and
// must be valid.
func New(c *Config) (ctrl *Controller) {
	return &Controller{
		logger:       c.Logger,
		clock:        c.Clock,
		errColl:      c.ErrColl,
		metrics:      c.Metrics,
		registry:     c.Registry,
		builder:      c.Builder,
		runtime:      c.Runtime,
		remediator:   c.Remediator,
		tracker:      c.Tracker,
		notifier:     c.Notifier,
		scheduler:    c.Scheduler,
		reportLim:    rate.NewLimiter(rate.Every(c.UnrecoveredReportInterval), 1),
		fire:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		mu:           &sync.Mutex{},
		state:        StateIdle,
		debounce:     c.Debounce,
	}
}

// type check
var _ service.Interface = (*Controller)(nil)

// Start implements the [service.Interface] interface for *Controller.  err is
// always nil.
func (c *Controller) Start(_ context.Context) (err error) {
	go c.loop()

	return nil
}

// Shutdown implements the [service.Interface] interface for *Controller.  It
// waits for the cycle in flight, if any, to finish.  The pending requests are
// dropped and their waiters receive [ErrShutdown].  Subsequent calls do
// nothing.
func (c *Controller) Shutdown(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.isDown {
		c.mu.Unlock()

		return nil
	}

	c.isDown = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	req := c.pending
	c.pending = nil
	c.mu.Unlock()

	close(c.done)

	if req != nil {
		req.respond(ErrShutdown)
	}

	select {
	case <-c.stopped:
		c.logger.InfoContext(ctx, "shut down successfully")

		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for cycle: %w", ctx.Err())
	}
}

// ErrShutdown is returned from [Controller.Update] when the controller has been
// shut down before the request has been applied.
const ErrShutdown errors.Error = "controller is shut down"

// RequestUpdate queues an update request.  It never blocks and may be called
// concurrently.  opts must not be nil.
func (c *Controller) RequestUpdate(opts *UpdateOptions) {
	c.enqueue(opts.SkipLimitsCheck, nil, false)
}

// Update queues an update request and waits for the cycle covering it.  err is
// a *filter.SourceUnavailableError or a *filter.RuntimeApplyError if the cycle
// has failed.  opts must not be nil.
func (c *Controller) Update(ctx context.Context, opts *UpdateOptions) (err error) {
	resCh := make(chan error, 1)
	c.enqueue(opts.SkipLimitsCheck, resCh, false)

	select {
	case err = <-resCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for update: %w", ctx.Err())
	}
}

// type check
var _ service.Refresher = (*Controller)(nil)

// Refresh implements the [service.Refresher] interface for *Controller.  It
// requests an update and waits for it to be applied.
func (c *Controller) Refresh(ctx context.Context) (err error) {
	return c.Update(ctx, &UpdateOptions{})
}

// State returns the current state of the controller.
func (c *Controller) State() (s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// enqueue merges a request into the pending one and rearms the debounce timer
// unless a cycle is in flight.  resCh may be nil.
func (c *Controller) enqueue(skipLimitsCheck bool, resCh chan<- error, afterRemediation bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isDown {
		if resCh != nil {
			resCh <- ErrShutdown
		}

		return
	}

	c.seq++
	if c.pending == nil {
		c.pending = &request{
			skipLimitsCheck:  skipLimitsCheck,
			afterRemediation: afterRemediation,
		}
	} else {
		c.metrics.IncrementCoalesced(context.Background())

		c.pending.skipLimitsCheck = c.pending.skipLimitsCheck && skipLimitsCheck
		c.pending.afterRemediation = c.pending.afterRemediation && afterRemediation
	}

	c.pending.seq = c.seq
	if resCh != nil {
		c.pending.waiters = append(c.pending.waiters, resCh)
	}

	switch c.state {
	case StateIdle, StatePendingApply:
		c.state = StatePendingApply
		c.armTimerLocked()
	default:
		// The cycle in flight picks the request up when it's finished.
	}
}

// armTimerLocked restarts the debounce timer.  c.mu must be locked.
func (c *Controller) armTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}

	c.timerGen++
	gen := c.timerGen
	c.timer = c.scheduler.AfterFunc(c.debounce, func() { c.onTimer(gen) })
}

// onTimer signals the loop that the debounce window of the timer with the
// generation gen has elapsed.  Stale timers are ignored.
func (c *Controller) onTimer(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.timerGen || c.state != StatePendingApply {
		return
	}

	c.timer = nil

	select {
	case c.fire <- struct{}{}:
	default:
		// Already signaled.
	}
}

// loop runs the cycles until shutdown.
func (c *Controller) loop() {
	defer close(c.stopped)

	ctx := context.Background()
	defer slogutil.RecoverAndLog(ctx, c.logger)

	c.logger.InfoContext(ctx, "starting reconcile loop")

	for {
		select {
		case <-c.done:
			c.logger.InfoContext(ctx, "finished reconcile loop")

			return
		case <-c.fire:
			c.runCycle(ctx)
		}
	}
}

// runCycle takes the pending request and applies the current state of the
// registry.
func (c *Controller) runCycle(ctx context.Context) {
	c.mu.Lock()
	req := c.pending
	if req == nil || c.state != StatePendingApply {
		c.mu.Unlock()

		return
	}

	c.pending = nil
	c.state = StateApplying

	// A request that arrived after the timer had fired is covered by this
	// cycle, so the timer it armed and its signal are stale.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	select {
	case <-c.fire:
	default:
	}
	c.mu.Unlock()

	err := c.cycle(ctx, req)

	c.mu.Lock()
	if c.pending != nil {
		c.state = StatePendingApply
		c.armTimerLocked()
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	req.respond(err)
}

// setState sets the state of the controller.
func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = s
}

// cycle builds and applies the configuration and processes the result.  No
// timeout is imposed on the build or the apply.
func (c *Controller) cycle(ctx context.Context, req *request) (err error) {
	start := c.clock.Now()
	defer func() { c.metrics.ObserveApply(ctx, c.clock.Now().Sub(start), err) }()

	snap := c.registry.Snapshot()
	conf, err := c.builder.Build(ctx, snap)
	if err != nil {
		errcoll.Collect(ctx, c.errColl, c.logger, "building configuration", err)

		return err
	}

	res, err := c.runtime.Apply(ctx, conf)
	if err != nil {
		applyErr := &filter.RuntimeApplyError{}
		if !errors.As(err, &applyErr) {
			err = &filter.RuntimeApplyError{Err: err}
		}

		errcoll.Collect(ctx, c.errColl, c.logger, "applying configuration", err)

		return err
	}

	active := c.runtime.ActiveRuleCount()
	c.logger.InfoContext(
		ctx,
		"applied",
		"seq", req.seq,
		"revision", conf.Revision,
		"active_rules", active,
		"limits", res.Limits,
		"rejected", len(res.Errors),
	)

	c.processLimits(ctx, req, conf, res, active)

	c.notifier.Notify(ctx, &notify.Event{
		Limits:      res.Limits,
		Revision:    conf.Revision,
		ActiveRules: active,
		Type:        notify.EventTypeRulesUpdated,
	})

	c.processRejections(ctx, req, conf, res)

	return nil
}

// processLimits updates the tracker and surfaces the newly exceeded limits.
// active is the number of active rules reported by the runtime.
func (c *Controller) processLimits(
	ctx context.Context,
	req *request,
	conf *filter.Configuration,
	res *filter.ApplyResult,
	active int,
) {
	if c.tracker.Set(res.Limits) {
		c.logger.InfoContext(ctx, "limits state changed", "exceeded", res.Limits.Exceeded())
	}

	c.metrics.SetLimits(ctx, res.Limits, active)

	if req.skipLimitsCheck || !c.tracker.DidLimitsChangeSinceLastAcknowledgement() {
		return
	}

	if !c.tracker.AreLimitsExceeded() {
		// Recovery is surfaced through the rules-updated event.
		c.tracker.Acknowledge()

		return
	}

	c.notifier.Notify(ctx, &notify.Event{
		Limits:      res.Limits,
		Revision:    conf.Revision,
		ActiveRules: active,
		Type:        notify.EventTypeLimitsExceeded,
	})

	c.tracker.Acknowledge()
}

// processRejections remediates the rejected user rules or, if the result is
// from a corrective apply, surfaces the rules that are still rejected.
func (c *Controller) processRejections(
	ctx context.Context,
	req *request,
	conf *filter.Configuration,
	res *filter.ApplyResult,
) {
	userErrs := res.UserRuleErrors()
	if len(userErrs) == 0 {
		return
	}

	if req.afterRemediation {
		c.reportUnrecovered(ctx, conf, userErrs)

		return
	}

	c.setState(StateRemediating)

	removed := c.remediator.Remediate(ctx, res.Errors, conf)
	if len(removed) == 0 {
		c.logger.DebugContext(ctx, "no rules remediated", "rejected", len(userErrs))

		return
	}

	c.metrics.AddRemediated(ctx, len(removed))
	c.enqueue(req.skipLimitsCheck, nil, true)
}

// reportUnrecovered notifies the observers about the user rules that are still
// rejected after a remediation pass and reports them to the error collector,
// but not more often than the report limit allows.
func (c *Controller) reportUnrecovered(
	ctx context.Context,
	conf *filter.Configuration,
	userErrs []*filter.RuleError,
) {
	rejected := make([]filter.RuleText, 0, len(userErrs))
	for _, e := range userErrs {
		rejected = append(rejected, e.Rule)
	}

	c.metrics.IncrementUnrecovered(ctx)

	c.notifier.Notify(ctx, &notify.Event{
		Rejected: rejected,
		Revision: conf.Revision,
		Type:     notify.EventTypeUnrecoveredRejection,
	})

	err := &filter.UnrecoveredRejectionError{Rules: rejected}
	if c.reportLim.Allow() {
		errcoll.Collect(ctx, c.errColl, c.logger, "remediating", err)
	} else {
		c.logger.WarnContext(ctx, "remediating", slogutil.KeyError, err)
	}
}

// respond sends err to all waiters of req.
func (req *request) respond(err error) {
	for _, ch := range req.waiters {
		ch <- err
	}
}
