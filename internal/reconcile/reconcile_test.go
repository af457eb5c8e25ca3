package reconcile_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/rulesync/internal/confbuild"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/notify"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/remediate"
	"github.com/AdguardTeam/rulesync/internal/rscache"
	"github.com/AdguardTeam/rulesync/internal/rstest"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// testBuiltInID is the ID of the built-in filter for tests.
const testBuiltInID filter.ID = "f1"

// testCeilings are the common ceilings for tests.
var testCeilings = rulelimits.Ceilings{
	Static:  10,
	Dynamic: 10,
	Total:   15,
}

// testScheduler is a [reconcile.Scheduler] that only runs the scheduled
// functions on [testScheduler.fire].
type testScheduler struct {
	mu     *sync.Mutex
	timers []*testTimer
	total  int
}

// testTimer is a [reconcile.Timer] for tests.
type testTimer struct {
	sched   *testScheduler
	f       func()
	stopped bool
}

// newTestScheduler returns a new *testScheduler.
func newTestScheduler() (s *testScheduler) {
	return &testScheduler{
		mu: &sync.Mutex{},
	}
}

// type check
var _ reconcile.Scheduler = (*testScheduler)(nil)

// AfterFunc implements the [reconcile.Scheduler] interface for *testScheduler.
func (s *testScheduler) AfterFunc(_ time.Duration, f func()) (t reconcile.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tt := &testTimer{
		sched: s,
		f:     f,
	}

	s.timers = append(s.timers, tt)
	s.total++

	return tt
}

// Stop implements the [reconcile.Timer] interface for *testTimer.
func (t *testTimer) Stop() (ok bool) {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()

	ok = !t.stopped
	t.stopped = true

	return ok
}

// fire runs all armed timers, as if their durations have elapsed.
func (s *testScheduler) fire() {
	s.mu.Lock()
	var fs []func()
	for _, t := range s.timers {
		if !t.stopped {
			t.stopped = true
			fs = append(fs, t.f)
		}
	}

	s.timers = nil
	s.mu.Unlock()

	for _, f := range fs {
		f()
	}
}

// armed returns the number of timers that have neither fired nor been stopped.
func (s *testScheduler) armed() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}

	return n
}

// testMetrics is a [reconcile.Metrics] that counts some of the events.
type testMetrics struct {
	reconcile.EmptyMetrics

	coalesced   atomic.Int64
	remediated  atomic.Int64
	unrecovered atomic.Int64
}

// IncrementCoalesced implements the [reconcile.Metrics] interface for
// *testMetrics.
func (m *testMetrics) IncrementCoalesced(_ context.Context) { m.coalesced.Add(1) }

// AddRemediated implements the [reconcile.Metrics] interface for *testMetrics.
func (m *testMetrics) AddRemediated(_ context.Context, n int) { m.remediated.Add(int64(n)) }

// IncrementUnrecovered implements the [reconcile.Metrics] interface for
// *testMetrics.
func (m *testMetrics) IncrementUnrecovered(_ context.Context) { m.unrecovered.Add(1) }

// applyFunc is the signature of [rstest.Runtime.OnApply].
type applyFunc = func(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error)

// testEnv is the common environment of the controller tests.
type testEnv struct {
	ctrl    *reconcile.Controller
	sched   *testScheduler
	reg     *registry.Registry
	tracker *rulelimits.Tracker
	metrics *testMetrics

	// activeRules is the number of active rules after the last successful
	// apply.
	activeRules *atomic.Int64

	// applies receives every configuration passed to the runtime.
	applies chan *filter.Configuration

	// events receives every notification.
	events chan *notify.Event
}

// testEnvConfig is the configuration for [newTestEnv].
type testEnvConfig struct {
	// apply is the runtime behavior.  If nil, [rejectingApply] without any
	// rejected rules is used.
	apply applyFunc

	// errColl is the error collector.  If nil, [rstest.NewErrorCollector] is
	// used.
	errColl errcoll.Interface

	// scheduler is the debounce scheduler.  If nil, a *testScheduler is used.
	scheduler reconcile.Scheduler

	// activeRuleCount is the runtime's count of active rules.  If nil, the
	// count of the last successful apply is returned.
	activeRuleCount func() (n int)

	// ceilings are the runtime ceilings.  If zero, testCeilings are used.
	ceilings rulelimits.Ceilings
}

// newTestEnv returns a started controller with a registry that contains an
// enabled built-in filter.
func newTestEnv(tb testing.TB, c *testEnvConfig) (env *testEnv) {
	tb.Helper()

	if c.ceilings == (rulelimits.Ceilings{}) {
		c.ceilings = testCeilings
	}

	if c.apply == nil {
		c.apply = rejectingApply(c.ceilings, nil)
	}

	if c.errColl == nil {
		c.errColl = rstest.NewErrorCollector()
	}

	sched := newTestScheduler()
	if c.scheduler == nil {
		c.scheduler = sched
	}

	strg := rstest.NewContentStorage()
	reg := registry.New(&registry.Config{
		Logger:  testLogger,
		Storage: strg,
		Clock:   timeutil.SystemClock{},
		Settings: filter.Settings{
			FilteringEnabled: true,
			AllowlistEnabled: true,
			UserRulesEnabled: true,
		},
	})

	require.NoError(tb, reg.Add(&filter.Source{
		ID:      testBuiltInID,
		Kind:    filter.KindBuiltIn,
		Enabled: true,
	}))

	env = &testEnv{
		sched:   sched,
		reg:     reg,
		tracker: rulelimits.NewTracker(),
		metrics:     &testMetrics{},
		activeRules: &atomic.Int64{},
		applies: make(chan *filter.Configuration, 1000),
		events:  make(chan *notify.Event, 1000),
	}

	if c.activeRuleCount == nil {
		c.activeRuleCount = func() (n int) { return int(env.activeRules.Load()) }
	}

	rt := &rstest.Runtime{
		OnApply: func(ctx context.Context, conf *filter.Configuration) (res *filter.ApplyResult, err error) {
			env.applies <- conf

			res, err = c.apply(ctx, conf)
			if err == nil {
				env.activeRules.Store(int64(res.ActiveRules))
			}

			return res, err
		},
		OnActiveRuleCount: c.activeRuleCount,
	}

	env.ctrl = reconcile.New(&reconcile.Config{
		Logger:   testLogger,
		Clock:    timeutil.SystemClock{},
		ErrColl:  c.errColl,
		Metrics:  env.metrics,
		Registry: reg,
		Builder: confbuild.New(&confbuild.Config{
			Logger:       testLogger,
			Storage:      strg,
			Metrics:      confbuild.EmptyMetrics{},
			CacheConf:    &rscache.LRUConfig{Count: 10},
			CacheManager: rscache.NewManager(),
		}),
		Runtime: rt,
		Remediator: remediate.New(&remediate.Config{
			Logger:    testLogger,
			Registry:  reg,
			RecentTTL: time.Hour,
		}),
		Tracker: env.tracker,
		Notifier: &rstest.Notifier{
			OnNotify: func(_ context.Context, e *notify.Event) { env.events <- e },
		},
		Scheduler:                 c.scheduler,
		Debounce:                  time.Millisecond,
		UnrecoveredReportInterval: time.Hour,
	})

	ctx := testutil.ContextWithTimeout(tb, rstest.Timeout)
	require.NoError(tb, env.ctrl.Start(ctx))
	testutil.CleanupAndRequireSuccess(tb, func() (err error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rstest.Timeout)
		defer cancel()

		return env.ctrl.Shutdown(shutdownCtx)
	})

	return env
}

// rejectingApply returns an apply function that counts every built-in filter
// as a single static rule and rejects the user rules for which isBad returns
// true.  isBad may be nil.
func rejectingApply(ceil rulelimits.Ceilings, isBad func(r filter.RuleText) (ok bool)) (f applyFunc) {
	return func(_ context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
		res = &filter.ApplyResult{}
		for _, r := range c.UserRules {
			if isBad != nil && isBad(r) {
				res.Errors = append(res.Errors, &filter.RuleError{
					SourceID: filter.IDUserRules,
					Rule:     r,
					Reason:   "syntax",
					Kind:     filter.KindUserRules,
				})
			}
		}

		static := len(c.BuiltInIDs) + len(c.QuickFixIDs)
		dynamic := len(c.UserRules) - len(res.Errors) + len(c.Allowlist)
		res.Limits = rulelimits.New(static, dynamic, ceil)
		res.ActiveRules = static + dynamic

		return res, nil
	}
}

// waitArmed waits until the debounce timer is armed and fires it.
func (env *testEnv) waitArmed(tb testing.TB) {
	tb.Helper()

	require.Eventually(tb, func() (ok bool) {
		return env.sched.armed() > 0
	}, rstest.Timeout, rstest.Timeout/100)

	env.sched.fire()
}

// waitIdle waits until the controller is idle.
func (env *testEnv) waitIdle(tb testing.TB) {
	tb.Helper()

	require.Eventually(tb, func() (ok bool) {
		return env.ctrl.State() == reconcile.StateIdle
	}, rstest.Timeout, rstest.Timeout/100)
}

// update calls Update, fires the debounce timer, and returns the result.
func (env *testEnv) update(tb testing.TB, opts *reconcile.UpdateOptions) (err error) {
	tb.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.ctrl.Update(testutil.ContextWithTimeout(tb, rstest.Timeout), opts)
	}()

	env.waitArmed(tb)

	err, _ = testutil.RequireReceive(tb, errCh, rstest.Timeout)

	return err
}

// eventTypes returns the types of the events received so far.
func (env *testEnv) eventTypes() (types []notify.EventType) {
	for {
		select {
		case e := <-env.events:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestController_RequestUpdate_debounce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{})

	const n = 5
	for i := range n {
		env.reg.SetUserRules([]filter.RuleText{filter.RuleText(fmt.Sprintf("||rule%d^", i))})
		env.ctrl.RequestUpdate(&reconcile.UpdateOptions{})
	}

	assert.Equal(t, reconcile.StatePendingApply, env.ctrl.State())
	assert.Equal(t, 1, env.sched.armed())
	assert.Equal(t, n, env.sched.total)

	env.sched.fire()

	conf, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)
	env.waitIdle(t)

	assert.Equal(t, []filter.RuleText{"||rule4^"}, conf.UserRules)
	assert.Equal(t, env.reg.Snapshot().Revision, conf.Revision)
	assert.Empty(t, env.applies)
	assert.Equal(t, int64(n-1), env.metrics.coalesced.Load())
	assert.Equal(t, []notify.EventType{notify.EventTypeRulesUpdated}, env.eventTypes())
}

func TestController_Update_idempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{})
	env.reg.SetUserRules([]filter.RuleText{"||a^", "||b^"})

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))
	first, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))
	second, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)

	assert.Equal(t, first, second)
	assert.Equal(t, []filter.ID{testBuiltInID}, first.BuiltInIDs)

	env.waitIdle(t)
}

func TestController_remediation(t *testing.T) {
	t.Parallel()

	bad := map[filter.RuleText]struct{}{
		"bad1": {},
		"bad2": {},
		"bad3": {},
	}

	env := newTestEnv(t, &testEnvConfig{
		apply: rejectingApply(testCeilings, func(r filter.RuleText) (ok bool) {
			_, ok = bad[r]

			return ok
		}),
	})

	env.reg.SetUserRules([]filter.RuleText{"bad1", "||good^", "bad2", "bad3"})

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))

	first, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)
	assert.Len(t, first.UserRules, 4)

	env.waitArmed(t)

	second, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)
	env.waitIdle(t)

	assert.Equal(t, []filter.RuleText{"||good^"}, second.UserRules)
	assert.Empty(t, env.applies)
	assert.Zero(t, env.sched.armed())

	src := env.reg.Snapshot().Source(filter.IDUserRules)
	require.NotNil(t, src)

	assert.Equal(t, []filter.RuleText{"||good^"}, src.Rules)
	assert.ElementsMatch(t, []filter.RuleText{"bad1", "bad2", "bad3"}, src.Disabled)
	assert.Equal(t, int64(3), env.metrics.remediated.Load())
	assert.Zero(t, env.metrics.unrecovered.Load())
}

func TestController_remediation_noMatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{
		apply: func(_ context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
			return &filter.ApplyResult{
				Limits: rulelimits.New(1, len(c.UserRules), testCeilings),
				Errors: []*filter.RuleError{{
					SourceID: filter.IDUserRules,
					Rule:     "deleted",
					Reason:   "syntax",
					Kind:     filter.KindUserRules,
				}},
				ActiveRules: 1 + len(c.UserRules),
			}, nil
		},
	})

	env.reg.SetUserRules([]filter.RuleText{"||good^"})
	rev := env.reg.Snapshot().Revision

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))
	env.waitIdle(t)

	_, _ = testutil.RequireReceive(t, env.applies, rstest.Timeout)

	assert.Empty(t, env.applies)
	assert.Zero(t, env.sched.armed())
	assert.Equal(t, rev, env.reg.Snapshot().Revision)
	assert.Zero(t, env.metrics.remediated.Load())
}

func TestController_remediation_unrecovered(t *testing.T) {
	t.Parallel()

	collected := make(chan error, 10)
	env := newTestEnv(t, &testEnvConfig{
		// Always reject the first user rule.
		apply: func(_ context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
			res = &filter.ApplyResult{
				Limits: rulelimits.New(1, len(c.UserRules), testCeilings),
			}

			if len(c.UserRules) > 0 {
				res.Errors = []*filter.RuleError{{
					SourceID: filter.IDUserRules,
					Rule:     c.UserRules[0],
					Reason:   "syntax",
					Kind:     filter.KindUserRules,
				}}
			}

			return res, nil
		},
		errColl: &rstest.ErrorCollector{
			OnCollect: func(_ context.Context, err error) { collected <- err },
		},
	})

	env.reg.SetUserRules([]filter.RuleText{"x", "y"})

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))
	env.waitArmed(t)
	env.waitIdle(t)

	err, _ := testutil.RequireReceive(t, collected, rstest.Timeout)

	unrecErr := &filter.UnrecoveredRejectionError{}
	require.ErrorAs(t, err, &unrecErr)

	assert.Equal(t, []filter.RuleText{"y"}, unrecErr.Rules)
	assert.Equal(t, int64(1), env.metrics.unrecovered.Load())
	assert.Zero(t, env.sched.armed())

	src := env.reg.Snapshot().Source(filter.IDUserRules)
	require.NotNil(t, src)

	assert.Equal(t, []filter.RuleText{"y"}, src.Rules)
	assert.Equal(t, []filter.RuleText{"x"}, src.Disabled)

	assert.Equal(t, []notify.EventType{
		notify.EventTypeRulesUpdated,
		notify.EventTypeRulesUpdated,
		notify.EventTypeUnrecoveredRejection,
	}, env.eventTypes())
}

func TestController_limits(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{
		ceilings: rulelimits.Ceilings{
			Static:  10,
			Dynamic: 1,
			Total:   10,
		},
	})

	update := func(rules ...filter.RuleText) (types []notify.EventType) {
		env.reg.SetUserRules(rules)
		require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))

		return env.eventTypes()
	}

	exceeded := []notify.EventType{
		notify.EventTypeLimitsExceeded,
		notify.EventTypeRulesUpdated,
	}
	updated := []notify.EventType{notify.EventTypeRulesUpdated}

	assert.Equal(t, updated, update("||a^"))
	assert.False(t, env.tracker.AreLimitsExceeded())

	assert.Equal(t, exceeded, update("||a^", "||b^"))
	assert.True(t, env.tracker.AreLimitsExceeded())
	assert.False(t, env.tracker.DidLimitsChangeSinceLastAcknowledgement())

	assert.Equal(t, updated, update("||a^", "||b^", "||c^"))

	assert.Equal(t, updated, update())
	assert.False(t, env.tracker.AreLimitsExceeded())

	assert.Equal(t, exceeded, update("||a^", "||b^"))

	t.Run("skip", func(t *testing.T) {
		_ = update()

		env.reg.SetUserRules([]filter.RuleText{"||a^", "||b^"})
		require.NoError(t, env.update(t, &reconcile.UpdateOptions{SkipLimitsCheck: true}))

		assert.Equal(t, updated, env.eventTypes())
		assert.True(t, env.tracker.AreLimitsExceeded())
		assert.True(t, env.tracker.DidLimitsChangeSinceLastAcknowledgement())
	})
}

func TestController_Update_failure(t *testing.T) {
	t.Parallel()

	t.Run("source_unavailable", func(t *testing.T) {
		t.Parallel()

		collected := make(chan error, 1)
		env := newTestEnv(t, &testEnvConfig{
			errColl: &rstest.ErrorCollector{
				OnCollect: func(_ context.Context, err error) { collected <- err },
			},
		})

		// The content of the custom filter has never been set.
		require.NoError(t, env.reg.Add(&filter.Source{
			ID:      "custom_1",
			Kind:    filter.KindCustom,
			Enabled: true,
		}))

		err := env.update(t, &reconcile.UpdateOptions{})

		unavailErr := &filter.SourceUnavailableError{}
		require.ErrorAs(t, err, &unavailErr)

		assert.Equal(t, filter.ID("custom_1"), unavailErr.ID)
		assert.Empty(t, env.applies)
		assert.Nil(t, env.tracker.Current())
		assert.Empty(t, env.eventTypes())

		collErr, _ := testutil.RequireReceive(t, collected, rstest.Timeout)
		assert.ErrorIs(t, collErr, err)

		env.waitIdle(t)
	})

	t.Run("runtime", func(t *testing.T) {
		t.Parallel()

		const testErr errors.Error = "compilation failed"

		env := newTestEnv(t, &testEnvConfig{
			apply: func(_ context.Context, _ *filter.Configuration) (res *filter.ApplyResult, err error) {
				return nil, testErr
			},
			errColl: &rstest.ErrorCollector{
				OnCollect: func(_ context.Context, _ error) {},
			},
		})

		err := env.update(t, &reconcile.UpdateOptions{})

		applyErr := &filter.RuntimeApplyError{}
		require.ErrorAs(t, err, &applyErr)

		assert.ErrorIs(t, err, testErr)
		assert.Nil(t, env.tracker.Current())
		assert.Empty(t, env.eventTypes())
	})
}

func TestController_concurrent(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int64
	env := newTestEnv(t, &testEnvConfig{
		scheduler: reconcile.SystemScheduler{},
		apply: func(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				prev := maxInFlight.Load()
				if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
					break
				}
			}

			time.Sleep(time.Millisecond)

			return rejectingApply(testCeilings, nil)(ctx, c)
		},
	})

	const (
		workers  = 10
		requests = 20
	)

	wg := &sync.WaitGroup{}
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := range requests {
				env.reg.SetUserRules([]filter.RuleText{filter.RuleText(fmt.Sprintf("||%d-%d^", i, j))})
				env.ctrl.RequestUpdate(&reconcile.UpdateOptions{})
			}
		}()
	}

	wg.Wait()

	ctx := testutil.ContextWithTimeout(t, rstest.Timeout)
	require.NoError(t, env.ctrl.Update(ctx, &reconcile.UpdateOptions{}))

	var last *filter.Configuration
	for len(env.applies) > 0 {
		last = <-env.applies
	}

	require.NotNil(t, last)

	assert.Equal(t, int64(1), maxInFlight.Load())
	assert.Equal(t, env.reg.Snapshot().Revision, last.Revision)
}

func TestController_endToEnd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{
		apply: rejectingApply(testCeilings, func(r filter.RuleText) (ok bool) {
			return r == "bad-rule"
		}),
	})

	env.reg.SetUserRules([]filter.RuleText{"bad-rule"})
	env.ctrl.RequestUpdate(&reconcile.UpdateOptions{})
	env.waitArmed(t)

	first, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)
	assert.Equal(t, []filter.RuleText{"bad-rule"}, first.UserRules)
	assert.Equal(t, []filter.ID{testBuiltInID}, first.BuiltInIDs)

	env.waitArmed(t)

	second, _ := testutil.RequireReceive(t, env.applies, rstest.Timeout)
	assert.Empty(t, second.UserRules)

	env.waitIdle(t)

	assert.Equal(t, []notify.EventType{
		notify.EventTypeRulesUpdated,
		notify.EventTypeRulesUpdated,
	}, env.eventTypes())
}

func TestController_Update_slowApply(t *testing.T) {
	t.Parallel()

	// applyDur is longer than every interval and timeout of the environment.
	const applyDur = rstest.Timeout + 200*time.Millisecond

	hasDeadline := make(chan bool, 1)
	env := newTestEnv(t, &testEnvConfig{
		apply: func(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
			_, ok := ctx.Deadline()
			hasDeadline <- ok

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(applyDur):
				return rejectingApply(testCeilings, nil)(ctx, c)
			}
		},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.ctrl.Update(testutil.ContextWithTimeout(t, 5*rstest.Timeout), &reconcile.UpdateOptions{})
	}()

	env.waitArmed(t)

	ok, _ := testutil.RequireReceive(t, hasDeadline, rstest.Timeout)
	assert.False(t, ok)

	err, _ := testutil.RequireReceive(t, errCh, 5*rstest.Timeout)
	require.NoError(t, err)

	env.waitIdle(t)
	assert.Equal(t, []notify.EventType{notify.EventTypeRulesUpdated}, env.eventTypes())
}

func TestController_activeRuleCount(t *testing.T) {
	t.Parallel()

	const wantActive = 42

	env := newTestEnv(t, &testEnvConfig{
		activeRuleCount: func() (n int) { return wantActive },
	})

	require.NoError(t, env.update(t, &reconcile.UpdateOptions{}))
	env.waitIdle(t)

	e, _ := testutil.RequireReceive(t, env.events, rstest.Timeout)
	assert.Equal(t, notify.EventTypeRulesUpdated, e.Type)
	assert.Equal(t, wantActive, e.ActiveRules)
}

func TestController_RequestUpdate_afterFire(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	lastConf := &atomic.Pointer[filter.Configuration]{}
	env := newTestEnv(t, &testEnvConfig{
		apply: func(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
			<-release
			lastConf.Store(c)

			return rejectingApply(testCeilings, nil)(ctx, c)
		},
	})

	env.reg.SetUserRules([]filter.RuleText{"||first^"})
	env.ctrl.RequestUpdate(&reconcile.UpdateOptions{})
	env.sched.fire()

	// The request may arrive either before or after the cycle takes the
	// pending one.
	env.reg.SetUserRules([]filter.RuleText{"||second^"})
	env.ctrl.RequestUpdate(&reconcile.UpdateOptions{})

	_, _ = testutil.RequireReceive(t, env.applies, rstest.Timeout)

	// No timer stays armed while a cycle is in flight.
	assert.Equal(t, 0, env.sched.armed())

	close(release)

	require.Eventually(t, func() (ok bool) {
		if env.sched.armed() > 0 {
			env.sched.fire()
		}

		return env.ctrl.State() == reconcile.StateIdle
	}, rstest.Timeout, rstest.Timeout/100)

	last := lastConf.Load()
	require.NotNil(t, last)

	assert.Equal(t, []filter.RuleText{"||second^"}, last.UserRules)
	assert.Equal(t, 0, env.sched.armed())
}

func TestController_Shutdown(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &testEnvConfig{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.ctrl.Update(testutil.ContextWithTimeout(t, rstest.Timeout), &reconcile.UpdateOptions{})
	}()

	require.Eventually(t, func() (ok bool) {
		return env.sched.armed() > 0
	}, rstest.Timeout, rstest.Timeout/100)

	require.NoError(t, env.ctrl.Shutdown(testutil.ContextWithTimeout(t, rstest.Timeout)))

	err, _ := testutil.RequireReceive(t, errCh, rstest.Timeout)
	assert.ErrorIs(t, err, reconcile.ErrShutdown)

	err = env.ctrl.Update(testutil.ContextWithTimeout(t, rstest.Timeout), &reconcile.UpdateOptions{})
	assert.ErrorIs(t, err, reconcile.ErrShutdown)
	assert.Empty(t, env.applies)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", reconcile.StateIdle.String())
	assert.Equal(t, "remediating", reconcile.StateRemediating.String())
	assert.Equal(t, "!bad_state_42", reconcile.State(42).String())
}
