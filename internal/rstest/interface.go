package rstest

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/notify"
)

// Interface Mocks
//
// Keep entities within a module/package in alphabetic order.

// Module golibs

// type check
var _ service.Refresher = (*Refresher)(nil)

// Refresher is a [service.Refresher] for tests.
type Refresher struct {
	OnRefresh func(ctx context.Context) (err error)
}

// Refresh implements the [service.Refresher] interface for *Refresher.
func (r *Refresher) Refresh(ctx context.Context) (err error) {
	return r.OnRefresh(ctx)
}

// Package errcoll

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// NewErrorCollector returns a new *ErrorCollector all methods of which panic.
func NewErrorCollector() (c *ErrorCollector) {
	return &ErrorCollector{
		OnCollect: func(_ context.Context, err error) {
			panic(fmt.Errorf("unexpected call to ErrorCollector.Collect(%v)", err))
		},
	}
}

// Package filter

// type check
var _ filter.Runtime = (*Runtime)(nil)

// Runtime is a [filter.Runtime] for tests.
type Runtime struct {
	OnApply           func(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error)
	OnActiveRuleCount func() (n int)
}

// Apply implements the [filter.Runtime] interface for *Runtime.
func (r *Runtime) Apply(
	ctx context.Context,
	c *filter.Configuration,
) (res *filter.ApplyResult, err error) {
	return r.OnApply(ctx, c)
}

// ActiveRuleCount implements the [filter.Runtime] interface for *Runtime.
func (r *Runtime) ActiveRuleCount() (n int) {
	return r.OnActiveRuleCount()
}

// Package notify

// type check
var _ notify.Notifier = (*Notifier)(nil)

// Notifier is a [notify.Notifier] for tests.
type Notifier struct {
	OnNotify func(ctx context.Context, e *notify.Event)
}

// Notify implements the [notify.Notifier] interface for *Notifier.
func (n *Notifier) Notify(ctx context.Context, e *notify.Event) {
	n.OnNotify(ctx, e)
}
