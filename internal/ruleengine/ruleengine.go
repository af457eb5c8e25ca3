// Package ruleengine contains the filtering runtime that compiles the filtering
// configurations into an urlfilter DNS engine and enforces the rule ceilings.
package ruleengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/AdguardTeam/urlfilter"
	"github.com/AdguardTeam/urlfilter/filterlist"
)

// Config is the configuration structure for the engine.
type Config struct {
	// Logger is used to log the compilation of the rules.  It must not be nil.
	Logger *slog.Logger

	// Storage is used to fetch the content of the built-in and quick-fix
	// filters.  It must not be nil.
	Storage filterstorage.Interface

	// Ceilings are the maximum numbers of rules per category.  All values must
	// be positive.
	Ceilings rulelimits.Ceilings
}

// Engine is the [filter.Runtime] that compiles the configurations into an
// urlfilter DNS engine.  Engine keeps its last good state if an apply fails.
type Engine struct {
	logger   *slog.Logger
	storage  filterstorage.Interface
	reqPool  *syncutil.Pool[urlfilter.DNSRequest]
	resPool  *syncutil.Pool[urlfilter.DNSResult]
	ceilings rulelimits.Ceilings

	// applyMu serializes the calls to Apply.
	applyMu *sync.Mutex

	// state is the currently active state.  It is never nil.
	state *atomic.Pointer[engineState]
}

// engineState is the compiled state of the engine.
type engineState struct {
	// dns is the compiled engine.  It is nil before the first apply.
	dns *urlfilter.DNSEngine

	// onlyDomains, if not nil, are the only domains on which filtering is
	// performed, as set by the inverted allow-list.
	onlyDomains *container.MapSet[string]

	// active is the number of the compiled rules.
	active int
}

// New returns a new properly initialized *Engine with no active rules.  c must
// not be nil.
func New(c *Config) (e *Engine) {
	e = &Engine{
		logger:  c.Logger,
		storage: c.Storage,
		reqPool: syncutil.NewPool(func() (req *urlfilter.DNSRequest) {
			return &urlfilter.DNSRequest{}
		}),
		resPool: syncutil.NewPool(func() (v *urlfilter.DNSResult) {
			return &urlfilter.DNSResult{}
		}),
		ceilings: c.Ceilings,
		applyMu:  &sync.Mutex{},
		state:    &atomic.Pointer[engineState]{},
	}

	e.state.Store(&engineState{})

	return e
}

// type check
var _ filter.Runtime = (*Engine)(nil)

// Apply implements the [filter.Runtime] interface for *Engine.  The content of
// the built-in filters is counted but not validated rule by rule, since it's
// validated upstream.  The dynamic rules that are rejected are reported in
// res.Errors.  If a category exceeds its ceiling, only the first rules up to the
// ceiling are activated.
func (e *Engine) Apply(ctx context.Context, c *filter.Configuration) (res *filter.ApplyResult, err error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	static, err := e.staticRules(ctx, c)
	if err != nil {
		return nil, &filter.RuntimeApplyError{Err: err}
	}

	dynamic, ruleErrs, onlyDomains := e.dynamicRules(ctx, c)

	limits := rulelimits.New(len(static), len(dynamic), e.ceilings)
	static, dynamic = e.truncate(ctx, static, dynamic)

	dns, err := compile(static, dynamic)
	if err != nil {
		return nil, &filter.RuntimeApplyError{Err: err}
	}

	active := len(static) + len(dynamic)
	e.state.Store(&engineState{
		dns:         dns,
		onlyDomains: onlyDomains,
		active:      active,
	})

	e.logger.DebugContext(
		ctx,
		"applied configuration",
		"revision", c.Revision,
		"limits", limits,
		"rejected", len(ruleErrs),
	)

	return &filter.ApplyResult{
		Limits:      limits,
		Errors:      ruleErrs,
		ActiveRules: active,
	}, nil
}

// staticRules returns the rules of the built-in and quick-fix filters of c.
func (e *Engine) staticRules(
	ctx context.Context,
	c *filter.Configuration,
) (static []filter.RuleText, err error) {
	var errs []error
	for _, ids := range [][]filter.ID{c.BuiltInIDs, c.QuickFixIDs} {
		for _, id := range ids {
			var content []filter.RuleText
			content, err = e.storage.Content(ctx, id)
			if err != nil {
				errs = append(errs, err)

				continue
			}

			for _, r := range content {
				if !isIgnored(r) {
					static = append(static, r)
				}
			}
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		return nil, fmt.Errorf("loading static rules: %w", err)
	}

	return static, nil
}

// dynamicRules returns the valid dynamic rules of c and the errors about the
// invalid ones.  onlyDomains are the domains of the inverted allow-list.
func (e *Engine) dynamicRules(
	ctx context.Context,
	c *filter.Configuration,
) (dynamic []filter.RuleText, ruleErrs []*filter.RuleError, onlyDomains *container.MapSet[string]) {
	reject := func(id filter.ID, k filter.Kind, r filter.RuleText, reason string) {
		ruleErrs = append(ruleErrs, &filter.RuleError{
			SourceID: id,
			Rule:     r,
			Reason:   reason,
			Kind:     k,
		})

		if c.Settings.LogLevel <= slog.LevelDebug {
			e.logger.DebugContext(ctx, "rule rejected", "source", id, "rule", r, "reason", reason)
		}
	}

	allowlistID := filter.IDAllowlist
	if c.AllowlistInverted {
		allowlistID = filter.IDAllowlistInverted
	}

	for _, d := range c.Allowlist {
		err := netutil.ValidateDomainName(d)
		if err != nil {
			reject(allowlistID, filter.KindAllowlist, filter.RuleText(d), err.Error())

			continue
		}

		if c.AllowlistInverted {
			// Only valid domains restrict filtering, so an inverted list
			// without any stays unrestricted.
			if onlyDomains == nil {
				onlyDomains = container.NewMapSet[string]()
			}

			onlyDomains.Add(d)
		} else {
			dynamic = append(dynamic, allowlistRule(d))
		}
	}

	for _, p := range c.CustomFilters {
		for _, r := range filter.RulesFromBytes([]byte(p.Text)) {
			dynamic = e.appendValid(dynamic, r, p.Trusted, func(reason string) {
				reject(p.ID, filter.KindCustom, r, reason)
			})
		}
	}

	for _, r := range c.UserRules {
		dynamic = e.appendValid(dynamic, r, true, func(reason string) {
			reject(filter.IDUserRules, filter.KindUserRules, r, reason)
		})
	}

	return dynamic, ruleErrs, onlyDomains
}

// appendValid appends r to rules if it's a valid rule.  Otherwise, it calls
// onReject with the reason of the rejection.
func (e *Engine) appendValid(
	rules []filter.RuleText,
	r filter.RuleText,
	trusted bool,
	onReject func(reason string),
) (res []filter.RuleText) {
	if isIgnored(r) {
		return rules
	}

	err := validateRule(r, trusted)
	if err != nil {
		onReject(err.Error())

		return rules
	}

	return append(rules, r)
}

// truncate returns the rules that fit into the ceilings.  The dynamic rules are
// dropped first if the total ceiling is exceeded.
func (e *Engine) truncate(
	ctx context.Context,
	static []filter.RuleText,
	dynamic []filter.RuleText,
) (truncStatic, truncDynamic []filter.RuleText) {
	truncStatic = static[:min(len(static), e.ceilings.Static)]
	truncDynamic = dynamic[:min(len(dynamic), e.ceilings.Dynamic)]

	if over := len(truncStatic) + len(truncDynamic) - e.ceilings.Total; over > 0 {
		n := max(len(truncDynamic)-over, 0)
		over -= len(truncDynamic) - n
		truncDynamic = truncDynamic[:n]
		truncStatic = truncStatic[:len(truncStatic)-over]
	}

	if dropped := len(static) + len(dynamic) - len(truncStatic) - len(truncDynamic); dropped > 0 {
		e.logger.WarnContext(ctx, "rule ceilings exceeded", "dropped", dropped)
	}

	return truncStatic, truncDynamic
}

// compile returns a new DNS engine with the given rules.
func compile(static, dynamic []filter.RuleText) (dns *urlfilter.DNSEngine, err error) {
	lists := []filterlist.Interface{
		filterlist.NewBytes(&filterlist.BytesConfig{
			ID:             listIDStatic,
			RulesText:      filter.RulesToBytes(static),
			IgnoreCosmetic: true,
		}),
		filterlist.NewBytes(&filterlist.BytesConfig{
			ID:             listIDDynamic,
			RulesText:      filter.RulesToBytes(dynamic),
			IgnoreCosmetic: true,
		}),
	}

	s, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		return nil, fmt.Errorf("compiling rule storage: %w", err)
	}

	return urlfilter.NewDNSEngine(s), nil
}

// ActiveRuleCount implements the [filter.Runtime] interface for *Engine.
func (e *Engine) ActiveRuleCount() (n int) {
	return e.state.Load().active
}

// IsBlocked returns true if the request for host is blocked by the active
// rules.
func (e *Engine) IsBlocked(host string) (blocked bool) {
	st := e.state.Load()
	if st.dns == nil {
		return false
	}

	if st.onlyDomains != nil && !matchesAny(host, st.onlyDomains) {
		return false
	}

	req := e.reqPool.Get()
	defer e.reqPool.Put(req)

	req.Reset()
	req.Hostname = host

	res := e.resPool.Get()
	defer e.resPool.Put(res)

	res.Reset()

	blocked = st.dns.MatchRequestInto(req, res)
	if blocked && res.NetworkRule != nil {
		return !res.NetworkRule.Whitelist
	}

	return blocked
}

// matchesAny returns true if host or any of its parent domains is in domains.
func matchesAny(host string, domains *container.MapSet[string]) (ok bool) {
	for _, d := range netutil.Subdomains(host) {
		if domains.Has(d) {
			return true
		}
	}

	return false
}
