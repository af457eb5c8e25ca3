// Package remediate contains the remediator that disables the user rules
// rejected by the runtime.
package remediate

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/rulesync/internal/filter"
	cache "github.com/patrickmn/go-cache"
)

// Registry is the part of the filter source registry that the remediator
// mutates.
type Registry interface {
	// DisableUserRules moves the given lines from the live user rules into the
	// disabled ones and returns the lines that have actually been disabled.
	// Lines that are not present in the live user rules must be ignored.
	DisableUserRules(lines []filter.RuleText) (removed []filter.RuleText)
}

// Config is the configuration structure for the remediator.
type Config struct {
	// Logger is used to log the remediation.  It must not be nil.
	Logger *slog.Logger

	// Registry is used to disable the rejected rules.  It must not be nil.
	Registry Registry

	// RecentTTL is the duration for which the disabled rules are reported by
	// [Remediator.RecentlyDisabled].  It must be positive.
	RecentTTL time.Duration
}

// Remediator disables the rejected user rules.  It is safe for concurrent use.
type Remediator struct {
	logger   *slog.Logger
	registry Registry

	// recent contains the recently disabled rules mapped to their rejection
	// reasons.
	recent *cache.Cache
}

// New returns a new properly initialized *Remediator.  c must not be nil.
func New(c *Config) (r *Remediator) {
	return &Remediator{
		logger:   c.Logger,
		registry: c.Registry,
		recent:   cache.New(c.RecentTTL, c.RecentTTL),
	}
}

// Remediate disables exactly the user rules from errs that were part of the
// applied configuration and are still present in the registry.  Errors about
// the rules of other sources are only logged.  removed are the lines that have
// been disabled; if it's empty, nothing has been changed.  applied must not be
// nil.
func (r *Remediator) Remediate(
	ctx context.Context,
	errs []*filter.RuleError,
	applied *filter.Configuration,
) (removed []filter.RuleText) {
	appliedRules := container.NewMapSet(applied.UserRules...)
	reasons := map[filter.RuleText]string{}

	var candidates []filter.RuleText
	for _, e := range errs {
		switch {
		case e.Kind != filter.KindUserRules:
			r.logger.WarnContext(
				ctx,
				"rule rejected",
				"source", e.SourceID,
				"kind", e.Kind,
				"rule", e.Rule,
				"reason", e.Reason,
			)
		case !appliedRules.Has(e.Rule):
			r.logger.DebugContext(ctx, "rejected rule not applied", "rule", e.Rule)
		default:
			candidates = append(candidates, e.Rule)
			reasons[e.Rule] = e.Reason
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	removed = r.registry.DisableUserRules(candidates)
	for _, rule := range removed {
		r.recent.SetDefault(string(rule), reasons[rule])
	}

	r.logger.InfoContext(
		ctx,
		"remediated",
		"rejected", len(candidates),
		"disabled", len(removed),
	)

	return removed
}

// DisabledRule is a user rule that has recently been disabled.
type DisabledRule struct {
	// Rule is the text of the rule.
	Rule filter.RuleText `json:"rule"`

	// Reason is the reason of the rejection.
	Reason string `json:"reason"`
}

// RecentlyDisabled returns the user rules disabled within the recent TTL
// sorted by text.
func (r *Remediator) RecentlyDisabled() (rules []*DisabledRule) {
	items := r.recent.Items()
	for _, k := range slices.Sorted(maps.Keys(items)) {
		reason, _ := items[k].Object.(string)
		rules = append(rules, &DisabledRule{
			Rule:   filter.RuleText(k),
			Reason: reason,
		})
	}

	return rules
}
