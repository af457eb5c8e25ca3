package cmd

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
)

// reconcileConfig is the configuration of the reconciliation controller.
type reconcileConfig struct {
	// Debounce is the quiet period after the last update request before an
	// apply cycle starts.
	Debounce timeutil.Duration `yaml:"debounce"`

	// UnrecoveredReportInterval is the minimum interval between two reports of
	// the rules that are still rejected after a remediation.
	UnrecoveredReportInterval timeutil.Duration `yaml:"unrecovered_report_interval"`
}

// type check
var _ validate.Interface = (*reconcileConfig)(nil)

// Validate implements the [validate.Interface] interface for *reconcileConfig.
func (c *reconcileConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotNegative("debounce", c.Debounce),
		validate.Positive("unrecovered_report_interval", c.UnrecoveredReportInterval),
	)
}

// remediationConfig is the configuration of the remediation of the rejected
// user rules.
type remediationConfig struct {
	// RecentTTL is the duration for which the disabled rules are reported as
	// recently disabled.
	RecentTTL timeutil.Duration `yaml:"recent_ttl"`
}

// type check
var _ validate.Interface = (*remediationConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *remediationConfig.
func (c *remediationConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return validate.NoLessThan("recent_ttl", time.Duration(c.RecentTTL), time.Second)
}

// limitsConfig are the ceilings of the rule counts.
type limitsConfig struct {
	// Static is the ceiling of the rules of the built-in and quick-fix
	// filters.
	Static int `yaml:"static"`

	// Dynamic is the ceiling of the user rules, custom filters, and the
	// allow-list.
	Dynamic int `yaml:"dynamic"`

	// Total is the ceiling of all active rules.
	Total int `yaml:"total"`
}

// type check
var _ validate.Interface = (*limitsConfig)(nil)

// Validate implements the [validate.Interface] interface for *limitsConfig.
func (c *limitsConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.Positive("static", c.Static),
		validate.Positive("dynamic", c.Dynamic),
		validate.Positive("total", c.Total),
	)
}

// toInternal converts c to the rule ceilings.  c must be valid.
func (c *limitsConfig) toInternal() (ceil rulelimits.Ceilings) {
	return rulelimits.Ceilings{
		Static:  c.Static,
		Dynamic: c.Dynamic,
		Total:   c.Total,
	}
}
