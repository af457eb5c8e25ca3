// Package filter contains the common types of filter sources, filtering
// configurations, and the contract of the runtime that activates them.
package filter

import (
	"context"

	"github.com/AdguardTeam/rulesync/internal/rulelimits"
)

// StoragePrefix is a common prefix for logging and refreshes of the filter
// content storage.
const StoragePrefix = "filters/storage"

// Configuration is the fully-resolved input to the runtime for one apply
// cycle.  It must not be modified after construction.
type Configuration struct {
	// Revision is the revision of the registry snapshot this configuration
	// has been built from.
	Revision uint64

	// BuiltInIDs are the sorted IDs of the enabled built-in filters.
	BuiltInIDs []ID

	// QuickFixIDs are the sorted IDs of the enabled quick-fix filters.
	QuickFixIDs []ID

	// CustomFilters are the payloads of the enabled custom filters sorted by
	// ID.
	CustomFilters []*CustomPayload

	// Allowlist is the resolved list of allow-list domains.  See
	// [Configuration.AllowlistInverted] for its meaning.
	Allowlist []string

	// UserRules are the non-empty and unique user rules in the order of their
	// first occurrence.
	UserRules []RuleText

	// Settings is the snapshot of feature flags used to build the
	// configuration, including the verbosity of the runtime.
	Settings Settings

	// AllowlistInverted, if true, means that filtering is performed only on
	// the domains from Allowlist.  Otherwise, filtering is disabled on the
	// domains from Allowlist.
	AllowlistInverted bool
}

// CustomPayload is the content of a single custom filter prepared for the
// runtime.
type CustomPayload struct {
	// ID is the ID of the custom filter.
	ID ID

	// Text is the rule text of the custom filter, one rule per line.
	Text string

	// Trusted shows whether the custom filter is trusted.
	Trusted bool
}

// Runtime compiles and activates filtering configurations.  The runtime is
// expected to keep its last good state when Apply fails.
type Runtime interface {
	// Apply compiles and activates c.  err is only returned if the whole
	// apply has failed; rejected rules are reported in res.Errors.  c must
	// not be nil.
	Apply(ctx context.Context, c *Configuration) (res *ApplyResult, err error)

	// ActiveRuleCount returns the number of currently active rules.
	ActiveRuleCount() (n int)
}

// ApplyResult is the outcome of a single successful [Runtime.Apply] call.
type ApplyResult struct {
	// Limits are the resulting rule counts and ceilings.  It must not be nil.
	Limits *rulelimits.Limits

	// Errors are the per-rule errors.
	Errors []*RuleError

	// ActiveRules is the overall number of active rules.
	ActiveRules int
}

// UserRuleErrors returns the errors of res attributable to the user-rules
// source.
func (res *ApplyResult) UserRuleErrors() (errs []*RuleError) {
	for _, e := range res.Errors {
		if e.Kind == KindUserRules {
			errs = append(errs, e)
		}
	}

	return errs
}
