package filter

import (
	"fmt"
	"strings"
)

// SourceUnavailableError is returned when the content of a filter source cannot
// be retrieved.
type SourceUnavailableError struct {
	// Err is the underlying error.  It must not be nil.
	Err error

	// ID is the ID of the unavailable source.
	ID ID
}

// type check
var _ error = (*SourceUnavailableError)(nil)

// Error implements the error interface for *SourceUnavailableError.
func (err *SourceUnavailableError) Error() (msg string) {
	return fmt.Sprintf("source %q unavailable: %s", err.ID, err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *SourceUnavailableError.
func (err *SourceUnavailableError) Unwrap() (unwrapped error) {
	return err.Err
}

// RuntimeApplyError is returned when the runtime failed to apply the whole
// configuration.
type RuntimeApplyError struct {
	// Err is the underlying error.  It must not be nil.
	Err error
}

// type check
var _ error = (*RuntimeApplyError)(nil)

// Error implements the error interface for *RuntimeApplyError.
func (err *RuntimeApplyError) Error() (msg string) {
	return fmt.Sprintf("runtime apply failed: %s", err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *RuntimeApplyError.
func (err *RuntimeApplyError) Unwrap() (unwrapped error) {
	return err.Err
}

// RuleError is a single rule rejected by the runtime.  It is data returned
// alongside a successful apply, but it implements error for reporting.
type RuleError struct {
	// SourceID is the ID of the source the rule belongs to.
	SourceID ID

	// Rule is the text of the rejected rule.
	Rule RuleText

	// Reason is the human-readable reason of the rejection.
	Reason string

	// Kind is the kind of the source the rule belongs to.
	Kind Kind
}

// type check
var _ error = (*RuleError)(nil)

// Error implements the error interface for *RuleError.
func (err *RuleError) Error() (msg string) {
	return fmt.Sprintf("rule %q from %s source %q: %s", err.Rule, err.Kind, err.SourceID, err.Reason)
}

// UnrecoveredRejectionError is reported when the runtime still rejects rules
// after a remediation pass.
type UnrecoveredRejectionError struct {
	// Rules are the rules that are still rejected.
	Rules []RuleText
}

// type check
var _ error = (*UnrecoveredRejectionError)(nil)

// Error implements the error interface for *UnrecoveredRejectionError.
func (err *UnrecoveredRejectionError) Error() (msg string) {
	strs := make([]string, 0, len(err.Rules))
	for _, r := range err.Rules {
		strs = append(strs, fmt.Sprintf("%q", r))
	}

	return fmt.Sprintf("%d rules still rejected after remediation: %s", len(strs), strings.Join(strs, ", "))
}
