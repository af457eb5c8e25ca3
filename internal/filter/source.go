package filter

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// Kind is the kind of a filter source.
type Kind uint8

// Kind values.
const (
	KindNone Kind = iota
	KindBuiltIn
	KindCustom
	KindQuickFix
	KindAllowlist
	KindUserRules
)

// String implements the [fmt.Stringer] interface for Kind.
func (k Kind) String() (s string) {
	switch k {
	case KindNone:
		return "none"
	case KindBuiltIn:
		return "built_in"
	case KindCustom:
		return "custom"
	case KindQuickFix:
		return "quick_fix"
	case KindAllowlist:
		return "allowlist"
	case KindUserRules:
		return "user_rules"
	default:
		return fmt.Sprintf("!bad_kind_%d", uint8(k))
	}
}

// NewKind parses the kind from its string representation.
func NewKind(s string) (k Kind, err error) {
	switch s {
	case "built_in":
		return KindBuiltIn, nil
	case "custom":
		return KindCustom, nil
	case "quick_fix":
		return KindQuickFix, nil
	case "allowlist":
		return KindAllowlist, nil
	case "user_rules":
		return KindUserRules, nil
	default:
		return KindNone, fmt.Errorf("filter kind: %w: %q", errors.ErrBadEnumValue, s)
	}
}

// IsDynamic returns true if the rules of the sources of this kind are authored
// or editable by the user, as opposed to the maintained filter lists.
func (k Kind) IsDynamic() (ok bool) {
	return k == KindUserRules || k == KindCustom || k == KindAllowlist
}

// Source is a single named source of rule text.
type Source struct {
	// UpdateTime is the time of the last change of the content of the source.
	UpdateTime time.Time

	// ID is the unique and stable identifier of the source.  It uniquely
	// determines Kind.
	ID ID

	// Rules are the raw rule lines of the source in their original order.
	// For custom filters this is nil, since their content is kept in the
	// content storage.
	Rules []RuleText

	// Disabled are the rule lines that were removed from Rules because the
	// runtime rejected them.  Only used for the user-rules source.
	Disabled []RuleText

	// Kind is the kind of the source.
	Kind Kind

	// Enabled shows whether the source takes part in the configuration.
	Enabled bool

	// Trusted shows whether the custom filter is trusted and may use the
	// privileged modifiers.  It is ignored for all kinds except
	// [KindCustom].
	Trusted bool
}

// Clone returns a deep clone of s.
func (s *Source) Clone() (c *Source) {
	if s == nil {
		return nil
	}

	return &Source{
		UpdateTime: s.UpdateTime,
		ID:         s.ID,
		Rules:      slices.Clone(s.Rules),
		Disabled:   slices.Clone(s.Disabled),
		Kind:       s.Kind,
		Enabled:    s.Enabled,
		Trusted:    s.Trusted,
	}
}

// Settings is the snapshot of the feature flags that affect the configuration.
type Settings struct {
	// LogLevel is the verbosity of the runtime.
	LogLevel slog.Level

	// FilteringEnabled shows whether filtering is enabled at all.  If it is
	// false, the configuration contains no rules.
	FilteringEnabled bool

	// AllowlistEnabled shows whether the allow-list feature is enabled.
	AllowlistEnabled bool

	// AllowlistInverted shows whether the allow-list is inverted, that is
	// whether filtering is only performed on the listed domains.
	AllowlistInverted bool

	// UserRulesEnabled shows whether the user rules feature is enabled.
	UserRulesEnabled bool
}
