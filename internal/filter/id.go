package filter

import (
	"fmt"
	"unicode/utf8"

	"github.com/AdguardTeam/golibs/errors"
)

// ID is the ID of a filter source.  It is an opaque string.
type ID string

// The maximum and minimum lengths of a filter ID.
const (
	MaxIDLen = 128
	MinIDLen = 1
)

// NewID converts a simple string into an ID and makes sure that it's valid.
// This should be preferred to a simple type conversion.
func NewID(s string) (id ID, err error) {
	defer func() { err = errors.Annotate(err, "bad filter id %q: %w", s) }()

	err = inclusion(len(s), MinIDLen, MaxIDLen, unitByte)
	if err != nil {
		return IDNone, err
	}

	// Allow only the printable, non-whitespace ASCII characters.  The IDs are
	// used as file names and storage keys, so slashes are excluded as well.
	if i, r := firstNonIDRune(s); i != -1 {
		return IDNone, fmt.Errorf("bad rune %q at index %d", r, i)
	}

	return ID(s), nil
}

// Special ID values.  The sources with these IDs always have the same kind,
// see [ReservedKind].
//
// NOTE:  DO NOT change these as persisted registries depend on these values.
const (
	// IDNone means that there is no filter.
	IDNone ID = ""

	// IDAllowlist is the ID of the allow-list source with domains on which
	// filtering is disabled.
	IDAllowlist ID = "allowlist"

	// IDAllowlistInverted is the ID of the allow-list source with domains on
	// which filtering is enabled when the allow-list is inverted.
	IDAllowlistInverted ID = "allowlist_inverted"

	// IDQuickFixes is the ID of the quick-fixes filter.
	IDQuickFixes ID = "quick_fixes"

	// IDUserRules is the ID of the source containing the rules authored by the
	// user.
	IDUserRules ID = "user_rules"
)

// ReservedKind returns the kind of a reserved source ID.  ok is false if id
// isn't reserved.
func ReservedKind(id ID) (k Kind, ok bool) {
	switch id {
	case IDAllowlist, IDAllowlistInverted:
		return KindAllowlist, true
	case IDQuickFixes:
		return KindQuickFix, true
	case IDUserRules:
		return KindUserRules, true
	default:
		return KindNone, false
	}
}

// RuleText is the text of a single rule within a filter source.
type RuleText string

// MaxRuleTextRuneLen is the maximum length of a filter rule in runes.
const MaxRuleTextRuneLen = 1024

// NewRuleText converts a simple string into a RuleText and makes sure that it's
// valid.  This should be preferred to a simple type conversion.
func NewRuleText(s string) (t RuleText, err error) {
	defer func() { err = errors.Annotate(err, "bad filter rule text %q: %w", s) }()

	err = inclusion(utf8.RuneCountInString(s), 0, MaxRuleTextRuneLen, unitRune)
	if err != nil {
		return "", err
	}

	return RuleText(s), nil
}

// Unit name constants for [inclusion].
const (
	unitByte = "bytes"
	unitRune = "runes"
)

// inclusion returns an error if n is greater than maxVal or less than minVal.
// unitName is used for error messages.
func inclusion(n, minVal, maxVal int, unitName string) (err error) {
	switch {
	case n > maxVal:
		return fmt.Errorf("too long: got %d %s, max %d", n, unitName, maxVal)
	case n < minVal:
		return fmt.Errorf("too short: got %d %s, min %d", n, unitName, minVal)
	default:
		return nil
	}
}

// firstNonIDRune returns the first non-printable, non-ASCII, or slash rune and
// its index.  If there are no such runes, i is -1.
func firstNonIDRune(s string) (i int, r rune) {
	for i, r = range s {
		if r < '!' || r > '~' || r == '/' {
			return i, r
		}
	}

	return -1, 0
}
