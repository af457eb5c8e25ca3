package ruleengine

import (
	"fmt"
	"strings"

	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/urlfilter/rules"
)

// The IDs of the urlfilter rule lists.  There is one list per category of
// rules, see [rulelimits.Category].
const (
	listIDStatic  = 1
	listIDDynamic = 2
)

// privilegedModifiers are the rule modifiers that are only allowed in trusted
// custom filters.
var privilegedModifiers = []string{
	"$dnsrewrite",
	",dnsrewrite",
}

// cosmeticMarkers are the markers of the cosmetic rules, which are ignored by
// the DNS engine.
var cosmeticMarkers = []string{
	"##",
	"#@#",
	"#$#",
	"#@$#",
	"#%#",
	"#?#",
}

// isIgnored returns true if the line is empty, a comment, or a cosmetic rule
// and thus isn't counted as a rule.
func isIgnored(line filter.RuleText) (ok bool) {
	s := strings.TrimSpace(string(line))
	if s == "" || s[0] == '!' || s[0] == '#' {
		return true
	}

	for _, m := range cosmeticMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}

	return false
}

// validateRule returns an error if the text of a dynamic rule cannot be used by
// the engine.  A rule is accepted if it's either a valid hosts-file rule or a
// valid network rule.
func validateRule(line filter.RuleText, trusted bool) (err error) {
	s := strings.TrimSpace(string(line))

	_, err = rules.NewHostRule(s, listIDDynamic)
	if err == nil {
		return nil
	}

	_, err = rules.NewNetworkRule(s, listIDDynamic)
	if err != nil {
		// Don't wrap the error, since it's informative enough as is.
		return err
	}

	if trusted {
		return nil
	}

	for _, m := range privilegedModifiers {
		if strings.Contains(s, m) {
			return fmt.Errorf("modifier %q is only allowed in trusted filters", m[1:])
		}
	}

	return nil
}

// allowlistRule returns the rule that disables filtering on domain and all its
// subdomains.
func allowlistRule(domain string) (r filter.RuleText) {
	return filter.RuleText("@@||" + domain + "^$important")
}
