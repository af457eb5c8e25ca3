package registry

import (
	"slices"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/rulesync/internal/filter"
)

// DisableUserRules moves the given lines from the live user rules into the
// disabled ones.  Lines that are no longer present in the live user rules are
// ignored.  removed are the lines that have actually been disabled, in the
// order of lines.
func (r *Registry) DisableUserRules(lines []filter.RuleText) (removed []filter.RuleText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.sources[filter.IDUserRules]
	live := container.NewMapSet(src.Rules...)

	seen := container.NewMapSet[filter.RuleText]()
	for _, l := range lines {
		if seen.Has(l) || !live.Has(l) {
			continue
		}

		seen.Add(l)
		removed = append(removed, l)
	}

	if len(removed) == 0 {
		return nil
	}

	src.Rules = slices.DeleteFunc(src.Rules, seen.Has)
	for _, l := range removed {
		if !slices.Contains(src.Disabled, l) {
			src.Disabled = append(src.Disabled, l)
		}
	}

	src.UpdateTime = r.clock.Now()
	r.revision++

	r.logger.Info("disabled user rules", "count", len(removed), "disabled_total", len(src.Disabled))

	return removed
}

// EnableUserRules moves the given lines from the disabled user rules back into
// the live ones, appending them to the end.  restored are the lines that have
// actually been enabled.
func (r *Registry) EnableUserRules(lines []filter.RuleText) (restored []filter.RuleText) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.sources[filter.IDUserRules]
	for _, l := range lines {
		i := slices.Index(src.Disabled, l)
		if i < 0 {
			continue
		}

		src.Disabled = slices.Delete(src.Disabled, i, i+1)
		src.Rules = append(src.Rules, l)
		restored = append(restored, l)
	}

	if len(restored) == 0 {
		return nil
	}

	src.UpdateTime = r.clock.Now()
	r.revision++

	r.logger.Info("enabled user rules", "count", len(restored))

	return restored
}
