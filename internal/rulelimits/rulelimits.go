// Package rulelimits contains the rule counts reported by the runtime, the
// static ceilings imposed on them, and the process-wide tracker of the last
// observed state.
package rulelimits

import (
	"fmt"
	"strings"
)

// Category is a category of rules with its own ceiling.
type Category uint8

// Category values.
const (
	CategoryStatic Category = iota + 1
	CategoryDynamic
	CategoryTotal
)

// String implements the [fmt.Stringer] interface for Category.
func (c Category) String() (s string) {
	switch c {
	case CategoryStatic:
		return "static"
	case CategoryDynamic:
		return "dynamic"
	case CategoryTotal:
		return "total"
	default:
		return fmt.Sprintf("!bad_category_%d", uint8(c))
	}
}

// Categories are all valid categories in a stable order.
var Categories = []Category{CategoryStatic, CategoryDynamic, CategoryTotal}

// Ceilings are the fixed maximum rule counts imposed by the runtime platform.
type Ceilings struct {
	// Static is the maximum number of rules from built-in and quick-fix
	// filters.
	Static int

	// Dynamic is the maximum number of user, custom, and allow-list rules.
	Dynamic int

	// Total is the maximum number of all rules.
	Total int
}

// Count is the rule count of a single category together with its ceiling.
type Count struct {
	// Value is the number of rules the configuration contained.
	Value int

	// Ceiling is the maximum number of rules of the category.
	Ceiling int
}

// Exceeded returns true if the count is greater than its ceiling.
func (c Count) Exceeded() (ok bool) {
	return c.Value > c.Ceiling
}

// Limits are the rule counts of a single apply.  The exceeded state of every
// category is always computed from the counts and is never stored.
type Limits struct {
	// Static is the count of rules from built-in and quick-fix filters.
	Static Count

	// Dynamic is the count of user, custom, and allow-list rules.
	Dynamic Count

	// Total is the count of all rules.
	Total Count
}

// New returns new limits for the given counts.  The total count is the sum of
// static and dynamic.
func New(static, dynamic int, c Ceilings) (l *Limits) {
	return &Limits{
		Static: Count{
			Value:   static,
			Ceiling: c.Static,
		},
		Dynamic: Count{
			Value:   dynamic,
			Ceiling: c.Dynamic,
		},
		Total: Count{
			Value:   static + dynamic,
			Ceiling: c.Total,
		},
	}
}

// Count returns the count of the category.  cat must be valid.
func (l *Limits) Count(cat Category) (c Count) {
	switch cat {
	case CategoryStatic:
		return l.Static
	case CategoryDynamic:
		return l.Dynamic
	case CategoryTotal:
		return l.Total
	default:
		panic(fmt.Errorf("rulelimits: bad category %d", cat))
	}
}

// Exceeded returns the categories the counts of which are above their
// ceilings.  l may be nil.
func (l *Limits) Exceeded() (cats []Category) {
	if l == nil {
		return nil
	}

	for _, cat := range Categories {
		if l.Count(cat).Exceeded() {
			cats = append(cats, cat)
		}
	}

	return cats
}

// flags is the compact representation of the exceeded state of all
// categories.
type flags uint8

// exceededFlags returns the exceeded state of l.  l may be nil, in which case
// no categories are exceeded.
func (l *Limits) exceededFlags() (f flags) {
	for _, cat := range l.Exceeded() {
		f |= 1 << cat
	}

	return f
}

// String implements the [fmt.Stringer] interface for *Limits.
func (l *Limits) String() (s string) {
	if l == nil {
		return "<nil>"
	}

	parts := make([]string, 0, len(Categories))
	for _, cat := range Categories {
		c := l.Count(cat)
		parts = append(parts, fmt.Sprintf("%s=%d/%d", cat, c.Value, c.Ceiling))
	}

	return strings.Join(parts, " ")
}
