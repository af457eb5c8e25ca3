package filter

import (
	"bytes"
	"strings"
)

// RulesLen returns the length of the byte buffer necessary to write rules,
// separated by a newline, to it.
func RulesLen[S ~string](rules []S) (l int) {
	for _, s := range rules {
		l += len(s) + len("\n")
	}

	return l
}

// RulesToBytes writes rules to a byte slice, each followed by a newline, and
// returns it.  b is nil if rules are empty.
func RulesToBytes[S ~string](rules []S) (b []byte) {
	l := RulesLen(rules)
	if l == 0 {
		return nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, l))
	for _, s := range rules {
		_, _ = buf.WriteString(string(s))
		_ = buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// RulesToText is like [RulesToBytes] but returns a string.
func RulesToText[S ~string](rules []S) (text string) {
	b := &strings.Builder{}
	b.Grow(RulesLen(rules))

	for _, s := range rules {
		_, _ = b.WriteString(string(s))
		_ = b.WriteByte('\n')
	}

	return b.String()
}

// RulesFromBytes splits data into lines, removing the carriage returns.  The
// empty lines are kept, since their removal is up to the consumers, but the
// empty line after the trailing newline is not.
func RulesFromBytes(data []byte) (rules []RuleText) {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}

	for line := range strings.SplitSeq(text, "\n") {
		rules = append(rules, RuleText(strings.TrimSuffix(line, "\r")))
	}

	return rules
}
