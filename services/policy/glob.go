package policy

import "strings"

// Wildcard is the pattern that matches every value
const Wildcard = "*"

// MatchPattern checks whether value matches a glob pattern.
//
//	"*"             matches anything, including the empty string
//	"delete_*"      matches "delete_order", "delete_"
//	"*_order"       matches "process_order"
//	"temporal:*:v1" matches "temporal:activity:v1"
//	"greet"         matches "greet" exactly
//
// '*' is the only metacharacter and matches any run of characters,
// including separators such as '/' and ':'.
func MatchPattern(pattern, value string) bool {
	if pattern == Wildcard {
		return true
	}
	if !strings.Contains(pattern, Wildcard) {
		return pattern == value
	}

	parts := strings.Split(pattern, Wildcard)

	// Leading literal must anchor at the start.
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]

	// Trailing literal must anchor at the end.
	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]

	for _, part := range middle {
		if part == "" {
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		value = value[idx+len(part):]
	}

	return strings.HasSuffix(value, last)
}

// MatchAnyPattern checks whether value matches any pattern in the
// list. Returns true on the first match.
func MatchAnyPattern(patterns []string, value string) bool {
	for _, p := range patterns {
		if MatchPattern(p, value) {
			return true
		}
	}
	return false
}
