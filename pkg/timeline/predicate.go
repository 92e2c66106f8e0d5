package timeline

import "strings"

// wildcard categories match every record
var wildcardCategories = map[string]bool{"": true, "any": true, "all": true}

// Eligible reports whether a record satisfies every threshold and the category test of inst.
// A threshold on a metric the record does not carry fails the test.
func Eligible(inst Instrument, rec Record) bool {
	for metric, r := range inst.Thresholds {
		v, ok := rec.Normalized[metric]
		if !ok || !r.Contains(v) {
			return false
		}
	}
	return MatchesCategory(inst.Category, rec.Category)
}

// MatchesCategory is the categorical equality test; "any", "all" and "" match everything
func MatchesCategory(want, got string) bool {
	if isWildcard(want) {
		return true
	}
	return want == got
}

func isWildcard(category string) bool {
	return wildcardCategories[strings.ToLower(category)]
}
