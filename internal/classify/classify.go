package classify

import "strings"

// Rule is one category's name-matching rule set. Rules are evaluated in slice
// order, so higher-priority categories (pressure before battery) come first.
type Rule struct {
	Category         string
	Patterns         []string
	NegativePatterns []string
}

// Classify maps a header name to a monitoring category. A negative pattern
// match on any category rejects the name outright, regardless of positive
// matches elsewhere. Matching is case-insensitive substring.
func Classify(headerName string, rules []Rule) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(headerName))
	if name == "" {
		return "", false
	}
	for _, rule := range rules {
		for _, neg := range rule.NegativePatterns {
			neg = strings.ToLower(strings.TrimSpace(neg))
			if neg == "" {
				continue
			}
			if strings.Contains(name, neg) {
				return "", false
			}
		}
		for _, pat := range rule.Patterns {
			pat = strings.ToLower(strings.TrimSpace(pat))
			if pat == "" {
				continue
			}
			if strings.Contains(name, pat) {
				return rule.Category, true
			}
		}
	}
	return "", false
}
