package service

import (
	"sort"

	"github.com/symptom-expert-server/internal/domain"
)

// EvaluateRule decides whether rule applies to the present symptoms and
// extracts the matched required and optional codes, both sorted.
//
// The required set is checked first: any missing required symptom rejects the
// rule. A non-empty optional set then needs at least one present symptom.
// A rule with both sets empty applies and matches nothing.
func EvaluateRule(rule domain.Rule, present domain.SymptomSet) (bool, []string, []string) {
	for _, code := range rule.AllOf {
		if !present.Has(code) {
			return false, nil, nil
		}
	}
	matchedRequired := intersect(rule.AllOf, present)

	matchedOptional := []string{}
	if len(rule.AnyOf) > 0 {
		matchedOptional = intersect(rule.AnyOf, present)
		if len(matchedOptional) == 0 {
			return false, nil, nil
		}
	}

	return true, matchedRequired, matchedOptional
}

// intersect returns the distinct codes of list present in set, sorted.
func intersect(list []string, set domain.SymptomSet) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, code := range list {
		if _, dup := seen[code]; dup || !set.Has(code) {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
