package service

import (
	"github.com/symptom-expert-server/internal/domain"
)

// minOptionalBonus is the floor applied to the optional-match ratio.
const minOptionalBonus = 0.6

// RuleContribution converts a fired rule into its score contribution.
// It returns the declared confidence and the score added, clamped to [0, 1].
//
// Without optional symptoms the bonus is 1. Otherwise it is the fraction of
// optional symptoms matched, floored at 0.6.
func RuleContribution(rule domain.Rule, matchedOptional []string) (float64, float64) {
	confidence := rule.Confidence

	bonus := 1.0
	if n := distinctCount(rule.AnyOf); n > 0 {
		bonus = max(minOptionalBonus, float64(len(matchedOptional))/float64(n))
	}

	return confidence, clamp(confidence*bonus, 0.0, 1.0)
}

// CombineScores accumulates independent evidence with a noisy-OR:
// 1 - (1-previous)(1-contribution). The result never decreases and never exceeds 1.
func CombineScores(previous, contribution float64) float64 {
	return clamp(1.0-(1.0-previous)*(1.0-contribution), 0.0, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// distinctCount counts the unique codes in list; duplicates count once.
func distinctCount(list []string) int {
	if len(list) < 2 {
		return len(list)
	}
	seen := make(map[string]struct{}, len(list))
	for _, code := range list {
		seen[code] = struct{}{}
	}
	return len(seen)
}
