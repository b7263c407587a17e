package service

import (
	"sort"
)

// RankedDiagnosis is one entry of a top-k selection.
type RankedDiagnosis struct {
	Diagnosis string  `json:"diagnosis"`
	Score     float64 `json:"score"`
}

// TopK returns at most k diagnoses sorted by score descending.
// Equal scores are ordered by diagnosis identifier ascending so the result
// never depends on map iteration order.
func TopK(scores map[string]float64, k int) []RankedDiagnosis {
	if k <= 0 || len(scores) == 0 {
		return []RankedDiagnosis{}
	}

	ranked := make([]RankedDiagnosis, 0, len(scores))
	for diagnosis, score := range scores {
		ranked = append(ranked, RankedDiagnosis{Diagnosis: diagnosis, Score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Diagnosis < ranked[j].Diagnosis
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
