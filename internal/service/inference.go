package service

import (
	"sort"

	"github.com/symptom-expert-server/internal/domain"
)

// InferenceResult holds per-diagnosis combined scores and the traces of the
// rules that fired. Diagnoses with no firing rule are absent from both maps.
type InferenceResult struct {
	Scores map[string]float64
	Traces map[string][]domain.MatchRecord
}

func newInferenceResult() InferenceResult {
	return InferenceResult{
		Scores: make(map[string]float64),
		Traces: make(map[string][]domain.MatchRecord),
	}
}

// RuleIndex maps a diagnosis identifier to its rules in stored order.
type RuleIndex map[string][]domain.Rule

// IndexRules groups rules by target diagnosis. Rules without a diagnosis are skipped.
func IndexRules(rules []domain.Rule) RuleIndex {
	index := make(RuleIndex)
	for _, r := range rules {
		if r.Diagnosis == "" {
			continue
		}
		index[r.Diagnosis] = append(index[r.Diagnosis], r)
	}
	return index
}

// InferForward scans every rule once, in stored order, and accumulates scores
// for every diagnosis whose rules fire.
func InferForward(kb *domain.KnowledgeBase, present domain.SymptomSet) InferenceResult {
	result := newInferenceResult()

	for _, rule := range kb.Rules() {
		record, ok := fire(rule, present)
		if !ok {
			continue
		}
		result.Scores[rule.Diagnosis] = CombineScores(result.Scores[rule.Diagnosis], record.ScoreAdded)
		result.Traces[rule.Diagnosis] = append(result.Traces[rule.Diagnosis], record)
	}

	for diagnosis := range result.Traces {
		sortTrace(result.Traces[diagnosis])
	}

	return result
}

// InferBackward proves each target diagnosis from its own rules only.
// A nil targets slice means every diagnosis declared by the knowledge base;
// an empty non-nil slice proves nothing.
func InferBackward(kb *domain.KnowledgeBase, present domain.SymptomSet, targets []string) InferenceResult {
	if targets == nil {
		targets = kb.Diagnoses()
	}
	return InferBackwardIndexed(kb.RuleIndex(), present, targets)
}

// InferBackwardIndexed is InferBackward over a pre-built index.
func InferBackwardIndexed(index map[string][]domain.Rule, present domain.SymptomSet, targets []string) InferenceResult {
	result := newInferenceResult()

	for _, diagnosis := range targets {
		score, trace := proveDiagnosis(index[diagnosis], present)
		if score > 0.0 {
			result.Scores[diagnosis] = score
			result.Traces[diagnosis] = trace
		}
	}

	return result
}

func proveDiagnosis(rules []domain.Rule, present domain.SymptomSet) (float64, []domain.MatchRecord) {
	score := 0.0
	trace := make([]domain.MatchRecord, 0, len(rules))

	for _, rule := range rules {
		record, ok := fire(rule, present)
		if !ok {
			continue
		}
		score = CombineScores(score, record.ScoreAdded)
		trace = append(trace, record)
	}

	sortTrace(trace)
	return score, trace
}

// fire evaluates rule and, when it applies, builds its match record.
func fire(rule domain.Rule, present domain.SymptomSet) (domain.MatchRecord, bool) {
	ok, matchedRequired, matchedOptional := EvaluateRule(rule, present)
	if !ok {
		return domain.MatchRecord{}, false
	}

	confidence, scoreAdded := RuleContribution(rule, matchedOptional)
	return domain.MatchRecord{
		RuleID:          rule.ID,
		Diagnosis:       rule.Diagnosis,
		RuleConfidence:  confidence,
		ScoreAdded:      scoreAdded,
		Explanation:     rule.Explanation,
		MatchedRequired: matchedRequired,
		MatchedOptional: matchedOptional,
	}, true
}

// sortTrace orders records by score added, descending; ties keep input order.
func sortTrace(trace []domain.MatchRecord) {
	sort.SliceStable(trace, func(i, j int) bool {
		return trace[i].ScoreAdded > trace[j].ScoreAdded
	})
}
