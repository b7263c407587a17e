package service

import (
	"github.com/symptom-expert-server/internal/domain"
)

// FilterUnknown partitions symptoms into codes the knowledge base recognises
// and codes it does not. The two sets are disjoint and cover the input.
func FilterUnknown(kb *domain.KnowledgeBase, symptoms domain.SymptomSet) (domain.SymptomSet, domain.SymptomSet) {
	valid := make(domain.SymptomSet, len(symptoms))
	unknown := make(domain.SymptomSet)

	for code := range symptoms {
		if kb.KnowsSymptom(code) {
			valid.Add(code)
		} else {
			unknown.Add(code)
		}
	}

	return valid, unknown
}
