package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// KnowledgeBaseData is the raw, serialisable content of a knowledge base.
type KnowledgeBaseData struct {
	Rules         []Rule                   `json:"rules" yaml:"rules"`
	Symptoms      []string                 `json:"symptoms" yaml:"symptoms"`
	Diagnoses     []string                 `json:"diagnoses" yaml:"diagnoses"`
	Categories    []Category               `json:"categories,omitempty" yaml:"categories,omitempty"`
	DiagnosesMeta map[string]DiagnosisMeta `json:"diagnoses_meta,omitempty" yaml:"diagnoses_meta,omitempty"`
}

// KnowledgeBase is an immutable, indexed view over KnowledgeBaseData.
// It is safe for concurrent readers; nothing in the engine mutates it.
// Accessors return internal slices which callers must treat as read-only;
// Data and Summarize return copies.
type KnowledgeBase struct {
	data        KnowledgeBaseData
	known       SymptomSet
	byDiagnosis map[string][]Rule
	byID        map[string]Rule
	fingerprint string
}

// NewKnowledgeBase copies data and builds the lookup indexes.
// Validation is the loader's job; this constructor accepts anything.
func NewKnowledgeBase(data KnowledgeBaseData) *KnowledgeBase {
	kb := &KnowledgeBase{
		data:        cloneData(data),
		known:       NewSymptomSet(data.Symptoms...),
		byDiagnosis: make(map[string][]Rule),
		byID:        make(map[string]Rule, len(data.Rules)),
	}

	for _, r := range kb.data.Rules {
		if r.Diagnosis != "" {
			kb.byDiagnosis[r.Diagnosis] = append(kb.byDiagnosis[r.Diagnosis], r)
		}
		kb.byID[r.ID] = r
	}

	// Marshal of plain structs and string-keyed maps cannot fail.
	raw, _ := json.Marshal(kb.data)
	sum := sha256.Sum256(raw)
	kb.fingerprint = hex.EncodeToString(sum[:])

	return kb
}

// Rules returns every rule in stored order.
func (kb *KnowledgeBase) Rules() []Rule {
	return kb.data.Rules
}

// Symptoms returns the recognised symptom codes.
func (kb *KnowledgeBase) Symptoms() []string {
	return kb.data.Symptoms
}

// Diagnoses returns the diagnosis identifiers the knowledge base can produce.
func (kb *KnowledgeBase) Diagnoses() []string {
	return kb.data.Diagnoses
}

// Categories returns the symptom categories, if any.
func (kb *KnowledgeBase) Categories() []Category {
	return kb.data.Categories
}

// KnowsSymptom reports whether code is a recognised symptom.
func (kb *KnowledgeBase) KnowsSymptom(code string) bool {
	return kb.known.Has(code)
}

// RulesFor returns the rules targeting diagnosis, in stored order.
func (kb *KnowledgeBase) RulesFor(diagnosis string) []Rule {
	return kb.byDiagnosis[diagnosis]
}

// RuleIndex returns the diagnosis -> rules index.
func (kb *KnowledgeBase) RuleIndex() map[string][]Rule {
	return kb.byDiagnosis
}

// Rule looks up a rule by identifier.
func (kb *KnowledgeBase) Rule(id string) (Rule, bool) {
	r, ok := kb.byID[id]
	return r, ok
}

// DiagnosisMeta returns display metadata for a diagnosis.
func (kb *KnowledgeBase) DiagnosisMeta(id string) (DiagnosisMeta, bool) {
	meta, ok := kb.data.DiagnosesMeta[id]
	return meta, ok
}

// DiagnosesMeta returns the full metadata map.
func (kb *KnowledgeBase) DiagnosesMeta() map[string]DiagnosisMeta {
	return kb.data.DiagnosesMeta
}

// Fingerprint is the hex SHA-256 of the canonical JSON content.
func (kb *KnowledgeBase) Fingerprint() string {
	return kb.fingerprint
}

// Data returns a deep copy of the underlying content, for export.
func (kb *KnowledgeBase) Data() KnowledgeBaseData {
	return cloneData(kb.data)
}

func cloneData(in KnowledgeBaseData) KnowledgeBaseData {
	out := KnowledgeBaseData{
		Rules:     make([]Rule, len(in.Rules)),
		Symptoms:  append([]string(nil), in.Symptoms...),
		Diagnoses: append([]string(nil), in.Diagnoses...),
	}
	for i, r := range in.Rules {
		r.AllOf = append([]string(nil), r.AllOf...)
		r.AnyOf = append([]string(nil), r.AnyOf...)
		out.Rules[i] = r
	}
	if len(in.Categories) > 0 {
		out.Categories = make([]Category, len(in.Categories))
		for i, c := range in.Categories {
			c.Symptoms = append([]string(nil), c.Symptoms...)
			out.Categories[i] = c
		}
	}
	if len(in.DiagnosesMeta) > 0 {
		out.DiagnosesMeta = make(map[string]DiagnosisMeta, len(in.DiagnosesMeta))
		for k, v := range in.DiagnosesMeta {
			out.DiagnosesMeta[k] = v
		}
	}
	return out
}
