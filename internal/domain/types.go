// Package domain contains the core entities of the symptom diagnosis engine:
// weighted rules, the immutable knowledge base they live in, the match records
// produced when a rule fires, and the request/response shapes shared by every
// boundary (HTTP, WebSocket, MCP, CLI).
//
// This is a non-authoritative teaching prototype. Scores are not medical advice.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// InferenceMode selects the chaining strategy used to score diagnoses.
type InferenceMode string

const (
	// ModeForward evaluates every rule once and scores every diagnosis they mention.
	ModeForward InferenceMode = "forward"
	// ModeBackward evaluates only the rules of the target diagnoses.
	ModeBackward InferenceMode = "backward"
)

// Sentinel errors shared across packages
var (
	ErrNotFound        = errors.New("not found")
	ErrEmptySymptomSet = errors.New("no known symptom in request")
	ErrInvalidMode     = errors.New("invalid inference mode")
	ErrNotLoaded       = errors.New("knowledge base not loaded")
)

// IsValid reports whether m is a supported inference mode.
func (m InferenceMode) IsValid() bool {
	return m == ModeForward || m == ModeBackward
}

// String returns the string representation of the mode
func (m InferenceMode) String() string {
	return string(m)
}

// ParseInferenceMode accepts the English mode names as well as the historical
// French selectors ("avant", "arriere") still sent by older web clients.
func ParseInferenceMode(s string) (InferenceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "avant":
		return ModeForward, nil
	case "backward", "arriere", "arrière":
		return ModeBackward, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// SymptomSet is an unordered set of symptom codes. Only presence matters.
type SymptomSet map[string]struct{}

// NewSymptomSet builds a set from codes, dropping duplicates and blank entries.
func NewSymptomSet(codes ...string) SymptomSet {
	set := make(SymptomSet, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether code is present.
func (s SymptomSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code into the set.
func (s SymptomSet) Add(code string) {
	s[code] = struct{}{}
}

// Len returns the number of codes in the set.
func (s SymptomSet) Len() int {
	return len(s)
}

// Sorted returns the codes in ascending order. The result is never nil.
func (s SymptomSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Rule links required ("all of") and optional ("any of") symptoms to a
// diagnosis. Rules are loaded once and never mutated by inference.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Diagnosis   string   `json:"diagnosis" yaml:"diagnosis"`
	AllOf       []string `json:"all_of,omitempty" yaml:"all_of,omitempty"`
	AnyOf       []string `json:"any_of,omitempty" yaml:"any_of,omitempty"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Explanation string   `json:"explanation" yaml:"explanation"`
}

// MatchRecord is the trace of one rule that fired for a diagnosis during a
// single inference run. Matched symptom lists are sorted.
type MatchRecord struct {
	RuleID          string   `json:"rule_id"`
	Diagnosis       string   `json:"diagnosis"`
	RuleConfidence  float64  `json:"rule_confidence"`
	ScoreAdded      float64  `json:"score_added"`
	Explanation     string   `json:"explanation"`
	MatchedRequired []string `json:"matched_required"`
	MatchedOptional []string `json:"matched_optional"`
}

// Category groups symptom codes for presentation (e.g. "ORL", "digestif").
type Category struct {
	ID       string   `json:"id" yaml:"id"`
	Label    string   `json:"label" yaml:"label"`
	Symptoms []string `json:"symptoms,omitempty" yaml:"symptoms,omitempty"`
}

// DiagnosisMeta holds display information about a diagnosis identifier.
type DiagnosisMeta struct {
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Advice      string `json:"advice,omitempty" yaml:"advice,omitempty"`
}
