package domain

// DiagnosisRequest is the boundary request shared by HTTP, WebSocket, MCP and CLI.
type DiagnosisRequest struct {
	Symptoms []string      `json:"symptoms"`
	Mode     InferenceMode `json:"mode,omitempty"`
	// Targets restricts backward chaining; empty means every known diagnosis.
	Targets []string `json:"targets,omitempty"`
	TopK    int      `json:"top_k,omitempty"`
}

// DiagnosisResult is one ranked diagnosis with its explanation.
type DiagnosisResult struct {
	Diagnosis    string        `json:"diagnosis"`
	Name         string        `json:"name"`
	Category     string        `json:"category,omitempty"`
	Score        float64       `json:"score"`
	Explanations []string      `json:"explanations"`
	Matches      []MatchRecord `json:"matches,omitempty"`
}

// DiagnosisResponse carries the ranked results of one inference call.
type DiagnosisResponse struct {
	Mode            InferenceMode     `json:"mode"`
	Results         []DiagnosisResult `json:"results"`
	ValidSymptoms   []string          `json:"valid_symptoms"`
	UnknownSymptoms []string          `json:"unknown_symptoms"`
	// Inconclusive is set when no rule fired and the placeholder was substituted.
	Inconclusive  bool   `json:"inconclusive"`
	KnowledgeBase string `json:"knowledge_base"`
}

// KnowledgeBaseSummary is what the configuration endpoint exposes to clients.
type KnowledgeBaseSummary struct {
	Symptoms      []string                 `json:"symptoms"`
	Diagnoses     []string                 `json:"diagnoses"`
	Categories    []Category               `json:"categories"`
	DiagnosesMeta map[string]DiagnosisMeta `json:"diagnoses_meta"`
	RuleCount     int                      `json:"rule_count"`
	Fingerprint   string                   `json:"fingerprint"`
}

// Summarize builds the client-facing summary of kb.
func Summarize(kb *KnowledgeBase) KnowledgeBaseSummary {
	data := cloneData(kb.data)
	if data.Categories == nil {
		data.Categories = []Category{}
	}
	if data.DiagnosesMeta == nil {
		data.DiagnosesMeta = map[string]DiagnosisMeta{}
	}
	return KnowledgeBaseSummary{
		Symptoms:      data.Symptoms,
		Diagnoses:     data.Diagnoses,
		Categories:    data.Categories,
		DiagnosesMeta: data.DiagnosesMeta,
		RuleCount:     len(kb.Rules()),
		Fingerprint:   kb.Fingerprint(),
	}
}
