package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/domain"
)

type diagnoseInput struct {
	Symptoms []string `json:"symptoms" jsonschema:"symptom codes, e.g. fievre or toux"`
	Mode     string   `json:"mode,omitempty" jsonschema:"forward (default) or backward"`
	Targets  []string `json:"targets,omitempty" jsonschema:"diagnoses to test in backward mode; empty means all"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"maximum number of diagnoses to return (default 3)"`
}

type diagnoseOutput struct {
	Mode            string                   `json:"mode"`
	Results         []domain.DiagnosisResult `json:"results"`
	UnknownSymptoms []string                 `json:"unknown_symptoms"`
	Inconclusive    bool                     `json:"inconclusive"`
	KnowledgeBase   string                   `json:"knowledge_base"`
}

type listSymptomsInput struct {
	Category string `json:"category,omitempty" jsonschema:"category id to filter on"`
}

type listSymptomsOutput struct {
	Symptoms   []string          `json:"symptoms"`
	Categories []domain.Category `json:"categories"`
	Count      int               `json:"count"`
}

type getRuleInput struct {
	RuleID string `json:"rule_id" jsonschema:"rule identifier, e.g. R_GRIPPE_1"`
}

type getRuleOutput struct {
	Rule domain.Rule `json:"rule"`
}

func (s *Server) handleDiagnose(ctx context.Context, _ *mcp.CallToolRequest, input diagnoseInput) (*mcp.CallToolResult, diagnoseOutput, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":     "diagnose",
		"symptoms": len(input.Symptoms),
		"mode":     input.Mode,
	}).Info("Tool invoked")

	resp, err := s.engine.Diagnose(ctx, &domain.DiagnosisRequest{
		Symptoms: input.Symptoms,
		Mode:     domain.InferenceMode(strings.TrimSpace(input.Mode)),
		Targets:  input.Targets,
		TopK:     input.TopK,
	})
	if err != nil {
		return nil, diagnoseOutput{}, toolError(err)
	}

	return nil, diagnoseOutput{
		Mode:            string(resp.Mode),
		Results:         resp.Results,
		UnknownSymptoms: resp.UnknownSymptoms,
		Inconclusive:    resp.Inconclusive,
		KnowledgeBase:   resp.KnowledgeBase,
	}, nil
}

func (s *Server) handleListSymptoms(_ context.Context, _ *mcp.CallToolRequest, input listSymptomsInput) (*mcp.CallToolResult, listSymptomsOutput, error) {
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		return nil, listSymptomsOutput{}, toolError(domain.ErrNotLoaded)
	}

	summary := domain.Summarize(kb)
	categories := summary.Categories

	if input.Category == "" {
		return nil, listSymptomsOutput{Symptoms: summary.Symptoms, Categories: categories, Count: len(summary.Symptoms)}, nil
	}

	for _, c := range categories {
		if c.ID == input.Category {
			symptoms := c.Symptoms
			if symptoms == nil {
				symptoms = []string{}
			}
			return nil, listSymptomsOutput{
				Symptoms:   symptoms,
				Categories: []domain.Category{c},
				Count:      len(symptoms),
			}, nil
		}
	}
	return nil, listSymptomsOutput{}, fmt.Errorf("unknown category %q", input.Category)
}

func (s *Server) handleGetRule(_ context.Context, _ *mcp.CallToolRequest, input getRuleInput) (*mcp.CallToolResult, getRuleOutput, error) {
	if input.RuleID == "" {
		return nil, getRuleOutput{}, fmt.Errorf("rule_id is required")
	}

	kb := s.engine.KnowledgeBase()
	if kb == nil {
		return nil, getRuleOutput{}, toolError(domain.ErrNotLoaded)
	}

	rule, ok := kb.Rule(input.RuleID)
	if !ok {
		return nil, getRuleOutput{}, fmt.Errorf("rule %q: %w", input.RuleID, domain.ErrNotFound)
	}
	return nil, getRuleOutput{Rule: rule}, nil
}

// toolError renders err with its public error code so agents can branch on it.
func toolError(err error) error {
	apiErr := domain.APIErrorFrom(err, "")
	if apiErr.Details != "" {
		return fmt.Errorf("%s: %s (%s)", apiErr.Code, apiErr.Message, apiErr.Details)
	}
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
