package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerPrompts() {
	s.MCPServer.AddPrompt(&mcp.Prompt{
		Name:        "explain_diagnosis",
		Description: "Guide the assistant through running a diagnosis and explaining it in plain language.",
		Arguments: []*mcp.PromptArgument{
			{Name: "symptoms", Description: "comma separated symptom codes", Required: true},
			{Name: "language", Description: "language of the explanation (default fr)"},
		},
	}, s.explainDiagnosisPrompt)
}

func (s *Server) explainDiagnosisPrompt(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	raw := strings.TrimSpace(req.Params.Arguments["symptoms"])
	if raw == "" {
		return nil, fmt.Errorf("symptoms is required")
	}

	var symptoms []string
	for _, code := range strings.Split(raw, ",") {
		if code = strings.TrimSpace(code); code != "" {
			symptoms = append(symptoms, code)
		}
	}

	language := req.Params.Arguments["language"]
	if language == "" {
		language = "fr"
	}

	text := fmt.Sprintf(`Call the "diagnose" tool with symptoms %s.
Then explain the result in %s:
- list each diagnosis with its score as a percentage,
- quote the explanation of every rule that fired,
- mention any symptom code that was ignored as unknown,
- if the result is inconclusive, suggest which symptoms from "list_symptoms" would help.
Remind the reader that this is an educational tool and not medical advice.`,
		strings.Join(symptoms, ", "), language)

	return &mcp.GetPromptResult{
		Description: "Diagnosis walkthrough",
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text}},
		},
	}, nil
}
