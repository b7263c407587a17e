package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/symptom-expert-server/internal/domain"
)

// Resource URIs served by the MCP server
const (
	KnowledgeBaseURI = "symptom-expert://knowledge-base"
	RulesURI         = "symptom-expert://rules"
)

func (s *Server) registerResources() {
	s.MCPServer.AddResource(&mcp.Resource{
		URI:         KnowledgeBaseURI,
		Name:        "knowledge-base",
		Description: "Symptoms, diagnoses, categories and fingerprint of the active knowledge base.",
		MIMEType:    "application/json",
	}, s.readKnowledgeBase)

	s.MCPServer.AddResource(&mcp.Resource{
		URI:         RulesURI,
		Name:        "rules",
		Description: "Every inference rule in evaluation order.",
		MIMEType:    "application/json",
	}, s.readRules)
}

func (s *Server) readKnowledgeBase(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		return nil, domain.ErrNotLoaded
	}
	return jsonResource(req.Params.URI, domain.Summarize(kb))
}

func (s *Server) readRules(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	kb := s.engine.KnowledgeBase()
	if kb == nil {
		return nil, domain.ErrNotLoaded
	}
	return jsonResource(req.Params.URI, kb.Rules())
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(payload)},
		},
	}, nil
}
