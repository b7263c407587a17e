// Package mcp exposes the diagnosis engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/domain"
)

// Server wraps an MCP server bound to a diagnosis engine
type Server struct {
	MCPServer *mcp.Server
	engine    domain.DiagnosisEngine
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance and registers its tools,
// resources and prompts
func NewServer(cfg domain.MCPConfig, engine domain.DiagnosisEngine, logger *logrus.Logger) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "symptom-expert"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "1.0.0"
	}

	server := &Server{
		MCPServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		engine:    engine,
		logger:    logger,
	}
	server.registerTools()
	server.registerResources()
	server.registerPrompts()

	return server
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.MCPServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.MCPServer, &mcp.Tool{
		Name:        "diagnose",
		Description: "Rank likely diagnoses for a list of symptom codes. Unknown codes are ignored and reported back.",
	}, s.handleDiagnose)

	mcp.AddTool(s.MCPServer, &mcp.Tool{
		Name:        "list_symptoms",
		Description: "List the symptom codes the knowledge base understands, optionally restricted to one category.",
	}, s.handleListSymptoms)

	mcp.AddTool(s.MCPServer, &mcp.Tool{
		Name:        "get_rule",
		Description: "Return one inference rule with its conditions, confidence and explanation.",
	}, s.handleGetRule)

	s.logger.WithField("tool_count", 3).Debug("Registered MCP tools")
}
