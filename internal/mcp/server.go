// Package mcp serves one tenant's enabled skills over the Model Context
// Protocol so MCP clients can call them as tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server bound to one tenant and caller.
type Server struct {
	loader    *skills.Loader
	assistant *assistant.Assistant
	tenantID  string
	callerID  string
	tools     []string
	mcp       *server.MCPServer
}

// NewServer loads the tenant's toolset once to decide which tools to
// advertise. Each call reloads it so credential changes apply without a
// restart. asst is optional; when set an ask tool is added.
func NewServer(ctx context.Context, loader *skills.Loader, tenantID, callerID string, asst *assistant.Assistant) (*Server, error) {
	toolset, err := loader.Load(ctx, tenantID, callerID)
	if err != nil {
		return nil, fmt.Errorf("loading toolset: %w", err)
	}

	s := &Server{
		loader:    loader,
		assistant: asst,
		tenantID:  toolset.TenantID(),
		callerID:  callerID,
	}

	s.mcp = server.NewMCPServer(
		"erpcopilot",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerTools(toolset)

	return s, nil
}

// registerTools adds one tool per enabled skill, plus ask.
func (s *Server) registerTools(toolset *skills.Toolset) {
	enabled := toolset.Skills()
	defs := skills.ToMCPTools(enabled)

	tools := make([]server.ServerTool, 0, len(defs)+1)
	for i, def := range defs {
		tools = append(tools, server.ServerTool{Tool: def, Handler: s.skillHandler(enabled[i].Name)})
		s.tools = append(s.tools, def.Name)
	}
	if s.assistant != nil {
		tools = append(tools, server.ServerTool{Tool: askTool, Handler: s.handleAsk})
		s.tools = append(s.tools, askTool.Name)
	}
	s.mcp.AddTools(tools...)
}

// ToolNames returns the advertised tool names.
func (s *Server) ToolNames() []string { return s.tools }

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
