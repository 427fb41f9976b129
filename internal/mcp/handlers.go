package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
)

// skillHandler runs the named skill with the call's arguments. The
// toolset is loaded per call and never kept between calls.
func (s *Server) skillHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("arguments are not valid JSON"), nil
		}

		toolset, err := s.loader.Load(ctx, s.tenantID, s.callerID)
		if err != nil {
			log.Error().Err(err).Str("tenant", s.tenantID).Msg("loading toolset")
			return mcp.NewToolResultError("the tenant's integrations could not be loaded"), nil
		}

		res := toolset.Execute(ctx, name, raw)
		if !res.OK {
			return mcp.NewToolResultError(res.JSON()), nil
		}
		return mcp.NewToolResultText(res.JSON()), nil
	}
}

// handleAsk answers a full question through the assistant.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	ans, err := s.assistant.Ask(ctx, assistant.Request{
		TenantID:  s.tenantID,
		CallerID:  s.callerID,
		SessionID: request.GetString("session_id", ""),
		Question:  question,
	})
	switch {
	case errors.Is(err, assistant.ErrEmptyQuestion):
		return mcp.NewToolResultError("question is empty"), nil
	case errors.Is(err, assistant.ErrSessionNotFound):
		return mcp.NewToolResultError("session not found"), nil
	case err != nil:
		log.Error().Err(err).Str("tenant", s.tenantID).Msg("answering question")
		return mcp.NewToolResultError("could not answer the question right now"), nil
	}

	body, err := json.Marshal(ans)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding answer: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
