package mcp

import "github.com/mark3labs/mcp-go/mcp"

// askTool lets an MCP client pose a whole question and get a checked answer.
var askTool = mcp.NewTool("ask",
	mcp.WithDescription("Ask a business question in natural language. The answer is computed from live ERP data and checked against it before it is returned."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question, e.g. \"How much did we sell this month compared to last month?\""),
	),
	mcp.WithString("session_id",
		mcp.Description("Continue an earlier conversation"),
	),
)
