package skills

import (
	"github.com/mark3labs/mcp-go/mcp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ziadkadry99/erp-copilot/internal/llm"
)

// ToLLMTools converts skills to provider-neutral tool specs.
func ToLLMTools(list []Skill) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(list))
	for _, s := range list {
		out = append(out, llm.ToolSpec{Name: s.Name, Description: s.Description, Parameters: s.Schema.JSONSchema()})
	}
	return out
}

// ToOpenAITools converts skills to Chat Completions function tools.
func ToOpenAITools(list []Skill) []openai.Tool {
	return llm.OpenAITools(ToLLMTools(list))
}

// ToMCPTools converts skills to MCP tool definitions.
func ToMCPTools(list []Skill) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(list))
	for _, s := range list {
		out = append(out, mcp.NewToolWithRawSchema(s.Name, s.Description, s.Schema.JSONSchema()))
	}
	return out
}
