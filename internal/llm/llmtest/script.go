// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/ziadkadry99/erp-copilot/internal/llm"
)

// ErrScriptExhausted is returned when more completions are requested than scripted.
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Provider replays scripted responses in order and records every request.
type Provider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	requests  []llm.CompletionRequest
	Err       error
}

// New returns a provider that answers with responses in order.
func New(responses ...*llm.CompletionResponse) *Provider {
	return &Provider{responses: responses}
}

// Text is a final answer with no tool calls.
func Text(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content, Model: "scripted", FinishReason: "stop", InputTokens: 10, OutputTokens: 5}
}

// Calls is a turn requesting the given tool calls.
func Calls(calls ...llm.ToolCall) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: calls, Model: "scripted", FinishReason: "tool_calls", InputTokens: 10, OutputTokens: 5}
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.requests = append(p.requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.responses) == 0 {
		return nil, ErrScriptExhausted
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

// Requests returns a copy of the recorded requests.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}
