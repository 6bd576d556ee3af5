package llm

import (
	"context"
	"strings"
)

// LLM is the interface for language model backends.
type LLM interface {
	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, messages []Message, tools []ToolSchema) (*LLMResponse, error)
}

// Message represents a conversation message.
type Message struct {
	Role    Role
	Content string

	// ToolCalls are set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the call it answers.
	ToolCallID string

	// Name is the tool name for RoleTool messages.
	Name string
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// LLMResponse is the response from an LLM call.
type LLMResponse struct {
	// Content is the text response
	Content string

	// ToolCalls are any tool calls the model wants to make
	ToolCalls []ToolCall

	// Token counts
	InputTokens  int
	OutputTokens int

	// Cost in USD
	CostUSD float64

	// Latency in milliseconds
	LatencyMs int64

	// StopReason indicates why generation stopped
	StopReason StopReason
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call
	ID string

	// Name is the tool being called
	Name string

	// Arguments are the parameters passed to the tool
	Arguments map[string]any
}

// StopReason indicates why the LLM stopped generating.
type StopReason string

const (
	StopReasonEnd      StopReason = "end_turn"
	StopReasonToolUse  StopReason = "tool_use"
	StopReasonLength   StopReason = "max_tokens"
	StopReasonStop     StopReason = "stop_sequence"
	StopReasonFiltered StopReason = "content_filter"
)

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	// Name of the tool
	Name string `json:"name"`

	// Description of what the tool does
	Description string `json:"description"`

	// InputSchema is the JSON Schema for parameters
	InputSchema map[string]any `json:"input_schema"`
}

// Model pricing for cost calculation (USD per 1M tokens)
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"gpt-4o-mini":               {0.15, 0.60},
	"gpt-4o":                    {2.50, 10.00},
	"gpt-4.1-mini":              {0.40, 1.60},
	"gpt-4.1":                   {2.00, 8.00},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-3-5-haiku-20241022": {0.80, 4.00},
	"claude-3-haiku-20240307":   {0.25, 1.25},
}

// CalculateCost estimates the cost of a request. Dated model names such as
// "gpt-4o-mini-2024-07-18" are priced by their longest known prefix; unknown
// models cost zero.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	best := ""
	for name := range modelPricing {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return 0
	}
	pricing := modelPricing[best]

	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPer1M
	return inputCost + outputCost
}
