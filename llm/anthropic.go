package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// AnthropicLLM is an LLM implementation using the Anthropic Messages API.
type AnthropicLLM struct {
	clientConfig
}

// Default Anthropic configuration values
const (
	DefaultAnthropicModel   = "claude-3-5-haiku-20241022"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
)

// NewAnthropic creates a new Anthropic LLM client.
func NewAnthropic(opts ...Option) *AnthropicLLM {
	return &AnthropicLLM{
		clientConfig: newClientConfig(os.Getenv("ANTHROPIC_API_KEY"), DefaultAnthropicBaseURL, DefaultAnthropicModel, opts),
	}
}

// anthropicRequest is the API request format.
type anthropicRequest struct {
	Model       string          `json:"model"`
	Messages    []anthropicMsg  `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []anthropicTool `json:"tools,omitempty"`
}

type anthropicMsg struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicResponse is the API response format.
type anthropicResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends a request and returns the complete response.
func (a *AnthropicLLM) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (*LLMResponse, error) {
	start := time.Now()

	req, err := a.buildRequest(messages, tools)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := a.send(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return a.parseResponse(&resp, time.Since(start))
}

func (a *AnthropicLLM) buildRequest(messages []Message, tools []ToolSchema) (*anthropicRequest, error) {
	req := &anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)

		case RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}
			// Results of one assistant turn travel together in a single user message.
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "user" && isToolResults(req.Messages[n-1].Content) {
				req.Messages[n-1].Content = append(req.Messages[n-1].Content, block)
				continue
			}
			req.Messages = append(req.Messages, anthropicMsg{Role: "user", Content: []contentBlock{block}})

		case RoleAssistant:
			var blocks []contentBlock
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				input, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("marshal tool input %s: %w", tc.Name, err)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(blocks) > 0 {
				req.Messages = append(req.Messages, anthropicMsg{Role: "assistant", Content: blocks})
			}

		default:
			req.Messages = append(req.Messages, anthropicMsg{
				Role:    string(RoleUser),
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	req.System = strings.Join(system, "\n\n")

	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return req, nil
}

func isToolResults(blocks []contentBlock) bool {
	for _, b := range blocks {
		if b.Type != "tool_result" {
			return false
		}
	}
	return len(blocks) > 0
}

func (a *AnthropicLLM) parseResponse(resp *anthropicResponse, latency time.Duration) (*LLMResponse, error) {
	result := &LLMResponse{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		LatencyMs:    latency.Milliseconds(),
	}
	result.CostUSD = CalculateCost(resp.Model, result.InputTokens, result.OutputTokens)

	switch resp.StopReason {
	case "end_turn":
		result.StopReason = StopReasonEnd
	case "tool_use":
		result.StopReason = StopReasonToolUse
	case "max_tokens":
		result.StopReason = StopReasonLength
	case "stop_sequence":
		result.StopReason = StopReasonStop
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("decode tool input %s: %w", block.Name, err)
				}
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return result, nil
}
