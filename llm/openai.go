package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// OpenAILLM is an LLM implementation using the OpenAI Chat Completions API.
// Any server speaking the same protocol can be targeted with WithBaseURL.
type OpenAILLM struct {
	clientConfig
}

// Default OpenAI configuration values
const (
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenAITemperature = 0.3
)

// NewOpenAI creates a new OpenAI LLM client.
func NewOpenAI(opts ...Option) *OpenAILLM {
	opts = append([]Option{WithTemperature(DefaultOpenAITemperature)}, opts...)
	return &OpenAILLM{
		clientConfig: newClientConfig(os.Getenv("OPENAI_API_KEY"), DefaultOpenAIBaseURL, DefaultOpenAIModel, opts),
	}
}

type openAIRequest struct {
	Model       string       `json:"model"`
	Messages    []openAIMsg  `json:"messages"`
	Tools       []openAITool `json:"tools,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type openAIMsg struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMsg `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends a request and returns the complete response.
func (o *OpenAILLM) Generate(ctx context.Context, messages []Message, tools []ToolSchema) (*LLMResponse, error) {
	start := time.Now()

	req, err := o.buildRequest(messages, tools)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := o.send(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return o.parseResponse(&resp, time.Since(start))
}

func (o *OpenAILLM) buildRequest(messages []Message, tools []ToolSchema) (*openAIRequest, error) {
	req := &openAIRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	for _, msg := range messages {
		m := openAIMsg{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case RoleTool:
			m.ToolCallID = msg.ToolCallID
		case RoleAssistant:
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				encoded, err := json.Marshal(args)
				if err != nil {
					return nil, fmt.Errorf("marshal tool arguments %s: %w", tc.Name, err)
				}
				call := openAIToolCall{ID: tc.ID, Type: "function"}
				call.Function.Name = tc.Name
				call.Function.Arguments = string(encoded)
				m.ToolCalls = append(m.ToolCalls, call)
			}
		}
		req.Messages = append(req.Messages, m)
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return req, nil
}

func (o *OpenAILLM) parseResponse(resp *openAIResponse, latency time.Duration) (*LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response %s has no choices", resp.ID)
	}
	choice := resp.Choices[0]

	result := &LLMResponse{
		Content:      choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMs:    latency.Milliseconds(),
	}
	result.CostUSD = CalculateCost(resp.Model, result.InputTokens, result.OutputTokens)

	switch choice.FinishReason {
	case "stop":
		result.StopReason = StopReasonEnd
	case "tool_calls", "function_call":
		result.StopReason = StopReasonToolUse
	case "length":
		result.StopReason = StopReasonLength
	case "content_filter":
		result.StopReason = StopReasonFiltered
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("decode tool arguments %s: %w", tc.Function.Name, err)
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return result, nil
}
