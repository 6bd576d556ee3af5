// Package agent runs a chat model in a tool-calling loop.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/everydev1618/pmc/llm"
	"github.com/everydev1618/pmc/tools"
)

// DefaultMaxIterations bounds the model/tool round trips of one turn.
const DefaultMaxIterations = 8

// Standard errors
var (
	ErrMaxIterationsExceeded = errors.New("maximum iterations exceeded")
	ErrNoModel               = errors.New("agent has no model")
)

// Agent defines an LLM-backed assistant.
type Agent struct {
	// Name identifies the agent in logs
	Name string

	// System is the system prompt
	System string

	// Tools available to the model; nil means none
	Tools *tools.Tools

	// MaxIterations overrides DefaultMaxIterations when positive
	MaxIterations int

	// Retry configures retries of failed model calls
	Retry *RetryPolicy
}

// CallMetrics summarizes one turn.
type CallMetrics struct {
	Iterations   int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	ToolCalls    []string
}

// Result is the outcome of a turn.
type Result struct {
	Content string
	Metrics CallMetrics
}

// Runner executes agents against a model backend.
type Runner struct {
	llm    llm.LLM
	logger *slog.Logger
}

// NewRunner creates a runner for the given model. A nil logger uses slog.Default.
func NewRunner(model llm.LLM, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{llm: model, logger: logger}
}

// Run answers input given prior history. History must not include the
// system prompt; it is prepended from the agent.
func (r *Runner) Run(ctx context.Context, a *Agent, history []llm.Message, input string) (*Result, error) {
	if r.llm == nil {
		return nil, ErrNoModel
	}

	metrics := CallMetrics{}

	messages := make([]llm.Message, 0, len(history)+2)
	if a.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.System})
	}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	var toolSchemas []llm.ToolSchema
	if a.Tools != nil {
		toolSchemas = a.Tools.Schema()
	}

	maxIterations := DefaultMaxIterations
	if a.MaxIterations > 0 {
		maxIterations = a.MaxIterations
	}
	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.Iterations++

		resp, err := r.callWithRetry(ctx, a, messages, toolSchemas)
		if err != nil {
			return nil, err
		}

		metrics.InputTokens += resp.InputTokens
		metrics.OutputTokens += resp.OutputTokens
		metrics.CostUSD += resp.CostUSD
		metrics.LatencyMs += resp.LatencyMs

		if len(resp.ToolCalls) == 0 {
			return &Result{Content: strings.TrimSpace(resp.Content), Metrics: metrics}, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			metrics.ToolCalls = append(metrics.ToolCalls, tc.Name)

			var result string
			if a.Tools == nil {
				err = &tools.ToolError{ToolName: tc.Name, Err: tools.ErrToolNotFound}
			} else {
				result, err = a.Tools.Execute(ctx, tc.Name, tc.Arguments)
			}
			if err != nil {
				r.logger.Warn("tool execution failed", "agent", a.Name, "tool", tc.Name, "error", err)
				result = "Error: " + err.Error()
			}

			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    result,
			})
		}
	}

	return nil, ErrMaxIterationsExceeded
}

// callWithRetry calls the model, retrying according to the agent's RetryPolicy.
func (r *Runner) callWithRetry(ctx context.Context, a *Agent, messages []llm.Message, toolSchemas []llm.ToolSchema) (*llm.LLMResponse, error) {
	policy := a.Retry
	maxAttempts := 1
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		resp, err := r.llm.Generate(ctx, messages, toolSchemas)
		latency := time.Since(start)

		if err == nil {
			r.logger.Debug("llm call succeeded",
				"agent", a.Name,
				"attempt", attempt+1,
				"latency_ms", latency.Milliseconds(),
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens,
			)
			return resp, nil
		}

		lastErr = err
		errClass := ClassifyError(err)

		r.logger.Warn("llm call failed",
			"agent", a.Name,
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"error", err.Error(),
			"error_class", errClass.String(),
			"latency_ms", latency.Milliseconds(),
		)

		if !ShouldRetry(err, policy, attempt) {
			return nil, err
		}

		if delay := policy.delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, lastErr
}
