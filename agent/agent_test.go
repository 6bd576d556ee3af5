package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/pmc/llm"
	"github.com/everydev1618/pmc/tools"
)

// scriptedLLM replays responses and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.LLMResponse
	errs      []error
	calls     [][]llm.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llm.Message, _ []llm.ToolSchema) (*llm.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.responses) == 0 {
		return &llm.LLMResponse{Content: "fin"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func lotTools() *tools.Tools {
	ts := tools.NewTools()
	ts.MustRegister("list_available_lots", tools.ToolDef{
		Description: "Lista parqueaderos",
		Fn: func(context.Context, map[string]any) (string, error) {
			return "1. Tequendama", nil
		},
	})
	return ts
}

func TestRunWithoutTools(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.LLMResponse{{Content: "  ¡Hola!  ", InputTokens: 10, OutputTokens: 3}}}
	a := &Agent{Name: "conductor", System: "sys"}

	res, err := NewRunner(model, nil).Run(context.Background(), a, []llm.Message{
		{Role: llm.RoleUser, Content: "antes"},
		{Role: llm.RoleAssistant, Content: "respuesta"},
	}, "hola")
	require.NoError(t, err)

	assert.Equal(t, "¡Hola!", res.Content)
	assert.Equal(t, 1, res.Metrics.Iterations)
	assert.Equal(t, 10, res.Metrics.InputTokens)

	require.Len(t, model.calls, 1)
	sent := model.calls[0]
	require.Len(t, sent, 4)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Equal(t, "hola", sent[3].Content)
}

func TestRunExecutesToolCalls(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.LLMResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "list_available_lots"},
			{ID: "c2", Name: "unknown_tool"},
		}},
		{Content: "Hay cupos en Tequendama"},
	}}
	a := &Agent{Name: "conductor", Tools: lotTools()}

	res, err := NewRunner(model, nil).Run(context.Background(), a, nil, "hay cupos?")
	require.NoError(t, err)

	assert.Equal(t, "Hay cupos en Tequendama", res.Content)
	assert.Equal(t, []string{"list_available_lots", "unknown_tool"}, res.Metrics.ToolCalls)
	assert.Equal(t, 2, res.Metrics.Iterations)

	second := model.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, llm.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].ToolCalls, 2)
	assert.Equal(t, llm.RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.Equal(t, "1. Tequendama", second[2].Content)
	assert.Contains(t, second[3].Content, "Error: tool unknown_tool: tool not found")
}

func TestRunMaxIterations(t *testing.T) {
	loop := &llm.LLMResponse{ToolCalls: []llm.ToolCall{{ID: "c", Name: "list_available_lots"}}}
	model := &scriptedLLM{responses: []*llm.LLMResponse{loop, loop, loop}}
	a := &Agent{Tools: lotTools(), MaxIterations: 2}

	_, err := NewRunner(model, nil).Run(context.Background(), a, nil, "x")
	assert.ErrorIs(t, err, ErrMaxIterationsExceeded)
}

func TestRunRetriesTransientErrors(t *testing.T) {
	model := &scriptedLLM{
		errs:      []error{&llm.APIError{StatusCode: 503}, nil},
		responses: []*llm.LLMResponse{{Content: "ok"}},
	}
	a := &Agent{Retry: &RetryPolicy{MaxAttempts: 2, RetryOn: []ErrorClass{ErrClassOverloaded}}}

	res, err := NewRunner(model, nil).Run(context.Background(), a, nil, "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Len(t, model.calls, 2)
}

func TestRunDoesNotRetryAuthErrors(t *testing.T) {
	model := &scriptedLLM{errs: []error{&llm.APIError{StatusCode: 401}}}
	a := &Agent{Retry: DefaultRetryPolicy()}

	_, err := NewRunner(model, nil).Run(context.Background(), a, nil, "x")
	var apiErr *llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, model.calls, 1)
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(&scriptedLLM{}, nil).Run(ctx, &Agent{}, nil, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunNoModel(t *testing.T) {
	_, err := NewRunner(nil, nil).Run(context.Background(), &Agent{}, nil, "x")
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{&llm.APIError{StatusCode: 429}, ErrClassRateLimit},
		{&llm.APIError{StatusCode: 529}, ErrClassOverloaded},
		{&llm.APIError{StatusCode: 500}, ErrClassTemporary},
		{&llm.APIError{StatusCode: 403}, ErrClassAuthentication},
		{&llm.APIError{StatusCode: 400}, ErrClassInvalidRequest},
		{context.DeadlineExceeded, ErrClassTimeout},
		{context.Canceled, ErrClassCanceled},
		{errors.New("connection reset"), ErrClassTemporary},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
}

func TestRetryDelay(t *testing.T) {
	p := &RetryPolicy{Backoff: BackoffConfig{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond}}

	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 300*time.Millisecond, p.delay(5))

	var nilPolicy *RetryPolicy
	assert.Zero(t, nilPolicy.delay(3))
}

func TestWindow(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "1"},
		{Role: llm.RoleAssistant, Content: "2"},
		{Role: llm.RoleUser, Content: "3"},
		{Role: llm.RoleAssistant, Content: "4"},
	}

	assert.Len(t, Window(msgs, 0), 4)

	w := Window(msgs, 3)
	require.Len(t, w, 2)
	assert.Equal(t, "3", w[0].Content)
}
