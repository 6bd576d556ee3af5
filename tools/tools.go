package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/everydev1618/pmc/llm"
)

// Standard errors
var (
	// ErrToolNotFound is returned when a tool is not registered
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyRegistered is returned when trying to register a duplicate tool name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrMissingParam is returned when a required parameter is absent.
	ErrMissingParam = errors.New("missing required parameter")
)

// ToolError wraps errors with tool context.
type ToolError struct {
	ToolName string
	Err      error
}

func (e *ToolError) Error() string {
	return "tool " + e.ToolName + ": " + e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Tools is a collection of callable tools.
type Tools struct {
	tools      map[string]*tool
	middleware []ToolMiddleware
	mu         sync.RWMutex
}

// tool is an internal representation of a registered tool.
type tool struct {
	name   string
	fn     ToolFunc
	schema llm.ToolSchema
	params map[string]ParamDef
}

// ParamDef defines a tool parameter.
type ParamDef struct {
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	Required    bool     `json:"required" yaml:"required"`
	Enum        []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ToolDef allows explicit tool definition with schema.
type ToolDef struct {
	Description string
	Fn          ToolFunc
	Params      map[string]ParamDef
}

// ToolMiddleware wraps tool execution.
type ToolMiddleware func(ToolFunc) ToolFunc

// ToolFunc is the signature for tool execution.
type ToolFunc func(ctx context.Context, params map[string]any) (string, error)

// NewTools creates a new Tools collection.
func NewTools() *Tools {
	return &Tools{
		tools: make(map[string]*tool),
	}
}

// Register adds a tool to the collection.
func (t *Tools) Register(name string, def ToolDef) error {
	if name == "" {
		return errors.New("tool name is required")
	}
	if def.Fn == nil {
		return fmt.Errorf("tool %s has no function", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}

	t.tools[name] = &tool{
		name:   name,
		fn:     def.Fn,
		params: def.Params,
		schema: buildSchema(name, def.Description, def.Params),
	}
	return nil
}

// MustRegister is Register for static tool sets; it panics on error.
func (t *Tools) MustRegister(name string, def ToolDef) {
	if err := t.Register(name, def); err != nil {
		panic(err)
	}
}

// Use adds middleware to the tool chain.
func (t *Tools) Use(mw ToolMiddleware) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.middleware = append(t.middleware, mw)
}

// Execute calls a tool by name.
func (t *Tools) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	t.mu.RLock()
	tl, ok := t.tools[name]
	middleware := t.middleware
	t.mu.RUnlock()

	if !ok {
		return "", &ToolError{ToolName: name, Err: ErrToolNotFound}
	}
	if params == nil {
		params = map[string]any{}
	}

	for pname, pdef := range tl.params {
		if !pdef.Required {
			continue
		}
		if v, present := params[pname]; !present || v == nil {
			return "", &ToolError{ToolName: name, Err: fmt.Errorf("%w: %s", ErrMissingParam, pname)}
		}
	}

	exec := tl.fn

	// Apply middleware (in reverse order)
	for i := len(middleware) - 1; i >= 0; i-- {
		exec = middleware[i](exec)
	}

	result, err := exec(WithToolName(ctx, name), params)
	if err != nil {
		return "", &ToolError{ToolName: name, Err: err}
	}

	return result, nil
}

// Schema returns the schemas for all tools, ordered by name.
func (t *Tools) Schema() []llm.ToolSchema {
	t.mu.RLock()
	defer t.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(t.tools))
	for _, tl := range t.tools {
		schemas = append(schemas, tl.schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Names returns the registered tool names in sorted order.
func (t *Tools) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter returns a new Tools with only the specified tools.
func (t *Tools) Filter(names ...string) *Tools {
	t.mu.RLock()
	defer t.mu.RUnlock()

	filtered := &Tools{
		tools:      make(map[string]*tool),
		middleware: t.middleware,
	}

	for _, n := range names {
		if tl, ok := t.tools[n]; ok {
			filtered.tools[n] = tl
		}
	}

	return filtered
}

// buildSchema builds a schema from explicit definitions.
func buildSchema(name, description string, params map[string]ParamDef) llm.ToolSchema {
	props := make(map[string]any)
	required := []string{}

	for pname, pdef := range params {
		prop := map[string]any{
			"type": pdef.Type,
		}
		if pdef.Description != "" {
			prop["description"] = pdef.Description
		}
		if len(pdef.Enum) > 0 {
			prop["enum"] = pdef.Enum
		}
		props[pname] = prop

		if pdef.Required {
			required = append(required, pname)
		}
	}
	sort.Strings(required)

	return llm.ToolSchema{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// String returns a trimmed string parameter, or "" when absent.
func String(params map[string]any, name string) string {
	switch v := params[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Bool reads a boolean parameter. Models sometimes send "true"/"false"
// strings, which are accepted too.
func Bool(params map[string]any, name string) (bool, error) {
	switch v := params[name].(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "si", "sí", "1":
			return true, nil
		case "false", "no", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("parameter %s must be a boolean", name)
}

// Logging returns middleware that logs every tool call with its duration.
func Logging(logger *slog.Logger) ToolMiddleware {
	return func(next ToolFunc) ToolFunc {
		return func(ctx context.Context, params map[string]any) (string, error) {
			start := time.Now()
			out, err := next(ctx, params)
			attrs := []any{"duration_ms", time.Since(start).Milliseconds()}
			if name, ok := ToolName(ctx); ok {
				attrs = append(attrs, "tool", name)
			}
			if err != nil {
				logger.Warn("tool call failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("tool call", attrs...)
			}
			return out, err
		}
	}
}

type toolNameKey struct{}

// WithToolName returns a context that records the tool being executed.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

// ToolName returns the tool name recorded by WithToolName.
func ToolName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(toolNameKey{}).(string)
	return name, ok
}
