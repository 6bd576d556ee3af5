package tools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(ctx context.Context, params map[string]any) (string, error) {
	return "lot=" + String(params, "lot_id"), nil
}

func TestRegisterAndExecute(t *testing.T) {
	ts := NewTools()
	require.NoError(t, ts.Register("get_lot_details", ToolDef{
		Description: "Detalle de un parqueadero",
		Fn:          echoTool,
		Params: map[string]ParamDef{
			"lot_id": {Type: "string", Description: "ID", Required: true},
		},
	}))

	out, err := ts.Execute(context.Background(), "get_lot_details", map[string]any{"lot_id": " p-1 "})
	require.NoError(t, err)
	assert.Equal(t, "lot=p-1", out)
}

func TestRegisterDuplicate(t *testing.T) {
	ts := NewTools()
	require.NoError(t, ts.Register("a", ToolDef{Fn: echoTool}))

	err := ts.Register("a", ToolDef{Fn: echoTool})
	assert.ErrorIs(t, err, ErrToolAlreadyRegistered)
}

func TestExecuteUnknownTool(t *testing.T) {
	_, err := NewTools().Execute(context.Background(), "nope", nil)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "nope", te.ToolName)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteMissingRequiredParam(t *testing.T) {
	ts := NewTools()
	ts.MustRegister("report", ToolDef{
		Fn:     echoTool,
		Params: map[string]ParamDef{"lot_id": {Type: "string", Required: true}},
	})

	_, err := ts.Execute(context.Background(), "report", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestExecuteWrapsToolError(t *testing.T) {
	boom := errors.New("boom")
	ts := NewTools()
	ts.MustRegister("fail", ToolDef{Fn: func(context.Context, map[string]any) (string, error) { return "", boom }})

	_, err := ts.Execute(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "tool fail: boom", err.Error())
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(tag string) ToolMiddleware {
		return func(next ToolFunc) ToolFunc {
			return func(ctx context.Context, p map[string]any) (string, error) {
				order = append(order, tag)
				return next(ctx, p)
			}
		}
	}

	ts := NewTools()
	ts.MustRegister("x", ToolDef{Fn: echoTool})
	ts.Use(mw("first"))
	ts.Use(mw("second"))

	_, err := ts.Execute(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSchemaAndFilter(t *testing.T) {
	ts := NewTools()
	ts.MustRegister("b_tool", ToolDef{Description: "B", Fn: echoTool})
	ts.MustRegister("a_tool", ToolDef{
		Description: "A",
		Fn:          echoTool,
		Params: map[string]ParamDef{
			"has_spots": {Type: "boolean", Required: true},
			"status":    {Type: "string", Enum: []string{"x", "y"}},
		},
	})

	schemas := ts.Schema()
	require.Len(t, schemas, 2)
	assert.Equal(t, "a_tool", schemas[0].Name)
	assert.Equal(t, []string{"has_spots"}, schemas[0].InputSchema["required"])

	props := schemas[0].InputSchema["properties"].(map[string]any)
	assert.Equal(t, []string{"x", "y"}, props["status"].(map[string]any)["enum"])

	filtered := ts.Filter("b_tool", "missing")
	assert.Equal(t, []string{"b_tool"}, filtered.Names())
}

func TestBoolParam(t *testing.T) {
	v, err := Bool(map[string]any{"has": true}, "has")
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool(map[string]any{"has": "false"}, "has")
	require.NoError(t, err)
	assert.False(t, v)

	_, err = Bool(map[string]any{"has": 3}, "has")
	assert.Error(t, err)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ts := NewTools()
	ts.Use(Logging(logger))
	ts.MustRegister("my_lot", ToolDef{Fn: echoTool})

	_, err := ts.Execute(context.Background(), "my_lot", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tool=my_lot")
}
