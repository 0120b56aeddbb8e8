package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) ToolDefinition {
	return ToolDefinition{
		Tool: Tool{Name: name, Description: "echoes its arguments", InputSchema: map[string]any{"type": "object"}},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("alpha"))
	r.Register(echoTool("beta"))
	r.Register(echoTool("gamma"))

	tools := r.List()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha", tools[0].Name)
	assert.Equal(t, "beta", tools[1].Name)
	assert.Equal(t, "gamma", tools[2].Name)
	assert.Equal(t, 3, r.Len())
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("alpha"))
	assert.Panics(t, func() { r.Register(echoTool("alpha")) })
}

func TestRegistryMissingHandlerPanics(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.Register(ToolDefinition{Tool: Tool{Name: "broken"}}) })
	assert.Panics(t, func() {
		r.Register(ToolDefinition{Handler: func(ctx context.Context, args json.RawMessage) (string, error) { return "", nil }})
	})
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))

	result, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, result)

	_, err = r.Dispatch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}
