package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrToolNotFound is returned by Dispatch for unregistered tool names.
var ErrToolNotFound = errors.New("tool not found")

// Tool is the wire-visible part of a tool definition.
type Tool struct {
	InputSchema map[string]any `json:"inputSchema"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

// Handler executes a tool call. Each handler owns strict typed decoding of
// its arguments and returns a JSON-serialized result string.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// ToolDefinition binds a Tool to its handler.
type ToolDefinition struct {
	Tool
	Handler Handler
}

// Registry is the static catalogue of tools. It is populated once at
// startup and immutable afterwards; Register panics on a duplicate name
// because that is a programming error, not a runtime condition.
type Registry struct {
	tools map[string]ToolDefinition
	order []string
	calls metric.Int64Counter
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	calls, _ := otel.Meter("graphmem/mcp").Int64Counter("graphmem.tools.calls",
		metric.WithDescription("Tool calls by name and outcome"))
	return &Registry{tools: make(map[string]ToolDefinition), calls: calls}
}

// Register adds a tool definition.
func (r *Registry) Register(def ToolDefinition) {
	if def.Name == "" {
		panic("mcp: tool name must not be empty")
	}
	if def.Handler == nil {
		panic(fmt.Sprintf("mcp: tool %q has no handler", def.Name))
	}
	if _, exists := r.tools[def.Name]; exists {
		panic(fmt.Sprintf("mcp: duplicate tool name %q", def.Name))
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
}

// List returns the catalogue in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Tool)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Dispatch looks up the named tool and invokes its handler. Argument shape
// validation is the handler's responsibility.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	def, ok := r.tools[name]
	if !ok {
		r.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", name), attribute.String("outcome", "unknown_tool")))
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	callID := uuid.NewString()[:8]
	start := time.Now()
	result, err := def.Handler(ctx, args)
	if err != nil {
		r.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", name), attribute.String("outcome", "error")))
		log.Warn().
			Str("tool", name).
			Str("callId", callID).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Tool call failed")
		return "", err
	}

	r.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name), attribute.String("outcome", "ok")))
	log.Debug().
		Str("tool", name).
		Str("callId", callID).
		Dur("elapsed", time.Since(start)).
		Msg("Tool call completed")
	return result, nil
}
