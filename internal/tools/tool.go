// Package tools is the registry of everything the agent can do. Every
// invocation flows through one pipeline: category permission, risk
// gate, handler, output truncation, audit.
package tools

import (
	"context"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]any) *Result

// Definition describes a tool to the LLM and to the permission system.
type Definition struct {
	Name        string
	Description string
	// Parameters is a JSON-Schema-shaped object.
	Parameters map[string]any
	// Category maps to the settings tool_permissions switch.
	Category string
}

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Handler Handler
}

// Builtin is a tool implemented as a struct with state.
type Builtin interface {
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) *Result
}

// ProviderDef converts a definition to the provider wire shape.
func (d Definition) ProviderDef() providers.ToolDefinition {
	params := d.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}

// Call is one tool invocation with its caller context.
type Call struct {
	Name    string
	Args    map[string]any
	Channel string
	UserID  string
	TaskID  string
}

type callCtxKey struct{}

// WithCall stashes call metadata for handlers that need the caller
// identity.
func WithCall(ctx context.Context, call Call) context.Context {
	return context.WithValue(ctx, callCtxKey{}, call)
}

// CallFromContext returns the call metadata, zero value when absent.
func CallFromContext(ctx context.Context) Call {
	if c, ok := ctx.Value(callCtxKey{}).(Call); ok {
		return c
	}
	return Call{}
}

// objectSchema builds the common JSON-Schema shape for tool parameters.
func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
