package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/agentd/internal/tools"
)

// maxToolNameLen is the provider function-name length cap.
const maxToolNameLen = 64

// bridgeHandler adapts one remote MCP tool to a registry handler.
func (m *Manager) bridgeHandler(ss *serverState, remoteName string, timeoutSec int) tools.Handler {
	return func(ctx context.Context, args map[string]any) *tools.Result {
		if !ss.connected.Load() {
			return tools.ErrorResult(fmt.Sprintf("Error: MCP server %s is not connected", ss.name))
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		defer cancel()

		req := mcpgo.CallToolRequest{}
		req.Params.Name = remoteName
		req.Params.Arguments = args

		result, err := ss.client.CallTool(callCtx, req)
		if err != nil {
			return tools.ErrorResult(fmt.Sprintf("Error: MCP call %s failed: %v", remoteName, err)).WithError(err)
		}

		content := flattenContent(result.Content)
		if result.IsError {
			if content == "" {
				content = "MCP tool reported an error"
			}
			return tools.ErrorResult("Error: " + content)
		}
		if content == "" {
			content = "(no output)"
		}
		return tools.NewResult(content)
	}
}

// flattenContent joins the text parts of an MCP result. Non-text parts
// are summarized rather than inlined.
func flattenContent(items []mcpgo.Content) string {
	var parts []string
	for _, item := range items {
		switch c := item.(type) {
		case mcpgo.TextContent:
			parts = append(parts, c.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d base64 chars]", c.MIMEType, len(c.Data)))
		case mcpgo.EmbeddedResource:
			parts = append(parts, "[embedded resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%T]", item))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts the MCP input schema into the JSON-Schema map
// shape the providers expect.
func schemaToMap(schema mcpgo.ToolInputSchema) map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return fallback
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// sanitizeToolName maps a namespaced tool name onto the provider
// function-name charset.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > maxToolNameLen {
		s = s[:maxToolNameLen]
	}
	return s
}

func describeTool(server string, t mcpgo.Tool) string {
	desc := strings.TrimSpace(t.Description)
	if desc == "" {
		return fmt.Sprintf("MCP tool %s.%s", server, t.Name)
	}
	return fmt.Sprintf("MCP tool %s.%s: %s", server, t.Name, desc)
}
