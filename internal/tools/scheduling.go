package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/triggers"
)

// ScheduleCronTool registers a cron trigger.
type ScheduleCronTool struct {
	registry *triggers.Registry
}

func NewScheduleCronTool(registry *triggers.Registry) *ScheduleCronTool {
	return &ScheduleCronTool{registry: registry}
}

func (t *ScheduleCronTool) Definition() Definition {
	return Definition{
		Name:        "schedule_cron",
		Description: "Schedule a recurring job with a cron expression. The agent receives the message on schedule.",
		Category:    settings.CategoryScheduling,
		Parameters: objectSchema([]string{"name", "expression", "message"}, map[string]any{
			"name":       prop("string", "Short name for the job"),
			"expression": prop("string", "Cron expression, five fields (e.g. \"0 9 * * 1-5\")"),
			"message":    prop("string", "Message delivered to the agent when the job fires"),
			"channel":    prop("string", "Channel to deliver on (defaults to the scheduling channel)"),
		}),
	}
}

func (t *ScheduleCronTool) Execute(ctx context.Context, args map[string]any) *Result {
	name, _ := args["name"].(string)
	expr, _ := args["expression"].(string)
	message, _ := args["message"].(string)
	if name == "" || expr == "" || message == "" {
		return ErrorResult("Error: name, expression and message are required").
			WithError(guard.NewValidationError("name, expression and message are required"))
	}
	channel, _ := args["channel"].(string)

	trig, err := t.registry.Create(triggers.TypeCron, name,
		map[string]any{"expression": expr},
		triggers.Action{
			Kind:    triggers.ActionMessage,
			Content: message,
			Channel: channel,
		})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to schedule: %v", err))
	}
	return SilentResult(fmt.Sprintf("Scheduled %q (%s), trigger id %s", name, expr, trig.ID[:8]))
}

// CancelCronTool removes a cron trigger by id or name.
type CancelCronTool struct {
	registry *triggers.Registry
}

func NewCancelCronTool(registry *triggers.Registry) *CancelCronTool {
	return &CancelCronTool{registry: registry}
}

func (t *CancelCronTool) Definition() Definition {
	return Definition{
		Name:        "cancel_cron",
		Description: "Cancel a scheduled cron job by id or name",
		Category:    settings.CategoryScheduling,
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": prop("string", "Trigger id (or exact job name)"),
		}),
	}
}

func (t *CancelCronTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}

	target := t.resolve(id)
	if target == "" {
		return ErrorResult(fmt.Sprintf("Error: no cron job matching %q", id))
	}
	if err := t.registry.Delete(target); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to cancel: %v", err))
	}
	return SilentResult("Cancelled cron job " + id)
}

// resolve maps an id or exact name to a cron trigger id.
func (t *CancelCronTool) resolve(idOrName string) string {
	for _, trig := range t.registry.List() {
		if trig.Type != triggers.TypeCron {
			continue
		}
		if trig.ID == idOrName || trig.Name == idOrName {
			return trig.ID
		}
	}
	return ""
}

// EditHeartbeatTool rewrites the heartbeat checklist file.
type EditHeartbeatTool struct {
	workspace string
}

func NewEditHeartbeatTool(workspace string) *EditHeartbeatTool {
	return &EditHeartbeatTool{workspace: workspace}
}

func (t *EditHeartbeatTool) Definition() Definition {
	return Definition{
		Name:        "edit_heartbeat",
		Description: "Replace the heartbeat checklist. Each item becomes an unchecked markdown checkbox reviewed on every heartbeat.",
		Category:    settings.CategoryScheduling,
		Parameters: objectSchema([]string{"items"}, map[string]any{
			"items": map[string]any{
				"type":        "array",
				"description": "Checklist item descriptions",
				"items":       map[string]any{"type": "string"},
			},
		}),
	}
}

func (t *EditHeartbeatTool) Execute(ctx context.Context, args map[string]any) *Result {
	raw, ok := args["items"].([]any)
	if !ok {
		return ErrorResult("Error: items must be an array of strings").
			WithError(guard.NewValidationError("items must be an array of strings"))
	}

	var b strings.Builder
	b.WriteString("# Heartbeat\n\n")
	count := 0
	for _, item := range raw {
		s, _ := item.(string)
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		fmt.Fprintf(&b, "- [ ] %s\n", s)
		count++
	}

	path := filepath.Join(t.workspace, triggers.ChecklistFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to write checklist: %v", err))
	}
	if count == 0 {
		return SilentResult("Heartbeat checklist cleared.")
	}
	return SilentResult(fmt.Sprintf("Heartbeat checklist updated with %d items.", count))
}
