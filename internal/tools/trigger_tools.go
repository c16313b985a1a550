package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/triggers"
)

// CreateTriggerTool registers an event trigger of any supported type.
type CreateTriggerTool struct {
	registry *triggers.Registry
}

func NewCreateTriggerTool(registry *triggers.Registry) *CreateTriggerTool {
	return &CreateTriggerTool{registry: registry}
}

func (t *CreateTriggerTool) Definition() Definition {
	return Definition{
		Name:        "create_trigger",
		Description: "Create an event trigger (cron, file_watch, webhook, calendar, email_watch) that wakes the agent",
		Category:    settings.CategoryTriggers,
		Parameters: objectSchema([]string{"type", "name", "message"}, map[string]any{
			"type": map[string]any{
				"type":        "string",
				"description": "Trigger type",
				"enum": []string{
					string(triggers.TypeCron), string(triggers.TypeFileWatch),
					string(triggers.TypeWebhook), string(triggers.TypeCalendar),
					string(triggers.TypeEmailWatch),
				},
			},
			"name":    prop("string", "Short trigger name"),
			"message": prop("string", "Message delivered to the agent when the trigger fires"),
			"config": map[string]any{
				"type":        "object",
				"description": "Type-specific config: cron {expression}, file_watch {path, pattern?}, webhook {path, secret?}, calendar {url}, email_watch {from?, subject?}",
			},
			"channel": prop("string", "Channel to deliver on"),
		}),
	}
}

func (t *CreateTriggerTool) Execute(ctx context.Context, args map[string]any) *Result {
	typ, _ := args["type"].(string)
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	if typ == "" || name == "" || message == "" {
		return ErrorResult("Error: type, name and message are required").
			WithError(guard.NewValidationError("type, name and message are required"))
	}

	cfg, _ := args["config"].(map[string]any)
	if cfg == nil {
		cfg = map[string]any{}
	}
	channel, _ := args["channel"].(string)

	trig, err := t.registry.Create(triggers.Type(typ), name, cfg, triggers.Action{
		Kind:    triggers.ActionMessage,
		Content: message,
		Channel: channel,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to create trigger: %v", err))
	}
	return SilentResult(fmt.Sprintf("Trigger %q created (%s), id %s", name, typ, trig.ID[:8]))
}

// ListTriggersTool lists registered triggers.
type ListTriggersTool struct {
	registry *triggers.Registry
}

func NewListTriggersTool(registry *triggers.Registry) *ListTriggersTool {
	return &ListTriggersTool{registry: registry}
}

func (t *ListTriggersTool) Definition() Definition {
	return Definition{
		Name:        "list_triggers",
		Description: "List registered event triggers",
		Category:    settings.CategoryTriggers,
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (t *ListTriggersTool) Execute(ctx context.Context, args map[string]any) *Result {
	list := t.registry.List()
	if len(list) == 0 {
		return SilentResult("No triggers registered.")
	}

	var b strings.Builder
	for _, trig := range list {
		state := "enabled"
		if !trig.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "- %s [%s, %s] %s (fired %d times)\n",
			trig.ID[:8], trig.Type, state, trig.Name, trig.FireCount)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// DeleteTriggerTool removes a trigger.
type DeleteTriggerTool struct {
	registry *triggers.Registry
}

func NewDeleteTriggerTool(registry *triggers.Registry) *DeleteTriggerTool {
	return &DeleteTriggerTool{registry: registry}
}

func (t *DeleteTriggerTool) Definition() Definition {
	return Definition{
		Name:        "delete_trigger",
		Description: "Delete an event trigger by id",
		Category:    settings.CategoryTriggers,
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": prop("string", "Trigger id"),
		}),
	}
}

func (t *DeleteTriggerTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}
	if err := t.registry.Delete(id); err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	return SilentResult("Trigger deleted.")
}

// ToggleTriggerTool enables or disables a trigger without deleting it.
type ToggleTriggerTool struct {
	registry *triggers.Registry
}

func NewToggleTriggerTool(registry *triggers.Registry) *ToggleTriggerTool {
	return &ToggleTriggerTool{registry: registry}
}

func (t *ToggleTriggerTool) Definition() Definition {
	return Definition{
		Name:        "toggle_trigger",
		Description: "Enable or disable an event trigger",
		Category:    settings.CategoryTriggers,
		Parameters: objectSchema([]string{"id", "enabled"}, map[string]any{
			"id":      prop("string", "Trigger id"),
			"enabled": prop("boolean", "Whether the trigger should be active"),
		}),
	}
}

func (t *ToggleTriggerTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}
	enabled, _ := args["enabled"].(bool)

	if err := t.registry.SetEnabled(id, enabled); err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return SilentResult("Trigger " + state + ".")
}
