package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const recallDefaultLimit = 5

// RememberTool persists a fact to long-term memory.
type RememberTool struct {
	store *memory.Store
}

func NewRememberTool(store *memory.Store) *RememberTool {
	return &RememberTool{store: store}
}

func (t *RememberTool) Definition() Definition {
	return Definition{
		Name:        "remember",
		Description: "Save a fact to long-term memory so it survives across sessions",
		Category:    settings.CategoryMemory,
		Parameters: objectSchema([]string{"content"}, map[string]any{
			"content": prop("string", "The fact to remember"),
			"tags":    prop("string", "Optional comma-separated tags"),
		}),
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]any) *Result {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ErrorResult("Error: content is required").WithError(guard.NewValidationError("content is required"))
	}

	var tags []string
	if raw, _ := args["tags"].(string); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	entry, err := t.store.Remember(content, tags)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to save memory: %v", err))
	}
	return SilentResult("Remembered (id " + entry.ID[:8] + ")")
}

// RecallTool keyword-searches long-term memory.
type RecallTool struct {
	store *memory.Store
}

func NewRecallTool(store *memory.Store) *RecallTool {
	return &RecallTool{store: store}
}

func (t *RecallTool) Definition() Definition {
	return Definition{
		Name:        "recall",
		Description: "Search long-term memory for previously saved facts",
		Category:    settings.CategoryMemory,
		Parameters: objectSchema([]string{"query"}, map[string]any{
			"query": prop("string", "Keywords to search for"),
			"limit": prop("number", "Maximum entries to return (default 5)"),
		}),
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)

	limit := recallDefaultLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	entries, err := t.store.Recall(query, limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: recall failed: %v", err))
	}
	if len(entries) == 0 {
		return SilentResult("No matching memories.")
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s", e.CreatedAt.Format("2006-01-02"), e.Content)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(e.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}
