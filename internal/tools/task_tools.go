package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// Delegator hands a created task to the background execution engine.
// When orchestrate is true the task is decomposed into a multi-agent
// plan regardless of the automatic heuristic.
type Delegator interface {
	Delegate(taskID string, orchestrate bool) error
}

// CreateTaskTool enqueues a background task and hands it to the
// delegator.
type CreateTaskTool struct {
	store     *tasks.FileStore
	delegator Delegator
}

func NewCreateTaskTool(store *tasks.FileStore, delegator Delegator) *CreateTaskTool {
	return &CreateTaskTool{store: store, delegator: delegator}
}

func (t *CreateTaskTool) Definition() Definition {
	return Definition{
		Name:        "create_task",
		Description: "Create a background task. Complex tasks are decomposed into subtasks and worked in parallel.",
		Category:    settings.CategoryTasks,
		Parameters: objectSchema([]string{"description"}, map[string]any{
			"title":       prop("string", "Short task title (derived from the description when omitted)"),
			"description": prop("string", "What the task should accomplish"),
			"priority": map[string]any{
				"type":        "string",
				"description": "Task priority",
				"enum":        []string{"critical", "high", "normal", "low"},
			},
			"orchestrate": prop("boolean", "Force multi-agent decomposition"),
		}),
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	description, _ := args["description"].(string)
	if strings.TrimSpace(description) == "" {
		return ErrorResult("Error: description is required").
			WithError(guard.NewValidationError("description is required"))
	}

	title, _ := args["title"].(string)
	if title == "" {
		title = deriveTitle(description)
	}

	priority := tasks.PriorityNormal
	if p, _ := args["priority"].(string); p != "" {
		priority = tasks.Priority(p)
	}

	call := CallFromContext(ctx)
	task, err := t.store.Create(tasks.CreateSpec{
		Title:       title,
		Description: description,
		Priority:    priority,
		Source:      tasks.Source{Channel: call.Channel, UserID: call.UserID},
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to create task: %v", err))
	}

	orchestrate, _ := args["orchestrate"].(bool)
	if t.delegator != nil {
		if err := t.delegator.Delegate(task.ID, orchestrate); err != nil {
			return ErrorResult(fmt.Sprintf("Error: task %s created but could not start: %v", task.ID[:8], err))
		}
	}
	return AsyncResult(fmt.Sprintf("Task %s created: %s", task.ID[:8], title))
}

// deriveTitle takes the first sentence or line, capped at 80 chars.
func deriveTitle(description string) string {
	s := strings.TrimSpace(description)
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}

// TaskStatusTool reports one task with its steps.
type TaskStatusTool struct {
	store *tasks.FileStore
}

func NewTaskStatusTool(store *tasks.FileStore) *TaskStatusTool {
	return &TaskStatusTool{store: store}
}

func (t *TaskStatusTool) Definition() Definition {
	return Definition{
		Name:        "task_status",
		Description: "Show the status, progress, and steps of a task",
		Category:    settings.CategoryTasks,
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": prop("string", "Task id"),
		}),
	}
}

func (t *TaskStatusTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}

	task, err := t.store.Get(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", task.ID[:8], task.Title)
	fmt.Fprintf(&b, "Status: %s (%d%%)\n", task.Status, task.Progress)
	fmt.Fprintf(&b, "Priority: %s\n", task.Priority)
	if task.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", task.Error)
	}
	for i, step := range task.Steps {
		marker := " "
		if step.Status == tasks.StatusCompleted {
			marker = "x"
		}
		fmt.Fprintf(&b, "  %d. [%s] %s\n", i+1, marker, step.Title)
	}
	if task.Result != "" {
		fmt.Fprintf(&b, "Result:\n%s\n", task.Result)
	}
	if task.Usage.Cost > 0 {
		fmt.Fprintf(&b, "Cost: $%.4f (%d in / %d out tokens)\n",
			task.Usage.Cost, task.Usage.InputTokens, task.Usage.OutputTokens)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// ListTasksTool lists tasks, optionally filtered by status.
type ListTasksTool struct {
	store *tasks.FileStore
}

func NewListTasksTool(store *tasks.FileStore) *ListTasksTool {
	return &ListTasksTool{store: store}
}

func (t *ListTasksTool) Definition() Definition {
	return Definition{
		Name:        "list_tasks",
		Description: "List background tasks, newest first",
		Category:    settings.CategoryTasks,
		Parameters: objectSchema(nil, map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "Filter by status",
				"enum": []string{
					string(tasks.StatusPending), string(tasks.StatusRunning),
					string(tasks.StatusWaitingApproval), string(tasks.StatusPaused),
					string(tasks.StatusCompleted), string(tasks.StatusFailed),
					string(tasks.StatusCancelled),
				},
			},
			"limit": prop("number", "Maximum tasks to return (default 10)"),
		}),
	}
}

func (t *ListTasksTool) Execute(ctx context.Context, args map[string]any) *Result {
	var list []*tasks.Task
	if status, _ := args["status"].(string); status != "" {
		list = t.store.ListByStatus(tasks.Status(status))
	} else {
		list = t.store.List()
	}

	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}
	if len(list) > limit {
		list = list[:limit]
	}
	if len(list) == 0 {
		return SilentResult("No tasks.")
	}

	var b strings.Builder
	for _, task := range list {
		fmt.Fprintf(&b, "- %s [%s %d%%] %s\n", task.ID[:8], task.Status, task.Progress, task.Title)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// CancelTaskTool cancels a pending or running task.
type CancelTaskTool struct {
	store *tasks.FileStore
}

func NewCancelTaskTool(store *tasks.FileStore) *CancelTaskTool {
	return &CancelTaskTool{store: store}
}

func (t *CancelTaskTool) Definition() Definition {
	return Definition{
		Name:        "cancel_task",
		Description: "Cancel a task that has not finished",
		Category:    settings.CategoryTasks,
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": prop("string", "Task id"),
		}),
	}
}

func (t *CancelTaskTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}

	task, err := t.store.Get(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	if task.Status.Terminal() {
		return ErrorResult(fmt.Sprintf("Error: task %s already %s", id[:8], task.Status))
	}
	if _, err := t.store.UpdateStatus(id, tasks.StatusCancelled); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to cancel: %v", err))
	}
	return SilentResult(fmt.Sprintf("Task %s cancelled.", id[:8]))
}
