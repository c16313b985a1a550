package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/audit"
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// resultPreviewChars is the sanitized event-stream preview length.
const resultPreviewChars = 200

// Registry holds registered tools and runs the execution pipeline.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string

	settings  *settings.Manager
	audit     *audit.Logger
	events    bus.EventPublisher
	approvals *approvals.Broker
	tasks     *tasks.FileStore
}

// NewRegistry wires the pipeline collaborators. audit, events,
// approvals, and tasks may be nil (the corresponding step is skipped,
// except approvals, where a missing broker denies).
func NewRegistry(st *settings.Manager, auditLog *audit.Logger, events bus.EventPublisher, broker *approvals.Broker, taskStore *tasks.FileStore) *Registry {
	return &Registry{
		tools:     map[string]Tool{},
		settings:  st,
		audit:     auditLog,
		events:    events,
		approvals: broker,
		tasks:     taskStore,
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def Definition, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = Tool{Definition: def, Handler: handler}
}

// RegisterBuiltin registers a struct-based tool.
func (r *Registry) RegisterBuiltin(b Builtin) {
	r.Register(b.Definition(), b.Execute)
}

// Unregister removes a tool. Unknown names are a no-op. External tool
// sources (MCP servers) use this on disconnect.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].ProviderDef())
	}
	return out
}

// AllowedDefinitions returns definitions whose category is enabled in
// the current settings. This is what the session loop advertises.
func (r *Registry) AllowedDefinitions() []providers.ToolDefinition {
	st := r.settings.Get()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		if st.CategoryAllowed(t.Category) {
			out = append(out, t.ProviderDef())
		}
	}
	return out
}

// Execute runs one call through the pipeline: lookup, permission gate,
// approval gate, handler, truncation, audit, events. Security and
// validation failures come back as error results, never as panics or
// raw errors.
func (r *Registry) Execute(ctx context.Context, call Call) *Result {
	tool, ok := r.Get(call.Name)
	if !ok {
		reason := fmt.Sprintf("unknown tool %q", call.Name)
		r.auditCall(call, "", false, reason)
		return ErrorResult("Error: " + reason)
	}

	r.emit("tool.called", map[string]any{
		"tool":     call.Name,
		"category": tool.Category,
		"args":     argKeys(call.Args),
		"channel":  call.Channel,
		"user_id":  call.UserID,
	})

	st := r.settings.Get()
	if !st.CategoryAllowed(tool.Category) {
		reason := fmt.Sprintf("tool category %q is disabled in settings", tool.Category)
		r.auditBlocked(call, reason)
		return ErrorResult("Error: " + reason).WithError(guard.NewSecurityError(reason))
	}

	if needsApproval(st.AutonomyLevel, call.Name) {
		if denied := r.awaitApproval(ctx, call); denied != nil {
			r.auditBlocked(call, firstLine(denied.ForLLM))
			r.emitResult(call.Name, denied)
			return denied
		}
	}

	result := tool.Handler(WithCall(ctx, call), call.Args)
	if result == nil {
		result = ErrorResult("Error: tool produced no result")
	}

	if max := st.Limits.MaxToolOutputChars; max > 0 && len(result.ForLLM) > max {
		result.ForLLM = result.ForLLM[:max] + "\n...[output truncated]"
	}

	blocked := result.Err != nil && guard.IsSecurityError(result.Err)
	reason := ""
	if result.IsError {
		reason = firstLine(result.ForLLM)
	}
	r.auditResult(call, result.ForLLM, blocked, reason)
	r.emitResult(call.Name, result)
	return result
}

// awaitApproval blocks the worker on a human decision. Returns nil when
// approved, or the error result to hand the LLM otherwise.
func (r *Registry) awaitApproval(ctx context.Context, call Call) *Result {
	if r.approvals == nil {
		reason := "approval required but no approval broker is available"
		return ErrorResult("Error: " + reason).WithError(guard.NewSecurityError(reason))
	}

	req, future, err := r.approvals.Request(approvals.Params{
		TaskID:      call.TaskID,
		Description: fmt.Sprintf("Tool call %s", call.Name),
		Action:      approvals.ProposedAction{Tool: call.Name, Input: call.Args},
		Risk:        RiskFor(call.Name),
		Channel:     call.Channel,
		UserID:      call.UserID,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: could not request approval: %v", err))
	}

	if r.tasks != nil && call.TaskID != "" {
		r.tasks.UpdateStatus(call.TaskID, tasks.StatusWaitingApproval)
		defer r.tasks.UpdateStatus(call.TaskID, tasks.StatusRunning)
	}

	slog.Info("tools.awaiting_approval", "tool", call.Name, "approval", req.ID)
	select {
	case approved := <-future:
		if !approved {
			return ErrorResult("Error: the action was rejected or the approval expired. Do not retry it; explain the situation and suggest an alternative.")
		}
		return nil
	case <-ctx.Done():
		return ErrorResult("Error: cancelled while waiting for approval")
	}
}

func (r *Registry) auditCall(call Call, result string, blocked bool, reason string) {
	if r.audit == nil {
		return
	}
	r.audit.ToolCall(call.Name, compactArgs(call.Args), result, blocked, reason, call.UserID, call.Channel)
}

func (r *Registry) auditBlocked(call Call, reason string) {
	r.auditCall(call, "", true, reason)
}

func (r *Registry) auditResult(call Call, result string, blocked bool, reason string) {
	r.auditCall(call, result, blocked, reason)
}

func (r *Registry) emit(name string, payload map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func (r *Registry) emitResult(toolName string, result *Result) {
	preview := result.ForLLM
	if len(preview) > resultPreviewChars {
		preview = preview[:resultPreviewChars]
	}
	r.emit("tool.result", map[string]any{
		"tool":     toolName,
		"preview":  preview,
		"is_error": result.IsError,
	})
}

// argKeys exposes argument names without their values for the
// sanitized event stream.
func argKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
