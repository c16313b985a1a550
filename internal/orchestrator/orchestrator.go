package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// TurnRequest describes one isolated worker turn to run outside any
// conversation thread.
type TurnRequest struct {
	// TaskID attributes approvals and audit entries to the child task.
	TaskID       string
	SystemPrompt string
	UserMessage  string
	// Provider and Model are the routed names; empty means the default.
	Provider string
	Model    string
	// Channel and UserID identify where approval prompts should go.
	Channel string
	UserID  string
}

// TurnResult reports a worker turn's final text and its LLM spend. The
// runner has already recorded the spend in the daily ledger; callers
// only attribute it to tasks.
type TurnResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// TurnRunner runs one full session-loop turn: LLM iterations, tool
// execution, approvals. Implemented by the agent.
type TurnRunner interface {
	RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error)
}

// Orchestrator owns background task execution. Simple tasks run as one
// worker turn; complex ones are decomposed by the planner and executed
// as routed parallel groups.
type Orchestrator struct {
	store     *tasks.FileStore
	costs     *costs.Tracker
	providers *providers.Registry
	router    *Router
	agents    *AgentRegistry
	events    bus.EventPublisher

	mu     sync.RWMutex
	runner TurnRunner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store *tasks.FileStore, tracker *costs.Tracker, reg *providers.Registry, router *Router, events bus.EventPublisher) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		costs:     tracker,
		providers: reg,
		router:    router,
		agents:    NewAgentRegistry(),
		events:    events,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// BindRunner attaches the worker-turn implementation. The agent and the
// orchestrator reference each other, so the runner arrives after
// construction; Delegate refuses work until it has.
func (o *Orchestrator) BindRunner(r TurnRunner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runner = r
}

// Agents exposes the sub-agent registry for the admin surface.
func (o *Orchestrator) Agents() *AgentRegistry { return o.agents }

// Delegate schedules a task for background execution and returns once
// it is queued. Decomposition happens when the caller forces it or the
// complexity heuristic fires.
func (o *Orchestrator) Delegate(taskID string, orchestrate bool) error {
	task, err := o.store.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID[:8], task.Status)
	}
	o.mu.RLock()
	runner := o.runner
	o.mu.RUnlock()
	if runner == nil {
		return fmt.Errorf("no turn runner bound")
	}

	decomposed := orchestrate || ShouldOrchestrate(task.Description)
	slog.Info("orchestrator.delegated", "task", taskID[:8], "orchestrated", decomposed)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if decomposed {
			o.runPlan(o.ctx, task)
		} else {
			o.runDirect(o.ctx, task)
		}
	}()
	return nil
}

// Shutdown cancels in-flight work and waits for workers to exit.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

// runDirect executes a task as a single worker turn on the balanced
// tier, honoring any provider/model override the task carries.
func (o *Orchestrator) runDirect(ctx context.Context, task *tasks.Task) {
	if _, err := o.store.UpdateStatus(task.ID, tasks.StatusRunning); err != nil {
		slog.Warn("orchestrator.status_failed", "task", task.ID[:8], "error", err)
		return
	}
	o.emitTask(task.ID, task.ParentID, tasks.StatusRunning)

	route := o.router.ForTier(TierBalanced, "single worker turn")
	if task.Provider != "" || task.Model != "" {
		route = Route{Provider: task.Provider, Model: task.Model, Rationale: "task override"}
	}
	provider, model, err := o.router.Resolve(route)
	if err != nil {
		o.failTask(task.ID, task.ParentID, fmt.Sprintf("no provider: %v", err))
		return
	}

	res, err := o.run(ctx, TurnRequest{
		TaskID:       task.ID,
		SystemPrompt: directPrompt(task),
		UserMessage:  task.Description,
		Provider:     provider.Name(),
		Model:        model,
		Channel:      task.Source.Channel,
		UserID:       task.Source.UserID,
	})
	if err != nil {
		o.failTask(task.ID, task.ParentID, err.Error())
		return
	}

	o.store.AddUsage(task.ID, res.InputTokens, res.OutputTokens, res.Cost)
	o.store.SetResult(task.ID, res.Content)
	o.store.UpdateStatus(task.ID, tasks.StatusCompleted)
	o.emitTask(task.ID, task.ParentID, tasks.StatusCompleted)
	slog.Info("orchestrator.task_completed", "task", task.ID[:8])
}

// runPlan decomposes the task with one planning call, then executes
// the plan. Planning failures degrade inside buildPlan rather than
// failing the task.
func (o *Orchestrator) runPlan(ctx context.Context, task *tasks.Task) {
	if _, err := o.store.UpdateStatus(task.ID, tasks.StatusRunning); err != nil {
		slog.Warn("orchestrator.status_failed", "task", task.ID[:8], "error", err)
		return
	}
	o.emitTask(task.ID, task.ParentID, tasks.StatusRunning)

	raw, err := o.chat(ctx, task.ID, TierBalanced, "planning call", planSystemPrompt, "Objective:\n"+task.Description, planMaxTokens)
	if err != nil {
		slog.Warn("orchestrator.plan_call_failed", "task", task.ID[:8], "error", err)
	}
	plan := buildPlan(task.ID, task.Description, raw)

	o.executePlan(ctx, task, plan)
}

// run invokes the bound turn runner.
func (o *Orchestrator) run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	o.mu.RLock()
	runner := o.runner
	o.mu.RUnlock()
	if runner == nil {
		return nil, fmt.Errorf("no turn runner bound")
	}
	return runner.RunTurn(ctx, req)
}

// chat issues one direct LLM call on a tier, recording spend in the
// daily ledger and against the given task. Used for planning and
// synthesis, which run without tools.
func (o *Orchestrator) chat(ctx context.Context, taskID string, tier Tier, rationale, system, user string, maxTokens int) (string, error) {
	route := o.router.ForTier(tier, rationale)
	provider, model, err := o.router.Resolve(route)
	if err != nil {
		return "", err
	}

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model: model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   maxTokens,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Usage != nil {
		cost := o.costs.EstimateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		o.costs.Track(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if taskID != "" {
			o.store.AddUsage(taskID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)
		}
	}
	return resp.Content, nil
}

func (o *Orchestrator) failTask(id, parentID, msg string) {
	if _, err := o.store.Fail(id, msg); err != nil {
		slog.Warn("orchestrator.fail_persist_failed", "task", id[:8], "error", err)
	}
	o.emitTask(id, parentID, tasks.StatusFailed)
	slog.Warn("orchestrator.task_failed", "task", id[:8], "error", msg)
}

func (o *Orchestrator) emitTask(id, parentID string, status tasks.Status) {
	o.events.Broadcast(bus.Event{Name: "task.updated", Payload: map[string]any{
		"id":        id,
		"parent_id": parentID,
		"status":    string(status),
	}})
}
