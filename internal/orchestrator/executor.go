package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

const (
	// maxParallelWorkers bounds concurrent worker turns within a group.
	maxParallelWorkers = 4

	// workerResultLimit bounds each prior result embedded in a worker
	// prompt; synthesisResultLimit bounds them in the synthesis prompt.
	workerResultLimit    = 2000
	synthesisResultLimit = 5000

	// preSynthesisCap keeps proportional progress short of done until
	// the synthesis call has produced the parent result.
	preSynthesisCap = 90

	// stepResultLimit bounds the result preview stored on parent steps.
	stepResultLimit = 500

	synthesisMaxTokens = 4000
)

// executePlan runs every subtask exactly once: parallel groups in
// lexicographic label order, then the ungrouped tail sequentially, then
// one synthesis call whose output becomes the parent result.
func (o *Orchestrator) executePlan(ctx context.Context, parent *tasks.Task, plan *Plan) {
	plan.Status = PlanExecuting
	total := len(plan.Subtasks)
	labels, grouped, sequential := plan.groups()

	slog.Info("orchestrator.plan_started", "task", parent.ID[:8], "plan", plan.ID[:8],
		"subtasks", total, "groups", len(labels))
	o.events.Broadcast(bus.Event{Name: "plan.started", Payload: map[string]any{
		"plan_id":  plan.ID,
		"task_id":  parent.ID,
		"subtasks": total,
	}})

	// The plan persists through the parent document: one step per
	// subtask plus a scratchpad line naming the plan.
	for _, sub := range plan.Subtasks {
		if _, err := o.store.AddStep(parent.ID, tasks.Step{Title: sub.Title, Description: sub.Description}); err != nil {
			slog.Warn("orchestrator.step_add_failed", "task", parent.ID[:8], "error", err)
		}
	}
	o.store.AppendScratchpad(parent.ID, fmt.Sprintf("plan %s: %d subtasks in %d parallel groups", plan.ID[:8], total, len(labels)))

	var done atomic.Int32
	var results []string

	for _, label := range labels {
		group := grouped[label]
		warnSameGroupDeps(plan, group)

		g := new(errgroup.Group)
		g.SetLimit(maxParallelWorkers)
		for _, sub := range group {
			g.Go(func() error {
				o.runSubtask(ctx, parent, plan, sub, results, &done, total)
				return nil
			})
		}
		g.Wait()

		for _, sub := range group {
			results = append(results, subtaskOutcome(sub))
		}
	}

	for _, sub := range sequential {
		o.runSubtask(ctx, parent, plan, sub, results, &done, total)
		results = append(results, subtaskOutcome(sub))
	}

	failed := 0
	for _, sub := range plan.Subtasks {
		if sub.Status != tasks.StatusCompleted {
			failed++
		}
	}

	if failed == total {
		plan.Status = PlanFailed
		o.failTask(parent.ID, parent.ParentID, fmt.Sprintf("all %d subtasks failed", total))
		o.emitPlanDone(plan, parent.ID)
		return
	}

	final, err := o.chat(ctx, parent.ID, TierBalanced, "synthesis call",
		synthesisSystemPrompt, synthesisUserPrompt(plan), synthesisMaxTokens)
	if err != nil || strings.TrimSpace(final) == "" {
		// The work is done; a failed synthesis falls back to the raw
		// subtask results instead of discarding them.
		slog.Warn("orchestrator.synthesis_failed", "task", parent.ID[:8], "error", err)
		final = strings.Join(results, "\n\n")
	}

	plan.Status = PlanCompleted
	o.store.SetResult(parent.ID, final)
	o.store.UpdateStatus(parent.ID, tasks.StatusCompleted)
	o.emitTask(parent.ID, parent.ParentID, tasks.StatusCompleted)
	o.emitPlanDone(plan, parent.ID)
	slog.Info("orchestrator.plan_completed", "task", parent.ID[:8], "plan", plan.ID[:8],
		"completed", total-failed, "failed", failed)
}

// runSubtask routes one subtask, creates its child task, runs the
// worker turn, and records the outcome on the child, the parent step,
// and the parent's proportional progress.
func (o *Orchestrator) runSubtask(ctx context.Context, parent *tasks.Task, plan *Plan, sub *PlannedSubtask, prior []string, done *atomic.Int32, total int) {
	defer func() {
		n := int(done.Add(1))
		o.store.SetProgress(parent.ID, n*preSynthesisCap/total)
		// Steps for this plan start after any the parent already had.
		if idx := plan.subtaskIndex(sub.ID); idx >= 0 {
			if _, err := o.store.UpdateStep(parent.ID, len(parent.Steps)+idx, sub.Status, truncate(sub.Result, stepResultLimit)); err != nil {
				slog.Warn("orchestrator.step_update_failed", "task", parent.ID[:8], "error", err)
			}
		}
	}()

	route := o.router.Route(sub)
	provider, model, err := o.router.Resolve(route)
	if err != nil {
		sub.Status = tasks.StatusFailed
		sub.Result = fmt.Sprintf("no provider for tier %s: %v", route.Tier, err)
		return
	}
	route.Provider = provider.Name()
	route.Model = model

	child, err := o.store.Create(tasks.CreateSpec{
		ParentID:    parent.ID,
		Title:       sub.Title,
		Description: sub.Description,
		Priority:    parent.Priority,
		Source:      parent.Source,
		Provider:    route.Provider,
		Model:       route.Model,
		Tags:        []string{"subtask", string(sub.Role)},
	})
	if err != nil {
		sub.Status = tasks.StatusFailed
		sub.Result = fmt.Sprintf("create child task: %v", err)
		return
	}

	agent := o.agents.Spawn(sub.Role, route, child.ID)
	sub.AgentID = agent.ID
	sub.Status = tasks.StatusRunning
	o.store.UpdateStatus(child.ID, tasks.StatusRunning)
	o.emitAgent(agent, AgentBusy)
	slog.Info("orchestrator.subtask_started", "task", child.ID[:8], "role", string(sub.Role),
		"tier", string(route.Tier), "model", route.Model, "group", sub.ParallelGroup)

	res, err := o.run(ctx, TurnRequest{
		TaskID:       child.ID,
		SystemPrompt: workerPrompt(sub, plan.Objective, prior),
		UserMessage:  sub.Description,
		Provider:     route.Provider,
		Model:        route.Model,
		Channel:      parent.Source.Channel,
		UserID:       parent.Source.UserID,
	})
	if err != nil {
		sub.Status = tasks.StatusFailed
		sub.Result = fmt.Sprintf("worker turn failed: %v", err)
		o.store.Fail(child.ID, err.Error())
		o.emitTask(child.ID, parent.ID, tasks.StatusFailed)
		o.agents.Finish(agent.ID, AgentError, 0, 0, 0)
		o.emitAgent(agent, AgentError)
		slog.Warn("orchestrator.subtask_failed", "task", child.ID[:8], "error", err)
		return
	}

	// Spend lands on both the child and the parent so either view of
	// the ledger is complete.
	o.store.AddUsage(child.ID, res.InputTokens, res.OutputTokens, res.Cost)
	o.store.AddUsage(parent.ID, res.InputTokens, res.OutputTokens, res.Cost)

	sub.Status = tasks.StatusCompleted
	sub.Result = res.Content
	o.store.SetResult(child.ID, res.Content)
	o.store.UpdateStatus(child.ID, tasks.StatusCompleted)
	o.emitTask(child.ID, parent.ID, tasks.StatusCompleted)
	o.agents.Finish(agent.ID, AgentStopped, res.InputTokens, res.OutputTokens, res.Cost)
	o.emitAgent(agent, AgentStopped)
	slog.Info("orchestrator.subtask_completed", "task", child.ID[:8], "role", string(sub.Role))
}

// warnSameGroupDeps logs dependencies between members of the same
// parallel group. They are not enforced; the planner is told to place
// dependents in later groups.
func warnSameGroupDeps(plan *Plan, group []*PlannedSubtask) {
	inGroup := map[string]bool{}
	for _, sub := range group {
		inGroup[sub.ID] = true
	}
	for _, sub := range group {
		for _, dep := range plan.DependsOn[sub.ID] {
			if inGroup[dep] {
				slog.Warn("orchestrator.same_group_dependency", "group", sub.ParallelGroup,
					"subtask", sub.Title)
			}
		}
	}
}

func (o *Orchestrator) emitPlanDone(plan *Plan, taskID string) {
	o.events.Broadcast(bus.Event{Name: "plan.completed", Payload: map[string]any{
		"plan_id": plan.ID,
		"task_id": taskID,
		"status":  string(plan.Status),
	}})
}

func (o *Orchestrator) emitAgent(a *SubAgent, status AgentStatus) {
	o.events.Broadcast(bus.Event{Name: "subagent", Payload: map[string]any{
		"id":      a.ID,
		"name":    a.Name,
		"role":    string(a.Role),
		"model":   a.Model,
		"status":  string(status),
		"task_id": a.CurrentTaskID,
	}})
}

const synthesisSystemPrompt = `You combine sub-agent results into one coherent final answer. Write the final deliverable only; no meta commentary about the process.`

// synthesisUserPrompt lays out the objective and every subtask outcome,
// each truncated, for the final call.
func synthesisUserPrompt(plan *Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n\nSubtask results:\n", plan.Objective)
	for _, sub := range plan.Subtasks {
		fmt.Fprintf(&b, "\n## %s [%s]\n%s\n", sub.Title, sub.Status, truncate(sub.Result, synthesisResultLimit))
	}
	return b.String()
}

// workerPrompt builds the subtask-specific system prompt: the role, the
// parent objective, and prior results each truncated.
func workerPrompt(sub *PlannedSubtask, objective string, prior []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s sub-agent handling one part of a larger objective.\n\n", sub.Role)
	fmt.Fprintf(&b, "Overall objective:\n%s\n\n", objective)
	fmt.Fprintf(&b, "Your subtask: %s\n", sub.Title)
	if len(prior) > 0 {
		b.WriteString("\nResults from earlier subtasks:\n")
		for _, r := range prior {
			b.WriteString(truncate(r, workerResultLimit))
			b.WriteString("\n---\n")
		}
	}
	b.WriteString("\nComplete only your own subtask. Stay in scope.")
	return b.String()
}

// directPrompt is the system prompt for non-decomposed background tasks.
func directPrompt(task *tasks.Task) string {
	return fmt.Sprintf("You are working autonomously on a background task. Complete it and reply with the final result.\n\nTask: %s", task.Title)
}

func subtaskOutcome(sub *PlannedSubtask) string {
	return fmt.Sprintf("### %s [%s]\n%s", sub.Title, sub.Status, sub.Result)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}
