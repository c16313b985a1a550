package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) Subscribe(id string, h bus.EventHandler) {}
func (r *eventRecorder) Unsubscribe(id string)                   {}
func (r *eventRecorder) Broadcast(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

// stubProvider replays scripted responses in order.
type stubProvider struct {
	name  string
	model string

	mu        sync.Mutex
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("stub provider has no scripted response")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *stubProvider) DefaultModel() string { return p.model }
func (p *stubProvider) Name() string         { return p.name }

func (p *stubProvider) calls() []providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]providers.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func scripted(content string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 200, CompletionTokens: 80},
	}
}

// fakeRunner records worker turns and answers them synchronously.
type fakeRunner struct {
	mu       sync.Mutex
	requests []TurnRequest
	reply    func(req TurnRequest) (*TurnResult, error)
}

func (f *fakeRunner) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return &TurnResult{Content: "done: " + req.UserMessage, InputTokens: 100, OutputTokens: 50, Cost: 0.001}, nil
}

func (f *fakeRunner) turns() []TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TurnRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fixture struct {
	store    *tasks.FileStore
	tracker  *costs.Tracker
	provider *stubProvider
	runner   *fakeRunner
	events   *eventRecorder
	orch     *Orchestrator
}

func newFixture(t *testing.T, responses ...*providers.ChatResponse) *fixture {
	t.Helper()
	store, err := tasks.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tracker, err := costs.NewTracker(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	provider := &stubProvider{name: "stub", model: "stub-default", responses: responses}
	reg := providers.NewRegistry()
	reg.Register(provider)

	events := &eventRecorder{}
	orch := New(store, tracker, reg, NewRouter(testTiers(), reg, tracker), events)
	runner := &fakeRunner{}
	orch.BindRunner(runner)
	t.Cleanup(orch.Shutdown)

	return &fixture{store: store, tracker: tracker, provider: provider, runner: runner, events: events, orch: orch}
}

func (f *fixture) createTask(t *testing.T, description string) *tasks.Task {
	t.Helper()
	task, err := f.store.Create(tasks.CreateSpec{
		Title:       "test task",
		Description: description,
		Source:      tasks.Source{Channel: "telegram", UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func waitTerminal(t *testing.T, store *tasks.FileStore, id string) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

func TestDelegate_DirectTask(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "Summarize the README file")

	if err := f.orch.Delegate(task.ID, false); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	got := waitTerminal(t, f.store, task.ID)

	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
	if got.Result != "done: Summarize the README file" {
		t.Fatalf("result = %q", got.Result)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}
	if got.Usage.InputTokens != 100 || got.Usage.OutputTokens != 50 {
		t.Fatalf("usage = %+v, want 100/50", got.Usage)
	}

	turns := f.runner.turns()
	if len(turns) != 1 {
		t.Fatalf("got %d worker turns, want 1", len(turns))
	}
	turn := turns[0]
	if turn.TaskID != task.ID {
		t.Fatalf("turn task = %s, want parent id", turn.TaskID)
	}
	if turn.Model != "tier-balanced" {
		t.Fatalf("turn model = %s, want tier-balanced", turn.Model)
	}
	if turn.Channel != "telegram" || turn.UserID != "u1" {
		t.Fatalf("turn origin = %s/%s, want telegram/u1", turn.Channel, turn.UserID)
	}
	if calls := f.provider.calls(); len(calls) != 0 {
		t.Fatalf("direct path made %d provider calls, want 0", len(calls))
	}
}

func TestDelegate_TaskModelOverride(t *testing.T) {
	f := newFixture(t)
	task, err := f.store.Create(tasks.CreateSpec{
		Title:       "override",
		Description: "Run with a pinned model",
		Provider:    "stub",
		Model:       "pinned-model",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.orch.Delegate(task.ID, false); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	waitTerminal(t, f.store, task.ID)

	turns := f.runner.turns()
	if len(turns) != 1 || turns[0].Model != "pinned-model" {
		t.Fatalf("turns = %+v, want one turn on pinned-model", turns)
	}
}

func TestDelegate_RefusesTerminalTask(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, "anything")
	if _, err := f.store.UpdateStatus(task.ID, tasks.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := f.orch.Delegate(task.ID, false); err == nil {
		t.Fatal("expected error delegating a cancelled task")
	}
}

func TestDelegate_RequiresRunner(t *testing.T) {
	f := newFixture(t)
	f.orch.BindRunner(nil)
	task := f.createTask(t, "anything")
	if err := f.orch.Delegate(task.ID, false); err == nil {
		t.Fatal("expected error with no runner bound")
	}
}

const twoSubtaskPlan = `{"subtasks":[
	{"title":"Research solar","description":"Find facts about solar power","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":2},
	{"title":"Research wind","description":"Find facts about wind power","role":"researcher","modelTier":"fast","parallelGroup":"A","complexity":2}
]}`

func TestDelegate_PlansWhenForced(t *testing.T) {
	f := newFixture(t, scripted(twoSubtaskPlan), scripted("FINAL ANSWER"))
	task := f.createTask(t, "Compile solar and wind facts")

	if err := f.orch.Delegate(task.ID, true); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	got := waitTerminal(t, f.store, task.ID)

	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", got.Status, got.Error)
	}
	if got.Result != "FINAL ANSWER" {
		t.Fatalf("result = %q, want synthesis output", got.Result)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %d, want 100", got.Progress)
	}

	// Plan + synthesis tokens land on the parent, worker tokens on both.
	if got.Usage.InputTokens != 2*200+2*100 {
		t.Fatalf("parent input tokens = %d, want 600", got.Usage.InputTokens)
	}
	if got.Usage.OutputTokens != 2*80+2*50 {
		t.Fatalf("parent output tokens = %d, want 260", got.Usage.OutputTokens)
	}
	if got.Usage.Cost <= 0 {
		t.Fatalf("parent cost = %v, want > 0", got.Usage.Cost)
	}

	if len(got.Steps) != 2 {
		t.Fatalf("parent has %d steps, want 2", len(got.Steps))
	}
	for _, step := range got.Steps {
		if step.Status != tasks.StatusCompleted {
			t.Fatalf("step %q status = %s, want completed", step.Title, step.Status)
		}
	}

	children := f.store.ListSubtasks(task.ID)
	if len(children) != 2 {
		t.Fatalf("got %d child tasks, want 2", len(children))
	}
	for _, child := range children {
		if child.Status != tasks.StatusCompleted {
			t.Fatalf("child %q status = %s", child.Title, child.Status)
		}
		if child.Usage.InputTokens != 100 || child.Usage.OutputTokens != 50 {
			t.Fatalf("child usage = %+v, want 100/50", child.Usage)
		}
		if child.Model != "tier-fast" {
			t.Fatalf("child model = %s, want tier-fast", child.Model)
		}
	}

	turns := f.runner.turns()
	if len(turns) != 2 {
		t.Fatalf("got %d worker turns, want 2", len(turns))
	}
	for _, turn := range turns {
		if turn.Model != "tier-fast" {
			t.Fatalf("worker model = %s, want tier-fast", turn.Model)
		}
		if !strings.Contains(turn.SystemPrompt, "researcher sub-agent") {
			t.Fatalf("worker prompt missing role: %q", turn.SystemPrompt)
		}
		if !strings.Contains(turn.SystemPrompt, "Compile solar and wind facts") {
			t.Fatal("worker prompt missing the parent objective")
		}
	}

	agents := f.orch.Agents().Snapshot()
	if len(agents) != 2 {
		t.Fatalf("got %d agents, want 2", len(agents))
	}
	for _, a := range agents {
		if a.Status != AgentStopped {
			t.Fatalf("agent %s status = %s, want stopped", a.Name, a.Status)
		}
		if a.Cost != 0.001 {
			t.Fatalf("agent cost = %v, want 0.001", a.Cost)
		}
	}

	names := f.events.names()
	var sawStart, sawDone bool
	for _, n := range names {
		if n == "plan.started" {
			sawStart = true
		}
		if n == "plan.completed" {
			sawDone = true
		}
	}
	if !sawStart || !sawDone {
		t.Fatalf("events = %v, want plan.started and plan.completed", names)
	}
}

func TestDelegate_HeuristicTriggersPlanning(t *testing.T) {
	plan := `{"subtasks":[{"title":"All of it","description":"Do everything","role":"executor","modelTier":"balanced","complexity":5}]}`
	f := newFixture(t, scripted(plan), scripted("combined"))
	task := f.createTask(t, "Research three renewable energy sources and write a comparison report with pros and cons")

	if err := f.orch.Delegate(task.ID, false); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	got := waitTerminal(t, f.store, task.ID)

	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s (error %q)", got.Status, got.Error)
	}
	calls := f.provider.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d provider calls, want plan + synthesis", len(calls))
	}
	if calls[0].Messages[0].Content != planSystemPrompt {
		t.Fatal("first provider call is not the planning call")
	}
}

func TestExecutePlan_GroupOrderAndPriorResults(t *testing.T) {
	f := newFixture(t, scripted("synthesized"))
	parent := f.createTask(t, "ordered objective")

	plan := newPlan(parent.ID, "ordered objective")
	plan.Subtasks = []*PlannedSubtask{
		{ID: "s-beta", Title: "Beta", Description: "beta work", Role: RoleCoder, ParallelGroup: "B", Status: tasks.StatusPending},
		{ID: "s-alpha", Title: "Alpha", Description: "alpha work", Role: RoleResearcher, ParallelGroup: "A", Status: tasks.StatusPending},
		{ID: "s-omega", Title: "Omega", Description: "omega work", Role: RoleWriter, Status: tasks.StatusPending},
	}

	f.orch.executePlan(context.Background(), parent, plan)

	turns := f.runner.turns()
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].UserMessage != "alpha work" || turns[1].UserMessage != "beta work" || turns[2].UserMessage != "omega work" {
		t.Fatalf("execution order = %q, %q, %q; want alpha, beta, omega",
			turns[0].UserMessage, turns[1].UserMessage, turns[2].UserMessage)
	}

	// Later work sees earlier results, not the other way round.
	if strings.Contains(turns[0].SystemPrompt, "Results from earlier subtasks") {
		t.Fatal("first group should have no prior results")
	}
	if !strings.Contains(turns[1].SystemPrompt, "### Alpha") {
		t.Fatal("second group prompt missing Alpha's result")
	}
	if !strings.Contains(turns[2].SystemPrompt, "### Alpha") || !strings.Contains(turns[2].SystemPrompt, "### Beta") {
		t.Fatal("sequential tail prompt missing group results")
	}

	got, err := f.store.Get(parent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCompleted || got.Result != "synthesized" {
		t.Fatalf("parent = %s %q, want completed/synthesized", got.Status, got.Result)
	}
	if plan.Status != PlanCompleted {
		t.Fatalf("plan status = %s, want completed", plan.Status)
	}
}

func TestExecutePlan_PartialFailureStillSynthesizes(t *testing.T) {
	f := newFixture(t, scripted("best effort"))
	f.runner.reply = func(req TurnRequest) (*TurnResult, error) {
		if strings.Contains(req.UserMessage, "bad") {
			return nil, errors.New("worker exploded")
		}
		return &TurnResult{Content: "ok", InputTokens: 10, OutputTokens: 5, Cost: 0.0001}, nil
	}
	parent := f.createTask(t, "partial objective")

	plan := newPlan(parent.ID, "partial objective")
	plan.Subtasks = []*PlannedSubtask{
		{ID: "s-good", Title: "Good", Description: "good work", Role: RoleResearcher, ParallelGroup: "A", Status: tasks.StatusPending},
		{ID: "s-bad", Title: "Bad", Description: "bad work", Role: RoleResearcher, ParallelGroup: "A", Status: tasks.StatusPending},
	}

	f.orch.executePlan(context.Background(), parent, plan)

	if len(f.runner.turns()) != 2 {
		t.Fatalf("every subtask must run exactly once, got %d turns", len(f.runner.turns()))
	}

	got, err := f.store.Get(parent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("parent status = %s, want completed despite one failure", got.Status)
	}
	if got.Result != "best effort" {
		t.Fatalf("result = %q, want synthesis output", got.Result)
	}

	var failedChild bool
	for _, child := range f.store.ListSubtasks(parent.ID) {
		if child.Title == "Bad" && child.Status == tasks.StatusFailed {
			failedChild = true
		}
	}
	if !failedChild {
		t.Fatal("failed subtask's child task should be failed")
	}

	calls := f.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d provider calls, want 1 synthesis", len(calls))
	}
	if !strings.Contains(calls[0].Messages[1].Content, "[failed]") {
		t.Fatal("synthesis prompt should mark the failed subtask")
	}
}

func TestExecutePlan_AllFailuresFailParent(t *testing.T) {
	f := newFixture(t)
	f.runner.reply = func(req TurnRequest) (*TurnResult, error) {
		return nil, errors.New("no luck")
	}
	parent := f.createTask(t, "doomed objective")

	plan := newPlan(parent.ID, "doomed objective")
	plan.Subtasks = []*PlannedSubtask{
		{ID: "s-1", Title: "One", Description: "one", Role: RoleExecutor, ParallelGroup: "A", Status: tasks.StatusPending},
		{ID: "s-2", Title: "Two", Description: "two", Role: RoleExecutor, Status: tasks.StatusPending},
	}

	f.orch.executePlan(context.Background(), parent, plan)

	got, err := f.store.Get(parent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusFailed {
		t.Fatalf("parent status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "2 subtasks failed") {
		t.Fatalf("parent error = %q", got.Error)
	}
	if len(f.provider.calls()) != 0 {
		t.Fatal("no synthesis call should happen when everything failed")
	}
	if plan.Status != PlanFailed {
		t.Fatalf("plan status = %s, want failed", plan.Status)
	}
	if got.Progress >= 100 {
		t.Fatalf("failed parent progress = %d, must stay below 100", got.Progress)
	}
}

func TestExecutePlan_SynthesisFailureFallsBackToResults(t *testing.T) {
	f := newFixture(t) // no scripted synthesis response
	parent := f.createTask(t, "fallback objective")

	plan := newPlan(parent.ID, "fallback objective")
	plan.Subtasks = []*PlannedSubtask{
		{ID: "s-1", Title: "Solo", Description: "solo work", Role: RoleWriter, Status: tasks.StatusPending},
	}

	f.orch.executePlan(context.Background(), parent, plan)

	got, err := f.store.Get(parent.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if !strings.Contains(got.Result, "done: solo work") {
		t.Fatalf("result = %q, want raw subtask results", got.Result)
	}
}

func TestWorkerPrompt_TruncatesPriorResults(t *testing.T) {
	sub := &PlannedSubtask{Title: "t", Role: RoleResearcher}
	prior := []string{strings.Repeat("x", workerResultLimit+1000)}

	prompt := workerPrompt(sub, "obj", prior)

	if !strings.Contains(prompt, "...[truncated]") {
		t.Fatal("long prior result not truncated")
	}
	if got := strings.Count(prompt, "x"); got != workerResultLimit {
		t.Fatalf("prompt carries %d chars of the prior result, want %d", got, workerResultLimit)
	}
}

func TestSynthesisPrompt_TruncatesResults(t *testing.T) {
	plan := newPlan("p", "obj")
	plan.Subtasks = []*PlannedSubtask{{
		Title:  "big",
		Status: tasks.StatusCompleted,
		Result: strings.Repeat("y", synthesisResultLimit+500),
	}}

	prompt := synthesisUserPrompt(plan)

	if !strings.Contains(prompt, "...[truncated]") {
		t.Fatal("long result not truncated for synthesis")
	}
	if got := strings.Count(prompt, "y"); got != synthesisResultLimit {
		t.Fatalf("prompt carries %d chars, want %d", got, synthesisResultLimit)
	}
}
