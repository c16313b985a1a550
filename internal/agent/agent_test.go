package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/orchestrator"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/skills"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
	"github.com/nextlevelbuilder/agentd/internal/threads"
	"github.com/nextlevelbuilder/agentd/internal/tools"
)

// scriptedProvider pops pre-seeded responses in order and records every
// request it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.ChatResponse
	requests  []providers.ChatRequest
}

func (s *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("scripted provider has no response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

func (s *scriptedProvider) calls() []providers.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func textReply(content string) *providers.ChatResponse {
	return &providers.ChatResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        &providers.Usage{PromptTokens: 100, CompletionTokens: 40},
	}
}

func toolCallReply(calls ...providers.ToolCall) *providers.ChatResponse {
	return &providers.ChatResponse{
		FinishReason: "tool_calls",
		ToolCalls:    calls,
		Usage:        &providers.Usage{PromptTokens: 100, CompletionTokens: 40},
	}
}

type fixture struct {
	agent    *Agent
	provider *scriptedProvider
	threads  *threads.Manager
	tools    *tools.Registry
	tracker  *costs.Tracker
	broker   *approvals.Broker
	store    *tasks.FileStore
	settings *settings.Manager
}

func newFixture(t *testing.T, responses ...*providers.ChatResponse) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := settings.NewManager(filepath.Join(dir, "settings.json"), "test-secret")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	tracker, err := costs.NewTracker(dir, map[string]costs.ModelPrice{
		"test-model": {Input: 1000, Output: 2000},
	})
	if err != nil {
		t.Fatalf("costs: %v", err)
	}
	broker, err := approvals.NewBroker(filepath.Join(dir, "approvals"), nil)
	if err != nil {
		t.Fatalf("approvals: %v", err)
	}
	t.Cleanup(broker.Close)
	store, err := tasks.NewFileStore(filepath.Join(dir, "tasks"))
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	mem, err := memory.NewStore(filepath.Join(dir, "memory"))
	if err != nil {
		t.Fatalf("memory: %v", err)
	}

	reg := tools.NewRegistry(st, nil, nil, broker, store)
	provider := &scriptedProvider{responses: responses}
	preg := providers.NewRegistry()
	preg.Register(provider)

	a := New(Options{
		Name:            "Aria",
		Workspace:       dir,
		Providers:       preg,
		DefaultProvider: "scripted",
		Threads:         threads.NewManager(filepath.Join(dir, "threads")),
		Tools:           reg,
		Costs:           tracker,
		Approvals:       broker,
		Tasks:           store,
		Memory:          mem,
		Skills:          skills.NewLoader(filepath.Join(dir, "skills")),
		Settings:        st,
	})
	return &fixture{
		agent:    a,
		provider: provider,
		threads:  a.threads,
		tools:    reg,
		tracker:  tracker,
		broker:   broker,
		store:    store,
		settings: st,
	}
}

func inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: "telegram", SenderID: "u1", ChatID: "chat-1", Content: text}
}

func TestHandleMessage_EmptyInput(t *testing.T) {
	fx := newFixture(t)
	reply, err := fx.agent.HandleMessage(context.Background(), inbound("   "))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "" {
		t.Errorf("reply = %q, want empty", reply)
	}
	if n := len(fx.provider.calls()); n != 0 {
		t.Errorf("provider called %d times for empty input", n)
	}
}

func TestHandleMessage_PlainReply(t *testing.T) {
	fx := newFixture(t, textReply("hello there"))

	reply, err := fx.agent.HandleMessage(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}

	calls := fx.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	first := calls[0].Messages[0]
	if first.Role != "system" {
		t.Errorf("first message role = %q, want system", first.Role)
	}
	if !strings.Contains(first.Content, "You are agentd") {
		t.Errorf("system prompt missing identity: %q", first.Content)
	}
	if !strings.Contains(first.Content, "Autonomy level: medium") {
		t.Errorf("system prompt missing autonomy: %q", first.Content)
	}

	// The thread keeps user and assistant turns but never the system prompt.
	key := threads.Key("telegram", "u1")
	history := fx.threads.History(key)
	if len(history) != 2 {
		t.Fatalf("history = %d turns, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history roles = %s,%s", history[0].Role, history[1].Role)
	}

	day := fx.tracker.Today()
	if day.CallCount != 1 {
		t.Errorf("tracked calls = %d, want 1", day.CallCount)
	}
	if day.InputTokens != 100 || day.OutputTokens != 40 {
		t.Errorf("tracked tokens = %d/%d, want 100/40", day.InputTokens, day.OutputTokens)
	}
}

func TestHandleMessage_SecondTurnSeesHistory(t *testing.T) {
	fx := newFixture(t, textReply("first"), textReply("second"))

	if _, err := fx.agent.HandleMessage(context.Background(), inbound("one")); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := fx.agent.HandleMessage(context.Background(), inbound("two")); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	calls := fx.provider.calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	// system + one + first + two
	msgs := calls[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("second call messages = %d, want 4", len(msgs))
	}
	if msgs[1].Content != "one" || msgs[2].Content != "first" || msgs[3].Content != "two" {
		t.Errorf("unexpected history order: %q %q %q", msgs[1].Content, msgs[2].Content, msgs[3].Content)
	}
}

func TestHandleMessage_TrimmedThreadSummaryReachesModel(t *testing.T) {
	fx := newFixture(t, textReply("noted"))

	// Grow the thread past the soft cap so the oldest turns fold into
	// the summary instead of riding along as raw history.
	thread := fx.threads.GetOrCreate("telegram", "u1")
	fx.threads.Append(thread.Key, providers.Message{Role: "user", Content: "the wifi password is hunter2"})
	for i := 0; i < 110; i++ {
		fx.threads.Append(thread.Key, providers.Message{Role: "user", Content: fmt.Sprintf("filler %d", i)})
	}
	if fx.threads.Summary(thread.Key) == "" {
		t.Fatal("trim produced no summary")
	}

	if _, err := fx.agent.HandleMessage(context.Background(), inbound("what was the wifi password?")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	calls := fx.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	system := calls[0].Messages[0].Content
	if !strings.Contains(system, "Earlier conversation (condensed") {
		t.Errorf("system prompt missing summary block:\n%s", system)
	}
	if !strings.Contains(system, "the wifi password is hunter2") {
		t.Errorf("trimmed turn absent from summary block:\n%s", system)
	}
}

func TestHandleMessage_ToolRoundTrip(t *testing.T) {
	fx := newFixture(t,
		toolCallReply(providers.ToolCall{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}),
		textReply("echoed"),
	)

	var gotArgs map[string]any
	fx.tools.Register(tools.Definition{Name: "echo", Category: settings.CategoryMemory},
		func(_ context.Context, args map[string]any) *tools.Result {
			gotArgs = args
			return tools.UserResult("echo: " + fmt.Sprint(args["text"]))
		})

	reply, err := fx.agent.HandleMessage(context.Background(), inbound("say hi"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "echoed" {
		t.Errorf("reply = %q", reply)
	}
	if gotArgs["text"] != "hi" {
		t.Errorf("tool args = %v", gotArgs)
	}

	calls := fx.provider.calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Errorf("tool turn = role %q id %q", last.Role, last.ToolCallID)
	}
	if !strings.Contains(last.Content, "echo: hi") {
		t.Errorf("tool turn content = %q", last.Content)
	}

	// user, assistant(tool_calls), tool, assistant
	history := fx.threads.History(threads.Key("telegram", "u1"))
	if len(history) != 4 {
		t.Fatalf("history = %d turns, want 4", len(history))
	}
	if len(history[1].ToolCalls) != 1 {
		t.Errorf("assistant turn tool calls = %d", len(history[1].ToolCalls))
	}
}

func TestHandleMessage_ParallelToolResultsKeepCallOrder(t *testing.T) {
	fx := newFixture(t,
		toolCallReply(
			providers.ToolCall{ID: "c1", Name: "wait", Arguments: map[string]interface{}{"ms": 40.0, "tag": "slow"}},
			providers.ToolCall{ID: "c2", Name: "wait", Arguments: map[string]interface{}{"ms": 10.0, "tag": "mid"}},
			providers.ToolCall{ID: "c3", Name: "wait", Arguments: map[string]interface{}{"ms": 0.0, "tag": "fast"}},
		),
		textReply("all done"),
	)

	fx.tools.Register(tools.Definition{Name: "wait", Category: settings.CategoryMemory},
		func(_ context.Context, args map[string]any) *tools.Result {
			ms, _ := args["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return tools.UserResult(fmt.Sprint(args["tag"]))
		})

	if _, err := fx.agent.HandleMessage(context.Background(), inbound("race them")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	calls := fx.provider.calls()
	if len(calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(calls))
	}
	msgs := calls[1].Messages
	tail := msgs[len(msgs)-3:]
	wantIDs := []string{"c1", "c2", "c3"}
	wantTags := []string{"slow", "mid", "fast"}
	for i, m := range tail {
		if m.Role != "tool" {
			t.Fatalf("tail[%d] role = %q, want tool", i, m.Role)
		}
		if m.ToolCallID != wantIDs[i] {
			t.Errorf("tail[%d] id = %q, want %q", i, m.ToolCallID, wantIDs[i])
		}
		if !strings.Contains(m.Content, wantTags[i]) {
			t.Errorf("tail[%d] content = %q, want %q", i, m.Content, wantTags[i])
		}
	}
}

func TestHandleMessage_IterationCap(t *testing.T) {
	fx := newFixture(t,
		toolCallReply(providers.ToolCall{ID: "c1", Name: "noop", Arguments: map[string]interface{}{}}),
		toolCallReply(providers.ToolCall{ID: "c2", Name: "noop", Arguments: map[string]interface{}{}}),
		// A third response must never be requested.
		textReply("unreachable"),
	)
	if _, _, err := fx.settings.Update(map[string]interface{}{
		"limits": map[string]interface{}{"max_tool_calls_per_turn": 2},
	}, nil); err != nil {
		t.Fatalf("settings update: %v", err)
	}

	var ran int
	fx.tools.Register(tools.Definition{Name: "noop", Category: settings.CategoryMemory},
		func(_ context.Context, _ map[string]any) *tools.Result {
			ran++
			return tools.UserResult("ok")
		})

	reply, err := fx.agent.HandleMessage(context.Background(), inbound("loop forever"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != iterationCapNotice {
		t.Errorf("reply = %q, want cap notice", reply)
	}
	if ran != 2 {
		t.Errorf("tool ran %d times, want 2", ran)
	}
	if n := len(fx.provider.calls()); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}

	history := fx.threads.History(threads.Key("telegram", "u1"))
	lastTurn := history[len(history)-1]
	if lastTurn.Role != "assistant" || lastTurn.Content != iterationCapNotice {
		t.Errorf("last turn = %s %q", lastTurn.Role, lastTurn.Content)
	}
}

func TestHandleMessage_BudgetGate(t *testing.T) {
	fx := newFixture(t, textReply("unreachable"))
	if err := fx.tracker.SetBudget(costs.Budget{DailyLimitUSD: 0.001, HardStop: true}); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	fx.tracker.Track("test-model", 10000, 0) // blows the daily limit

	reply, err := fx.agent.HandleMessage(context.Background(), inbound("anything"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != budgetExceededReply {
		t.Errorf("reply = %q, want budget notice", reply)
	}
	if n := len(fx.provider.calls()); n != 0 {
		t.Errorf("provider called %d times past budget", n)
	}
}

func TestHandleMessage_StripsThinkingTags(t *testing.T) {
	fx := newFixture(t, textReply("<thinking>scratch</thinking>The answer is 4."))

	reply, err := fx.agent.HandleMessage(context.Background(), inbound("2+2?"))
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "The answer is 4." {
		t.Errorf("reply = %q", reply)
	}
	history := fx.threads.History(threads.Key("telegram", "u1"))
	if got := history[len(history)-1].Content; got != "The answer is 4." {
		t.Errorf("stored turn = %q", got)
	}
}

func TestHandleMessage_ProviderError(t *testing.T) {
	fx := newFixture(t) // no scripted responses: the call fails

	_, err := fx.agent.HandleMessage(context.Background(), inbound("hi"))
	if err == nil {
		t.Fatal("expected error from failing provider")
	}
	if !strings.Contains(err.Error(), "llm call 1") {
		t.Errorf("error = %v, want llm call attribution", err)
	}
	// Nothing should be persisted for a failed turn.
	if got := len(fx.threads.History(threads.Key("telegram", "u1"))); got != 0 {
		t.Errorf("history after failed turn = %d turns, want 0", got)
	}
}

func TestRunTurn_ReportsUsageAndCost(t *testing.T) {
	fx := newFixture(t, textReply("worker output"))

	res, err := fx.agent.RunTurn(context.Background(), orchestrator.TurnRequest{
		SystemPrompt: "You are a worker.",
		UserMessage:  "do the thing",
		TaskID:       "t-123",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if res.Content != "worker output" {
		t.Errorf("content = %q", res.Content)
	}
	if res.InputTokens != 100 || res.OutputTokens != 40 {
		t.Errorf("tokens = %d/%d, want 100/40", res.InputTokens, res.OutputTokens)
	}
	// 100 in at $1000/M + 40 out at $2000/M.
	wantCost := 0.18
	if diff := res.Cost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %v, want %v", res.Cost, wantCost)
	}

	calls := fx.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	if calls[0].Messages[0].Content != "You are a worker." {
		t.Errorf("system prompt = %q", calls[0].Messages[0].Content)
	}

	// Worker turns never touch conversation threads.
	if n := len(fx.threads.List()); n != 0 {
		t.Errorf("threads after worker turn = %d, want 0", n)
	}
}

func TestRunTurn_BudgetExhausted(t *testing.T) {
	fx := newFixture(t)
	if err := fx.tracker.SetBudget(costs.Budget{DailyLimitUSD: 0.001, HardStop: true}); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	fx.tracker.Track("test-model", 10000, 0)

	if _, err := fx.agent.RunTurn(context.Background(), orchestrator.TurnRequest{UserMessage: "work"}); err == nil {
		t.Fatal("expected budget error")
	}
}
