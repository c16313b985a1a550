// Package agent runs the session loop: one inbound message in, one
// reply out, with LLM tool calls in between. The same loop serves chat
// turns, heartbeat and trigger turns, and orchestrator worker turns.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

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

const (
	defaultMaxToolCalls = 20
	turnMaxTokens       = 8192
	turnTemperature     = 0.7

	// HeartbeatOK is the reply that suppresses heartbeat output.
	HeartbeatOK = "HEARTBEAT_OK"

	budgetExceededReply = "Daily LLM budget exceeded. No more calls until the daily reset; raise the budget with the set_budget tool if this is urgent."

	iterationCapNotice = "Reached the tool call limit for this turn without a final answer. Progress so far is saved; say \"continue\" to keep going."
)

// Agent owns one conversational identity and its collaborators.
type Agent struct {
	name      string
	workspace string

	registry        *providers.Registry
	defaultProvider string
	defaultModel    string

	threads   *threads.Manager
	tools     *tools.Registry
	costs     *costs.Tracker
	approvals *approvals.Broker
	tasks     *tasks.FileStore
	memory    *memory.Store
	skills    *skills.Loader
	settings  *settings.Manager
}

// Options wires an Agent. Threads, tools, costs, and settings are
// required; the rest degrade to reduced prompts or disabled commands.
type Options struct {
	Name            string
	Workspace       string
	Providers       *providers.Registry
	DefaultProvider string
	DefaultModel    string
	Threads         *threads.Manager
	Tools           *tools.Registry
	Costs           *costs.Tracker
	Approvals       *approvals.Broker
	Tasks           *tasks.FileStore
	Memory          *memory.Store
	Skills          *skills.Loader
	Settings        *settings.Manager
}

func New(opts Options) *Agent {
	return &Agent{
		name:            opts.Name,
		workspace:       opts.Workspace,
		registry:        opts.Providers,
		defaultProvider: opts.DefaultProvider,
		defaultModel:    opts.DefaultModel,
		threads:         opts.Threads,
		tools:           opts.Tools,
		costs:           opts.Costs,
		approvals:       opts.Approvals,
		tasks:           opts.Tasks,
		memory:          opts.Memory,
		skills:          opts.Skills,
		settings:        opts.Settings,
	}
}

// HandleMessage runs one conversational turn: chat commands first, then
// the budget gate, then the tool-use loop against the user's thread.
// The returned reply may be empty (nothing to say).
func (a *Agent) HandleMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", nil
	}

	if reply, ok := a.handleCommand(text, msg.SenderID); ok {
		return reply, nil
	}

	if !a.costs.CanMakeCall() {
		slog.Warn("agent.budget_exhausted", "channel", msg.Channel, "user", msg.SenderID)
		return budgetExceededReply, nil
	}

	provider, model, err := a.route("", "")
	if err != nil {
		return "", err
	}

	thread := a.threads.GetOrCreate(msg.Channel, msg.SenderID)
	user := providers.Message{Role: "user", Content: text}
	if paths := msg.Metadata[bus.MetaImagePaths]; paths != "" {
		user.Images = loadImages(strings.Split(paths, ","))
	}

	res, err := a.loop(ctx, loopInput{
		system:   a.systemPrompt(time.Now(), a.threads.Summary(thread.Key)),
		history:  a.threads.History(thread.Key),
		user:     user,
		provider: provider,
		model:    model,
		channel:  msg.Channel,
		userID:   msg.SenderID,
	})
	if err != nil {
		return "", err
	}

	for _, turn := range res.newTurns {
		a.threads.Append(thread.Key, turn)
	}
	if err := a.threads.Save(thread.Key); err != nil {
		slog.Warn("agent.thread_save_failed", "thread", thread.Key, "error", err)
	}
	return res.content, nil
}

// RunTurn executes one worker turn for the orchestrator: a fresh
// context with the caller's system prompt, no thread. Spend lands in
// the daily ledger here; the caller attributes it to tasks.
func (a *Agent) RunTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error) {
	if !a.costs.CanMakeCall() {
		return nil, fmt.Errorf("daily LLM budget exhausted")
	}

	provider, model, err := a.route(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	res, err := a.loop(ctx, loopInput{
		system:   req.SystemPrompt,
		user:     providers.Message{Role: "user", Content: req.UserMessage},
		provider: provider,
		model:    model,
		channel:  req.Channel,
		userID:   req.UserID,
		taskID:   req.TaskID,
	})
	if err != nil {
		return nil, err
	}
	return &orchestrator.TurnResult{
		Content:      res.content,
		InputTokens:  res.usage.PromptTokens,
		OutputTokens: res.usage.CompletionTokens,
		Cost:         res.cost,
	}, nil
}

// route resolves the provider and model for a turn, falling back to the
// agent defaults and then the provider's own default model.
func (a *Agent) route(providerName, model string) (providers.Provider, string, error) {
	if providerName == "" {
		providerName = a.defaultProvider
	}
	var p providers.Provider
	var err error
	if providerName != "" {
		p, err = a.registry.Get(providerName)
	} else {
		p, err = a.registry.Default()
	}
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		model = p.DefaultModel()
	}
	return p, model, nil
}

// loopInput is one turn's worth of context for the tool-use loop.
type loopInput struct {
	system   string
	history  []providers.Message
	user     providers.Message
	provider providers.Provider
	model    string
	channel  string
	userID   string
	taskID   string
}

// loopResult carries the reply plus everything the turn produced.
type loopResult struct {
	content  string
	newTurns []providers.Message
	usage    providers.Usage
	cost     float64
	capped   bool
}

// loop is the tool-use iteration: call the LLM, execute any tool calls
// in parallel, feed results back, repeat until a plain reply or the
// per-turn cap.
func (a *Agent) loop(ctx context.Context, in loopInput) (*loopResult, error) {
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("channel", in.channel),
		attribute.String("user", in.userID),
		attribute.String("model", in.model),
	))
	defer span.End()

	msgs := make([]providers.Message, 0, len(in.history)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: in.system})
	msgs = append(msgs, in.history...)
	msgs = append(msgs, in.user)

	res := &loopResult{newTurns: []providers.Message{in.user}}
	toolDefs := a.tools.AllowedDefinitions()
	limit := a.maxToolCalls()

	for i := 0; i < limit; i++ {
		resp, err := a.chat(ctx, in.provider, providers.ChatRequest{
			Messages: msgs,
			Tools:    toolDefs,
			Model:    in.model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   turnMaxTokens,
				providers.OptTemperature: turnTemperature,
			},
		}, i+1)
		if err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("llm call %d: %w", i+1, err)
		}

		if resp.Usage != nil {
			res.usage.PromptTokens += resp.Usage.PromptTokens
			res.usage.CompletionTokens += resp.Usage.CompletionTokens
			res.usage.TotalTokens += resp.Usage.TotalTokens
			res.cost += a.costs.EstimateCost(in.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			a.costs.Track(in.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		if len(resp.ToolCalls) == 0 {
			res.content = sanitizeReply(resp.Content)
			if res.content != "" {
				res.newTurns = append(res.newTurns, providers.Message{Role: "assistant", Content: res.content})
			}
			return res, nil
		}

		assistant := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistant)
		res.newTurns = append(res.newTurns, assistant)

		toolTurns := a.executeCalls(ctx, resp.ToolCalls, in)
		msgs = append(msgs, toolTurns...)
		res.newTurns = append(res.newTurns, toolTurns...)
	}

	slog.Warn("agent.iteration_cap", "channel", in.channel, "user", in.userID, "limit", limit)
	res.capped = true
	res.content = iterationCapNotice
	res.newTurns = append(res.newTurns, providers.Message{Role: "assistant", Content: iterationCapNotice})
	return res, nil
}

// chat is one traced LLM call.
func (a *Agent) chat(ctx context.Context, p providers.Provider, req providers.ChatRequest, iteration int) (*providers.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.String("model", req.Model),
		attribute.Int("iteration", iteration),
	))
	defer span.End()

	resp, err := p.Chat(ctx, req)
	if err != nil {
		spanError(span, err)
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("tokens.prompt", resp.Usage.PromptTokens),
			attribute.Int("tokens.completion", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

// executeCalls runs the batch, in parallel when there is more than one
// call, and returns tool turns in the order the calls were issued.
func (a *Agent) executeCalls(ctx context.Context, calls []providers.ToolCall, in loopInput) []providers.Message {
	results := make([]*tools.Result, len(calls))
	if len(calls) == 1 {
		results[0] = a.executeOne(ctx, calls[0], in)
	} else {
		var wg sync.WaitGroup
		for i, tc := range calls {
			wg.Add(1)
			go func(i int, tc providers.ToolCall) {
				defer wg.Done()
				results[i] = a.executeOne(ctx, tc, in)
			}(i, tc)
		}
		wg.Wait()
	}

	turns := make([]providers.Message, len(calls))
	for i, tc := range calls {
		turns[i] = providers.Message{Role: "tool", Content: results[i].ForLLM, ToolCallID: tc.ID}
	}
	return turns
}

func (a *Agent) executeOne(ctx context.Context, tc providers.ToolCall, in loopInput) *tools.Result {
	ctx, span := tracer.Start(ctx, "tool."+tc.Name, trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", tc.ID),
	))
	defer span.End()

	slog.Info("agent.tool_call", "tool", tc.Name, "channel", in.channel, "user", in.userID)
	result := a.tools.Execute(ctx, tools.Call{
		Name:    tc.Name,
		Args:    tc.Arguments,
		Channel: in.channel,
		UserID:  in.userID,
		TaskID:  in.taskID,
	})
	if result == nil {
		result = tools.ErrorResult("Error: tool produced no result")
	}
	if result.IsError {
		span.SetAttributes(attribute.Bool("tool.error", true))
	}
	return result
}

// maxToolCalls reads the per-turn cap from runtime settings.
func (a *Agent) maxToolCalls() int {
	if a.settings != nil {
		if limit := a.settings.Get().Limits.MaxToolCallsPerTurn; limit > 0 {
			return limit
		}
	}
	return defaultMaxToolCalls
}
