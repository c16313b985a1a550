package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// triggerPayloadLimit caps the JSON payload embedded in a trigger turn.
const triggerPayloadLimit = 3000

// Engine pumps the message bus into the session loop and reacts to
// heartbeat, trigger, and task events. Every inbound message runs on its
// own goroutine: a turn blocked on an approval future must not stall the
// /approve message that resolves it.
type Engine struct {
	agent  *Agent
	router bus.MessageRouter
	events bus.EventPublisher
	tasks  *tasks.FileStore

	wg sync.WaitGroup
}

// NewEngine wires the session loop to the bus and task store.
func NewEngine(agent *Agent, router bus.MessageRouter, events bus.EventPublisher, store *tasks.FileStore) *Engine {
	return &Engine{agent: agent, router: router, events: events, tasks: store}
}

// Run consumes inbound messages until ctx is cancelled, then waits for
// in-flight turns to finish.
func (e *Engine) Run(ctx context.Context) {
	e.events.Subscribe("agent-engine", func(ev bus.Event) { e.handleEvent(ctx, ev) })
	defer e.events.Unsubscribe("agent-engine")

	slog.Info("agent.engine_started")
	for {
		msg, ok := e.router.ConsumeInbound(ctx)
		if !ok {
			break
		}
		e.wg.Add(1)
		go func(m bus.InboundMessage) {
			defer e.wg.Done()
			e.handleInbound(ctx, m)
		}(msg)
	}
	e.wg.Wait()
	slog.Info("agent.engine_stopped")
}

func (e *Engine) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	e.events.Broadcast(bus.Event{Name: "message.received", Payload: map[string]any{
		"channel":   msg.Channel,
		"sender_id": msg.SenderID,
		"preview":   preview(msg.Content, 100),
	}})

	reply, err := e.agent.HandleMessage(ctx, msg)
	if err != nil {
		slog.Error("agent.turn_failed", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
		reply = "Something went wrong handling that message. Check the logs for details."
	}
	if strings.TrimSpace(reply) == "" {
		return
	}

	e.router.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
	e.events.Broadcast(bus.Event{Name: "message.sent", Payload: map[string]any{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
	}})
}

// handleEvent runs on the broadcaster's goroutine and must not block;
// each reaction gets its own goroutine.
func (e *Engine) handleEvent(ctx context.Context, ev bus.Event) {
	switch ev.Name {
	case "heartbeat.tick":
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runHeartbeat(ctx, ev.Payload)
		}()
	case "trigger.fired":
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runTrigger(ctx, ev.Payload)
		}()
	case "task.updated":
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.announceTask(ev.Payload)
		}()
	}
}

// runHeartbeat runs a synthetic turn over the pending checklist items.
// A literal HEARTBEAT_OK reply is suppressed, as is the budget refusal
// (it would repeat every tick until the daily reset).
func (e *Engine) runHeartbeat(ctx context.Context, payload any) {
	p, _ := payload.(map[string]any)
	items, _ := p["items"].([]string)
	channel, _ := p["channel"].(string)
	if len(items) == 0 {
		return
	}

	reply, err := e.agent.HandleMessage(ctx, bus.InboundMessage{
		Channel:  "heartbeat",
		SenderID: "heartbeat",
		Content:  heartbeatPrompt(items),
	})
	if err != nil {
		slog.Warn("agent.heartbeat_failed", "error", err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == HeartbeatOK || reply == budgetExceededReply {
		return
	}
	if channel == "" {
		slog.Debug("agent.heartbeat_unrouted", "reply_len", len(reply))
		return
	}
	// Empty ChatID means the channel's owner chat.
	e.router.PublishOutbound(bus.OutboundMessage{Channel: channel, Content: reply})
}

func heartbeatPrompt(items []string) string {
	var b strings.Builder
	b.WriteString("Heartbeat check. These checklist items are pending:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it)
	}
	b.WriteString("\nReview them and take any action that is due. If nothing needs doing right now, respond with exactly HEARTBEAT_OK.")
	return b.String()
}

// runTrigger runs a synthetic turn describing the fired trigger and its
// event payload, then routes the reply to the trigger's configured
// channel when one is set.
func (e *Engine) runTrigger(ctx context.Context, payload any) {
	p, _ := payload.(map[string]any)
	name := stringField(p, "trigger_name")
	sender := stringField(p, "user_id")
	if sender == "" {
		sender = "trigger"
	}

	reply, err := e.agent.HandleMessage(ctx, bus.InboundMessage{
		Channel:  "trigger",
		SenderID: sender,
		Content:  triggerPrompt(p),
	})
	if err != nil {
		slog.Warn("agent.trigger_failed", "trigger", name, "error", err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || reply == budgetExceededReply {
		return
	}

	channel := stringField(p, "channel")
	if channel == "" {
		slog.Debug("agent.trigger_unrouted", "trigger", name)
		return
	}
	e.router.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  stringField(p, "user_id"),
		Content: reply,
	})
}

func triggerPrompt(p map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger %q (%s) fired.\n", stringField(p, "trigger_name"), stringField(p, "trigger_type"))
	if action := stringField(p, "action"); action != "" {
		fmt.Fprintf(&b, "Configured action (%s): %s\n", stringField(p, "action_kind"), action)
	}
	if event, ok := p["event"]; ok && event != nil {
		if body, err := json.Marshal(event); err == nil && len(body) > 0 && string(body) != "null" {
			text := string(body)
			if len(text) > triggerPayloadLimit {
				text = text[:triggerPayloadLimit] + "..."
			}
			fmt.Fprintf(&b, "\nEvent payload:\n%s\n", text)
		}
	}
	b.WriteString("\nHandle this trigger now.")
	return b.String()
}

// announceTask notifies the originating chat when one of its background
// tasks reaches a terminal state. Subtasks and internally sourced tasks
// stay quiet.
func (e *Engine) announceTask(payload any) {
	p, _ := payload.(map[string]any)
	if parent := stringField(p, "parent_id"); parent != "" {
		return
	}
	status := tasks.Status(stringField(p, "status"))
	if status != tasks.StatusCompleted && status != tasks.StatusFailed {
		return
	}
	id := stringField(p, "id")
	if id == "" {
		return
	}
	t, err := e.tasks.Get(id)
	if err != nil {
		return
	}
	switch t.Source.Channel {
	case "", "heartbeat", "trigger":
		return
	}

	var content string
	if t.Status == tasks.StatusFailed {
		content = fmt.Sprintf("Task %q failed: %s", t.Title, t.Error)
	} else {
		content = fmt.Sprintf("Task %q completed.\n\n%s", t.Title, t.Result)
	}
	e.router.PublishOutbound(bus.OutboundMessage{
		Channel: t.Source.Channel,
		ChatID:  t.Source.UserID,
		Content: content,
	})
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
