package gateway

import (
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

func TestWireName(t *testing.T) {
	cases := []struct {
		internal string
		want     string
	}{
		{"message.received", "message_received"},
		{"message.sent", "message_sent"},
		{"tool.called", "tool_called"},
		{"tool.result", "tool_result"},
		{"heartbeat.tick", "heartbeat"},
		{"task.updated", "task.updated"},
		{"approval.requested", "approval.requested"},
		{"subagent", "subagent"},
	}
	for _, tc := range cases {
		if got := wireName(tc.internal); got != tc.want {
			t.Errorf("wireName(%q) = %q, want %q", tc.internal, got, tc.want)
		}
	}
}

func TestSanitizeEvent(t *testing.T) {
	t.Run("tool_called keeps arg names only", func(t *testing.T) {
		name, payload, ok := sanitizeEvent(bus.Event{
			Name: "tool.called",
			Payload: map[string]any{
				"tool":     "run_shell",
				"category": "system",
				"args":     []string{"command"},
				"channel":  "telegram",
				"raw_args": map[string]any{"command": "cat /etc/passwd"},
			},
		})
		if !ok || name != "tool_called" {
			t.Fatalf("name = %q, ok = %v", name, ok)
		}
		m := payload.(map[string]any)
		if _, leaked := m["raw_args"]; leaked {
			t.Error("raw_args leaked through sanitization")
		}
		if m["tool"] != "run_shell" || m["category"] != "system" {
			t.Errorf("payload = %v", m)
		}
	})

	t.Run("message_received drops full content", func(t *testing.T) {
		_, payload, _ := sanitizeEvent(bus.Event{
			Name: "message.received",
			Payload: map[string]any{
				"channel":   "telegram",
				"sender_id": "12345",
				"preview":   "hello there",
				"content":   "hello there, here is my bank password",
			},
		})
		m := payload.(map[string]any)
		if _, leaked := m["content"]; leaked {
			t.Error("content leaked through sanitization")
		}
		if m["preview"] != "hello there" {
			t.Errorf("preview = %v", m["preview"])
		}
	})

	t.Run("trigger_fired drops webhook body", func(t *testing.T) {
		_, payload, _ := sanitizeEvent(bus.Event{
			Name: "trigger.fired",
			Payload: map[string]any{
				"trigger_id":   "tr-1",
				"trigger_name": "deploy hook",
				"trigger_type": "webhook",
				"event":        `{"untrusted":"body"}`,
			},
		})
		m := payload.(map[string]any)
		if _, leaked := m["event"]; leaked {
			t.Error("webhook body leaked through sanitization")
		}
		if m["trigger_id"] != "tr-1" {
			t.Errorf("trigger_id = %v", m["trigger_id"])
		}
	})

	t.Run("heartbeat reports item count not items", func(t *testing.T) {
		name, payload, _ := sanitizeEvent(bus.Event{
			Name: "heartbeat.tick",
			Payload: map[string]any{
				"items":   []string{"check email", "water plants"},
				"channel": "heartbeat",
			},
		})
		if name != "heartbeat" {
			t.Fatalf("name = %q", name)
		}
		want := map[string]any{"items": 2, "channel": "heartbeat"}
		if !reflect.DeepEqual(payload, want) {
			t.Errorf("payload = %v, want %v", payload, want)
		}
	})

	t.Run("unmapped events pass through", func(t *testing.T) {
		in := map[string]any{"id": "t1", "status": "completed"}
		name, payload, ok := sanitizeEvent(bus.Event{Name: "task.updated", Payload: in})
		if !ok || name != "task.updated" {
			t.Fatalf("name = %q, ok = %v", name, ok)
		}
		if !reflect.DeepEqual(payload, in) {
			t.Errorf("payload = %v, want %v", payload, in)
		}
	})

	t.Run("non-map payload on mapped event yields empty object", func(t *testing.T) {
		_, payload, _ := sanitizeEvent(bus.Event{Name: "tool.result", Payload: "oops"})
		m, isMap := payload.(map[string]any)
		if !isMap || len(m) != 0 {
			t.Errorf("payload = %v, want empty map", payload)
		}
	})
}
