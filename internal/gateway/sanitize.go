package gateway

import (
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// wireName maps internal bus event names onto the public protocol.
func wireName(internal string) string {
	switch internal {
	case "message.received":
		return protocol.EventMessageReceived
	case "message.sent":
		return protocol.EventMessageSent
	case "tool.called":
		return protocol.EventToolCalled
	case "tool.result":
		return protocol.EventToolResult
	case "heartbeat.tick":
		return protocol.EventHeartbeat
	default:
		return internal
	}
}

// sanitizeEvent shapes an internal event for WebSocket consumers.
// Message bodies, tool argument values, and raw trigger payloads never
// cross this boundary; previews and key names do.
func sanitizeEvent(ev bus.Event) (string, any, bool) {
	name := wireName(ev.Name)
	payload, _ := ev.Payload.(map[string]any)

	switch name {
	case protocol.EventMessageReceived:
		return name, pick(payload, "channel", "sender_id", "preview"), true
	case protocol.EventMessageSent:
		return name, pick(payload, "channel", "chat_id"), true
	case protocol.EventToolCalled:
		// args is already a list of argument key names, never values.
		return name, pick(payload, "tool", "category", "args", "channel"), true
	case protocol.EventToolResult:
		return name, pick(payload, "tool", "preview", "is_error"), true
	case protocol.EventTriggerFired:
		// The event field may hold an untrusted webhook body.
		return name, pick(payload, "trigger_id", "trigger_name", "trigger_type", "channel"), true
	case protocol.EventHeartbeat:
		out := map[string]any{}
		if items, ok := payload["items"].([]string); ok {
			out["items"] = len(items)
		}
		if ch, ok := payload["channel"].(string); ok && ch != "" {
			out["channel"] = ch
		}
		return name, out, true
	default:
		return name, ev.Payload, true
	}
}

func pick(m map[string]any, keys ...string) map[string]any {
	out := map[string]any{}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
