// Package protocol defines the wire names shared by the kernel's WebSocket
// event stream and its clients (admin panel, agentd chat).
package protocol

// WebSocket event names pushed from server to client.
const (
	EventConnected       = "connected"
	EventMessageReceived = "message_received"
	EventMessageSent     = "message_sent"
	EventToolCalled      = "tool_called"
	EventToolResult      = "tool_result"
	EventTaskCreated     = "task.created"
	EventTaskUpdated     = "task.updated"
	EventApprovalReq     = "approval.requested"
	EventApprovalRes     = "approval.resolved"
	EventTriggerFired    = "trigger.fired"
	EventHeartbeat       = "heartbeat"
	EventPlanStarted     = "plan.started"
	EventPlanCompleted   = "plan.completed"
	EventSubagent        = "subagent"
	EventCostUpdated     = "cost.updated"
	EventShutdown        = "shutdown"
)

// Client → server message types accepted on /ws.
const (
	ClientPing   = "ping"
	ClientStatus = "status"
	ClientChat   = "chat"
)

// Server replies to client requests.
const (
	EventPong   = "pong"
	EventStatus = "status"
	EventChat   = "chat"
)

// ProtocolVersion increments on breaking changes to the event stream.
const ProtocolVersion = 1
