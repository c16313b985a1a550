package protocol

// ClientMessage is a request sent by a WebSocket client.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// ServerMessage is a typed frame pushed to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ConnectedPayload is sent once after a successful upgrade.
type ConnectedPayload struct {
	Agent    string `json:"agent"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
}

// StatusPayload answers a client status request.
type StatusPayload struct {
	Agent         string  `json:"agent"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Skills        int     `json:"skills"`
	MemoryEntries int     `json:"memory_entries"`
}

// ChatPayload carries an agent reply to a WebSocket chat client.
type ChatPayload struct {
	Content string `json:"content"`
}
