package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsSendBuffer = 64
	wsReadLimit  = 64 << 10
)

// Client is one WebSocket connection receiving the sanitized event
// stream.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan protocol.ServerMessage
	done   chan struct{}
	server *Server

	closeOnce sync.Once
}

// handleWebSocket authenticates, upgrades, and runs the connection
// until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Settings.Get()
	if st.Security.GatewayAuth && !guard.VerifyToken(extractToken(r), s.opts.Token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway.ws_upgrade_failed", "error", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan protocol.ServerMessage, wsSendBuffer),
		done:   make(chan struct{}),
		server: s,
	}
	s.registerClient(client)
	defer s.unregisterClient(client)

	client.enqueue(protocol.ServerMessage{
		Type: protocol.EventConnected,
		Payload: protocol.ConnectedPayload{
			Agent:    st.AgentName,
			Version:  s.opts.Version,
			Protocol: protocol.ProtocolVersion,
		},
	})

	go client.writePump()
	client.readPump(r.Context())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Bus handlers run on the broadcaster's goroutine; enqueue never
	// blocks, it drops when the client cannot keep up.
	s.opts.Events.Subscribe("ws-"+c.id, func(ev bus.Event) {
		name, payload, ok := sanitizeEvent(ev)
		if !ok {
			return
		}
		c.enqueue(protocol.ServerMessage{Type: name, Payload: payload})
	})

	slog.Info("gateway.client_connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.opts.Events.Unsubscribe("ws-" + c.id)
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
	slog.Info("gateway.client_disconnected", "id", c.id)
}

// enqueue never blocks: slow clients drop frames rather than stall the
// event broadcaster.
func (c *Client) enqueue(msg protocol.ServerMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		slog.Debug("gateway.client_slow", "id", c.id, "dropped", msg.Type)
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes client messages until the connection drops.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg protocol.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway.ws_read_failed", "id", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case protocol.ClientPing:
			c.enqueue(protocol.ServerMessage{Type: protocol.EventPong})
		case protocol.ClientStatus:
			c.enqueue(protocol.ServerMessage{Type: protocol.EventStatus, Payload: c.server.statusPayload()})
		case protocol.ClientChat:
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			sender := msg.UserID
			if sender == "" {
				sender = "admin"
			}
			c.server.opts.Router.PublishInbound(bus.InboundMessage{
				Channel:  "gateway",
				SenderID: sender,
				ChatID:   c.id,
				Content:  content,
			})
		default:
			slog.Debug("gateway.ws_unknown_type", "id", c.id, "type", msg.Type)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ChatChannel exposes the WebSocket clients as an outbound chat surface
// named "gateway", so replies to WS-originated messages flow through
// the same dispatch loop as any chat channel.
type ChatChannel struct {
	server *Server
}

// ChatChannel returns the adapter to register with the channel manager.
func (s *Server) ChatChannel() *ChatChannel {
	return &ChatChannel{server: s}
}

func (c *ChatChannel) Name() string { return "gateway" }

// Start is a no-op; the HTTP server owns the connection lifecycle.
func (c *ChatChannel) Start(context.Context) error { return nil }

func (c *ChatChannel) Stop(context.Context) error { return nil }

// Send routes a reply to the originating client, or to every client
// when no ChatID is set.
func (c *ChatChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	frame := protocol.ServerMessage{
		Type:    protocol.EventChat,
		Payload: protocol.ChatPayload{Content: msg.Content},
	}

	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if msg.ChatID == "" {
		for _, cl := range c.server.clients {
			cl.enqueue(frame)
		}
		return nil
	}
	cl, ok := c.server.clients[msg.ChatID]
	if !ok {
		return fmt.Errorf("no connected client %s", msg.ChatID)
	}
	cl.enqueue(frame)
	return nil
}
