// Package mcp connects external MCP tool servers declared in config and
// registers their tools into the registry, namespaced per server. The
// registry pipeline (permission gate, truncation, audit, events)
// applies to bridged tools unchanged.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
	defaultTimeoutSec    = 60
)

// ServerStatus reports one server connection for doctor and the admin
// API.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single server connection.
type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns MCP server connections and their registry entries.
type Manager struct {
	registry *tools.Registry
	configs  map[string]*config.MCPServerConfig

	mu      sync.RWMutex
	servers map[string]*serverState
}

// NewManager creates a manager over the configured servers.
func NewManager(registry *tools.Registry, configs map[string]*config.MCPServerConfig) *Manager {
	return &Manager{
		registry: registry,
		configs:  configs,
		servers:  map[string]*serverState{},
	}
}

// Start connects every enabled server. MCP servers are optional
// capabilities, so individual failures are logged and collected rather
// than aborting startup.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.configs) == 0 {
		return nil
	}

	var errs []string
	for name, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp.server_disabled", "server", name)
			continue
		}
		if err := m.connectServer(ctx, name, cfg); err != nil {
			slog.Warn("mcp.connect_failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("mcp servers failed to connect: %s", strings.Join(errs, "; "))
	}
	return nil
}

// connectServer dials one server, discovers its tools and registers
// them.
func (m *Manager) connectServer(ctx context.Context, name string, cfg *config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio starts its process on creation; network transports need an
	// explicit start.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "agentd",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = defaultTimeoutSec
	}
	prefix := cfg.ToolPrefix
	if prefix == "" {
		prefix = "mcp_" + name
	}

	ss := &serverState{
		name:      name,
		transport: cfg.Transport,
		client:    client,
	}
	ss.connected.Store(true)

	var registered []string
	for _, remote := range listed.Tools {
		toolName := sanitizeToolName(prefix + "_" + remote.Name)
		if _, exists := m.registry.Get(toolName); exists {
			slog.Warn("mcp.tool_collision", "server", name, "tool", toolName)
			continue
		}
		m.registry.Register(tools.Definition{
			Name:        toolName,
			Description: describeTool(name, remote),
			Parameters:  schemaToMap(remote.InputSchema),
			Category:    settings.CategoryMCP,
		}, m.bridgeHandler(ss, remote.Name, timeoutSec))
		registered = append(registered, toolName)
	}
	ss.toolNames = registered

	// The health loop outlives the startup ctx; Stop cancels it.
	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.mu.Lock()
	m.servers[name] = ss
	m.mu.Unlock()

	slog.Info("mcp.server_connected",
		"server", name,
		"transport", cfg.Transport,
		"tools", len(registered),
	)
	return nil
}

// newClient builds the transport-appropriate MCP client.
func newClient(cfg *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)

	case "http", "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Stop closes every connection and removes the bridged tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = map[string]*serverState{}
}

// ToolNames returns every bridged tool name.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, ss := range m.servers {
		names = append(names, ss.toolNames...)
	}
	return names
}

// Status reports every server connection.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	return statuses
}

// healthLoop pings the server on an interval and drives reconnection.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err == nil {
				ss.markHealthy()
				continue
			}
			// Servers without a ping method are still alive.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				ss.markHealthy()
				continue
			}

			ss.connected.Store(false)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()
			slog.Warn("mcp.health_failed", "server", ss.name, "error", err)
			m.tryReconnect(ctx, ss)
		}
	}
}

// tryReconnect waits with exponential backoff, then probes again. The
// transports reconnect under the hood; a successful ping means the
// server is back.
func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAttempts >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("gave up after %d reconnect attempts", maxReconnectAttempts)
		ss.mu.Unlock()
		slog.Error("mcp.reconnect_exhausted", "server", ss.name)
		return
	}
	ss.reconnAttempts++
	attempt := ss.reconnAttempts
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	slog.Info("mcp.reconnecting", "server", ss.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := ss.client.Ping(ctx); err == nil {
		ss.markHealthy()
		slog.Info("mcp.reconnected", "server", ss.name)
	}
}

func (ss *serverState) markHealthy() {
	ss.connected.Store(true)
	ss.mu.Lock()
	ss.reconnAttempts = 0
	ss.lastErr = ""
	ss.mu.Unlock()
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}
