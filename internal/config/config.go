// Package config loads the kernel configuration from a JSON5 file and
// overlays environment variables. Runtime-mutable switches (security,
// limits, tool permissions) live in the settings package; config covers
// everything fixed at process start.
package config

import (
	"os"
	"strings"
	"sync"
)

// Config is the root configuration for the agentd kernel.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Webhook   WebhookConfig   `json:"webhook"`
	Channels  ChannelsConfig  `json:"channels"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Security  SecurityConfig  `json:"security"`
	Limits    LimitsConfig    `json:"limits"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
	Browser   BrowserConfig   `json:"browser,omitempty"`

	// MCPServers declares external MCP tool servers; discovered tools are
	// registered as mcp_<server>_<tool>.
	MCPServers map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`

	mu sync.RWMutex
}

// AgentConfig identifies the agent and its default turn parameters.
type AgentConfig struct {
	Name          string `json:"name"`
	Workspace     string `json:"workspace"`
	Provider      string `json:"provider"` // default provider name
	Model         string `json:"model"`    // empty = provider default
	MaxToolCalls  int    `json:"max_tool_calls"`
	AutonomyLevel string `json:"autonomy_level"` // low | medium | high
}

// ProvidersConfig holds per-provider credentials and the model tier table.
type ProvidersConfig struct {
	Anthropic ProviderConfig  `json:"anthropic"`
	OpenAI    ProviderConfig  `json:"openai"`
	Compat    CompatConfig    `json:"compat,omitempty"` // any OpenAI-compatible endpoint
	Local     LocalConfig     `json:"local,omitempty"`  // offline runtime (Ollama-style)
	Tiers     ModelTierConfig `json:"tiers"`
}

// ProviderConfig is one hosted LLM vendor.
type ProviderConfig struct {
	APIKey string `json:"-"` // env only, never persisted
	Model  string `json:"model,omitempty"`
}

// CompatConfig is an OpenAI-compatible endpoint (OpenRouter, Groq, ...).
type CompatConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"-"`
	Model   string `json:"model,omitempty"`
}

// LocalConfig is the zero-cost offline runtime used by the local tier.
type LocalConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default http://localhost:11434/v1
	Model   string `json:"model,omitempty"`
}

// ModelTierConfig maps abstract tiers to concrete routes. Prices are USD
// per million tokens.
type ModelTierConfig struct {
	Fast      TierRoute `json:"fast"`
	Balanced  TierRoute `json:"balanced"`
	Reasoning TierRoute `json:"reasoning"`
	Local     TierRoute `json:"local"`
}

// TierRoute binds a tier to a provider+model with price coefficients.
type TierRoute struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	InputPrice  float64 `json:"input_price"`  // $/MTok
	OutputPrice float64 `json:"output_price"` // $/MTok
}

// GatewayConfig configures the HTTP control plane.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WebhookConfig configures the separate webhook trigger listener.
type WebhookConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ChannelsConfig holds chat channel credentials and access filters.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`

	// AllowedUserIDs restricts who may talk to the agent on any channel.
	// Empty = everyone.
	AllowedUserIDs []string `json:"allowed_user_ids,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // env TELEGRAM_BOT_TOKEN only
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled           bool     `json:"enabled"`
	Token             string   `json:"-"` // env DISCORD_BOT_TOKEN only
	AllowedChannelIDs []string `json:"allowed_channel_ids,omitempty"`
}

// HeartbeatConfig configures the periodic self-check.
type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalMinutes int    `json:"interval_minutes"`
	Channel         string `json:"channel,omitempty"` // where HEARTBEAT results go
}

// SecurityConfig seeds the runtime security switches on first run.
// After settings.json exists these are only consulted by `agentd doctor`.
type SecurityConfig struct {
	SandboxEnabled  *bool `json:"sandbox_enabled,omitempty"`
	SSRFProtection  *bool `json:"ssrf_protection,omitempty"`
	InjectionGuard  *bool `json:"injection_guard,omitempty"`
	GatewayAuth     *bool `json:"gateway_auth,omitempty"`
	AuditLog        *bool `json:"audit_log,omitempty"`
	AllowLocalhost  *bool `json:"allow_localhost,omitempty"`
}

// LimitsConfig seeds the runtime limit values on first run.
type LimitsConfig struct {
	ShellTimeoutSeconds int `json:"shell_timeout_seconds,omitempty"`
	MaxToolOutputChars  int `json:"max_tool_output_chars,omitempty"`
	RateLimitPerMinute  int `json:"rate_limit_per_minute,omitempty"`
	MaxRequestBodyBytes int `json:"max_request_body_bytes,omitempty"`
}

// DatabaseConfig enables the optional Postgres mirror for tasks,
// approvals and usage. URL from env AGENTD_POSTGRES_URL only.
type DatabaseConfig struct {
	URL string `json:"-"`
}

// TelemetryConfig configures OTLP span export. Disabled = no-op tracer.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener for the control
// plane. Requires building with -tags tsnet. Auth key from env only.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// BrowserConfig configures the browser_action tool.
type BrowserConfig struct {
	Enabled  bool `json:"enabled"`
	Headless bool `json:"headless"`
}

// MCPServerConfig declares one external MCP tool server.
type MCPServerConfig struct {
	Enabled    *bool             `json:"enabled,omitempty"` // nil = enabled
	Transport  string            `json:"transport"`         // "stdio" or "http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled reports whether the server should be connected.
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HasAnyProvider reports whether at least one LLM credential or local
// endpoint is configured.
func (c *Config) HasAnyProvider() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.Anthropic.APIKey != "" ||
		c.Providers.OpenAI.APIKey != "" ||
		c.Providers.Compat.APIKey != "" ||
		c.Providers.Local.BaseURL != ""
}

// AllowedUser reports whether a channel user may talk to the agent.
func (c *Config) AllowedUser(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Channels.AllowedUserIDs) == 0 {
		return true
	}
	for _, id := range c.Channels.AllowedUserIDs {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
