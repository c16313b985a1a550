package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

const (
	// DefaultGatewayPort is where the control plane listens.
	DefaultGatewayPort = 18789
	// DefaultWebhookPort is where webhook triggers listen.
	DefaultWebhookPort = 18790
	// FileName is the kernel config file inside the workspace.
	FileName = "agentd.json"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:          "agentd",
			Workspace:     "~/.agentd/workspace",
			Provider:      "anthropic",
			MaxToolCalls:  20,
			AutonomyLevel: "medium",
		},
		Providers: ProvidersConfig{
			Local: LocalConfig{
				BaseURL: "http://localhost:11434/v1",
			},
			Tiers: ModelTierConfig{
				Fast:      TierRoute{Provider: "anthropic", Model: "claude-3-5-haiku-latest", InputPrice: 0.80, OutputPrice: 4.00},
				Balanced:  TierRoute{Provider: "anthropic", Model: "claude-sonnet-4-5", InputPrice: 3.00, OutputPrice: 15.00},
				Reasoning: TierRoute{Provider: "anthropic", Model: "claude-opus-4-1", InputPrice: 15.00, OutputPrice: 75.00},
				Local:     TierRoute{Provider: "local", Model: "qwen2.5:7b"},
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: DefaultGatewayPort,
		},
		Webhook: WebhookConfig{
			Host: "127.0.0.1",
			Port: DefaultWebhookPort,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
		},
		Browser: BrowserConfig{
			Enabled:  true,
			Headless: true,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Agent.Workspace = ExpandHome(cfg.Agent.Workspace)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns the config file path: explicit flag, env var, or
// the default location inside the workspace.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return ExpandHome(flagPath)
	}
	if env := os.Getenv("AGENTD_CONFIG"); env != "" {
		return ExpandHome(env)
	}
	ws := os.Getenv("AGENT_WORKSPACE")
	if ws == "" {
		ws = "~/.agentd/workspace"
	}
	return filepath.Join(ExpandHome(ws), FileName)
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			var out []string
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if len(out) > 0 {
				*dst = out
			}
		}
	}

	envStr("AGENT_NAME", &c.Agent.Name)
	envStr("AGENT_WORKSPACE", &c.Agent.Workspace)
	envStr("LLM_PROVIDER", &c.Agent.Provider)
	envStr("LLM_MODEL", &c.Agent.Model)
	envInt("AGENT_MAX_TOOL_CALLS", &c.Agent.MaxToolCalls)
	envStr("AGENT_AUTONOMY_LEVEL", &c.Agent.AutonomyLevel)

	envStr("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ANTHROPIC_MODEL", &c.Providers.Anthropic.Model)
	envStr("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OPENAI_MODEL", &c.Providers.OpenAI.Model)
	envStr("COMPAT_BASE_URL", &c.Providers.Compat.BaseURL)
	envStr("COMPAT_API_KEY", &c.Providers.Compat.APIKey)
	envStr("COMPAT_MODEL", &c.Providers.Compat.Model)
	envStr("LOCAL_BASE_URL", &c.Providers.Local.BaseURL)
	envStr("LOCAL_MODEL", &c.Providers.Local.Model)

	envStr("GATEWAY_HOST", &c.Gateway.Host)
	envInt("GATEWAY_PORT", &c.Gateway.Port)
	envInt("WEBHOOK_PORT", &c.Webhook.Port)

	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	envList("DISCORD_ALLOWED_CHANNEL_IDS", &c.Channels.Discord.AllowedChannelIDs)
	envList("ALLOWED_USER_IDS", &c.Channels.AllowedUserIDs)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envBool("HEARTBEAT_ENABLED", &c.Heartbeat.Enabled)
	envInt("HEARTBEAT_INTERVAL", &c.Heartbeat.IntervalMinutes)
	envStr("HEARTBEAT_CHANNEL", &c.Heartbeat.Channel)

	envStr("AGENTD_POSTGRES_URL", &c.Database.URL)

	envBool("OTEL_ENABLED", &c.Telemetry.Enabled)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("OTEL_EXPORTER_OTLP_PROTOCOL", &c.Telemetry.Protocol)
	envStr("OTEL_SERVICE_NAME", &c.Telemetry.ServiceName)

	envStr("TS_HOSTNAME", &c.Tailscale.Hostname)
	envStr("TS_AUTHKEY", &c.Tailscale.AuthKey)
	envStr("TS_STATE_DIR", &c.Tailscale.StateDir)
}

func (c *Config) validate() error {
	switch c.Agent.AutonomyLevel {
	case "low", "medium", "high":
	case "":
		c.Agent.AutonomyLevel = "medium"
	default:
		return fmt.Errorf("invalid autonomy_level %q (want low, medium or high)", c.Agent.AutonomyLevel)
	}
	if c.Agent.MaxToolCalls <= 0 {
		c.Agent.MaxToolCalls = 20
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("invalid webhook port %d", c.Webhook.Port)
	}
	if c.Heartbeat.IntervalMinutes <= 0 {
		c.Heartbeat.IntervalMinutes = 30
	}
	return nil
}

// Save writes the config to disk. Secret fields carry `json:"-"` tags so
// they never persist; credentials live in the environment.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// TierFor returns the route for a tier name, falling back to balanced.
func (c *Config) TierFor(tier string) TierRoute {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch tier {
	case "fast":
		return c.Providers.Tiers.Fast
	case "reasoning":
		return c.Providers.Tiers.Reasoning
	case "local":
		return c.Providers.Tiers.Local
	default:
		return c.Providers.Tiers.Balanced
	}
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with all secret fields masked.
// Used by the status endpoint to avoid exposing secrets to clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{
		Agent:      c.Agent,
		Providers:  c.Providers,
		Gateway:    c.Gateway,
		Webhook:    c.Webhook,
		Channels:   c.Channels,
		Heartbeat:  c.Heartbeat,
		Security:   c.Security,
		Limits:     c.Limits,
		Database:   c.Database,
		Telemetry:  c.Telemetry,
		Tailscale:  c.Tailscale,
		Browser:    c.Browser,
		MCPServers: c.MCPServers,
	}
	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Providers.Compat.APIKey)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Database.URL)
	maskNonEmpty(&cp.Tailscale.AuthKey)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
