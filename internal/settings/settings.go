// Package settings holds the runtime-mutable agent settings persisted at
// <workspace>/settings.json. Unlike config, these change while the kernel
// runs; every mutation passes through the Manager so dangerous values
// require an explicit confirmation token.
package settings

// Tool categories used by the permission switches. Each registered tool
// declares one; a false switch hides the category from the LLM.
const (
	CategoryFilesystem = "filesystem"
	CategoryShell      = "shell"
	CategoryWeb        = "web"
	CategoryBrowser    = "browser"
	CategoryMemory     = "memory"
	CategoryScheduling = "scheduling"
	CategoryTasks      = "tasks"
	CategoryCosts      = "costs"
	CategoryTriggers   = "triggers"
	CategoryEmail      = "email"
	CategorySocial     = "social"
	CategoryMCP        = "mcp"
	CategorySystem     = "system"
)

// Settings is the full runtime-mutable state.
type Settings struct {
	AgentName       string          `json:"agent_name"`
	AutonomyLevel   string          `json:"autonomy_level"` // low | medium | high
	Security        Security        `json:"security"`
	Limits          Limits          `json:"limits"`
	ToolPermissions map[string]bool `json:"tool_permissions"`
	Domains         Domains         `json:"domains"`
	Integrations    Integrations    `json:"integrations"`
}

// Security switches. All default on; turning any of them off is a
// dangerous change requiring confirmation.
type Security struct {
	SandboxEnabled bool `json:"sandbox_enabled"`
	SSRFProtection bool `json:"ssrf_protection"`
	InjectionGuard bool `json:"injection_guard"`
	GatewayAuth    bool `json:"gateway_auth"`
	AuditLog       bool `json:"audit_log"`
	AllowLocalhost bool `json:"allow_localhost"`
}

// Limits bound tool and gateway resource usage.
type Limits struct {
	ShellTimeoutSeconds int   `json:"shell_timeout_seconds"`
	MaxToolOutputChars  int   `json:"max_tool_output_chars"`
	RateLimitPerMinute  int   `json:"rate_limit_per_minute"`
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes"`
	MaxToolCallsPerTurn int   `json:"max_tool_calls_per_turn"`
}

// Domains filters web_fetch destinations. An empty allowlist permits any
// domain not on the blocklist; a non-empty allowlist permits only those.
type Domains struct {
	Allowlist []string `json:"allowlist,omitempty"`
	Blocklist []string `json:"blocklist,omitempty"`
}

// Integrations holds external service credentials. Presence of the
// credential is the second gate for integration tools.
type Integrations struct {
	GitHub   GitHubIntegration   `json:"github"`
	Mastodon MastodonIntegration `json:"mastodon"`
	Reddit   RedditIntegration   `json:"reddit"`
	Email    EmailIntegration    `json:"email"`
}

type GitHubIntegration struct {
	Token string `json:"token,omitempty"`
}

type MastodonIntegration struct {
	InstanceURL string `json:"instance_url,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

type RedditIntegration struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
}

type EmailIntegration struct {
	IMAPHost     string `json:"imap_host,omitempty"`
	IMAPPort     int    `json:"imap_port,omitempty"`
	SMTPHost     string `json:"smtp_host,omitempty"`
	SMTPPort     int    `json:"smtp_port,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	FromAddress  string `json:"from_address,omitempty"`
	WatchFolder  string `json:"watch_folder,omitempty"`
}

// Default returns the settings written on first run.
func Default() Settings {
	return Settings{
		AgentName:     "agentd",
		AutonomyLevel: "medium",
		Security: Security{
			SandboxEnabled: true,
			SSRFProtection: true,
			InjectionGuard: true,
			GatewayAuth:    true,
			AuditLog:       true,
			AllowLocalhost: false,
		},
		Limits: Limits{
			ShellTimeoutSeconds: 60,
			MaxToolOutputChars:  10000,
			RateLimitPerMinute:  20,
			MaxRequestBodyBytes: 1 << 20,
			MaxToolCallsPerTurn: 20,
		},
		ToolPermissions: map[string]bool{
			CategoryFilesystem: true,
			CategoryShell:      true,
			CategoryWeb:        true,
			CategoryBrowser:    true,
			CategoryMemory:     true,
			CategoryScheduling: true,
			CategoryTasks:      true,
			CategoryCosts:      true,
			CategoryTriggers:   true,
			CategoryEmail:      true,
			CategorySocial:     true,
			CategoryMCP:        true,
			CategorySystem:     false,
		},
	}
}

// CategoryAllowed reports whether a tool category is enabled. Categories
// missing from the map default to enabled, except system which stays
// opt-in.
func (s Settings) CategoryAllowed(category string) bool {
	if v, ok := s.ToolPermissions[category]; ok {
		return v
	}
	return category != CategorySystem
}
