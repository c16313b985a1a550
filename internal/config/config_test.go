package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Errorf("gateway port = %d, want %d", cfg.Gateway.Port, DefaultGatewayPort)
	}
	if cfg.Webhook.Port != DefaultWebhookPort {
		t.Errorf("webhook port = %d, want %d", cfg.Webhook.Port, DefaultWebhookPort)
	}
	if cfg.Agent.AutonomyLevel != "medium" {
		t.Errorf("autonomy = %q, want medium", cfg.Agent.AutonomyLevel)
	}
	if cfg.Agent.MaxToolCalls != 20 {
		t.Errorf("max tool calls = %d, want 20", cfg.Agent.MaxToolCalls)
	}
	if cfg.Heartbeat.IntervalMinutes != 30 {
		t.Errorf("heartbeat interval = %d, want 30", cfg.Heartbeat.IntervalMinutes)
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentd.json")
	// JSON5: trailing commas and comments allowed.
	body := `{
		// local overrides
		agent: { name: "filebot", max_tool_calls: 7, },
		gateway: { port: 19000 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENT_NAME", "envbot")
	t.Setenv("GATEWAY_PORT", "19500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Name != "envbot" {
		t.Errorf("name = %q, want env override envbot", cfg.Agent.Name)
	}
	if cfg.Gateway.Port != 19500 {
		t.Errorf("port = %d, want env override 19500", cfg.Gateway.Port)
	}
	if cfg.Agent.MaxToolCalls != 7 {
		t.Errorf("max tool calls = %d, want file value 7", cfg.Agent.MaxToolCalls)
	}
}

func TestLoad_EnvChannelAutoEnable(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DISCORD_ALLOWED_CHANNEL_IDS", "111, 222 ,333")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram should auto-enable when token is set")
	}
	want := []string{"111", "222", "333"}
	got := cfg.Channels.Discord.AllowedChannelIDs
	if len(got) != len(want) {
		t.Fatalf("allowed channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allowed[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoad_InvalidAutonomy(t *testing.T) {
	t.Setenv("AGENT_AUTONOMY_LEVEL", "yolo")
	if _, err := Load(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for invalid autonomy level")
	}
}

func TestAllowedUser(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		user    string
		want    bool
	}{
		{"empty list allows everyone", nil, "42", true},
		{"listed user", []string{"42", "99"}, "42", true},
		{"unlisted user", []string{"42"}, "7", false},
		{"whitespace tolerated", []string{" 42 "}, "42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Channels.AllowedUserIDs = tt.allowed
			if got := cfg.AllowedUser(tt.user); got != tt.want {
				t.Errorf("AllowedUser(%q) = %v, want %v", tt.user, got, tt.want)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	cfg := Default()
	tests := []struct {
		tier         string
		wantProvider string
	}{
		{"fast", "anthropic"},
		{"balanced", "anthropic"},
		{"reasoning", "anthropic"},
		{"local", "local"},
		{"unknown", "anthropic"}, // falls back to balanced
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			if got := cfg.TierFor(tt.tier); got.Provider != tt.wantProvider {
				t.Errorf("TierFor(%q).Provider = %q, want %q", tt.tier, got.Provider, tt.wantProvider)
			}
		})
	}
	if cfg.TierFor("unknown").Model != cfg.Providers.Tiers.Balanced.Model {
		t.Error("unknown tier should fall back to balanced")
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-ant-secret"
	cfg.Channels.Telegram.Token = "123:abc"

	cp := cfg.MaskedCopy()
	if cp.Providers.Anthropic.APIKey != secretMask {
		t.Errorf("anthropic key = %q, want masked", cp.Providers.Anthropic.APIKey)
	}
	if cp.Channels.Telegram.Token != secretMask {
		t.Errorf("telegram token = %q, want masked", cp.Channels.Telegram.Token)
	}
	if cp.Providers.OpenAI.APIKey != "" {
		t.Errorf("empty key should stay empty, got %q", cp.Providers.OpenAI.APIKey)
	}
	// Original untouched.
	if cfg.Providers.Anthropic.APIKey != "sk-ant-secret" {
		t.Error("MaskedCopy mutated original")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"~/x", home + "/x"},
		{"~", home},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
