package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "settings.json"), testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManager_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	m, err := NewManager(path, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings.json not written: %v", err)
	}
	s := m.Get()
	if !s.Security.SandboxEnabled || !s.Security.SSRFProtection {
		t.Error("security switches should default on")
	}
	if s.Security.AllowLocalhost {
		t.Error("allow_localhost should default off")
	}
	if s.AutonomyLevel != "medium" {
		t.Errorf("autonomy = %q, want medium", s.AutonomyLevel)
	}
}

func TestNewManager_CorruptFileRewritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte("{{{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if m.Get().AutonomyLevel != "medium" {
		t.Error("corrupt file should be replaced with defaults")
	}

	data, _ := os.ReadFile(path)
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		t.Errorf("rewritten file is not valid JSON: %v", err)
	}
}

func TestUpdate_SafePatchApplies(t *testing.T) {
	m := newTestManager(t)

	got, required, err := m.Update(map[string]interface{}{
		"agent_name": "jarvis",
		"limits":     map[string]interface{}{"shell_timeout_seconds": 30},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(required) != 0 {
		t.Fatalf("unexpected confirmations: %+v", required)
	}
	if got.AgentName != "jarvis" {
		t.Errorf("agent_name = %q", got.AgentName)
	}
	if got.Limits.ShellTimeoutSeconds != 30 {
		t.Errorf("shell timeout = %d", got.Limits.ShellTimeoutSeconds)
	}
	// Untouched fields survive the merge.
	if got.Limits.MaxToolOutputChars != Default().Limits.MaxToolOutputChars {
		t.Error("unrelated limit changed")
	}
}

func TestUpdate_DangerousWithoutToken(t *testing.T) {
	m := newTestManager(t)

	got, required, err := m.Update(map[string]interface{}{
		"agent_name": "safe-part",
		"security":   map[string]interface{}{"ssrf_protection": false},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(required) != 1 {
		t.Fatalf("got %d confirmations, want 1", len(required))
	}
	c := required[0]
	if c.Key != "security.ssrf_protection" || c.Value != "false" || c.Token == "" {
		t.Errorf("confirmation = %+v", c)
	}
	// Safe subset applied, dangerous part withheld.
	if got.AgentName != "safe-part" {
		t.Error("safe part of patch not applied")
	}
	if !got.Security.SSRFProtection || !m.Get().Security.SSRFProtection {
		t.Error("dangerous change applied without confirmation")
	}
}

func TestUpdate_DangerousWithToken(t *testing.T) {
	m := newTestManager(t)

	// First request returns the token.
	_, required, err := m.Update(map[string]interface{}{
		"security": map[string]interface{}{"ssrf_protection": false},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(required) != 1 {
		t.Fatalf("got %d confirmations", len(required))
	}

	// Second request repeats the patch with the token.
	got, required2, err := m.Update(map[string]interface{}{
		"security": map[string]interface{}{"ssrf_protection": false},
	}, map[string]string{required[0].Key: required[0].Token})
	if err != nil {
		t.Fatal(err)
	}
	if len(required2) != 0 {
		t.Fatalf("still requiring confirmations: %+v", required2)
	}
	if got.Security.SSRFProtection {
		t.Error("confirmed change not applied")
	}
}

func TestUpdate_AutonomyHighNeedsConfirmation(t *testing.T) {
	m := newTestManager(t)

	_, required, err := m.Update(map[string]interface{}{"autonomy_level": "high"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(required) != 1 || required[0].Key != "autonomy_level" {
		t.Fatalf("required = %+v", required)
	}
	if m.Get().AutonomyLevel != "medium" {
		t.Error("autonomy raised without confirmation")
	}

	// Lowering autonomy needs no confirmation.
	got, required, err := m.Update(map[string]interface{}{"autonomy_level": "low"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(required) != 0 || got.AutonomyLevel != "low" {
		t.Errorf("lowering autonomy: required=%v level=%q", required, got.AutonomyLevel)
	}
}

func TestUpdate_AlreadyDangerousValueNoConfirmation(t *testing.T) {
	m := newTestManager(t)

	_, required, _ := m.Update(map[string]interface{}{
		"security": map[string]interface{}{"allow_localhost": true},
	}, nil)
	if len(required) != 1 {
		t.Fatalf("first set should require confirmation")
	}
	if _, req2, _ := m.Update(map[string]interface{}{
		"security": map[string]interface{}{"allow_localhost": true},
	}, map[string]string{required[0].Key: required[0].Token}); len(req2) != 0 {
		t.Fatalf("confirmed set failed: %+v", req2)
	}

	// Re-sending the same dangerous value is a no-op, not a re-confirmation.
	_, req3, err := m.Update(map[string]interface{}{
		"security": map[string]interface{}{"allow_localhost": true},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(req3) != 0 {
		t.Errorf("unchanged dangerous value should not require confirmation: %+v", req3)
	}
}

func TestUpdate_InvalidValuesRejected(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		name  string
		patch map[string]interface{}
	}{
		{"bad autonomy", map[string]interface{}{"autonomy_level": "max"}},
		{"zero rate limit", map[string]interface{}{"limits": map[string]interface{}{"rate_limit_per_minute": -1}}},
		{"tiny output cap", map[string]interface{}{"limits": map[string]interface{}{"max_tool_output_chars": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := m.Update(tt.patch, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUpdate_ShellTimeoutCapped(t *testing.T) {
	m := newTestManager(t)
	got, _, err := m.Update(map[string]interface{}{
		"limits": map[string]interface{}{"shell_timeout_seconds": 600},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Limits.ShellTimeoutSeconds != 120 {
		t.Errorf("shell timeout = %d, want capped at 120", got.Limits.ShellTimeoutSeconds)
	}
}

func TestUpdate_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	m1, err := NewManager(path, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m1.Update(map[string]interface{}{"agent_name": "persisted"}, nil); err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(path, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Get().AgentName != "persisted" {
		t.Errorf("agent_name = %q after reload", m2.Get().AgentName)
	}
}

func TestCategoryAllowed(t *testing.T) {
	s := Default()
	tests := []struct {
		category string
		want     bool
	}{
		{CategoryShell, true},
		{CategorySystem, false},
		{"unknown-category", true},
	}
	for _, tt := range tests {
		if got := s.CategoryAllowed(tt.category); got != tt.want {
			t.Errorf("CategoryAllowed(%q) = %v, want %v", tt.category, got, tt.want)
		}
	}

	s.ToolPermissions[CategoryShell] = false
	if s.CategoryAllowed(CategoryShell) {
		t.Error("disabled category should not be allowed")
	}
}

func TestDeepMerge(t *testing.T) {
	base := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	patch := map[string]interface{}{
		"a": map[string]interface{}{"y": 9.0},
	}
	out := deepMerge(base, patch)

	a := out["a"].(map[string]interface{})
	if a["x"] != 1.0 || a["y"] != 9.0 {
		t.Errorf("merged a = %v", a)
	}
	if out["b"] != "keep" {
		t.Errorf("b = %v", out["b"])
	}
	// base untouched
	if base["a"].(map[string]interface{})["y"] != 2.0 {
		t.Error("deepMerge mutated base")
	}
}
