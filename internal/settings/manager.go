package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/guard"
)

// Confirmation describes a dangerous change that was withheld from a
// patch. The caller repeats the patch with the token to apply it.
type Confirmation struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
	Token  string `json:"token"`
}

// dangerousSetting pairs a dotted settings key with its forbidden value.
type dangerousSetting struct {
	key    string
	value  interface{}
	reason string
}

var dangerousTable = []dangerousSetting{
	{"security.sandbox_enabled", false, "disables the filesystem jail"},
	{"security.ssrf_protection", false, "allows requests to internal networks"},
	{"security.injection_guard", false, "disables untrusted-content framing"},
	{"security.gateway_auth", false, "exposes the control plane without authentication"},
	{"security.audit_log", false, "stops security audit logging"},
	{"security.allow_localhost", true, "permits requests to localhost services"},
	{"autonomy_level", "high", "agent acts without asking for approval"},
}

// Manager owns settings.json: loads at startup, serves reads, and guards
// mutations.
type Manager struct {
	path   string
	secret string // gateway token, keys confirmation HMACs

	mu sync.RWMutex
	s  Settings
}

// NewManager loads settings from path, writing defaults when the file is
// missing. An unreadable or corrupt file is replaced with defaults rather
// than blocking startup; the old content is lost but logged.
func NewManager(path, secret string) (*Manager, error) {
	m := &Manager{path: path, secret: secret, s: Default()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &m.s); jsonErr != nil {
			slog.Warn("settings.corrupt_rewriting_defaults", "path", path, "error", jsonErr)
			m.s = Default()
			if err := m.persist(); err != nil {
				return nil, err
			}
		}
	case os.IsNotExist(err):
		if err := m.persist(); err != nil {
			return nil, err
		}
	default:
		slog.Warn("settings.unreadable_rewriting_defaults", "path", path, "error", err)
		if err := m.persist(); err != nil {
			return nil, err
		}
	}

	m.normalize()
	return m, nil
}

// Seed overlays boot-config values onto freshly written defaults,
// skipping the confirmation gate. Callers must only use it on first run
// (settings.json absent before NewManager); afterwards every change
// goes through Update.
func (m *Manager) Seed(patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := toMap(m.s)
	if err != nil {
		return err
	}
	merged := deepMerge(current, patch)

	var next Settings
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("invalid settings seed: %w", err)
	}
	if err := validate(&next); err != nil {
		return err
	}

	m.s = next
	m.normalize()
	return m.persist()
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyLocked()
}

func (m *Manager) copyLocked() Settings {
	cp := m.s
	cp.ToolPermissions = make(map[string]bool, len(m.s.ToolPermissions))
	for k, v := range m.s.ToolPermissions {
		cp.ToolPermissions[k] = v
	}
	cp.Domains.Allowlist = append([]string(nil), m.s.Domains.Allowlist...)
	cp.Domains.Blocklist = append([]string(nil), m.s.Domains.Blocklist...)
	return cp
}

// Update deep-merges patch into the current settings. Dangerous values
// without a valid confirmation token are withheld: the safe subset still
// applies and the withheld changes come back as required Confirmations,
// tokens included, so a deliberate second request can apply them.
func (m *Manager) Update(patch map[string]interface{}, confirmations map[string]string) (Settings, []Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := toMap(m.s)
	if err != nil {
		return Settings{}, nil, err
	}
	merged := deepMerge(current, patch)

	now := time.Now()
	var required []Confirmation
	for _, d := range dangerousTable {
		newVal, ok := lookupPath(merged, d.key)
		if !ok || !valueEqual(newVal, d.value) {
			continue
		}
		oldVal, _ := lookupPath(current, d.key)
		if valueEqual(oldVal, d.value) {
			continue // already set, nothing to confirm
		}
		valStr := fmt.Sprint(d.value)
		if guard.ValidateConfirmation(m.secret, d.key, valStr, confirmations[d.key], now) {
			continue
		}
		required = append(required, Confirmation{
			Key:    d.key,
			Value:  valStr,
			Reason: d.reason,
			Token:  guard.ConfirmationToken(m.secret, d.key, valStr, now),
		})
		setPath(merged, d.key, oldVal)
	}

	var next Settings
	data, err := json.Marshal(merged)
	if err != nil {
		return Settings{}, nil, err
	}
	if err := json.Unmarshal(data, &next); err != nil {
		return Settings{}, nil, fmt.Errorf("invalid settings patch: %w", err)
	}
	if err := validate(&next); err != nil {
		return Settings{}, nil, err
	}

	m.s = next
	m.normalize()
	if err := m.persist(); err != nil {
		return Settings{}, nil, err
	}
	if len(required) > 0 {
		slog.Info("settings.confirmation_required", "count", len(required))
	}
	return m.copyLocked(), required, nil
}

func validate(s *Settings) error {
	switch s.AutonomyLevel {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid autonomy_level %q", s.AutonomyLevel)
	}
	if s.Limits.ShellTimeoutSeconds < 1 {
		return fmt.Errorf("shell_timeout_seconds must be positive")
	}
	if s.Limits.ShellTimeoutSeconds > 120 {
		s.Limits.ShellTimeoutSeconds = 120
	}
	if s.Limits.MaxToolOutputChars < 100 {
		return fmt.Errorf("max_tool_output_chars too small")
	}
	if s.Limits.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if s.Limits.MaxRequestBodyBytes < 1024 {
		return fmt.Errorf("max_request_body_bytes too small")
	}
	if s.Limits.MaxToolCallsPerTurn < 1 {
		return fmt.Errorf("max_tool_calls_per_turn must be positive")
	}
	return nil
}

// normalize fills gaps left by partial files. Caller holds m.mu.
func (m *Manager) normalize() {
	if m.s.AgentName == "" {
		m.s.AgentName = "agentd"
	}
	if m.s.AutonomyLevel == "" {
		m.s.AutonomyLevel = "medium"
	}
	if m.s.ToolPermissions == nil {
		m.s.ToolPermissions = Default().ToolPermissions
	}
	d := Default().Limits
	if m.s.Limits.ShellTimeoutSeconds == 0 {
		m.s.Limits.ShellTimeoutSeconds = d.ShellTimeoutSeconds
	}
	if m.s.Limits.MaxToolOutputChars == 0 {
		m.s.Limits.MaxToolOutputChars = d.MaxToolOutputChars
	}
	if m.s.Limits.RateLimitPerMinute == 0 {
		m.s.Limits.RateLimitPerMinute = d.RateLimitPerMinute
	}
	if m.s.Limits.MaxRequestBodyBytes == 0 {
		m.s.Limits.MaxRequestBodyBytes = d.MaxRequestBodyBytes
	}
	if m.s.Limits.MaxToolCallsPerTurn == 0 {
		m.s.Limits.MaxToolCallsPerTurn = d.MaxToolCallsPerTurn
	}
}

// persist writes settings.json atomically. Caller holds m.mu.
func (m *Manager) persist() error {
	data, err := json.MarshalIndent(m.s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}

// toMap round-trips a Settings value into a generic map for merging.
func toMap(s Settings) (map[string]interface{}, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMerge overlays patch onto base. Nested maps merge recursively;
// everything else (including arrays) replaces wholesale.
func deepMerge(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		if pm, ok := pv.(map[string]interface{}); ok {
			if bm, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(bm, pm)
				continue
			}
		}
		out[k] = pv
	}
	return out
}

func lookupPath(m map[string]interface{}, dotted string) (interface{}, bool) {
	parts := strings.Split(dotted, ".")
	cur := interface{}(m)
	for _, p := range parts {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = mm[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]interface{}, dotted string, v interface{}) {
	parts := strings.Split(dotted, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// valueEqual compares JSON-decoded values loosely: bools to bools,
// strings to strings.
func valueEqual(a, b interface{}) bool {
	switch bv := b.(type) {
	case bool:
		av, ok := a.(bool)
		return ok && av == bv
	case string:
		av, ok := a.(string)
		return ok && av == bv
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}
