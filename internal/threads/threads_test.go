package threads

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

func TestAppendAndHistory(t *testing.T) {
	m := NewManager(t.TempDir())
	th := m.GetOrCreate("telegram", "u1")

	m.Append(th.Key, providers.Message{Role: "user", Content: "hello"})
	m.Append(th.Key, providers.Message{Role: "assistant", Content: "hi there"})

	hist := m.History(th.Key)
	if len(hist) != 2 {
		t.Fatalf("history = %d turns, want 2", len(hist))
	}
	if hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", hist[0].Role, hist[1].Role)
	}

	// History returns a copy.
	hist[0].Content = "mutated"
	if m.History(th.Key)[0].Content != "hello" {
		t.Error("History should return a copy")
	}
}

func TestTrimFoldsPrefixIntoSummary(t *testing.T) {
	m := NewManager("")
	th := m.GetOrCreate("cli", "u1")

	for i := 0; i < 150; i++ {
		m.Append(th.Key, providers.Message{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}

	hist := m.History(th.Key)
	if len(hist) != softCapTurns {
		t.Fatalf("history = %d turns, want %d", len(hist), softCapTurns)
	}
	if hist[0].Content != "turn 50" {
		t.Errorf("oldest kept = %q, want turn 50", hist[0].Content)
	}
	sum := m.Summary(th.Key)
	if sum == "" {
		t.Fatal("summary empty after trim")
	}
	if !strings.Contains(sum, "turn 49") {
		t.Errorf("summary should mention newest dropped turn, got tail %q", sum[max(0, len(sum)-120):])
	}
	if len(sum) > maxSummaryChars {
		t.Errorf("summary = %d chars, cap %d", len(sum), maxSummaryChars)
	}
}

func TestTrimIdempotent(t *testing.T) {
	m := NewManager("")
	th := m.GetOrCreate("cli", "u1")
	for i := 0; i < 120; i++ {
		m.Append(th.Key, providers.Message{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	before := m.History(th.Key)
	sumBefore := m.Summary(th.Key)

	m.mu.Lock()
	m.trimLocked(m.threads[th.Key])
	m.mu.Unlock()

	after := m.History(th.Key)
	if len(after) != len(before) || after[0].Content != before[0].Content {
		t.Error("trim of already-trimmed thread changed history")
	}
	if m.Summary(th.Key) != sumBefore {
		t.Error("trim of already-trimmed thread changed summary")
	}
}

func TestSummaryBounded(t *testing.T) {
	m := NewManager("")
	th := m.GetOrCreate("cli", "u1")
	m.SetSummary(th.Key, strings.Repeat("x", 5000))
	if got := len(m.Summary(th.Key)); got != maxSummaryChars {
		t.Errorf("summary = %d chars, want %d", got, maxSummaryChars)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	th := m.GetOrCreate("telegram", "42")
	m.Append(th.Key, providers.Message{Role: "user", Content: "remember me"})
	m.SetSummary(th.Key, "a chat about memory")
	if err := m.Save(th.Key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Key colons never reach the filename.
	if _, err := filepath.Glob(filepath.Join(dir, "telegram_42.json")); err != nil {
		t.Fatalf("glob: %v", err)
	}

	m2 := NewManager(dir)
	hist := m2.History(Key("telegram", "42"))
	if len(hist) != 1 || hist[0].Content != "remember me" {
		t.Errorf("reloaded history = %+v", hist)
	}
	if m2.Summary(Key("telegram", "42")) != "a chat about memory" {
		t.Errorf("reloaded summary = %q", m2.Summary(Key("telegram", "42")))
	}
}

func TestReset(t *testing.T) {
	m := NewManager("")
	th := m.GetOrCreate("cli", "u1")
	m.Append(th.Key, providers.Message{Role: "user", Content: "hi"})
	m.SetSummary(th.Key, "sum")
	m.Reset(th.Key)
	if len(m.History(th.Key)) != 0 || m.Summary(th.Key) != "" {
		t.Error("Reset should clear history and summary")
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	th := m.GetOrCreate("t", "u")
	m.Append(th.Key, providers.Message{Role: "user", Content: "x"})
	if err := m.Save(th.Key); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(th.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(NewManager(dir).List()) != 0 {
		t.Error("deleted thread survived reload")
	}
	// Double delete is fine.
	if err := m.Delete(th.Key); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestList(t *testing.T) {
	m := NewManager("")
	m.GetOrCreate("telegram", "a")
	m.GetOrCreate("discord", "b")
	if got := len(m.List()); got != 2 {
		t.Errorf("List = %d, want 2", got)
	}
}
