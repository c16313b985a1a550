package triggers

import (
	"os"
	"path/filepath"
	"testing"
)

func newRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triggers.json")
	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, path
}

func messageAction() Action {
	return Action{Kind: ActionMessage, Content: "check the thing"}
}

func TestCreateValidation(t *testing.T) {
	r, _ := newRegistry(t)

	tests := []struct {
		name    string
		typ     Type
		cfg     map[string]any
		action  Action
		wantErr bool
	}{
		{"valid cron", TypeCron, map[string]any{"expression": "*/5 * * * *"}, messageAction(), false},
		{"bad cron", TypeCron, map[string]any{"expression": "not a cron"}, messageAction(), true},
		{"valid file watch", TypeFileWatch, map[string]any{"path": "inbox", "pattern": `\.pdf$`}, messageAction(), false},
		{"bad pattern", TypeFileWatch, map[string]any{"path": "inbox", "pattern": "["}, messageAction(), true},
		{"missing watch path", TypeFileWatch, map[string]any{}, messageAction(), true},
		{"valid webhook", TypeWebhook, map[string]any{"path": "/hooks/ci"}, messageAction(), false},
		{"webhook path without slash", TypeWebhook, map[string]any{"path": "hooks"}, messageAction(), true},
		{"valid calendar", TypeCalendar, map[string]any{"url": "https://cal.example.com/feed.ics"}, messageAction(), false},
		{"calendar bad scheme", TypeCalendar, map[string]any{"url": "file:///etc/passwd"}, messageAction(), true},
		{"valid email watch", TypeEmailWatch, map[string]any{"from": "boss@"}, messageAction(), false},
		{"unknown type", Type("pigeon"), map[string]any{}, messageAction(), true},
		{"empty action content", TypeCron, map[string]any{"expression": "* * * * *"}, Action{Kind: ActionMessage}, true},
		{"bad action kind", TypeCron, map[string]any{"expression": "* * * * *"}, Action{Kind: "dance", Content: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.typ, tt.name, tt.cfg, tt.action)
			if (err != nil) != tt.wantErr {
				t.Errorf("Create err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryPersistsWholeFile(t *testing.T) {
	r, path := newRegistry(t)
	first, err := r.Create(TypeCron, "daily", map[string]any{"expression": "0 9 * * *"}, messageAction())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Create(TypeWebhook, "ci", map[string]any{"path": "/hooks/ci"}, messageAction())

	r2, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := r2.List()
	if len(list) != 2 {
		t.Fatalf("reloaded = %d triggers, want 2", len(list))
	}
	if list[0].ID != first.ID || list[0].Name != "daily" {
		t.Errorf("order or content lost: %+v", list[0])
	}
}

func TestMarkFired(t *testing.T) {
	r, path := newRegistry(t)
	tr, _ := r.Create(TypeCron, "daily", map[string]any{"expression": "0 9 * * *"}, messageAction())

	if err := r.MarkFired(tr.ID); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	if err := r.MarkFired(tr.ID); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}

	got, _ := r.Get(tr.ID)
	if got.FireCount != 2 || got.LastTriggered == nil {
		t.Errorf("fire state = count %d, last %v", got.FireCount, got.LastTriggered)
	}

	r2, _ := NewRegistry(path)
	reloaded, _ := r2.Get(tr.ID)
	if reloaded.FireCount != 2 {
		t.Errorf("fire count not persisted: %d", reloaded.FireCount)
	}
}

func TestSetEnabledAndDelete(t *testing.T) {
	r, _ := newRegistry(t)
	tr, _ := r.Create(TypeCron, "daily", map[string]any{"expression": "0 9 * * *"}, messageAction())

	if err := r.SetEnabled(tr.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if len(r.ListEnabled(TypeCron)) != 0 {
		t.Error("disabled trigger still listed as enabled")
	}

	if err := r.Delete(tr.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get(tr.ID); err == nil {
		t.Error("deleted trigger still readable")
	}
	if err := r.Delete(tr.ID); err == nil {
		t.Error("double delete should error")
	}
}

func TestSetState(t *testing.T) {
	r, path := newRegistry(t)
	tr, _ := r.Create(TypeEmailWatch, "inbox", map[string]any{}, messageAction())

	if err := r.SetState(tr.ID, "last_uid", float64(42)); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	r2, _ := NewRegistry(path)
	got, _ := r2.Get(tr.ID)
	if v, _ := got.State["last_uid"].(float64); v != 42 {
		t.Errorf("state = %v", got.State)
	}
}

func TestUncheckedItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), ChecklistFileName)
	content := `# Agent heartbeat

- [ ] check the build
- [x] already done
- [ ] water the plants
  - [ ] indented still counts
not a checkbox
- [ ]
`
	os.WriteFile(path, []byte(content), 0o644)

	items := UncheckedItems(path)
	want := []string{"check the build", "water the plants", "indented still counts"}
	if len(items) != len(want) {
		t.Fatalf("items = %v, want %v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("items[%d] = %q, want %q", i, items[i], want[i])
		}
	}

	if UncheckedItems(filepath.Join(t.TempDir(), "missing.md")) != nil {
		t.Error("missing checklist should yield nothing")
	}
}

func TestMatchesEmailFilters(t *testing.T) {
	ev := EmailEvent{From: "Boss <boss@corp.example>", Subject: "URGENT: quarterly report"}
	tests := []struct {
		from, subject string
		want          bool
	}{
		{"", "", true},
		{"boss@", "", true},
		{"BOSS@", "", true},
		{"intern@", "", false},
		{"", "urgent", true},
		{"", "lunch", false},
		{"boss@", "quarterly", true},
		{"boss@", "lunch", false},
	}
	for _, tt := range tests {
		if got := matchesEmailFilters(ev, tt.from, tt.subject); got != tt.want {
			t.Errorf("matchesEmailFilters(from=%q, subject=%q) = %v", tt.from, tt.subject, got)
		}
	}
}
