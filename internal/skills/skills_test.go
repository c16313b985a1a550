package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, SkillFileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

const validSkill = `---
name: git-helper
description: Helps with git workflows
---

Always run git status before suggesting commands.
Prefer rebase over merge.
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(validSkill))
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "git-helper" {
		t.Errorf("name = %q", s.Name)
	}
	if s.Description != "Helps with git workflows" {
		t.Errorf("description = %q", s.Description)
	}
	if s.Instructions == "" || s.Instructions[:6] != "Always" {
		t.Errorf("instructions = %q", s.Instructions)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no frontmatter", "just text\n"},
		{"unterminated", "---\nname: x\n"},
		{"missing name", "---\ndescription: d\n---\nbody"},
		{"missing description", "---\nname: x\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.body)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-helper", validSkill)
	writeSkill(t, dir, "broken", "not a skill")
	writeSkill(t, dir, "deploy", `---
name: deploy
description: Deployment runbook
---
Use the staging environment first.
`)

	l := NewLoader(dir)
	skills, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 {
		t.Fatalf("got %d skills, want 2 (broken skipped)", len(skills))
	}
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope"))
	skills, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 0 {
		t.Errorf("got %d skills", len(skills))
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git-helper", validSkill)

	l := NewLoader(dir)
	s, err := l.Load("git-helper")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "git-helper" {
		t.Errorf("name = %q", s.Name)
	}

	if _, err := l.Load("missing"); err == nil {
		t.Error("missing skill should fail")
	}
	if _, err := l.Load("../escape"); err == nil {
		t.Error("traversal name should fail")
	}
}
