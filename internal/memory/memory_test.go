package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRememberAndRecall(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Remember("The deploy key lives in vault under ops/deploy", []string{"ops"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Remember("User prefers short answers", []string{"style"}); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Recall("deploy vault", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if !strings.Contains(hits[0].Content, "deploy key") {
		t.Errorf("wrong hit: %q", hits[0].Content)
	}
}

func TestRecall_ScoresByWordCount(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Remember("kubernetes cluster upgrade notes", nil)
	s.Remember("kubernetes is a container orchestrator", nil)

	hits, err := s.Recall("kubernetes upgrade", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if !strings.Contains(hits[0].Content, "upgrade") {
		t.Errorf("two-word match should rank first, got %q", hits[0].Content)
	}
}

func TestRecall_MatchesTags(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Remember("some fact", []string{"billing"})

	hits, err := s.Recall("billing", 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("hits=%d err=%v", len(hits), err)
	}
}

func TestRemember_EmptyRejected(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	if _, err := s.Remember("   ", nil); err == nil {
		t.Error("empty content should be rejected")
	}
}

func TestEntriesSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	s1, _ := NewStore(dir)
	e, err := s1.Remember("persistent fact", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}

	s2, _ := NewStore(dir)
	hits, err := s2.Recall("persistent", 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("hits=%d err=%v", len(hits), err)
	}
	if hits[0].ID != e.ID {
		t.Errorf("id = %q, want %q", hits[0].ID, e.ID)
	}
	if len(hits[0].Tags) != 2 {
		t.Errorf("tags = %v", hits[0].Tags)
	}
}

func TestEntryFileIsReadableMarkdown(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	e, _ := s.Remember("human readable", nil)

	data, err := os.ReadFile(filepath.Join(dir, e.ID+".md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		t.Error("file should start with frontmatter")
	}
	if !strings.Contains(text, "human readable") {
		t.Error("body missing from file")
	}
}

func TestForget(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	e, _ := s.Remember("to be forgotten", nil)

	if err := s.Forget(e.ID); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Error("entry still present after Forget")
	}
	if err := s.Forget(e.ID); err == nil {
		t.Error("double Forget should fail")
	}
	if err := s.Forget("../escape"); err == nil {
		t.Error("path traversal id should fail")
	}
}

func TestBullets(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Remember("first line\nsecond line ignored", nil)
	s.Remember(strings.Repeat("x", 400), nil)

	bullets := s.Bullets(10)
	if len(bullets) != 2 {
		t.Fatalf("got %d bullets", len(bullets))
	}
	for _, b := range bullets {
		if !strings.HasPrefix(b, "- ") {
			t.Errorf("bullet %q missing prefix", b)
		}
		if strings.Contains(b, "second line") {
			t.Error("bullet should be first line only")
		}
		if len(b) > 210 {
			t.Errorf("bullet too long: %d chars", len(b))
		}
	}
}

func TestLoadAll_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)
	s.Remember("real entry", nil)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("no frontmatter"), 0o600)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not markdown"), 0o600)

	if got := s.Count(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}
