// Package memory is the markdown-backed long-term store behind the
// remember/recall tools. One file per entry under <workspace>/memory/,
// YAML frontmatter plus free-text body, so users can read and edit
// memories with any editor.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Entry is one remembered fact.
type Entry struct {
	ID        string    `yaml:"id"`
	Tags      []string  `yaml:"tags,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	Content   string    `yaml:"-"`
}

// Store reads and writes memory entries.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates the memory directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Remember persists a new entry and returns it.
func (s *Store) Remember(content string, tags []string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, fmt.Errorf("empty memory content")
	}

	e := Entry{
		ID:        uuid.NewString(),
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
		Content:   content,
	}

	front, err := yaml.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	body := fmt.Sprintf("---\n%s---\n\n%s\n", front, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, e.ID+".md")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return Entry{}, fmt.Errorf("write memory: %w", err)
	}
	return e, nil
}

// Recall keyword-searches entries. Every whitespace-separated query word
// scores one point per entry containing it (content or tags,
// case-insensitive); results sort by score then recency.
func (s *Store) Recall(query string, limit int) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(query))
	entries, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		sortByRecency(entries)
		return clip(entries, limit), nil
	}

	type scored struct {
		e     Entry
		score int
	}
	var hits []scored
	for _, e := range entries {
		haystack := strings.ToLower(e.Content + " " + strings.Join(e.Tags, " "))
		score := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{e, score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].e.CreatedAt.After(hits[j].e.CreatedAt)
	})

	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.e)
	}
	return clip(out, limit), nil
}

// Forget removes an entry by id.
func (s *Store) Forget(id string) error {
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid memory id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, id+".md"))
	if os.IsNotExist(err) {
		return fmt.Errorf("memory %s not found", id)
	}
	return err
}

// Bullets returns up to max most recent entries condensed to one line
// each, for embedding in the system prompt.
func (s *Store) Bullets(max int) []string {
	entries, err := s.loadAll()
	if err != nil {
		return nil
	}
	sortByRecency(entries)
	entries = clip(entries, max)

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		line := strings.SplitN(e.Content, "\n", 2)[0]
		if len(line) > 200 {
			line = line[:200] + "..."
		}
		out = append(out, "- "+line)
	}
	return out
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	entries, err := s.loadAll()
	if err != nil {
		return 0
	}
	return len(entries)
}

func (s *Store) loadAll() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		e, err := parseEntry(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue // skip unparseable foreign files
		}
		out = append(out, e)
	}
	return out, nil
}

func parseEntry(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := yaml.Unmarshal([]byte(front), &e); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	e.Content = strings.TrimSpace(body)
	return e, nil
}

// splitFrontmatter separates a leading --- YAML block from the body.
func splitFrontmatter(data string) (string, string, error) {
	lines := strings.Split(data, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("unterminated frontmatter")
}

func sortByRecency(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func clip(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
