// Package skills loads SKILL.md instruction files from the workspace.
// Each skill lives in its own directory: <workspace>/skills/<name>/SKILL.md,
// YAML frontmatter (name, description) followed by the instruction body
// that gets appended to the system prompt.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFileName is the expected file inside each skill directory.
const SkillFileName = "SKILL.md"

// Skill is one loaded skill.
type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"-"`
	Path         string `yaml:"-"`
}

// Loader reads skills from a directory.
type Loader struct {
	dir string
}

// NewLoader points at the skills directory; it need not exist yet.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// List returns every valid skill, sorted by directory order. Invalid
// SKILL.md files are skipped, not fatal.
func (l *Loader) List() ([]Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := ParseFile(filepath.Join(l.dir, e.Name(), SkillFileName))
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Load returns one skill by name.
func (l *Loader) Load(name string) (Skill, error) {
	if strings.ContainsAny(name, "/\\") {
		return Skill{}, fmt.Errorf("invalid skill name %q", name)
	}
	return ParseFile(filepath.Join(l.dir, name, SkillFileName))
}

// ParseFile reads and parses a SKILL.md file.
func ParseFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("read skill: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return Skill{}, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = filepath.Dir(path)
	return s, nil
}

// Parse splits frontmatter from body and validates required fields.
func Parse(data []byte) (Skill, error) {
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return Skill{}, err
	}
	var s Skill
	if err := yaml.Unmarshal(front, &s); err != nil {
		return Skill{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	if s.Name == "" {
		return Skill{}, fmt.Errorf("skill name is required")
	}
	if s.Description == "" {
		return Skill{}, fmt.Errorf("skill description is required")
	}
	s.Instructions = strings.TrimSpace(string(body))
	return s, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}
	var front []string
	closed := false
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "---" {
			closed = true
			break
		}
		front = append(front, sc.Text())
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}
	var body []string
	for sc.Scan() {
		body = append(body, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return []byte(strings.Join(front, "\n")), []byte(strings.Join(body, "\n")), nil
}
