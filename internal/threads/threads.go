// Package threads stores per-user conversation history. Each thread is
// keyed by (channel, user) and persisted as one JSON file so a restart
// resumes mid-conversation.
package threads

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/providers"
)

const (
	// softCapTurns bounds thread length; the oldest prefix folds into
	// the summary when exceeded.
	softCapTurns = 100

	maxSummaryChars = 2000
)

// Thread holds the ordered turns of one conversation.
type Thread struct {
	Key      string              `json:"key"`
	Channel  string              `json:"channel"`
	UserID   string              `json:"user_id"`
	Messages []providers.Message `json:"messages"`
	Summary  string              `json:"summary,omitempty"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`
}

// Key builds the composite thread key for a channel and user.
func Key(channel, userID string) string {
	return fmt.Sprintf("%s:%s", channel, userID)
}

// Manager handles thread lifecycle, trimming, and persistence.
type Manager struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	dir     string
}

func NewManager(dir string) *Manager {
	m := &Manager{threads: make(map[string]*Thread), dir: dir}
	if dir != "" {
		os.MkdirAll(dir, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns the thread for a key, creating it when absent.
func (m *Manager) GetOrCreate(channel, userID string) *Thread {
	key := Key(channel, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[key]; ok {
		return t
	}
	t := &Thread{
		Key:      key,
		Channel:  channel,
		UserID:   userID,
		Messages: []providers.Message{},
		Created:  time.Now(),
		Updated:  time.Now(),
	}
	m.threads[key] = t
	return t
}

// Append adds a turn and trims the thread when it grows past the soft
// cap. Trimming is a no-op on already-trimmed threads.
func (m *Manager) Append(key string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[key]
	if !ok {
		t = &Thread{Key: key, Messages: []providers.Message{}, Created: time.Now()}
		m.threads[key] = t
	}
	t.Messages = append(t.Messages, msg)
	t.Updated = time.Now()
	m.trimLocked(t)
}

// History returns a copy of the turns for a key.
func (m *Manager) History(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(t.Messages))
	copy(msgs, t.Messages)
	return msgs
}

// Summary returns the running summary for a key.
func (m *Manager) Summary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.threads[key]; ok {
		return t.Summary
	}
	return ""
}

// SetSummary replaces the running summary, clipped to the bound.
func (m *Manager) SetSummary(key, summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[key]; ok {
		t.Summary = clipSummary(summary)
		t.Updated = time.Now()
	}
}

// Reset clears history and summary but keeps the thread.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[key]; ok {
		t.Messages = []providers.Message{}
		t.Summary = ""
		t.Updated = time.Now()
	}
}

// Delete removes a thread and its file.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	delete(m.threads, key)
	m.mu.Unlock()

	if m.dir == "" {
		return nil
	}
	path := filepath.Join(m.dir, sanitizeFilename(key)+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Info is a lightweight thread descriptor for listing.
type Info struct {
	Key          string    `json:"key"`
	Channel      string    `json:"channel"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	Updated      time.Time `json:"updated"`
}

// List returns descriptors for all threads.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.threads))
	for _, t := range m.threads {
		out = append(out, Info{
			Key:          t.Key,
			Channel:      t.Channel,
			UserID:       t.UserID,
			MessageCount: len(t.Messages),
			Updated:      t.Updated,
		})
	}
	return out
}

// Save persists a thread to disk atomically.
func (m *Manager) Save(key string) error {
	if m.dir == "" {
		return nil
	}

	m.mu.RLock()
	t, ok := m.threads[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := Thread{
		Key:     t.Key,
		Channel: t.Channel,
		UserID:  t.UserID,
		Summary: t.Summary,
		Created: t.Created,
		Updated: t.Updated,
	}
	snapshot.Messages = make([]providers.Message, len(t.Messages))
	copy(snapshot.Messages, t.Messages)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	path := filepath.Join(m.dir, filename+".json")

	tmp, err := os.CreateTemp(m.dir, "thread-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// trimLocked folds the oldest prefix into the summary once the thread
// exceeds the soft cap. Caller holds the write lock.
func (m *Manager) trimLocked(t *Thread) {
	if len(t.Messages) <= softCapTurns {
		return
	}
	dropped := t.Messages[:len(t.Messages)-softCapTurns]
	t.Summary = clipSummary(condense(t.Summary, dropped))
	kept := make([]providers.Message, softCapTurns)
	copy(kept, t.Messages[len(t.Messages)-softCapTurns:])
	t.Messages = kept
}

// condense folds dropped turns into the running summary as one line
// per turn. An LLM pass may later rewrite the summary via SetSummary.
func condense(summary string, dropped []providers.Message) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}
	for _, msg := range dropped {
		line := strings.TrimSpace(msg.Content)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		if len(line) > 120 {
			line = line[:120]
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, line)
	}
	return strings.TrimRight(b.String(), "\n")
}

func clipSummary(s string) string {
	if len(s) <= maxSummaryChars {
		return s
	}
	// Keep the tail: recent context matters more than the opening.
	return s[len(s)-maxSummaryChars:]
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, f.Name()))
		if err != nil {
			continue
		}
		var t Thread
		if err := json.Unmarshal(data, &t); err != nil || t.Key == "" {
			continue
		}
		m.threads[t.Key] = &t
	}
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
