package tasks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps every task as tasks/<id>.json and an in-memory index
// for queries. Mutators persist synchronously before returning.
type FileStore struct {
	mu   sync.RWMutex
	dir  string
	byID map[string]*Task
}

// NewFileStore loads all task documents from dir. Tasks found in
// running state were interrupted by a crash and re-enter as paused.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	s := &FileStore{dir: dir, byID: map[string]*Task{}}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSpec carries the caller-supplied fields of a new task.
type CreateSpec struct {
	ParentID    string
	Title       string
	Description string
	Priority    Priority
	Source      Source
	Provider    string
	Model       string
	Tags        []string
}

// Create inserts a pending task and persists it.
func (s *FileStore) Create(spec CreateSpec) (*Task, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return nil, fmt.Errorf("task title required")
	}
	if spec.Priority == "" {
		spec.Priority = PriorityNormal
	}
	now := time.Now()
	t := &Task{
		ID:          uuid.NewString(),
		ParentID:    spec.ParentID,
		Title:       spec.Title,
		Description: spec.Description,
		Status:      StatusPending,
		Priority:    spec.Priority,
		Source:      spec.Source,
		Provider:    spec.Provider,
		Model:       spec.Model,
		Tags:        spec.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = t
	if err := s.persistLocked(t); err != nil {
		delete(s.byID, t.ID)
		return nil, err
	}
	return copyTask(t), nil
}

// Get returns a copy of a task by id.
func (s *FileStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return copyTask(t), nil
}

// UpdateStatus moves a task through its state machine. Completed sets
// progress to 100; completed and failed stamp CompletedAt. Progress 100
// is reserved for completed tasks.
func (s *FileStore) UpdateStatus(id string, status Status) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Status = status
		switch status {
		case StatusCompleted:
			t.Progress = 100
			now := time.Now()
			t.CompletedAt = &now
		case StatusFailed:
			if t.Progress >= 100 {
				t.Progress = 99
			}
			now := time.Now()
			t.CompletedAt = &now
		default:
			if t.Progress >= 100 {
				t.Progress = 99
			}
			t.CompletedAt = nil
		}
		return nil
	})
}

// SetProgress clamps to 0..100 and never decreases recorded progress.
func (s *FileStore) SetProgress(id string, progress int) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		if progress < 0 {
			progress = 0
		}
		if progress >= 100 && t.Status != StatusCompleted {
			progress = 99
		}
		if progress > t.Progress {
			t.Progress = progress
		}
		return nil
	})
}

// SetResult records the final output of a task.
func (s *FileStore) SetResult(id, result string) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Result = result
		return nil
	})
}

// Fail marks a task failed with an error string.
func (s *FileStore) Fail(id, errMsg string) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Status = StatusFailed
		t.Error = errMsg
		if t.Progress >= 100 {
			t.Progress = 99
		}
		now := time.Now()
		t.CompletedAt = &now
		return nil
	})
}

// AddStep appends a pending step.
func (s *FileStore) AddStep(id string, step Step) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		if step.Status == "" {
			step.Status = StatusPending
		}
		t.Steps = append(t.Steps, step)
		return nil
	})
}

// UpdateStep mutates one step and advances CurrentStepIndex past
// completed prefixes. The index never exceeds len(steps).
func (s *FileStore) UpdateStep(id string, index int, status Status, result string) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		if index < 0 || index >= len(t.Steps) {
			return fmt.Errorf("step index %d out of range (task has %d steps)", index, len(t.Steps))
		}
		t.Steps[index].Status = status
		if result != "" {
			t.Steps[index].Result = result
		}
		next := t.CurrentStepIndex
		for next < len(t.Steps) && t.Steps[next].Status.Terminal() {
			next++
		}
		t.CurrentStepIndex = next
		return nil
	})
}

// AddUsage accumulates token counts and cost onto a task.
func (s *FileStore) AddUsage(id string, inputTokens, outputTokens int, cost float64) (*Task, error) {
	return s.mutate(id, func(t *Task) error {
		t.Usage.InputTokens += inputTokens
		t.Usage.OutputTokens += outputTokens
		t.Usage.Cost += cost
		return nil
	})
}

// AppendScratchpad adds a timestamped line to the task diary. Existing
// scratchpad content is never rewritten.
func (s *FileStore) AppendScratchpad(id, note string) (*Task, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("scratchpad note empty")
	}
	return s.mutate(id, func(t *Task) error {
		line := fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339), note)
		if t.Scratchpad == "" {
			t.Scratchpad = line
		} else {
			t.Scratchpad += "\n" + line
		}
		return nil
	})
}

// List returns all tasks, newest first.
func (s *FileStore) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListByStatus returns tasks in a status, newest first.
func (s *FileStore) ListByStatus(status Status) []*Task {
	var out []*Task
	for _, t := range s.List() {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// ListSubtasks returns the children of a parent task, oldest first.
func (s *FileStore) ListSubtasks(parentID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Task
	for _, t := range s.byID {
		if t.ParentID == parentID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// NextPending returns the next task to run: highest priority first,
// creation order within a priority. Nil when the queue is empty.
func (s *FileStore) NextPending() *Task {
	pending := s.ListByStatus(StatusPending)
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority.rank() != pending[j].Priority.rank() {
			return pending[i].Priority.rank() < pending[j].Priority.rank()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending[0]
}

// Delete removes a task and its file.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("task %s not found", id)
	}
	delete(s.byID, id)
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Count returns totals by status.
func (s *FileStore) Count() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[Status]int{}
	for _, t := range s.byID {
		out[t.Status]++
	}
	return out
}

func (s *FileStore) mutate(id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now()
	if err := s.persistLocked(t); err != nil {
		return nil, err
	}
	return copyTask(t), nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) persistLocked(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "task-*.tmp")
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
	if err := os.Rename(tmpPath, s.path(t.ID)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *FileStore) loadAll() error {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			slog.Warn("tasks.load_failed", "file", f.Name(), "error", err)
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil || t.ID == "" {
			slog.Warn("tasks.skip_malformed", "file", f.Name())
			continue
		}
		// Interrupted work resumes paused, never silently running.
		if t.Status == StatusRunning {
			t.Status = StatusPaused
			t.UpdatedAt = time.Now()
			s.byID[t.ID] = &t
			if err := s.persistLocked(&t); err != nil {
				slog.Warn("tasks.pause_persist_failed", "task", t.ID, "error", err)
			}
			continue
		}
		s.byID[t.ID] = &t
	}
	return nil
}

func copyTask(t *Task) *Task {
	c := *t
	if t.Steps != nil {
		c.Steps = make([]Step, len(t.Steps))
		copy(c.Steps, t.Steps)
	}
	if t.Tags != nil {
		c.Tags = make([]string, len(t.Tags))
		copy(c.Tags, t.Tags)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
