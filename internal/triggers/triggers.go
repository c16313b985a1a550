// Package triggers is the event plane: cron schedules, file watchers,
// webhooks, calendar polls, and inbox polls that wake the agent without
// a human message.
package triggers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

type Type string

const (
	TypeFileWatch  Type = "file_watch"
	TypeWebhook    Type = "webhook"
	TypeCron       Type = "cron"
	TypeCalendar   Type = "calendar"
	TypeEmailWatch Type = "email_watch"
)

// ActionKind selects what a firing trigger does.
type ActionKind string

const (
	ActionMessage ActionKind = "message"
	ActionTask    ActionKind = "task"
)

// Action is what happens when a trigger fires: either a synthetic
// message into the session loop or a new queued task.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Content string     `json:"content"`
	Channel string     `json:"channel,omitempty"`
	UserID  string     `json:"user_id,omitempty"`
}

// Trigger is one registered event source.
type Trigger struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Name          string         `json:"name"`
	Enabled       bool           `json:"enabled"`
	Config        map[string]any `json:"config,omitempty"`
	Action        Action         `json:"action"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	FireCount     int            `json:"fire_count"`
	State         map[string]any `json:"state,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Registry persists all triggers in one JSON array file, rewritten
// whole on every mutation.
type Registry struct {
	mu   sync.RWMutex
	path string
	list []*Trigger
}

// NewRegistry loads triggers.json from path. A missing file is an empty
// registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read triggers: %w", err)
	}
	if err := json.Unmarshal(data, &r.list); err != nil {
		return nil, fmt.Errorf("parse triggers: %w", err)
	}
	return r, nil
}

// Create validates type-specific config and persists a new trigger.
func (r *Registry) Create(typ Type, name string, cfg map[string]any, action Action) (*Trigger, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("trigger name required")
	}
	if action.Kind != ActionMessage && action.Kind != ActionTask {
		return nil, fmt.Errorf("action kind must be message or task")
	}
	if strings.TrimSpace(action.Content) == "" {
		return nil, fmt.Errorf("action content required")
	}
	if err := validateConfig(typ, cfg); err != nil {
		return nil, err
	}

	t := &Trigger{
		ID:        uuid.NewString(),
		Type:      typ,
		Name:      name,
		Enabled:   true,
		Config:    cfg,
		Action:    action,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, t)
	if err := r.persistLocked(); err != nil {
		r.list = r.list[:len(r.list)-1]
		return nil, err
	}
	return copyTrigger(t), nil
}

// Get returns a trigger by id.
func (r *Registry) Get(id string) (*Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.findLocked(id)
	if t == nil {
		return nil, fmt.Errorf("trigger %s not found", id)
	}
	return copyTrigger(t), nil
}

// List returns all triggers in registration order.
func (r *Registry) List() []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Trigger, len(r.list))
	for i, t := range r.list {
		out[i] = copyTrigger(t)
	}
	return out
}

// ListEnabled returns enabled triggers of one type.
func (r *Registry) ListEnabled(typ Type) []*Trigger {
	var out []*Trigger
	for _, t := range r.List() {
		if t.Enabled && t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled flips a trigger on or off.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findLocked(id)
	if t == nil {
		return fmt.Errorf("trigger %s not found", id)
	}
	t.Enabled = enabled
	return r.persistLocked()
}

// Delete removes a trigger.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.list {
		if t.ID == id {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return r.persistLocked()
		}
	}
	return fmt.Errorf("trigger %s not found", id)
}

// MarkFired stamps lastTriggered, bumps the counter, and persists.
func (r *Registry) MarkFired(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findLocked(id)
	if t == nil {
		return fmt.Errorf("trigger %s not found", id)
	}
	now := time.Now()
	t.LastTriggered = &now
	t.FireCount++
	return r.persistLocked()
}

// SetState stores per-trigger engine state (e.g. the IMAP UID
// watermark) and persists.
func (r *Registry) SetState(id, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.findLocked(id)
	if t == nil {
		return fmt.Errorf("trigger %s not found", id)
	}
	if t.State == nil {
		t.State = map[string]any{}
	}
	t.State[key] = value
	return r.persistLocked()
}

func (r *Registry) findLocked(id string) *Trigger {
	for _, t := range r.list {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.list, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, "triggers-*.tmp")
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
	if err := os.Rename(tmpPath, r.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func validateConfig(typ Type, cfg map[string]any) error {
	str := func(key string) string {
		s, _ := cfg[key].(string)
		return s
	}
	switch typ {
	case TypeCron:
		expr := str("expression")
		if !gronx.New().IsValid(expr) {
			return fmt.Errorf("invalid cron expression %q", expr)
		}
	case TypeFileWatch:
		if str("path") == "" {
			return fmt.Errorf("file_watch requires a path")
		}
		if p := str("pattern"); p != "" {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid filename pattern: %v", err)
			}
		}
	case TypeWebhook:
		p := str("path")
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("webhook path must start with /")
		}
	case TypeCalendar:
		u, err := url.Parse(str("url"))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("calendar requires an http(s) url")
		}
	case TypeEmailWatch:
		// Filters are optional; credentials come from settings.
	default:
		return fmt.Errorf("unknown trigger type %q", typ)
	}
	return nil
}

func copyTrigger(t *Trigger) *Trigger {
	c := *t
	if t.Config != nil {
		c.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			c.Config[k] = v
		}
	}
	if t.State != nil {
		c.State = make(map[string]any, len(t.State))
		for k, v := range t.State {
			c.State[k] = v
		}
	}
	if t.LastTriggered != nil {
		at := *t.LastTriggered
		c.LastTriggered = &at
	}
	return &c
}
