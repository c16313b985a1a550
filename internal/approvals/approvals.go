// Package approvals brokers human sign-off for risky tool calls. A
// worker blocks on a future until someone approves, rejects, or the
// request times out.
package approvals

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

	"github.com/nextlevelbuilder/agentd/internal/bus"
)

// DefaultTTL is how long a request stays answerable.
const DefaultTTL = 30 * time.Minute

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// ProposedAction is the tool call awaiting sign-off.
type ProposedAction struct {
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Request is one approval record, persisted as approvals/<id>.json.
type Request struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id,omitempty"`
	Description string         `json:"description"`
	Action      ProposedAction `json:"action"`
	Risk        Risk           `json:"risk"`
	RiskReason  string         `json:"risk_reason,omitempty"`
	Status      Status         `json:"status"`
	Channel     string         `json:"channel,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
}

// Broker owns the approval lifecycle. Each pending request has at most
// one waiting future and one expiry timer.
type Broker struct {
	mu      sync.Mutex
	dir     string
	ttl     time.Duration
	byID    map[string]*Request
	waiters map[string]chan bool
	timers  map[string]*time.Timer
	events  bus.EventPublisher
}

// NewBroker loads persisted requests from dir. Requests still pending
// past their deadline expire immediately; live ones get their timer
// re-armed. A lost future from an interrupted run counts as rejection.
func NewBroker(dir string, events bus.EventPublisher) (*Broker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}
	b := &Broker{
		dir:     dir,
		ttl:     DefaultTTL,
		byID:    map[string]*Request{},
		waiters: map[string]chan bool{},
		timers:  map[string]*time.Timer{},
		events:  events,
	}
	b.loadAll()
	return b, nil
}

// Params describes a new approval request.
type Params struct {
	TaskID      string
	Description string
	Action      ProposedAction
	Risk        Risk
	RiskReason  string
	Channel     string
	UserID      string
	TTL         time.Duration
}

// Request persists a pending approval and returns its record plus a
// future that yields true on approval, false on rejection or expiry.
func (b *Broker) Request(p Params) (*Request, <-chan bool, error) {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = b.ttl
	}
	now := time.Now()
	req := &Request{
		ID:          uuid.NewString(),
		TaskID:      p.TaskID,
		Description: p.Description,
		Action:      p.Action,
		Risk:        p.Risk,
		RiskReason:  p.RiskReason,
		Status:      StatusPending,
		Channel:     p.Channel,
		UserID:      p.UserID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if req.Risk == "" {
		req.Risk = RiskMedium
	}

	future := make(chan bool, 1)

	b.mu.Lock()
	b.byID[req.ID] = req
	b.waiters[req.ID] = future
	if err := b.persistLocked(req); err != nil {
		delete(b.byID, req.ID)
		delete(b.waiters, req.ID)
		b.mu.Unlock()
		return nil, nil, err
	}
	b.timers[req.ID] = time.AfterFunc(ttl, func() { b.expire(req.ID) })
	b.mu.Unlock()

	b.emit("approval.requested", req)
	slog.Info("approvals.requested", "id", req.ID, "tool", req.Action.Tool, "risk", req.Risk)
	return copyRequest(req), future, nil
}

// Approve resolves a request to approved. The id may be a unique prefix.
func (b *Broker) Approve(idOrPrefix, resolver string) (*Request, error) {
	return b.resolve(idOrPrefix, StatusApproved, resolver)
}

// Reject resolves a request to rejected. The id may be a unique prefix.
func (b *Broker) Reject(idOrPrefix, resolver string) (*Request, error) {
	return b.resolve(idOrPrefix, StatusRejected, resolver)
}

// Get returns a request by exact id.
func (b *Broker) Get(id string) (*Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", id)
	}
	return copyRequest(req), nil
}

// Pending returns unresolved requests, oldest first.
func (b *Broker) Pending() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Request
	for _, req := range b.byID {
		if req.Status == StatusPending {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// List returns all requests, newest first.
func (b *Broker) List() []*Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Request, 0, len(b.byID))
	for _, req := range b.byID {
		out = append(out, copyRequest(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Close stops all expiry timers. Pending requests stay pending on disk.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

func (b *Broker) resolve(idOrPrefix string, status Status, resolver string) (*Request, error) {
	b.mu.Lock()
	req, err := b.findLocked(idOrPrefix)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	if req.Status != StatusPending {
		// Resolutions are terminal; repeating one is a no-op.
		out := copyRequest(req)
		b.mu.Unlock()
		return out, nil
	}
	b.resolveLocked(req, status, resolver)
	out := copyRequest(req)
	b.mu.Unlock()

	b.emit("approval.resolved", req)
	slog.Info("approvals.resolved", "id", req.ID, "status", status, "by", resolver)
	return out, nil
}

// resolveLocked finalizes a pending request and wakes its waiter once.
func (b *Broker) resolveLocked(req *Request, status Status, resolver string) {
	now := time.Now()
	req.Status = status
	req.ResolvedAt = &now
	req.ResolvedBy = resolver

	if t, ok := b.timers[req.ID]; ok {
		t.Stop()
		delete(b.timers, req.ID)
	}
	if w, ok := b.waiters[req.ID]; ok {
		w <- status == StatusApproved
		close(w)
		delete(b.waiters, req.ID)
	}
	if err := b.persistLocked(req); err != nil {
		slog.Warn("approvals.persist_failed", "id", req.ID, "error", err)
	}
}

func (b *Broker) expire(id string) {
	b.mu.Lock()
	req, ok := b.byID[id]
	if !ok || req.Status != StatusPending {
		b.mu.Unlock()
		return
	}
	b.resolveLocked(req, StatusExpired, "timeout")
	b.mu.Unlock()

	b.emit("approval.expired", req)
	slog.Info("approvals.expired", "id", id)
}

// findLocked matches an exact id first, then a unique prefix of a
// pending request so chat users can type short ids.
func (b *Broker) findLocked(idOrPrefix string) (*Request, error) {
	if req, ok := b.byID[idOrPrefix]; ok {
		return req, nil
	}
	if len(idOrPrefix) < 4 {
		return nil, fmt.Errorf("approval id %q too short", idOrPrefix)
	}
	var match *Request
	for id, req := range b.byID {
		if !strings.HasPrefix(id, idOrPrefix) || req.Status != StatusPending {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("approval id %q is ambiguous", idOrPrefix)
		}
		match = req
	}
	if match == nil {
		return nil, fmt.Errorf("approval %s not found", idOrPrefix)
	}
	return match, nil
}

func (b *Broker) emit(name string, req *Request) {
	if b.events == nil {
		return
	}
	b.events.Broadcast(bus.Event{Name: name, Payload: map[string]any{
		"id":          req.ID,
		"tool":        req.Action.Tool,
		"description": req.Description,
		"risk":        string(req.Risk),
		"status":      string(req.Status),
		"channel":     req.Channel,
		"user_id":     req.UserID,
	}})
}

func (b *Broker) persistLocked(req *Request) error {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, "approval-*.tmp")
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
	if err := os.Rename(tmpPath, filepath.Join(b.dir, req.ID+".json")); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (b *Broker) loadAll() {
	files, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	now := time.Now()
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, f.Name()))
		if err != nil {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			slog.Warn("approvals.skip_malformed", "file", f.Name())
			continue
		}
		b.byID[req.ID] = &req
		if req.Status != StatusPending {
			continue
		}
		if !req.ExpiresAt.After(now) {
			b.resolveLocked(&req, StatusExpired, "startup")
			continue
		}
		b.timers[req.ID] = time.AfterFunc(time.Until(req.ExpiresAt), func() { b.expire(req.ID) })
	}
}

func copyRequest(req *Request) *Request {
	c := *req
	if req.Action.Input != nil {
		c.Action.Input = make(map[string]any, len(req.Action.Input))
		for k, v := range req.Action.Input {
			c.Action.Input[k] = v
		}
	}
	if req.ResolvedAt != nil {
		at := *req.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}
