// Package tasks is the persistent work queue. Every unit of delegated
// work is a Task persisted as its own JSON file so the queue survives
// restarts with at most the in-flight mutation lost.
package tasks

import (
	"time"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether a task in this status can still change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// rank orders priorities for queue pickup; lower runs first.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

// Step is one planned unit of progress inside a task.
type Step struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	Result      string `json:"result,omitempty"`
}

// Source records where a task came from.
type Source struct {
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// Usage accumulates LLM spend attributed to a task.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Task is one unit of delegated work.
type Task struct {
	ID               string     `json:"id"`
	ParentID         string     `json:"parent_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           Status     `json:"status"`
	Priority         Priority   `json:"priority"`
	Progress         int        `json:"progress"`
	Steps            []Step     `json:"steps,omitempty"`
	CurrentStepIndex int        `json:"current_step_index"`
	Result           string     `json:"result,omitempty"`
	Error            string     `json:"error,omitempty"`
	Source           Source     `json:"source"`
	Provider         string     `json:"provider,omitempty"`
	Model            string     `json:"model,omitempty"`
	Usage            Usage      `json:"usage"`
	Scratchpad       string     `json:"scratchpad,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
