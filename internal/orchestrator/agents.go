package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// agentRetention caps how many finished agents the registry keeps for
// the admin snapshot.
const agentRetention = 64

// AgentStatus is the lifecycle of an ephemeral sub-agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentError   AgentStatus = "error"
	AgentStopped AgentStatus = "stopped"
)

// SubAgent is a worker bound to exactly one subtask. It exists for the
// duration of the subtask plus a short retention window so the admin
// surface can show what ran where and why.
type SubAgent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Role          Role        `json:"role"`
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	Rationale     string      `json:"rationale,omitempty"`
	InputTokens   int         `json:"input_tokens"`
	OutputTokens  int         `json:"output_tokens"`
	Cost          float64     `json:"cost"`
	CreatedAt     time.Time   `json:"created_at"`
}

// AgentRegistry tracks live and recently finished sub-agents.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*SubAgent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: map[string]*SubAgent{}}
}

// Spawn registers a busy agent for a subtask, recording the routing
// decision that put it there.
func (r *AgentRegistry) Spawn(role Role, route Route, taskID string) *SubAgent {
	a := &SubAgent{
		ID:            uuid.NewString(),
		Role:          role,
		Provider:      route.Provider,
		Model:         route.Model,
		Status:        AgentBusy,
		CurrentTaskID: taskID,
		Rationale:     route.Rationale,
		CreatedAt:     time.Now(),
	}
	a.Name = fmt.Sprintf("%s-%s", role, a.ID[:8])

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	r.evictLocked()
	return r.copyLocked(a)
}

// Finish moves an agent to a terminal status and records its spend.
func (r *AgentRegistry) Finish(id string, status AgentStatus, inputTokens, outputTokens int, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return
	}
	a.Status = status
	a.CurrentTaskID = ""
	a.InputTokens += inputTokens
	a.OutputTokens += outputTokens
	a.Cost += cost
}

// Snapshot returns all known agents, newest first.
func (r *AgentRegistry) Snapshot() []*SubAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SubAgent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, r.copyLocked(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// evictLocked drops the oldest finished agents beyond the retention cap.
// Busy agents are never evicted.
func (r *AgentRegistry) evictLocked() {
	if len(r.agents) <= agentRetention {
		return
	}
	var finished []*SubAgent
	for _, a := range r.agents {
		if a.Status != AgentBusy {
			finished = append(finished, a)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.Before(finished[j].CreatedAt) })
	for _, a := range finished {
		if len(r.agents) <= agentRetention {
			break
		}
		delete(r.agents, a.ID)
	}
}

func (r *AgentRegistry) copyLocked(a *SubAgent) *SubAgent {
	c := *a
	return &c
}
