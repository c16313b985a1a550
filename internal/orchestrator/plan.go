// Package orchestrator decomposes complex tasks into multi-agent plans
// and executes them across model tiers. Plans are produced by a single
// planning LLM call, executed as parallel groups of routed worker
// turns, and folded back into the parent task by a synthesis call.
package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// PlanStatus tracks a plan through its lifecycle.
type PlanStatus string

const (
	PlanPlanning  PlanStatus = "planning"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Role labels the kind of work a subtask does. The role shapes the
// worker's system prompt, nothing else.
type Role string

const (
	RoleResearcher Role = "researcher"
	RoleCoder      Role = "coder"
	RoleWriter     Role = "writer"
	RoleReviewer   Role = "reviewer"
	RoleExecutor   Role = "executor"
)

// normalizeRole maps free-form planner output onto a known role.
// Anything unrecognized becomes an executor.
func normalizeRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleResearcher, RoleCoder, RoleWriter, RoleReviewer, RoleExecutor:
		return r
	}
	return RoleExecutor
}

// PlannedSubtask is one unit of work inside a plan.
type PlannedSubtask struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Role            Role         `json:"role"`
	Tier            Tier         `json:"tier,omitempty"`
	ParallelGroup   string       `json:"parallel_group,omitempty"`
	Complexity      int          `json:"complexity"`
	RequiresPrivacy bool         `json:"requires_privacy,omitempty"`
	Status          tasks.Status `json:"status"`
	Result          string       `json:"result,omitempty"`
	AgentID         string       `json:"agent_id,omitempty"`
}

// Plan is a dependency-graphed decomposition of one parent task.
// DependsOn maps subtask id to prerequisite subtask ids. Edges only
// ever point at subtasks that appear earlier in the list, which keeps
// the graph acyclic by construction.
type Plan struct {
	ID        string              `json:"id"`
	ParentID  string              `json:"parent_id"`
	Objective string              `json:"objective"`
	Subtasks  []*PlannedSubtask   `json:"subtasks"`
	DependsOn map[string][]string `json:"depends_on,omitempty"`
	Status    PlanStatus          `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

// newPlan allocates an empty plan in the planning state.
func newPlan(parentID, objective string) *Plan {
	return &Plan{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		Objective: objective,
		DependsOn: map[string][]string{},
		Status:    PlanPlanning,
		CreatedAt: time.Now(),
	}
}

// groups partitions the subtasks into parallel groups keyed by label,
// plus the ungrouped tail that runs sequentially after every group.
// Labels come back sorted so callers iterate in lexicographic order.
func (p *Plan) groups() (labels []string, grouped map[string][]*PlannedSubtask, sequential []*PlannedSubtask) {
	grouped = map[string][]*PlannedSubtask{}
	for _, sub := range p.Subtasks {
		if sub.ParallelGroup == "" {
			sequential = append(sequential, sub)
			continue
		}
		if _, ok := grouped[sub.ParallelGroup]; !ok {
			labels = append(labels, sub.ParallelGroup)
		}
		grouped[sub.ParallelGroup] = append(grouped[sub.ParallelGroup], sub)
	}
	sort.Strings(labels)
	return labels, grouped, sequential
}

// subtaskIndex returns the position of a subtask in the plan, matching
// the parent task's step list.
func (p *Plan) subtaskIndex(id string) int {
	for i, sub := range p.Subtasks {
		if sub.ID == id {
			return i
		}
	}
	return -1
}
