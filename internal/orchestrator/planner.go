package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

const (
	// planMaxSubtasks caps a plan; anything past it is dropped.
	planMaxSubtasks = 8

	planMaxTokens = 2000
)

// planSystemPrompt is the JSON-only contract sent to the planning model.
const planSystemPrompt = `You are a planning engine. Decompose the objective into 2-6 focused subtasks.

Respond with ONLY a JSON object, no prose and no markdown, in this shape:
{"subtasks":[{"title":"short name","description":"what to do and what to produce","role":"researcher|coder|writer|reviewer|executor","modelTier":"fast|balanced|reasoning|local","parallelGroup":"A","complexity":4,"requiresPrivacy":false,"dependsOn":["title of an earlier subtask"]}]}

Rules:
- Subtasks sharing a parallelGroup letter run concurrently; groups run in letter order.
- A subtask that needs another's output goes in a later group, with the dependency listed in dependsOn.
- Omit parallelGroup for work that must run strictly after every group.
- complexity: 1-3 trivial lookup or formatting, 4-7 ordinary work, 8-10 deep reasoning.
- Set requiresPrivacy true only when the work handles personal or confidential data.`

// Complexity indicators for the orchestration heuristic. Each category
// counts at most once.
var (
	reAnd           = regexp.MustCompile(`(?i)\band\b`)
	reSteps         = regexp.MustCompile(`(?i)\bsteps?\b`)
	reFirstThen     = regexp.MustCompile(`(?i)\bfirst\b[\s\S]*\bthen\b`)
	reCompareWith   = regexp.MustCompile(`(?i)\bcompar\w*\b[\s\S]*\bwith\b`)
	reResearchWrite = regexp.MustCompile(`(?i)\bresearch\b[\s\S]*\bwrite\b`)
	reAnalyzeReport = regexp.MustCompile(`(?i)\banaly[sz]e\b[\s\S]*\breport\b`)
	rePlanVerbs     = regexp.MustCompile(`(?i)\b(plan|comprehensive|multiple)\b`)
)

// ShouldOrchestrate reports whether a task description is complex
// enough to warrant decomposition: over 100 words, or at least two
// distinct complexity indicators.
func ShouldOrchestrate(description string) bool {
	if len(strings.Fields(description)) > 100 {
		return true
	}
	indicators := 0
	if len(reAnd.FindAllStringIndex(description, 2)) >= 2 {
		indicators++
	}
	for _, re := range []*regexp.Regexp{reSteps, reFirstThen, reCompareWith, reResearchWrite, reAnalyzeReport, rePlanVerbs} {
		if re.MatchString(description) {
			indicators++
		}
	}
	return indicators >= 2
}

// planSubtaskJSON mirrors the planning contract's subtask entries.
type planSubtaskJSON struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Role            string   `json:"role"`
	ModelTier       string   `json:"modelTier"`
	ParallelGroup   string   `json:"parallelGroup"`
	Complexity      int      `json:"complexity"`
	RequiresPrivacy bool     `json:"requiresPrivacy"`
	DependsOn       []string `json:"dependsOn"`
}

type planJSON struct {
	Subtasks []planSubtaskJSON `json:"subtasks"`
}

// buildPlan turns the planning model's raw response into a Plan. Any
// response that cannot be parsed degrades to a single balanced-tier
// subtask carrying the whole objective, so delegation never dead-ends
// on a malformed plan.
func buildPlan(parentID, objective, raw string) *Plan {
	plan := newPlan(parentID, objective)

	parsed, err := parsePlanJSON(raw)
	if err != nil || len(parsed.Subtasks) == 0 {
		slog.Warn("orchestrator.plan_parse_failed", "error", err)
		plan.Subtasks = []*PlannedSubtask{fallbackSubtask(objective)}
		return plan
	}

	if len(parsed.Subtasks) > planMaxSubtasks {
		slog.Warn("orchestrator.plan_truncated", "subtasks", len(parsed.Subtasks), "cap", planMaxSubtasks)
		parsed.Subtasks = parsed.Subtasks[:planMaxSubtasks]
	}

	for i, s := range parsed.Subtasks {
		sub := &PlannedSubtask{
			ID:              uuid.NewString(),
			Title:           strings.TrimSpace(s.Title),
			Description:     strings.TrimSpace(s.Description),
			Role:            normalizeRole(s.Role),
			Tier:            normalizeTier(s.ModelTier),
			ParallelGroup:   strings.ToUpper(strings.TrimSpace(s.ParallelGroup)),
			Complexity:      clampComplexity(s.Complexity),
			RequiresPrivacy: s.RequiresPrivacy,
			Status:          tasks.StatusPending,
		}
		if sub.Title == "" {
			sub.Title = fmt.Sprintf("Subtask %d", i+1)
		}
		if sub.Description == "" {
			sub.Description = sub.Title
		}
		plan.Subtasks = append(plan.Subtasks, sub)
	}

	// Dependency titles resolve to ids of earlier subtasks only; forward
	// or unknown references are dropped so the graph stays acyclic.
	for i, s := range parsed.Subtasks {
		sub := plan.Subtasks[i]
		for _, depTitle := range s.DependsOn {
			depID, ok := earlierSubtask(plan.Subtasks[:i], depTitle)
			if !ok {
				slog.Warn("orchestrator.dependency_dropped", "subtask", sub.Title, "depends_on", depTitle)
				continue
			}
			plan.DependsOn[sub.ID] = append(plan.DependsOn[sub.ID], depID)
		}
	}
	return plan
}

// parsePlanJSON extracts the JSON object from a model response that may
// be wrapped in code fences or prose.
func parsePlanJSON(raw string) (*planJSON, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan response")
	}
	var out planJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &out, nil
}

// fallbackSubtask wraps the whole objective as one balanced work item.
func fallbackSubtask(objective string) *PlannedSubtask {
	return &PlannedSubtask{
		ID:          uuid.NewString(),
		Title:       "Complete the task",
		Description: objective,
		Role:        RoleExecutor,
		Tier:        TierBalanced,
		Complexity:  5,
		Status:      tasks.StatusPending,
	}
}

func earlierSubtask(prior []*PlannedSubtask, title string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(title))
	for _, sub := range prior {
		if strings.ToLower(sub.Title) == want {
			return sub.ID, true
		}
	}
	return "", false
}

// clampComplexity keeps complexity in 0..10, where 0 means the planner
// left it unspecified.
func clampComplexity(c int) int {
	if c < 0 {
		return 0
	}
	if c > 10 {
		return 10
	}
	return c
}
