package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/orchestrator"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
)

// --- settings ---

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Settings.Get())
}

// handleSettingsPatch applies a partial update. Dangerous values come
// back in confirmations_required with tokens; the client repeats the
// patch with them to apply.
func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Patch         map[string]any    `json:"patch"`
		Confirmations map[string]string `json:"confirmations,omitempty"`
	}
	if err := s.readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if len(body.Patch) == 0 {
		badRequest(w, fmt.Errorf("patch is required"))
		return
	}
	updated, required, err := s.opts.Settings.Update(body.Patch, body.Confirmations)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":               updated,
		"confirmations_required": required,
	})
}

func (s *Server) handleSettingsConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := s.readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if body.Key == "" {
		badRequest(w, fmt.Errorf("key is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"key":   body.Key,
		"value": body.Value,
		"token": guard.ConfirmationToken(s.opts.Token, body.Key, body.Value, time.Now()),
	})
}

// --- tasks ---

func (s *Server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	var list []*tasks.Task
	if status := r.URL.Query().Get("status"); status != "" {
		list = s.opts.Tasks.ListByStatus(tasks.Status(status))
	} else {
		list = s.opts.Tasks.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  list,
		"counts": s.opts.Tasks.Count(),
	})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.opts.Tasks.Get(r.PathValue("id"))
	if err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":     t,
		"subtasks": s.opts.Tasks.ListSubtasks(t.ID),
	})
}

func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Action string `json:"action"`
	}
	if err := s.readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}

	t, err := s.opts.Tasks.Get(id)
	if err != nil {
		notFound(w)
		return
	}

	switch body.Action {
	case "cancel":
		if t.Status.Terminal() {
			badRequest(w, fmt.Errorf("task is already %s", t.Status))
			return
		}
		t, err = s.opts.Tasks.UpdateStatus(id, tasks.StatusCancelled)
	case "pause":
		if t.Status.Terminal() {
			badRequest(w, fmt.Errorf("task is already %s", t.Status))
			return
		}
		t, err = s.opts.Tasks.UpdateStatus(id, tasks.StatusPaused)
	case "resume":
		if t.Status.Terminal() {
			badRequest(w, fmt.Errorf("task is already %s", t.Status))
			return
		}
		if t, err = s.opts.Tasks.UpdateStatus(id, tasks.StatusPending); err == nil && s.opts.Orchestrator != nil {
			err = s.opts.Orchestrator.Delegate(id, false)
		}
	case "delete":
		if err := s.opts.Tasks.Delete(id); err != nil {
			badRequest(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
		return
	default:
		badRequest(w, fmt.Errorf("unknown action %q", body.Action))
		return
	}

	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

// --- approvals ---

func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.opts.Approvals.Pending(),
		"recent":  s.opts.Approvals.List(),
	})
}

func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Action   string `json:"action"`
		Resolver string `json:"resolver,omitempty"`
	}
	if err := s.readJSON(w, r, &body); err != nil {
		badRequest(w, err)
		return
	}
	resolver := body.Resolver
	if resolver == "" {
		resolver = "admin"
	}

	var err error
	var req any
	switch body.Action {
	case "approve":
		req, err = s.opts.Approvals.Approve(id, resolver)
	case "reject":
		req, err = s.opts.Approvals.Reject(id, resolver)
	default:
		badRequest(w, fmt.Errorf("unknown action %q", body.Action))
		return
	}
	if err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approval": req})
}

// --- costs ---

func (s *Server) handleCostsToday(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Costs.Today())
}

func (s *Server) handleCostsHistory(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 30)
	writeJSON(w, http.StatusOK, map[string]any{"history": s.opts.Costs.History(days)})
}

func (s *Server) handleCostsConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Costs.Budget())
}

func (s *Server) handleCostsConfigSet(w http.ResponseWriter, r *http.Request) {
	var budget costs.Budget
	if err := s.readJSON(w, r, &budget); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.opts.Costs.SetBudget(budget); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Costs.Budget())
}

// --- triggers ---

func (s *Server) handleTriggersList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"triggers": s.opts.Triggers.List()})
}

func (s *Server) handleTriggerToggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.opts.Triggers.Get(id)
	if err != nil {
		notFound(w)
		return
	}
	if err := s.opts.Triggers.SetEnabled(id, !t.Enabled); err != nil {
		notFound(w)
		return
	}
	t, _ = s.opts.Triggers.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{"trigger": t})
}

func (s *Server) handleTriggerDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.opts.Triggers.Delete(id); err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// --- sub-agents ---

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := []*orchestrator.SubAgent{}
	if s.opts.Orchestrator != nil {
		agents = s.opts.Orchestrator.Agents().Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"routes": s.opts.Config.Providers.Tiers,
	})
}

// --- audit ---

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	entries, err := s.opts.Audit.ReadDate(date)
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "entries": entries})
}

func (s *Server) handleAuditDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.opts.Audit.ListDates()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}
