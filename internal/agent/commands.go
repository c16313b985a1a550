package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
)

const taskListLimit = 15

// handleCommand matches the chat commands that bypass the LLM. Unknown
// slash commands fall through to the model.
func (a *Agent) handleCommand(text, userID string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}

	switch strings.ToLower(fields[0]) {
	case "/approve":
		if len(fields) < 2 {
			return "Usage: /approve <approval-id-prefix>", true
		}
		return a.resolveApproval(true, fields[1], userID), true
	case "/reject":
		if len(fields) < 2 {
			return "Usage: /reject <approval-id-prefix>", true
		}
		return a.resolveApproval(false, fields[1], userID), true
	case "/pending":
		return a.pendingApprovals(userID), true
	case "/tasks":
		return a.taskListing(), true
	case "/cost", "/costs":
		return a.costSummary(), true
	}
	return "", false
}

func (a *Agent) resolveApproval(approve bool, prefix, userID string) string {
	if a.approvals == nil {
		return "Approvals are not available."
	}
	var req *approvals.Request
	var err error
	if approve {
		req, err = a.approvals.Approve(prefix, userID)
	} else {
		req, err = a.approvals.Reject(prefix, userID)
	}
	if err != nil {
		return fmt.Sprintf("Could not resolve %q: %v", prefix, err)
	}
	verb := "Rejected"
	if approve {
		verb = "Approved"
	}
	return fmt.Sprintf("%s %s: %s", verb, shortID(req.ID), req.Description)
}

// pendingApprovals lists open approvals addressed to this user. Requests
// without a user (heartbeat or trigger work) show for everyone.
func (a *Agent) pendingApprovals(userID string) string {
	if a.approvals == nil {
		return "Approvals are not available."
	}
	var b strings.Builder
	n := 0
	for _, req := range a.approvals.Pending() {
		if req.UserID != "" && userID != "" && req.UserID != userID {
			continue
		}
		remaining := time.Until(req.ExpiresAt).Round(time.Minute)
		fmt.Fprintf(&b, "%s [%s] %s (expires in %s)\n", shortID(req.ID), req.Risk, req.Description, remaining)
		n++
	}
	if n == 0 {
		return "No pending approvals."
	}
	return "Pending approvals:\n" + strings.TrimRight(b.String(), "\n") + "\n\nUse /approve <id> or /reject <id>."
}

// taskListing renders the most recent tasks, one per line, columns
// padded by display width so CJK titles stay aligned.
func (a *Agent) taskListing() string {
	if a.tasks == nil {
		return "Tasks are not available."
	}
	list := a.tasks.List()
	if len(list) == 0 {
		return "No tasks yet."
	}
	if len(list) > taskListLimit {
		list = list[:taskListLimit]
	}

	var b strings.Builder
	b.WriteString("Recent tasks:\n")
	for _, t := range list {
		title := runewidth.Truncate(t.Title, 40, "...")
		fmt.Fprintf(&b, "%s %s %3d%% $%.4f %s\n",
			shortID(t.ID),
			runewidth.FillRight(string(t.Status), 16),
			t.Progress,
			t.Usage.Cost,
			title,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Agent) costSummary() string {
	day := a.costs.Today()
	summary := fmt.Sprintf("Today: %d LLM calls, %d tokens in / %d out, $%.4f estimated.",
		day.CallCount, day.InputTokens, day.OutputTokens, day.Cost)
	if budget := a.costs.Budget(); budget.DailyLimitUSD > 0 {
		summary += fmt.Sprintf(" Daily budget $%.2f, $%.2f remaining.",
			budget.DailyLimitUSD, budget.DailyLimitUSD-day.Cost)
	}
	return summary
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
