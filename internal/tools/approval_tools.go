package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

// ListApprovalsTool shows pending approval requests.
type ListApprovalsTool struct {
	broker *approvals.Broker
}

func NewListApprovalsTool(broker *approvals.Broker) *ListApprovalsTool {
	return &ListApprovalsTool{broker: broker}
}

func (t *ListApprovalsTool) Definition() Definition {
	return Definition{
		Name:        "list_approvals",
		Description: "List approval requests waiting for a human decision",
		Category:    settings.CategoryTasks,
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (t *ListApprovalsTool) Execute(ctx context.Context, args map[string]any) *Result {
	pending := t.broker.Pending()
	if len(pending) == 0 {
		return SilentResult("No pending approvals.")
	}

	var b strings.Builder
	for _, req := range pending {
		fmt.Fprintf(&b, "- %s [%s risk] %s (expires %s)\n",
			req.ID[:8], req.Risk, req.Description, req.ExpiresAt.Format("15:04:05"))
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// ResolveApprovalTool approves or rejects a pending request. It backs
// both the approve and reject tool names.
type ResolveApprovalTool struct {
	broker  *approvals.Broker
	approve bool
}

func NewApproveTool(broker *approvals.Broker) *ResolveApprovalTool {
	return &ResolveApprovalTool{broker: broker, approve: true}
}

func NewRejectTool(broker *approvals.Broker) *ResolveApprovalTool {
	return &ResolveApprovalTool{broker: broker, approve: false}
}

func (t *ResolveApprovalTool) Definition() Definition {
	name, verb := "approve", "Approve"
	if !t.approve {
		name, verb = "reject", "Reject"
	}
	return Definition{
		Name:        name,
		Description: verb + " a pending approval request by id or unique prefix",
		Category:    settings.CategoryTasks,
		Parameters: objectSchema([]string{"id"}, map[string]any{
			"id": prop("string", "Approval id or unique prefix (4+ chars)"),
		}),
	}
}

func (t *ResolveApprovalTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("Error: id is required").WithError(guard.NewValidationError("id is required"))
	}

	call := CallFromContext(ctx)
	resolver := call.UserID
	if resolver == "" {
		resolver = "agent"
	}

	var req *approvals.Request
	var err error
	if t.approve {
		req, err = t.broker.Approve(id, resolver)
	} else {
		req, err = t.broker.Reject(id, resolver)
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	return SilentResult(fmt.Sprintf("Approval %s is now %s.", req.ID[:8], req.Status))
}
