package tools

import "github.com/nextlevelbuilder/agentd/internal/approvals"

// riskLabels classifies built-in tools. Unlisted tools default to
// medium.
var riskLabels = map[string]approvals.Risk{
	"read_file":      approvals.RiskLow,
	"list_directory": approvals.RiskLow,
	"web_fetch":      approvals.RiskLow,
	"recall":         approvals.RiskLow,
	"remember":       approvals.RiskLow,
	"system_info":    approvals.RiskLow,
	"get_costs":      approvals.RiskLow,
	"task_status":    approvals.RiskLow,
	"list_tasks":     approvals.RiskLow,
	"list_triggers":  approvals.RiskLow,
	"list_approvals": approvals.RiskLow,

	"write_file":      approvals.RiskMedium,
	"browser_action":  approvals.RiskMedium,
	"email_read":      approvals.RiskMedium,
	"schedule_cron":   approvals.RiskMedium,
	"clipboard_write": approvals.RiskMedium,

	"run_shell":        approvals.RiskHigh,
	"email_send":       approvals.RiskHigh,
	"mastodon_post":    approvals.RiskHigh,
	"reddit_post":      approvals.RiskHigh,
	"open_application": approvals.RiskHigh,
}

// dangerousTools require approval at medium autonomy.
var dangerousTools = map[string]bool{
	"run_shell":        true,
	"write_file":       true,
	"email_send":       true,
	"mastodon_post":    true,
	"reddit_post":      true,
	"open_application": true,
	"clipboard_write":  true,
}

// RiskFor returns the risk label for a tool.
func RiskFor(name string) approvals.Risk {
	if r, ok := riskLabels[name]; ok {
		return r
	}
	return approvals.RiskMedium
}

// needsApproval applies the autonomy policy: low asks for everything,
// medium asks for the dangerous set, high never asks.
func needsApproval(autonomyLevel, toolName string) bool {
	switch autonomyLevel {
	case "low":
		return true
	case "high":
		return false
	default:
		return dangerousTools[toolName]
	}
}
