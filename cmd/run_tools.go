package cmd

import (
	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/internal/triggers"
)

type builtinDeps struct {
	cfg        *config.Config
	workspace  string
	settings   *settings.Manager
	memory     *memory.Store
	tasks      *tasks.FileStore
	delegator  tools.Delegator
	triggers   *triggers.Registry
	costs      *costs.Tracker
	approvals  *approvals.Broker
	fetchCache *tools.FetchCache
}

// registerBuiltins wires every built-in tool into the registry. MCP
// tools register themselves later when their servers connect.
func registerBuiltins(reg *tools.Registry, d builtinDeps) {
	ws, st := d.workspace, d.settings

	reg.RegisterBuiltin(tools.NewReadFileTool(ws))
	reg.RegisterBuiltin(tools.NewWriteFileTool(ws))
	reg.RegisterBuiltin(tools.NewListDirectoryTool(ws))
	reg.RegisterBuiltin(tools.NewShellTool(ws, st))

	reg.RegisterBuiltin(tools.NewWebFetchTool(st, d.fetchCache))
	if d.cfg.Browser.Enabled {
		reg.RegisterBuiltin(tools.NewBrowserTool(ws, st))
	}

	reg.RegisterBuiltin(tools.NewRememberTool(d.memory))
	reg.RegisterBuiltin(tools.NewRecallTool(d.memory))

	reg.RegisterBuiltin(tools.NewCreateTaskTool(d.tasks, d.delegator))
	reg.RegisterBuiltin(tools.NewTaskStatusTool(d.tasks))
	reg.RegisterBuiltin(tools.NewListTasksTool(d.tasks))
	reg.RegisterBuiltin(tools.NewCancelTaskTool(d.tasks))

	reg.RegisterBuiltin(tools.NewCreateTriggerTool(d.triggers))
	reg.RegisterBuiltin(tools.NewListTriggersTool(d.triggers))
	reg.RegisterBuiltin(tools.NewDeleteTriggerTool(d.triggers))
	reg.RegisterBuiltin(tools.NewToggleTriggerTool(d.triggers))
	reg.RegisterBuiltin(tools.NewScheduleCronTool(d.triggers))
	reg.RegisterBuiltin(tools.NewCancelCronTool(d.triggers))
	reg.RegisterBuiltin(tools.NewEditHeartbeatTool(ws))

	reg.RegisterBuiltin(tools.NewListApprovalsTool(d.approvals))
	reg.RegisterBuiltin(tools.NewApproveTool(d.approvals))
	reg.RegisterBuiltin(tools.NewRejectTool(d.approvals))

	reg.RegisterBuiltin(tools.NewGetCostsTool(d.costs))
	reg.RegisterBuiltin(tools.NewSetBudgetTool(d.costs))

	reg.RegisterBuiltin(tools.NewSystemInfoTool(ws))
	reg.RegisterBuiltin(tools.NewClipboardReadTool())
	reg.RegisterBuiltin(tools.NewClipboardWriteTool())
	reg.RegisterBuiltin(tools.NewOpenApplicationTool())

	reg.RegisterBuiltin(tools.NewEmailSendTool(st))
	reg.RegisterBuiltin(tools.NewEmailReadTool(st))
	reg.RegisterBuiltin(tools.NewGitHubSearchTool(st))
	reg.RegisterBuiltin(tools.NewGitHubCreateIssueTool(st))
	reg.RegisterBuiltin(tools.NewMastodonPostTool(st))
	reg.RegisterBuiltin(tools.NewMastodonTimelineTool(st))
	reg.RegisterBuiltin(tools.NewRedditPostTool(st))
	reg.RegisterBuiltin(tools.NewRedditBrowseTool(st))
}
