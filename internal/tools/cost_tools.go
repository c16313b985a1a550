package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

// GetCostsTool reports LLM spend.
type GetCostsTool struct {
	tracker *costs.Tracker
}

func NewGetCostsTool(tracker *costs.Tracker) *GetCostsTool {
	return &GetCostsTool{tracker: tracker}
}

func (t *GetCostsTool) Definition() Definition {
	return Definition{
		Name:        "get_costs",
		Description: "Show LLM usage and spend for today and the recent days",
		Category:    settings.CategoryCosts,
		Parameters: objectSchema(nil, map[string]any{
			"days": prop("number", "How many days of history to include (default 7)"),
		}),
	}
}

func (t *GetCostsTool) Execute(ctx context.Context, args map[string]any) *Result {
	days := 7
	if v, ok := args["days"].(float64); ok && int(v) > 0 {
		days = int(v)
	}

	today := t.tracker.Today()
	budget := t.tracker.Budget()

	var b strings.Builder
	fmt.Fprintf(&b, "Today (%s): $%.4f, %d calls, %d in / %d out tokens\n",
		today.Date, today.Cost, today.CallCount, today.InputTokens, today.OutputTokens)

	if len(today.Models) > 0 {
		models := make([]string, 0, len(today.Models))
		for m := range today.Models {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			u := today.Models[m]
			fmt.Fprintf(&b, "  %s: $%.4f (%d calls)\n", m, u.Cost, u.Calls)
		}
	}

	if budget.DailyLimitUSD > 0 {
		fmt.Fprintf(&b, "Daily budget: $%.2f", budget.DailyLimitUSD)
		if budget.HardStop {
			b.WriteString(" (hard stop)")
		}
		b.WriteString("\n")
	}
	if budget.WeeklyLimitUSD > 0 {
		fmt.Fprintf(&b, "Weekly budget: $%.2f (spent $%.4f)\n", budget.WeeklyLimitUSD, t.tracker.WeekCost())
	}

	history := t.tracker.History(days)
	if len(history) > 1 {
		b.WriteString("History:\n")
		for _, d := range history {
			fmt.Fprintf(&b, "  %s: $%.4f (%d calls)\n", d.Date, d.Cost, d.CallCount)
		}
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// SetBudgetTool updates spend limits.
type SetBudgetTool struct {
	tracker *costs.Tracker
}

func NewSetBudgetTool(tracker *costs.Tracker) *SetBudgetTool {
	return &SetBudgetTool{tracker: tracker}
}

func (t *SetBudgetTool) Definition() Definition {
	return Definition{
		Name:        "set_budget",
		Description: "Set daily and weekly LLM spend limits",
		Category:    settings.CategoryCosts,
		Parameters: objectSchema(nil, map[string]any{
			"daily_limit_usd":  prop("number", "Daily spend limit in USD (0 = unlimited)"),
			"weekly_limit_usd": prop("number", "Weekly spend limit in USD (0 = unlimited)"),
			"hard_stop":        prop("boolean", "Refuse LLM calls once a limit is reached"),
		}),
	}
}

func (t *SetBudgetTool) Execute(ctx context.Context, args map[string]any) *Result {
	budget := t.tracker.Budget()
	if v, ok := args["daily_limit_usd"].(float64); ok {
		budget.DailyLimitUSD = v
	}
	if v, ok := args["weekly_limit_usd"].(float64); ok {
		budget.WeeklyLimitUSD = v
	}
	if v, ok := args["hard_stop"].(bool); ok {
		budget.HardStop = v
	}

	if err := t.tracker.SetBudget(budget); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to save budget: %v", err))
	}
	return SilentResult(fmt.Sprintf("Budget set: daily $%.2f, weekly $%.2f, hard stop %v.",
		budget.DailyLimitUSD, budget.WeeklyLimitUSD, budget.HardStop))
}
