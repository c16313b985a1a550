// Package costs tracks LLM token usage and spend per calendar day and
// enforces the configured budget. Usage history persists to costs.json
// (last 90 days), the budget to cost-config.json.
package costs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const historyDays = 90

// ModelPrice is USD per million tokens for one model.
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelUsage is the per-model slice of a day's usage.
type ModelUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Calls        int     `json:"calls"`
}

// DailyUsage aggregates one calendar day. CallCount always equals the
// sum of per-model call counts.
type DailyUsage struct {
	Date         string                `json:"date"` // YYYY-MM-DD
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
	Cost         float64               `json:"cost"`
	CallCount    int                   `json:"call_count"`
	Models       map[string]ModelUsage `json:"models"`
}

// Budget caps spend. Zero limits mean unlimited; HardStop makes
// CanMakeCall return false once a limit is reached.
type Budget struct {
	DailyLimitUSD  float64 `json:"daily_limit_usd"`
	WeeklyLimitUSD float64 `json:"weekly_limit_usd"`
	HardStop       bool    `json:"hard_stop"`
}

// Tracker owns the usage ledger and budget.
type Tracker struct {
	dir     string
	pricing map[string]ModelPrice

	mu     sync.Mutex
	days   map[string]*DailyUsage
	budget Budget
	now    func() time.Time
}

// NewTracker loads costs.json and cost-config.json from dir, tolerating
// missing files.
func NewTracker(dir string, pricing map[string]ModelPrice) (*Tracker, error) {
	t := &Tracker{
		dir:     dir,
		pricing: pricing,
		days:    map[string]*DailyUsage{},
		now:     time.Now,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetPrice adds or replaces a model's price at runtime.
func (t *Tracker) SetPrice(model string, p ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pricing == nil {
		t.pricing = map[string]ModelPrice{}
	}
	t.pricing[model] = p
}

// EstimateCost returns the USD cost of a call. Unknown models (local
// runtimes) cost zero.
func (t *Tracker) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	p, ok := t.pricing[model]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
}

// Track records one LLM call against today and persists the ledger.
// Returns the updated day.
func (t *Tracker) Track(model string, inputTokens, outputTokens int) DailyUsage {
	cost := t.EstimateCost(model, inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	date := t.now().UTC().Format("2006-01-02")
	day, ok := t.days[date]
	if !ok {
		day = &DailyUsage{Date: date, Models: map[string]ModelUsage{}}
		t.days[date] = day
	}
	day.InputTokens += inputTokens
	day.OutputTokens += outputTokens
	day.Cost += cost
	day.CallCount++

	mu := day.Models[model]
	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	mu.Cost += cost
	mu.Calls++
	day.Models[model] = mu

	if err := t.persistLocked(); err != nil {
		slog.Error("costs.persist_failed", "error", err)
	}
	return copyDay(day)
}

// Today returns today's usage, zero-valued if nothing tracked yet.
func (t *Tracker) Today() DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	date := t.now().UTC().Format("2006-01-02")
	if day, ok := t.days[date]; ok {
		return copyDay(day)
	}
	return DailyUsage{Date: date, Models: map[string]ModelUsage{}}
}

// History returns up to n most recent days, newest first.
func (t *Tracker) History(n int) []DailyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DailyUsage, 0, len(t.days))
	for _, d := range t.days {
		out = append(out, copyDay(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// CanMakeCall reports whether the budget permits another LLM call.
// Without HardStop the budget is advisory and this always returns true.
func (t *Tracker) CanMakeCall() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.budget.HardStop {
		return true
	}
	date := t.now().UTC().Format("2006-01-02")
	if t.budget.DailyLimitUSD > 0 {
		if day, ok := t.days[date]; ok && day.Cost >= t.budget.DailyLimitUSD {
			return false
		}
	}
	if t.budget.WeeklyLimitUSD > 0 && t.weekCostLocked() >= t.budget.WeeklyLimitUSD {
		return false
	}
	return true
}

// WeekCost returns spend over the last 7 days including today.
func (t *Tracker) WeekCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weekCostLocked()
}

func (t *Tracker) weekCostLocked() float64 {
	cutoff := t.now().UTC().AddDate(0, 0, -6).Format("2006-01-02")
	var sum float64
	for date, d := range t.days {
		if date >= cutoff {
			sum += d.Cost
		}
	}
	return sum
}

// Budget returns the current budget.
func (t *Tracker) Budget() Budget {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget
}

// SetBudget replaces the budget and persists it.
func (t *Tracker) SetBudget(b Budget) error {
	if b.DailyLimitUSD < 0 || b.WeeklyLimitUSD < 0 {
		return fmt.Errorf("budget limits must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget = b

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(t.dir, "cost-config.json"), data)
}

func (t *Tracker) load() error {
	if data, err := os.ReadFile(filepath.Join(t.dir, "costs.json")); err == nil {
		var days []DailyUsage
		if err := json.Unmarshal(data, &days); err != nil {
			slog.Warn("costs.history_corrupt_starting_fresh", "error", err)
		} else {
			for i := range days {
				d := days[i]
				if d.Models == nil {
					d.Models = map[string]ModelUsage{}
				}
				t.days[d.Date] = &d
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read costs.json: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(t.dir, "cost-config.json")); err == nil {
		if err := json.Unmarshal(data, &t.budget); err != nil {
			slog.Warn("costs.budget_corrupt_using_none", "error", err)
			t.budget = Budget{}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read cost-config.json: %w", err)
	}
	return nil
}

// persistLocked writes the last 90 days to costs.json. Caller holds t.mu.
func (t *Tracker) persistLocked() error {
	days := make([]DailyUsage, 0, len(t.days))
	for _, d := range t.days {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })
	if len(days) > historyDays {
		for _, stale := range days[historyDays:] {
			delete(t.days, stale.Date)
		}
		days = days[:historyDays]
	}
	data, err := json.MarshalIndent(days, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(t.dir, "costs.json"), data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".costs-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyDay(d *DailyUsage) DailyUsage {
	cp := *d
	cp.Models = make(map[string]ModelUsage, len(d.Models))
	for k, v := range d.Models {
		cp.Models[k] = v
	}
	return cp
}
