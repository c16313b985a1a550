package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/providers"
)

// Tier names an abstract model class from the tier table.
type Tier string

const (
	TierFast      Tier = "fast"
	TierBalanced  Tier = "balanced"
	TierReasoning Tier = "reasoning"
	TierLocal     Tier = "local"
)

// lowBudgetThreshold routes everything to the cheapest tier once the
// remaining daily budget drops below it.
const lowBudgetThreshold = 0.10

// normalizeTier maps planner output onto a known tier. Empty or
// unrecognized values leave routing to the complexity rule.
func normalizeTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierFast, TierBalanced, TierReasoning, TierLocal:
		return t
	}
	return ""
}

// Route is a concrete routing decision for one LLM workload. An empty
// Provider means the registry default.
type Route struct {
	Tier      Tier   `json:"tier"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Router picks a provider+model per subtask from the configured tier
// table, the remaining budget, and the subtask's own requirements.
type Router struct {
	tiers     config.ModelTierConfig
	providers *providers.Registry
	costs     *costs.Tracker
}

// NewRouter binds the tier table and seeds the cost tracker with each
// tier's price coefficients so routed calls are priced even for models
// missing from the default pricing map. The local tier keeps its zero
// coefficients.
func NewRouter(tiers config.ModelTierConfig, reg *providers.Registry, tracker *costs.Tracker) *Router {
	r := &Router{tiers: tiers, providers: reg, costs: tracker}
	for _, tier := range []Tier{TierFast, TierBalanced, TierReasoning, TierLocal} {
		tr := r.tierRoute(tier)
		if tr.Model != "" {
			tracker.SetPrice(tr.Model, costs.ModelPrice{Input: tr.InputPrice, Output: tr.OutputPrice})
		}
	}
	return r
}

// Route applies the routing policy to one subtask:
// privacy pins work to the local tier, a nearly exhausted daily budget
// forces the cheapest tier, an explicit tier wins otherwise, and
// everything else routes by complexity.
func (r *Router) Route(sub *PlannedSubtask) Route {
	if sub.RequiresPrivacy {
		if r.available(TierLocal) {
			return r.ForTier(TierLocal, "privacy-sensitive work stays on the local runtime")
		}
		slog.Warn("orchestrator.no_local_tier", "subtask", sub.Title)
		return r.ForTier(TierBalanced, "privacy requested but no local tier is configured")
	}
	if r.lowBudget() {
		return r.ForTier(r.cheapest(), fmt.Sprintf("remaining daily budget under $%.2f", lowBudgetThreshold))
	}
	if sub.Tier != "" {
		return r.ForTier(sub.Tier, "tier requested by the plan")
	}
	switch {
	case sub.Complexity >= 1 && sub.Complexity <= 3:
		return r.ForTier(TierFast, fmt.Sprintf("complexity %d", sub.Complexity))
	case sub.Complexity >= 8 && sub.Complexity <= 10:
		return r.ForTier(TierReasoning, fmt.Sprintf("complexity %d", sub.Complexity))
	}
	return r.ForTier(TierBalanced, fmt.Sprintf("complexity %d", sub.Complexity))
}

// ForTier resolves a tier against the configured table, degrading along
// a fallback chain when the requested tier has no usable provider. With
// no tier table at all the route is empty and Resolve falls back to the
// registry default.
func (r *Router) ForTier(tier Tier, rationale string) Route {
	for _, t := range fallbackChain(tier) {
		if r.available(t) {
			tr := r.tierRoute(t)
			if t != tier {
				rationale = fmt.Sprintf("%s (tier %s unavailable, using %s)", rationale, tier, t)
			}
			return Route{Tier: t, Provider: tr.Provider, Model: tr.Model, Rationale: rationale}
		}
	}
	return Route{Tier: tier, Rationale: rationale + " (no tier table, using default provider)"}
}

// Resolve turns a route into a live provider and model name.
func (r *Router) Resolve(route Route) (providers.Provider, string, error) {
	if route.Provider == "" {
		p, err := r.providers.Default()
		if err != nil {
			return nil, "", err
		}
		model := route.Model
		if model == "" {
			model = p.DefaultModel()
		}
		return p, model, nil
	}
	p, err := r.providers.Get(route.Provider)
	if err != nil {
		return nil, "", err
	}
	model := route.Model
	if model == "" {
		model = p.DefaultModel()
	}
	return p, model, nil
}

// available reports whether a tier maps to a registered provider.
func (r *Router) available(t Tier) bool {
	tr := r.tierRoute(t)
	if tr.Provider == "" || tr.Model == "" {
		return false
	}
	_, err := r.providers.Get(tr.Provider)
	return err == nil
}

// lowBudget reports whether a hard daily limit is configured and the
// remaining headroom is below the threshold.
func (r *Router) lowBudget() bool {
	b := r.costs.Budget()
	if b.DailyLimitUSD <= 0 {
		return false
	}
	return b.DailyLimitUSD-r.costs.Today().Cost < lowBudgetThreshold
}

// cheapest returns the available tier with the lowest combined price
// coefficients. Local wins with its zero prices when configured.
func (r *Router) cheapest() Tier {
	best := TierBalanced
	bestPrice := -1.0
	for _, t := range []Tier{TierLocal, TierFast, TierBalanced, TierReasoning} {
		if !r.available(t) {
			continue
		}
		tr := r.tierRoute(t)
		price := tr.InputPrice + tr.OutputPrice
		if bestPrice < 0 || price < bestPrice {
			best = t
			bestPrice = price
		}
	}
	return best
}

func (r *Router) tierRoute(t Tier) config.TierRoute {
	switch t {
	case TierFast:
		return r.tiers.Fast
	case TierBalanced:
		return r.tiers.Balanced
	case TierReasoning:
		return r.tiers.Reasoning
	case TierLocal:
		return r.tiers.Local
	}
	return config.TierRoute{}
}

// fallbackChain orders the tiers tried when the wanted one is not
// configured. Neighbors by capability come first; local is last for
// non-local requests since its model quality is unknown.
func fallbackChain(t Tier) []Tier {
	switch t {
	case TierFast:
		return []Tier{TierFast, TierBalanced, TierReasoning, TierLocal}
	case TierReasoning:
		return []Tier{TierReasoning, TierBalanced, TierFast, TierLocal}
	case TierLocal:
		return []Tier{TierLocal, TierBalanced, TierFast, TierReasoning}
	default:
		return []Tier{TierBalanced, TierReasoning, TierFast, TierLocal}
	}
}
