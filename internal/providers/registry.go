package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

// Registry resolves provider names to instances. The default provider
// serves session turns; the orchestrator picks others by tier.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds a provider; the first one registered becomes the default
// until SetDefault overrides it.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil, fmt.Errorf("no providers configured")
	}
	return r.providers[r.defaultName], nil
}

// SetDefault switches the default provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not configured", name)
	}
	r.defaultName = name
	return nil
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry constructs providers from config. Credentials select
// which providers exist; cfg.Agent.Provider selects the default, falling
// back to the first available when it is not configured.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		r.Register(NewAnthropicProvider(key, WithAnthropicModel(cfg.Providers.Anthropic.Model)))
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		r.Register(NewOpenAIProvider("openai", key, "", cfg.Providers.OpenAI.Model))
	}
	if c := cfg.Providers.Compat; c.BaseURL != "" {
		r.Register(NewOpenAIProvider("compat", c.APIKey, c.BaseURL, c.Model))
	}
	if l := cfg.Providers.Local; l.BaseURL != "" && l.Model != "" {
		r.Register(NewOpenAIProvider("local", "", l.BaseURL, l.Model))
	}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured: set ANTHROPIC_API_KEY, OPENAI_API_KEY, COMPAT_BASE_URL or LOCAL_MODEL")
	}

	if err := r.SetDefault(cfg.Agent.Provider); err != nil {
		slog.Warn("providers.default_unavailable", "want", cfg.Agent.Provider, "using", r.defaultName)
	}
	return r, nil
}
