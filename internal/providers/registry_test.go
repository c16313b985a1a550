package providers

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

type stubProvider struct{ name string }

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "stub"}, nil
}
func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Name() string         { return s.name }

func TestRegistry_RegisterAndDefault(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Default(); err == nil {
		t.Error("empty registry should have no default")
	}

	r.Register(&stubProvider{name: "first"})
	r.Register(&stubProvider{name: "second"})

	d, err := r.Default()
	if err != nil || d.Name() != "first" {
		t.Errorf("Default = %v, %v; want first", d, err)
	}

	if err := r.SetDefault("second"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	d, _ = r.Default()
	if d.Name() != "second" {
		t.Errorf("Default after SetDefault = %q", d.Name())
	}

	if err := r.SetDefault("nope"); err == nil {
		t.Error("SetDefault of unknown provider should error")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Errorf("Names = %v", names)
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Run("no providers", func(t *testing.T) {
		cfg := config.Default()
		if _, err := BuildRegistry(cfg); err == nil {
			t.Error("want error with no credentials")
		}
	})

	t.Run("anthropic default", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers.Anthropic.APIKey = "k"
		r, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatalf("BuildRegistry: %v", err)
		}
		d, err := r.Default()
		if err != nil || d.Name() != "anthropic" {
			t.Errorf("default = %v, %v", d, err)
		}
	})

	t.Run("falls back when configured default missing", func(t *testing.T) {
		cfg := config.Default()
		cfg.Agent.Provider = "openai"
		cfg.Providers.Anthropic.APIKey = "k"
		r, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatalf("BuildRegistry: %v", err)
		}
		d, _ := r.Default()
		if d.Name() != "anthropic" {
			t.Errorf("fallback default = %q, want anthropic", d.Name())
		}
	})

	t.Run("local needs base url and model", func(t *testing.T) {
		cfg := config.Default()
		cfg.Providers.Anthropic.APIKey = "k"
		cfg.Providers.Local.BaseURL = "http://localhost:11434/v1"
		cfg.Providers.Local.Model = "qwen2.5:7b"
		r, err := BuildRegistry(cfg)
		if err != nil {
			t.Fatalf("BuildRegistry: %v", err)
		}
		if _, err := r.Get("local"); err != nil {
			t.Errorf("local provider missing: %v", err)
		}
	})
}
