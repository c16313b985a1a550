package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/bootstrap"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
)

// providerEnvKeys maps each provider choice to the env var that must
// carry its credential. Keys never land in agentd.json.
var providerEnvKeys = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"compat":    "COMPAT_API_KEY",
}

func onboardCmd() *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "First-run setup: write agentd.json and seed the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if auto {
				return runAutoOnboard()
			}
			return runOnboard()
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "non-interactive setup from environment variables")
	return cmd
}

func runOnboard() error {
	cfg := config.Default()

	var (
		name      = cfg.Agent.Name
		workspace = cfg.Agent.Workspace
		autonomy  = cfg.Agent.AutonomyLevel
		provider  = cfg.Agent.Provider
		model     string
		apiKey    string
		telegram  bool
		discord   bool
		heartbeat bool
		interval  = strconv.Itoa(cfg.Heartbeat.IntervalMinutes)
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent name").
				Value(&name),
			huh.NewInput().
				Title("Workspace directory").
				Description("All agent file access is confined to this directory.").
				Value(&workspace),
			huh.NewSelect[string]().
				Title("Autonomy level").
				Description("low: approve everything · medium: approve dangerous tools · high: never ask").
				Options(huh.NewOptions("low", "medium", "high")...).
				Value(&autonomy),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenAI-compatible endpoint", "compat"),
					huh.NewOption("Local (Ollama-style, no key)", "local"),
				).
				Value(&provider),
			huh.NewInput().
				Title("Model").
				Description("Leave empty for the provider default.").
				Value(&model),
			huh.NewInput().
				Title("API key").
				Description("Used for a connectivity check only; exported to your environment, never written to agentd.json.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Telegram?").
				Description("Requires TELEGRAM_BOT_TOKEN in the environment.").
				Value(&telegram),
			huh.NewConfirm().
				Title("Enable Discord?").
				Description("Requires DISCORD_BOT_TOKEN in the environment.").
				Value(&discord),
			huh.NewConfirm().
				Title("Enable heartbeat?").
				Description("Periodic self-check driven by HEARTBEAT.md.").
				Value(&heartbeat),
			huh.NewInput().
				Title("Heartbeat interval (minutes)").
				Value(&interval).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n <= 0 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Agent.Name = strings.TrimSpace(name)
	cfg.Agent.Workspace = strings.TrimSpace(workspace)
	cfg.Agent.AutonomyLevel = autonomy
	cfg.Agent.Provider = provider
	cfg.Agent.Model = strings.TrimSpace(model)
	cfg.Channels.Telegram.Enabled = telegram
	cfg.Channels.Discord.Enabled = discord
	cfg.Heartbeat.Enabled = heartbeat
	cfg.Heartbeat.IntervalMinutes, _ = strconv.Atoi(strings.TrimSpace(interval))

	if apiKey != "" {
		setProviderKey(cfg, provider, apiKey)
		fmt.Print("Checking provider connectivity... ")
		if err := verifyProvider(cfg); err != nil {
			fmt.Printf("FAILED (%v)\n", err)
			var proceed bool
			confirm := huh.NewConfirm().Title("Save the configuration anyway?").Value(&proceed)
			if err := confirm.Run(); err != nil || !proceed {
				return fmt.Errorf("onboarding aborted")
			}
		} else {
			fmt.Println("OK")
		}
	}

	return finishOnboard(cfg, provider, apiKey)
}

// runAutoOnboard configures non-interactively from the environment:
// first provider with a key wins (Docker/CI path).
func runAutoOnboard() error {
	cfg, err := config.Load(config.ResolvePath(cfgFile))
	if err != nil {
		return err
	}
	provider := cfg.Agent.Provider
	if keyFor(cfg, provider) == "" {
		provider = ""
		for _, p := range []string{"anthropic", "openai", "compat"} {
			if keyFor(cfg, p) != "" {
				provider = p
				break
			}
		}
	}
	if provider == "" {
		return fmt.Errorf("auto-onboard: no provider API key in the environment")
	}
	cfg.Agent.Provider = provider
	fmt.Printf("auto-onboard: provider %s\n", provider)
	return finishOnboard(cfg, provider, keyFor(cfg, provider))
}

// finishOnboard writes agentd.json, seeds the workspace, generates the
// gateway token and prints what to do next.
func finishOnboard(cfg *config.Config, provider, apiKey string) error {
	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.Seed(workspace); err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	}

	cfgPath := config.ResolvePath(cfgFile)
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	token, err := guard.LoadOrCreateToken(workspace)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Printf("Workspace seeded at %s\n", workspace)
	fmt.Printf("Gateway token (also in %s/.gateway-token):\n  %s\n", workspace, token)

	if envKey := providerEnvKeys[provider]; envKey != "" && apiKey != "" && os.Getenv(envKey) == "" {
		fmt.Println()
		fmt.Println("Credentials stay in the environment. Add to your shell profile:")
		fmt.Printf("  export %s=<your key>\n", envKey)
	}
	fmt.Println()
	fmt.Println("Start the kernel with: agentd run")
	return nil
}

func setProviderKey(cfg *config.Config, provider, key string) {
	switch provider {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = key
	case "openai":
		cfg.Providers.OpenAI.APIKey = key
	case "compat":
		cfg.Providers.Compat.APIKey = key
	}
}

func keyFor(cfg *config.Config, provider string) string {
	switch provider {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "compat":
		return cfg.Providers.Compat.APIKey
	case "local":
		return "local" // no credential needed
	}
	return ""
}
