package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/store/pg"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "make a minimal live call to the default LLM provider")
	return cmd
}

func runDoctor(verify bool) {
	fmt.Println("agentd doctor")
	fmt.Printf("  Version:   %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:        %s\n", runtime.Version())
	fmt.Println()

	cfgPath := config.ResolvePath(cfgFile)
	fmt.Printf("  Config:    %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found; defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ws := cfg.WorkspacePath()
	fmt.Printf("  Workspace: %s", ws)
	if info, err := os.Stat(ws); err != nil {
		fmt.Println(" (MISSING — created on first run)")
	} else if !info.IsDir() {
		fmt.Println(" (NOT A DIRECTORY)")
	} else {
		fmt.Println(" (OK)")
	}

	tokenPath := filepath.Join(ws, guard.TokenFileName)
	fmt.Printf("  Token:     %s", tokenPath)
	if info, err := os.Stat(tokenPath); err != nil {
		fmt.Println(" (not yet generated)")
	} else if info.Mode().Perm()&0o077 != 0 {
		fmt.Printf(" (INSECURE PERMISSIONS %o — run: chmod 600)\n", info.Mode().Perm())
	} else {
		fmt.Println(" (OK)")
	}
	fmt.Println()

	fmt.Println("  Providers:")
	printProvider("anthropic", cfg.Providers.Anthropic.APIKey != "", cfg.Providers.Anthropic.Model)
	printProvider("openai", cfg.Providers.OpenAI.APIKey != "", cfg.Providers.OpenAI.Model)
	if cfg.Providers.Compat.BaseURL != "" {
		printProvider("compat", cfg.Providers.Compat.APIKey != "", cfg.Providers.Compat.Model)
	}
	fmt.Printf("    %-10s %s\n", "local:", cfg.Providers.Local.BaseURL)
	fmt.Printf("    %-10s %s\n", "default:", cfg.Agent.Provider)
	if !cfg.HasAnyProvider() {
		fmt.Println("    WARNING: no provider API key found in the environment")
	}
	fmt.Println()

	fmt.Println("  Channels:")
	printChannel("telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	printChannel("discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	fmt.Println()

	fmt.Printf("  Gateway:   %s:%d  webhook :%d\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Webhook.Port)
	if cfg.Heartbeat.Enabled {
		fmt.Printf("  Heartbeat: every %dm\n", cfg.Heartbeat.IntervalMinutes)
	} else {
		fmt.Println("  Heartbeat: disabled")
	}

	if cfg.Database.URL != "" {
		fmt.Print("  Postgres:  ")
		db, dbErr := pg.Open(cfg.Database.URL)
		if dbErr != nil {
			fmt.Printf("CONNECT FAILED (%s)\n", dbErr)
		} else {
			defer db.Close()
			if s, schemaErr := pg.CheckSchema(db); schemaErr != nil {
				fmt.Printf("schema check failed (%s)\n", schemaErr)
			} else {
				fmt.Printf("connected, schema %s\n", s.Describe())
			}
		}
	}

	if verify {
		fmt.Println()
		fmt.Print("  Live check: ")
		if err := verifyProvider(cfg); err != nil {
			fmt.Printf("FAILED (%s)\n", err)
		} else {
			fmt.Println("OK")
		}
	}
}

func printProvider(name string, hasKey bool, model string) {
	state := "no key"
	if hasKey {
		state = "key set"
	}
	if model != "" {
		state += ", model " + model
	}
	fmt.Printf("    %-10s %s\n", name+":", state)
}

func printChannel(name string, enabled, hasToken bool) {
	switch {
	case enabled && hasToken:
		fmt.Printf("    %-10s enabled\n", name+":")
	case enabled:
		fmt.Printf("    %-10s enabled but NO TOKEN in environment\n", name+":")
	default:
		fmt.Printf("    %-10s disabled\n", name+":")
	}
}

// verifyProvider makes the cheapest possible call to the default
// provider to prove the key and endpoint work.
func verifyProvider(cfg *config.Config) error {
	reg, err := providers.BuildRegistry(cfg)
	if err != nil {
		return err
	}
	p, err := reg.Get(cfg.Agent.Provider)
	if err != nil {
		p, err = reg.Default()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = p.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "ping"}},
		Model:    cfg.Agent.Model,
		Options:  map[string]interface{}{providers.OptMaxTokens: 1},
	})
	return err
}
