package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentd/internal/agent"
	"github.com/nextlevelbuilder/agentd/internal/approvals"
	"github.com/nextlevelbuilder/agentd/internal/audit"
	"github.com/nextlevelbuilder/agentd/internal/bootstrap"
	"github.com/nextlevelbuilder/agentd/internal/bus"
	"github.com/nextlevelbuilder/agentd/internal/channels"
	"github.com/nextlevelbuilder/agentd/internal/channels/discord"
	"github.com/nextlevelbuilder/agentd/internal/channels/telegram"
	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/costs"
	"github.com/nextlevelbuilder/agentd/internal/gateway"
	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/mcp"
	"github.com/nextlevelbuilder/agentd/internal/memory"
	"github.com/nextlevelbuilder/agentd/internal/orchestrator"
	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/settings"
	"github.com/nextlevelbuilder/agentd/internal/skills"
	"github.com/nextlevelbuilder/agentd/internal/store/pg"
	"github.com/nextlevelbuilder/agentd/internal/tasks"
	"github.com/nextlevelbuilder/agentd/internal/threads"
	"github.com/nextlevelbuilder/agentd/internal/tools"
	"github.com/nextlevelbuilder/agentd/internal/triggers"
	"github.com/nextlevelbuilder/agentd/pkg/protocol"
)

// runKernel is the composition root: it builds every subsystem from
// config, wires them over the bus, and blocks until a signal or a
// fatal subsystem error.
func runKernel() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfgPath := config.ResolvePath(cfgFile)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.HasAnyProvider() {
		return fmt.Errorf("no LLM provider configured: set ANTHROPIC_API_KEY (or run `agentd onboard`)")
	}

	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.Seed(workspace); err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	}

	token, err := guard.LoadOrCreateToken(workspace)
	if err != nil {
		return err
	}

	// Settings are seeded from config exactly once; after settings.json
	// exists the control plane owns every switch.
	settingsPath := filepath.Join(workspace, "settings.json")
	_, statErr := os.Stat(settingsPath)
	firstRun := os.IsNotExist(statErr)

	st, err := settings.NewManager(settingsPath, token)
	if err != nil {
		return err
	}
	if firstRun {
		if err := st.Seed(seedPatch(cfg)); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		slog.Info("settings.seeded", "path", settingsPath)
	}

	auditLog, err := audit.New(filepath.Join(workspace, "logs"), st.Get().Security.AuditLog)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	eventBus := bus.New()

	reg, err := providers.BuildRegistry(cfg)
	if err != nil {
		return err
	}

	tracker, err := costs.NewTracker(workspace, tierPricing(cfg))
	if err != nil {
		return err
	}
	memStore, err := memory.NewStore(filepath.Join(workspace, "memory"))
	if err != nil {
		return err
	}
	skillSet := skills.NewLoader(filepath.Join(workspace, "skills"))
	threadMgr := threads.NewManager(filepath.Join(workspace, "threads"))

	broker, err := approvals.NewBroker(filepath.Join(workspace, "approvals"), eventBus)
	if err != nil {
		return err
	}
	defer broker.Close()

	taskStore, err := tasks.NewFileStore(filepath.Join(workspace, "tasks"))
	if err != nil {
		return err
	}
	trigReg, err := triggers.NewRegistry(filepath.Join(workspace, "triggers.json"))
	if err != nil {
		return err
	}

	toolReg := tools.NewRegistry(st, auditLog, eventBus, broker, taskStore)

	router := orchestrator.NewRouter(cfg.Providers.Tiers, reg, tracker)
	orch := orchestrator.New(taskStore, tracker, reg, router, eventBus)

	agentName := st.Get().AgentName
	if agentName == "" {
		agentName = cfg.Agent.Name
	}
	core := agent.New(agent.Options{
		Name:            agentName,
		Workspace:       workspace,
		Providers:       reg,
		DefaultProvider: cfg.Agent.Provider,
		DefaultModel:    cfg.Agent.Model,
		Threads:         threadMgr,
		Tools:           toolReg,
		Costs:           tracker,
		Approvals:       broker,
		Tasks:           taskStore,
		Memory:          memStore,
		Skills:          skillSet,
		Settings:        st,
	})
	orch.BindRunner(core)

	fetchCache, err := tools.NewFetchCache(filepath.Join(workspace, "fetch-cache.db"))
	if err != nil {
		return fmt.Errorf("open fetch cache: %w", err)
	}
	defer fetchCache.Close()

	registerBuiltins(toolReg, builtinDeps{
		cfg:        cfg,
		workspace:  workspace,
		settings:   st,
		memory:     memStore,
		tasks:      taskStore,
		delegator:  orch,
		triggers:   trigReg,
		costs:      tracker,
		approvals:  broker,
		fetchCache: fetchCache,
	})

	engine := agent.NewEngine(core, eventBus, eventBus, taskStore)
	trigEngine := triggers.NewEngine(trigReg, eventBus, st, workspace)
	webhookSrv := triggers.NewWebhookServer(trigReg, trigEngine, cfg.Webhook.Port)

	limiter := guard.NewRateLimiter()
	chMgr := channels.NewManager(eventBus)
	mediaDir := filepath.Join(workspace, "media")
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, cfg.Channels.AllowedUserIDs, eventBus, limiter, mediaDir)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		chMgr.Register(tg)
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, cfg.Channels.AllowedUserIDs, eventBus, limiter, mediaDir)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		chMgr.Register(dc)
	}

	server := gateway.NewServer(gateway.Options{
		Config:       cfg,
		Token:        token,
		Version:      Version,
		Settings:     st,
		Events:       eventBus,
		Router:       eventBus,
		Tasks:        taskStore,
		Approvals:    broker,
		Costs:        tracker,
		Triggers:     trigReg,
		Orchestrator: orch,
		Audit:        auditLog,
		Memory:       memStore,
		Skills:       skillSet,
		Limiter:      limiter,
		Provider:     cfg.Agent.Provider,
		Model:        cfg.Agent.Model,
	})
	chMgr.Register(server.ChatChannel())

	mcpMgr := mcp.NewManager(toolReg, cfg.MCPServers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := agent.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry.init_failed", "error", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		shutdownTracing(flushCtx)
	}()

	// The mirror is advisory: files stay authoritative, so an
	// unreachable database downgrades to a warning instead of refusing
	// to boot.
	var mirror *pg.Mirror
	if cfg.Database.URL != "" {
		db, dbErr := pg.Open(cfg.Database.URL)
		if dbErr != nil {
			slog.Warn("store.mirror_unavailable", "error", dbErr)
		} else {
			defer db.Close()
			mirror = pg.NewMirror(db, taskStore, broker, tracker)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("kernel.shutdown_signal", "signal", sig.String())
			eventBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := mcpMgr.Start(ctx); err != nil {
		return err
	}
	defer mcpMgr.Stop()

	if err := chMgr.StartAll(ctx); err != nil {
		return err
	}

	stopTailnet, err := initTailscale(ctx, cfg, server.Handler())
	if err != nil {
		slog.Warn("tailscale.init_failed", "error", err)
	}
	if stopTailnet != nil {
		defer stopTailnet()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		trigEngine.Run(gctx)
		return nil
	})
	if cfg.Heartbeat.Enabled {
		hb := triggers.NewHeartbeat(
			filepath.Join(workspace, bootstrap.HeartbeatFile),
			time.Duration(cfg.Heartbeat.IntervalMinutes)*time.Minute,
			cfg.Heartbeat.Channel,
			eventBus,
		)
		g.Go(func() error {
			hb.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return webhookSrv.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	if mirror != nil {
		g.Go(func() error {
			return mirror.Run(gctx, eventBus)
		})
	}

	slog.Info("kernel.ready",
		"agent", agentName,
		"version", Version,
		"workspace", workspace,
		"provider", cfg.Agent.Provider,
		"gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		"webhook", cfg.Webhook.Port,
		"channels", chMgr.Names(),
		"tools", len(toolReg.Names()),
	)

	err = g.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	chMgr.StopAll(stopCtx)
	orch.Shutdown()

	if err != nil && err != context.Canceled {
		return err
	}
	slog.Info("kernel.stopped")
	return nil
}

// seedPatch carries boot-config values into settings.json on first run.
// Only explicitly set fields are seeded; everything else keeps the
// settings defaults.
func seedPatch(cfg *config.Config) map[string]interface{} {
	patch := map[string]interface{}{}
	if cfg.Agent.Name != "" {
		patch["agent_name"] = cfg.Agent.Name
	}
	if cfg.Agent.AutonomyLevel != "" {
		patch["autonomy_level"] = cfg.Agent.AutonomyLevel
	}

	sec := map[string]interface{}{}
	seedBool := func(key string, v *bool) {
		if v != nil {
			sec[key] = *v
		}
	}
	seedBool("sandbox_enabled", cfg.Security.SandboxEnabled)
	seedBool("ssrf_protection", cfg.Security.SSRFProtection)
	seedBool("injection_guard", cfg.Security.InjectionGuard)
	seedBool("gateway_auth", cfg.Security.GatewayAuth)
	seedBool("audit_log", cfg.Security.AuditLog)
	seedBool("allow_localhost", cfg.Security.AllowLocalhost)
	if len(sec) > 0 {
		patch["security"] = sec
	}

	lim := map[string]interface{}{}
	if cfg.Limits.ShellTimeoutSeconds > 0 {
		lim["shell_timeout_seconds"] = cfg.Limits.ShellTimeoutSeconds
	}
	if cfg.Limits.MaxToolOutputChars > 0 {
		lim["max_tool_output_chars"] = cfg.Limits.MaxToolOutputChars
	}
	if cfg.Limits.RateLimitPerMinute > 0 {
		lim["rate_limit_per_minute"] = cfg.Limits.RateLimitPerMinute
	}
	if cfg.Limits.MaxRequestBodyBytes > 0 {
		lim["max_request_body_bytes"] = cfg.Limits.MaxRequestBodyBytes
	}
	if cfg.Agent.MaxToolCalls > 0 {
		lim["max_tool_calls_per_turn"] = cfg.Agent.MaxToolCalls
	}
	if len(lim) > 0 {
		patch["limits"] = lim
	}
	return patch
}

// tierPricing builds the cost table from the tier routes. Models outside
// the table track tokens but price at zero.
func tierPricing(cfg *config.Config) map[string]costs.ModelPrice {
	out := map[string]costs.ModelPrice{}
	routes := []config.TierRoute{
		cfg.Providers.Tiers.Fast,
		cfg.Providers.Tiers.Balanced,
		cfg.Providers.Tiers.Reasoning,
		cfg.Providers.Tiers.Local,
	}
	for _, r := range routes {
		if r.Model == "" {
			continue
		}
		out[r.Model] = costs.ModelPrice{Input: r.InputPrice, Output: r.OutputPrice}
	}
	return out
}
