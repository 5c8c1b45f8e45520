package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/channels"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/continuation"
	"github.com/mama-os/mama/pkg/cron"
	"github.com/mama-os/mama/pkg/enforce"
	"github.com/mama-os/mama/pkg/heartbeat"
	"github.com/mama-os/mama/pkg/joblock"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/orchestrator"
	"github.com/mama-os/mama/pkg/ratelimit"
	"github.com/mama-os/mama/pkg/roles"
	"github.com/mama-os/mama/pkg/routing"
	"github.com/mama-os/mama/pkg/runner"
	"github.com/mama-os/mama/pkg/sandbox"
	"github.com/mama-os/mama/pkg/session"
	"github.com/mama-os/mama/pkg/store"
	"github.com/mama-os/mama/pkg/tools"
)

// runtime holds the wired components of one mama process. Construction
// only initializes; the caller starts and stops services.
type runtime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	store     *store.Store
	locks     *joblock.Registry
	pool      *session.Pool
	orch      *orchestrator.Orchestrator
	cron      *cron.Scheduler
	heartbeat *heartbeat.Service
	manager   *channels.Manager
	startedAt time.Time

	shutdown func(reason string)
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "mama.db"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	r := &runtime{
		cfg:       cfg,
		bus:       bus.NewMessageBus(),
		store:     st,
		locks:     joblock.NewRegistry(filepath.Join(cfg.DataDir, "joblocks.json")),
		startedAt: time.Now(),
	}

	r.pool = session.NewPool(session.DefaultConfig(), st)
	roleManager := roles.NewManager(cfg.SourceRoles, cfg.Roles)

	executor := tools.NewExecutor(roleManager)
	executor.Register(&tools.ReadFileTool{Workspace: cfg.Workspace, Restrict: true})
	executor.Register(&tools.WriteFileTool{Workspace: cfg.Workspace, Restrict: true})
	executor.Register(&tools.ListDirTool{Workspace: cfg.Workspace, Restrict: true})
	executor.Register(&tools.ShellTool{Workspace: cfg.Workspace, Timeout: 60 * time.Second})
	executor.Register(&tools.SendMessageTool{Bus: r.bus})
	executor.Register(&tools.StatusTool{Status: r.statusSnapshot})
	executor.Register(&tools.ShutdownTool{Shutdown: func(reason string) {
		logger.WarnCF("main", "Shutdown requested via tool", map[string]any{
			"reason": reason,
		})
		if r.shutdown != nil {
			r.shutdown(reason)
		}
	}})

	llm, err := buildRunner(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		MinInterval:          time.Duration(cfg.RateLimit.MinIntervalMs) * time.Millisecond,
		MaxQueueSize:         cfg.RateLimit.MaxQueueSize,
		RequestTimeout:       time.Duration(cfg.RateLimit.RequestTimeoutMs) * time.Millisecond,
		MaxRetries:           cfg.RateLimit.MaxRetries,
		RetryDelay:           time.Duration(cfg.RateLimit.RetryDelayMs) * time.Millisecond,
	})

	validator := enforce.NewValidator(enforce.ValidatorConfig{
		Enabled:               cfg.Enforcement.ResponseValidator.Enabled,
		FlatteryThreshold:     cfg.Enforcement.ResponseValidator.FlatteryThreshold,
		PatternCountThreshold: cfg.Enforcement.ResponseValidator.PatternCountThreshold,
		MaxRetries:            cfg.Enforcement.ResponseValidator.MaxRetries,
	})
	scopeGuard := enforce.NewScopeGuard(enforce.ScopeGuardConfig{
		Enabled:         cfg.Enforcement.ScopeGuard.Enabled,
		Mode:            cfg.Enforcement.ScopeGuard.Mode,
		AllowedPatterns: cfg.Enforcement.ScopeGuard.AllowedPatterns,
	})
	handler := continuation.NewHandler(continuation.Config{
		Enabled:    cfg.MultiAgent.TaskContinuation.Enabled,
		MaxRetries: cfg.MultiAgent.TaskContinuation.MaxRetries,
	})

	r.orch = orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Router:       routing.NewRouter(routerConfig(cfg)),
		Pool:         r.pool,
		Runner:       llm,
		Executor:     executor,
		Roles:        roleManager,
		Validator:    validator,
		ScopeGuard:   scopeGuard,
		Continuation: handler,
		Limiter:      limiter,
		Bus:          r.bus,
		Store:        st,
		SandboxCfg:   sandboxConfig(cfg),
	})

	r.cron = cron.NewScheduler(st, r.locks, r.bus)
	r.heartbeat = heartbeat.NewService(heartbeat.Config{
		Enabled:         cfg.Heartbeat.Enabled,
		IntervalMinutes: cfg.Heartbeat.IntervalMinutes,
		QuietStart:      cfg.Heartbeat.QuietHours.Start,
		QuietEnd:        cfg.Heartbeat.QuietHours.End,
		Prompt:          cfg.Heartbeat.Prompt,
		Source:          cfg.Heartbeat.Source,
		ChannelID:       cfg.Heartbeat.ChannelID,
	}, cfg.Workspace, r.bus)
	r.manager = channels.NewManager(cfg.Gateways, r.bus, r.pool)

	return r, nil
}

func buildRunner(cfg *config.Config) (runner.Runner, error) {
	a := cfg.Agent
	switch a.Backend {
	case config.BackendSubprocess:
		return runner.NewSubprocess(runner.SubprocessConfig{
			Command: a.Command,
			Timeout: time.Duration(a.TimeoutSeconds) * time.Second,
			Dir:     cfg.Workspace,
		}), nil
	case config.BackendAnthropic:
		return runner.NewAnthropic(a.APIKey, a.BaseURL, a.Model), nil
	case config.BackendOpenAI:
		return runner.NewOpenAI(a.APIKey, a.BaseURL, a.Model), nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", a.Backend)
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	agents := make(map[string]orchestrator.Agent, len(cfg.MultiAgent.Agents))
	for id, a := range cfg.MultiAgent.Agents {
		if !a.Enabled {
			continue
		}
		agents[id] = orchestrator.Agent{
			ID:           id,
			Name:         a.Name,
			Tier:         a.Tier,
			CanDelegate:  a.CanDelegate,
			Model:        a.Model,
			PersonaFile:  a.PersonaFile,
			AutoContinue: a.AutoContinue,
		}
	}

	lp := cfg.MultiAgent.LoopPrevention
	uw := cfg.MultiAgent.UltraWork
	return orchestrator.Config{
		Agents:             agents,
		DefaultAgentID:     cfg.MultiAgent.DefaultAgentID,
		Workspace:          cfg.Workspace,
		MaxTurns:           cfg.Agent.MaxTurns,
		LLMTimeout:         time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		MaxChainLength:     lp.MaxChainLength,
		GlobalCooldown:     time.Duration(lp.GlobalCooldownMs) * time.Millisecond,
		MaxDelegationDepth: lp.MaxDelegationDepth,
		UltraWork: orchestrator.UltraWorkConfig{
			Enabled:     uw.Enabled,
			MaxSteps:    uw.MaxSteps,
			MaxDuration: time.Duration(uw.MaxDurationMs) * time.Millisecond,
		},
	}
}

func routerConfig(cfg *config.Config) routing.Config {
	rc := routing.Config{
		FreeChat:       cfg.MultiAgent.FreeChat,
		DefaultAgentID: cfg.MultiAgent.DefaultAgentID,
	}
	for id, a := range cfg.MultiAgent.Agents {
		rc.Agents = append(rc.Agents, routing.Agent{
			ID:                  id,
			Enabled:             a.Enabled,
			TriggerPrefix:       a.TriggerPrefix,
			AutoRespondKeywords: a.AutoRespondKeywords,
			BotUserID:           a.BotUserID,
		})
	}
	for _, c := range cfg.MultiAgent.Categories {
		cat := routing.Category{
			Name:     c.Name,
			AgentIDs: c.AgentIDs,
			Priority: c.Priority,
		}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				logger.WarnCF("main", "Skipping invalid category pattern", map[string]any{
					"category": c.Name,
					"pattern":  p,
				})
				continue
			}
			cat.Patterns = append(cat.Patterns, re)
		}
		rc.Categories = append(rc.Categories, cat)
	}
	return rc
}

func sandboxConfig(cfg *config.Config) sandbox.Config {
	sc := sandbox.DefaultConfig()
	if cfg.CodeAct.TimeoutSeconds > 0 {
		sc.Timeout = time.Duration(cfg.CodeAct.TimeoutSeconds) * time.Second
	}
	if cfg.CodeAct.MaxHostCalls > 0 {
		sc.MaxHostCalls = cfg.CodeAct.MaxHostCalls
	}
	if cfg.CodeAct.MaxStack > 0 {
		sc.MaxStack = cfg.CodeAct.MaxStack
	}
	if cfg.CodeAct.MaxMemoryMB > 0 {
		sc.MaxMemory = uint64(cfg.CodeAct.MaxMemoryMB) << 20
	}
	return sc
}

func (r *runtime) statusSnapshot() map[string]any {
	return map[string]any{
		"uptime_seconds": int(time.Since(r.startedAt).Seconds()),
		"sessions":       r.pool.Len(),
		"channels":       r.manager.GetStatus(),
		"workspace":      r.cfg.Workspace,
	}
}

// start launches every service. The returned context ends when a
// shutdown is requested from inside the runtime (mama_shutdown).
func (r *runtime) start(ctx context.Context) (context.Context, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r.shutdown = func(string) { cancel() }

	if err := r.pool.Restore(runCtx); err != nil {
		logger.WarnCF("main", "Session restore failed", map[string]any{
			"error": err.Error(),
		})
	}
	r.pool.StartSweeper(runCtx)

	r.cron.Start(runCtx)
	if err := r.heartbeat.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("starting heartbeat: %w", err)
	}
	if err := r.manager.StartAll(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("starting channels: %w", err)
	}
	go r.orch.Run(runCtx)

	return runCtx, nil
}

func (r *runtime) stop(ctx context.Context) {
	r.manager.StopAll(ctx)
	r.heartbeat.Stop()
	r.cron.Stop()
	r.orch.Wait()
	r.pool.Stop()
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		logger.ErrorCF("main", "Error closing store", map[string]any{
			"error": err.Error(),
		})
	}
}
