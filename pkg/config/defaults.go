package config

import "github.com/mama-os/mama/pkg/roles"

// Default returns the configuration MAMA starts with before the file and
// environment are applied.
func Default() *Config {
	return &Config{
		Agent: AgentCoreConfig{
			Model:          "claude-sonnet-4.6",
			MaxTurns:       30,
			TimeoutSeconds: 120,
			Backend:        BackendSubprocess,
		},
		MultiAgent: MultiAgentConfig{
			Enabled:        false,
			DefaultAgentID: "",
			Agents:         map[string]*AgentConfig{},
			UltraWork: UltraWorkConfig{
				Enabled:       true,
				MaxSteps:      20,
				MaxDurationMs: 30 * 60 * 1000,
				PhasedLoop:    true,
				PersistState:  true,
			},
			TaskContinuation: TaskContinuationConfig{
				Enabled:    true,
				MaxRetries: 3,
			},
			LoopPrevention: LoopPreventionConfig{
				MaxChainLength:     10,
				GlobalCooldownMs:   2000,
				MaxDelegationDepth: 1,
			},
		},
		SourceRoles: map[string]string{
			"viewer":   "os_agent",
			"discord":  "chat_bot",
			"slack":    "chat_bot",
			"telegram": "chat_bot",
			"cron":     "scheduler",
		},
		Roles: map[string]*roles.RoleConfig{
			"os_agent": {
				AllowedTools:    []string{"*"},
				SystemControl:   true,
				SensitiveAccess: true,
			},
			"chat_bot": {
				AllowedTools: []string{"read_file", "list_dir", "send_message", "mama_status", "shell"},
				BlockedTools: []string{"mama_shutdown"},
			},
			"scheduler": {
				AllowedTools: []string{"read_file", "list_dir", "send_message", "shell"},
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
			QuietHours:      QuietHoursConfig{Start: "23:00", End: "08:00"},
		},
		Enforcement: EnforcementConfig{
			ResponseValidator: ResponseValidatorConfig{
				Enabled:               true,
				FlatteryThreshold:     0.08,
				PatternCountThreshold: 3,
				MaxRetries:            2,
			},
			ScopeGuard: ScopeGuardConfig{
				Enabled: true,
				Mode:    "warn",
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute: 50,
			MinIntervalMs:        500,
			MaxQueueSize:         100,
			RequestTimeoutMs:     60_000,
			MaxRetries:           3,
			RetryDelayMs:         2000,
		},
		CodeAct: CodeActConfig{
			Runtime:        "goja",
			TimeoutSeconds: 10,
			MaxHostCalls:   50,
			MaxStack:       4096,
			MaxMemoryMB:    32,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Workspace: "~/.mama/workspace",
		DataDir:   "~/.mama/data",
	}
}
