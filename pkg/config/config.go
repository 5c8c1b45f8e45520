// Package config is the single declarative configuration surface: one
// JSON file, environment-variable overrides on top, defaults underneath.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"

	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/roles"
)

type AgentBackend string

const (
	BackendSubprocess AgentBackend = "subprocess"
	BackendAnthropic  AgentBackend = "anthropic"
	BackendOpenAI     AgentBackend = "openai"
)

type AgentCoreConfig struct {
	Model          string       `json:"model" env:"MAMA_AGENT_MODEL"`
	MaxTurns       int          `json:"max_turns" env:"MAMA_AGENT_MAX_TURNS"`
	TimeoutSeconds int          `json:"timeout_seconds" env:"MAMA_AGENT_TIMEOUT_SECONDS"`
	Backend        AgentBackend `json:"backend" env:"MAMA_AGENT_BACKEND"`
	Command        []string     `json:"command,omitempty"`
	APIKey         string       `json:"api_key,omitempty" env:"MAMA_AGENT_API_KEY"`
	BaseURL        string       `json:"base_url,omitempty" env:"MAMA_AGENT_BASE_URL"`
}

type DiscordConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token" env:"MAMA_DISCORD_TOKEN"`
	RequireMention bool   `json:"require_mention"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" env:"MAMA_SLACK_BOT_TOKEN"`
	AppToken string `json:"app_token" env:"MAMA_SLACK_APP_TOKEN"`
}

type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token" env:"MAMA_TELEGRAM_TOKEN"`
	AllowedChatIDs []string `json:"allowed_chat_ids"`
}

type ViewerConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr" env:"MAMA_VIEWER_LISTEN_ADDR"`
}

type GatewaysConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	Telegram TelegramConfig `json:"telegram"`
	Viewer   ViewerConfig   `json:"viewer"`
}

// AgentConfig describes one orchestrated agent. Only tier-1 agents may
// delegate; Normalize enforces that.
type AgentConfig struct {
	Name                string   `json:"name"`
	DisplayName         string   `json:"display_name,omitempty"`
	Enabled             bool     `json:"enabled"`
	TriggerPrefix       string   `json:"trigger_prefix,omitempty"`
	PersonaFile         string   `json:"persona_file,omitempty"`
	BotToken            string   `json:"bot_token,omitempty"`
	BotUserID           string   `json:"bot_user_id,omitempty"`
	Tier                int      `json:"tier"`
	CanDelegate         bool     `json:"can_delegate"`
	AutoContinue        bool     `json:"auto_continue"`
	AutoRespondKeywords []string `json:"auto_respond_keywords,omitempty"`
	CooldownMs          int      `json:"cooldown_ms,omitempty"`
	Model               string   `json:"model,omitempty"`
	ToolPermissions     struct {
		Allowed []string `json:"allowed,omitempty"`
		Blocked []string `json:"blocked,omitempty"`
	} `json:"tool_permissions"`
}

type CategoryConfig struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
	AgentIDs []string `json:"agent_ids"`
	Priority int      `json:"priority"`
}

type UltraWorkConfig struct {
	Enabled       bool  `json:"enabled"`
	MaxSteps      int   `json:"max_steps"`
	MaxDurationMs int64 `json:"max_duration_ms"`
	PhasedLoop    bool  `json:"phased_loop"`
	PersistState  bool  `json:"persist_state"`
}

type TaskContinuationConfig struct {
	Enabled    bool `json:"enabled"`
	MaxRetries int  `json:"max_retries"`
}

type LoopPreventionConfig struct {
	MaxChainLength     int   `json:"max_chain_length"`
	GlobalCooldownMs   int64 `json:"global_cooldown_ms"`
	MaxDelegationDepth int   `json:"max_delegation_depth"`
}

type MultiAgentConfig struct {
	Enabled          bool                    `json:"enabled"`
	FreeChat         bool                    `json:"free_chat"`
	DefaultAgentID   string                  `json:"default_agent_id"`
	Agents           map[string]*AgentConfig `json:"agents"`
	Categories       []CategoryConfig        `json:"categories,omitempty"`
	UltraWork        UltraWorkConfig         `json:"ultrawork"`
	TaskContinuation TaskContinuationConfig  `json:"task_continuation"`
	LoopPrevention   LoopPreventionConfig    `json:"loop_prevention"`
}

type QuietHoursConfig struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type HeartbeatConfig struct {
	Enabled         bool             `json:"enabled"`
	IntervalMinutes int              `json:"interval_minutes"`
	QuietHours      QuietHoursConfig `json:"quiet_hours"`
	Prompt          string           `json:"prompt,omitempty"`
	Source          string           `json:"source,omitempty"`
	ChannelID       string           `json:"channel_id,omitempty"`
}

type ResponseValidatorConfig struct {
	Enabled               bool    `json:"enabled"`
	FlatteryThreshold     float64 `json:"flattery_threshold"`
	PatternCountThreshold int     `json:"pattern_count_threshold"`
	MaxRetries            int     `json:"max_retries"`
}

type ScopeGuardConfig struct {
	Enabled         bool     `json:"enabled"`
	Mode            string   `json:"mode"`
	AllowedPatterns []string `json:"allowed_patterns,omitempty"`
}

type EnforcementConfig struct {
	ResponseValidator ResponseValidatorConfig `json:"response_validator"`
	ScopeGuard        ScopeGuardConfig        `json:"scope_guard"`
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int   `json:"max_requests_per_minute"`
	MinIntervalMs        int64 `json:"min_interval_ms"`
	MaxQueueSize         int   `json:"max_queue_size"`
	RequestTimeoutMs     int64 `json:"request_timeout_ms"`
	MaxRetries           int   `json:"max_retries"`
	RetryDelayMs         int64 `json:"retry_delay_ms"`
}

type CodeActConfig struct {
	Runtime        string `json:"runtime"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxHostCalls   int    `json:"max_host_calls"`
	MaxStack       int    `json:"max_stack"`
	MaxMemoryMB    int    `json:"max_memory_mb"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"MAMA_LOG_LEVEL"`
	File  string `json:"file,omitempty" env:"MAMA_LOG_FILE"`
}

type Config struct {
	Agent       AgentCoreConfig              `json:"agent"`
	Gateways    GatewaysConfig               `json:"gateways"`
	MultiAgent  MultiAgentConfig             `json:"multi_agent"`
	SourceRoles map[string]string            `json:"source_roles"`
	Roles       map[string]*roles.RoleConfig `json:"roles"`
	Heartbeat   HeartbeatConfig              `json:"heartbeat"`
	Enforcement EnforcementConfig            `json:"enforcement"`
	RateLimit   RateLimitConfig              `json:"rate_limit"`
	CodeAct     CodeActConfig                `json:"code_act"`
	Logging     LoggingConfig                `json:"logging"`
	Workspace   string                       `json:"workspace" env:"MAMA_WORKSPACE"`
	DataDir     string                       `json:"data_dir" env:"MAMA_DATA_DIR"`

	mu sync.RWMutex
}

// Load reads path, layering file values over defaults and environment
// overrides over both. A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Normalize repairs inconsistent settings instead of rejecting them.
func (c *Config) Normalize() {
	for id, agent := range c.MultiAgent.Agents {
		if agent.Name == "" {
			agent.Name = id
		}
		if agent.Tier == 0 {
			agent.Tier = 2
		}
		// Delegation is a tier-1 capability.
		if agent.Tier != 1 && agent.CanDelegate {
			logger.WarnCF("config", "can_delegate cleared on non-tier-1 agent", map[string]any{
				"agent": id,
				"tier":  agent.Tier,
			})
			agent.CanDelegate = false
		}
	}
	if c.Workspace != "" {
		c.Workspace = expandHome(c.Workspace)
	}
	if c.DataDir != "" {
		c.DataDir = expandHome(c.DataDir)
	}
}

func (c *Config) Validate() error {
	if c.MultiAgent.Enabled {
		if c.MultiAgent.DefaultAgentID != "" {
			if _, ok := c.MultiAgent.Agents[c.MultiAgent.DefaultAgentID]; !ok {
				return fmt.Errorf("default_agent_id %q is not a configured agent", c.MultiAgent.DefaultAgentID)
			}
		}
		for _, category := range c.MultiAgent.Categories {
			for _, id := range category.AgentIDs {
				if _, ok := c.MultiAgent.Agents[id]; !ok {
					return fmt.Errorf("category %q references unknown agent %q", category.Name, id)
				}
			}
		}
	}
	for source, role := range c.SourceRoles {
		if _, ok := c.Roles[role]; !ok {
			return fmt.Errorf("source %q maps to undefined role %q", source, role)
		}
	}
	switch c.Enforcement.ScopeGuard.Mode {
	case "", "warn", "block":
	default:
		return fmt.Errorf("scope_guard.mode must be warn or block, got %q", c.Enforcement.ScopeGuard.Mode)
	}
	return nil
}

// Export returns the config as a generic map for the mama_status surface,
// with secrets masked per the caller's role.
func (c *Config) Export(role *roles.RoleConfig) (map[string]any, error) {
	c.mu.RLock()
	data, err := json.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return roles.MaskSensitive(role, out), nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}
