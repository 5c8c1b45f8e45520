// Package orchestrator turns routed messages into agent turns: session
// continuity, prompt assembly, the Code-Act loop, delegation between
// agents, continuation retries, response validation, and rate-limited
// delivery back to the gateways.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/continuation"
	"github.com/mama-os/mama/pkg/enforce"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/ratelimit"
	"github.com/mama-os/mama/pkg/roles"
	"github.com/mama-os/mama/pkg/routing"
	"github.com/mama-os/mama/pkg/runner"
	"github.com/mama-os/mama/pkg/sandbox"
	"github.com/mama-os/mama/pkg/session"
	"github.com/mama-os/mama/pkg/store"
	"github.com/mama-os/mama/pkg/tools"
)

const (
	defaultMaxTurns        = 8
	defaultLLMTimeout      = 120 * time.Second
	defaultDelegateTimeout = 10 * time.Minute

	defaultPersona = `You are MAMA, an always-on operations agent. Be direct
and factual. When a task is finished, end your message with DONE.`

	behaviorRules = `Rules:
- Act through JavaScript blocks; plain text is sent to the user verbatim.
- Never invent tool results. If a call fails, report the error.
- End finished tasks with a completion marker (DONE or TASK_COMPLETE).`
)

// Agent is the orchestrator's view of one configured persona.
type Agent struct {
	ID           string
	Name         string
	Tier         int
	CanDelegate  bool
	Model        string
	PersonaFile  string
	AutoContinue bool
}

type Config struct {
	Agents             map[string]Agent
	DefaultAgentID     string
	Workspace          string
	MaxTurns           int
	LLMTimeout         time.Duration
	DelegateTimeout    time.Duration
	MaxChainLength     int
	GlobalCooldown     time.Duration
	MaxDelegationDepth int
	UltraWork          UltraWorkConfig
}

// DiffFunc reports files modified in the workspace since the last call
// boundary; used by the scope guard after delegated turns.
type DiffFunc func(ctx context.Context) []string

// Deps carries the collaborating components. All are required except
// Store and Limiter, which degrade to no-ops when nil.
type Deps struct {
	Router       *routing.Router
	Pool         *session.Pool
	Runner       runner.Runner
	Executor     *tools.Executor
	Roles        *roles.Manager
	Validator    *enforce.Validator
	ScopeGuard   *enforce.ScopeGuard
	Continuation *continuation.Handler
	Limiter      *ratelimit.Limiter
	Bus          *bus.MessageBus
	Store        *store.Store
	SandboxCfg   sandbox.Config
	Diff         DiffFunc
}

type Orchestrator struct {
	cfg    Config
	deps   Deps
	chains *chainTracker

	laneMu sync.Mutex
	lanes  map[string]*sync.Mutex

	bg sync.WaitGroup
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.DelegateTimeout <= 0 {
		cfg.DelegateTimeout = defaultDelegateTimeout
	}
	if deps.Diff == nil {
		deps.Diff = GitDiff(cfg.Workspace)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		chains: newChainTracker(cfg.MaxChainLength, cfg.GlobalCooldown, cfg.MaxDelegationDepth),
		lanes:  make(map[string]*sync.Mutex),
	}
}

// Run consumes the inbound bus until the context ends.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		msg, ok := o.deps.Bus.ConsumeInbound(ctx)
		if !ok {
			o.bg.Wait()
			return
		}
		o.HandleMessage(ctx, msg)
	}
}

// HandleMessage routes one message and runs every selected agent's turn.
// Turns for distinct agents run in parallel; the per-(channel, agent)
// lane serializes turns within one conversation.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg bus.InboundMessage) {
	channelKey := routing.ChannelKey(msg.Source, msg.ChannelID)
	o.chains.reset(channelKey)

	if o.cfg.UltraWork.Enabled && isUltraWorkTrigger(msg.Content) {
		if lead, ok := o.leadAgent(); ok {
			o.runUltraWork(ctx, lead, msg)
			return
		}
		logger.WarnC("orchestrator", "UltraWork trigger without a tier-1 lead agent")
	}

	match := o.deps.Router.Route(msg)
	if len(match.AgentIDs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, id := range match.AgentIDs {
		agent, ok := o.cfg.Agents[id]
		if !ok {
			logger.WarnCF("orchestrator", "Routed to unknown agent", map[string]any{"agent": id})
			continue
		}
		wg.Add(1)
		go func(agent Agent) {
			defer wg.Done()
			o.runAgentTurn(ctx, agent, msg, channelKey)
		}(agent)
	}
	wg.Wait()
}

func (o *Orchestrator) runAgentTurn(ctx context.Context, agent Agent, msg bus.InboundMessage, channelKey string) {
	lane := o.lane(channelKey + "|" + agent.ID)
	lane.Lock()
	defer lane.Unlock()

	role := o.deps.Roles.RoleFor(msg.Source)
	text, err := o.converse(ctx, agent, channelKey, msg.Content, turnOptions{
		source:    msg.Source,
		role:      role,
		strict:    false,
		ancestors: []string{agent.ID},
	})
	if err != nil {
		logger.ErrorCF("orchestrator", "Agent turn failed", map[string]any{
			"agent":   agent.ID,
			"channel": channelKey,
			"error":   err.Error(),
		})
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	o.send(ctx, msg, agent.ID, text)
}

// turnOptions carries per-call routing and enforcement context down the
// conversation stack.
type turnOptions struct {
	source    string
	role      *roles.RoleConfig
	strict    bool // agent-to-agent turns validate strictly
	depth     int
	ancestors []string
}

// converse runs the full Code-Act loop for one logical turn and returns
// the final text after continuation and validation passes.
func (o *Orchestrator) converse(ctx context.Context, agent Agent, channelKey, content string, opts turnOptions) (string, error) {
	sessionID, isNew := o.deps.Pool.GetOrCreate(ctx, channelKey)
	if isNew {
		logger.InfoCF("orchestrator", "Session opened", map[string]any{
			"agent":   agent.ID,
			"channel": channelKey,
		})
	}

	system := o.systemPrompt(agent, opts)
	messages := []runner.Message{{Role: "user", Content: content}}

	final, err := o.codeActLoop(ctx, agent, channelKey, sessionID, system, messages, opts)
	if err != nil {
		return "", err
	}

	if agent.AutoContinue && o.deps.Continuation != nil {
		for {
			decision := o.deps.Continuation.Analyze(channelKey, final)
			if !decision.ShouldContinue {
				break
			}
			messages = append(messages,
				runner.Message{Role: "assistant", Content: final},
				runner.Message{Role: "user", Content: decision.ContinuationPrompt})
			final, err = o.codeActLoop(ctx, agent, channelKey, sessionID, system, messages, opts)
			if err != nil {
				return "", err
			}
		}
	}

	if o.deps.Validator != nil {
		final, err = o.enforceTone(ctx, agent, channelKey, sessionID, system, messages, final, opts)
		if err != nil {
			return "", err
		}
	}
	return final, nil
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:js|javascript)\\s*\n(.*?)```")

// codeActLoop alternates model calls with sandbox executions and
// delegation dispatch until the model produces a plain-text answer or
// the turn budget runs out.
func (o *Orchestrator) codeActLoop(ctx context.Context, agent Agent, channelKey, sessionID, system string, messages []runner.Message, opts turnOptions) (string, error) {
	var text string
	for turn := 0; turn < o.cfg.MaxTurns; turn++ {
		resp, err := o.callModel(ctx, agent, sessionID, system, messages)
		if err != nil {
			return "", err
		}
		o.deps.Pool.AddUsage(ctx, channelKey, resp.TotalTokens())
		text = resp.Text
		messages = append(messages, runner.Message{Role: "assistant", Content: text})

		var feedback []string
		if notes := o.processDelegations(ctx, agent, channelKey, text, opts); len(notes) > 0 {
			feedback = append(feedback, notes...)
			text = stripDelegationLines(text)
		}
		for _, block := range codeBlockRe.FindAllStringSubmatch(text, -1) {
			feedback = append(feedback, o.executeBlock(ctx, agent, sessionID, opts, block[1]))
		}
		if len(feedback) == 0 {
			return text, nil
		}
		messages = append(messages, runner.Message{
			Role:    "user",
			Content: strings.Join(feedback, "\n\n"),
		})
	}
	logger.WarnCF("orchestrator", "Turn budget exhausted", map[string]any{
		"agent":   agent.ID,
		"channel": channelKey,
		"turns":   o.cfg.MaxTurns,
	})
	return text, nil
}

func (o *Orchestrator) callModel(ctx context.Context, agent Agent, sessionID, system string, messages []runner.Message) (*runner.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()
	return o.deps.Runner.Run(callCtx, runner.Request{
		SessionID: sessionID,
		System:    system,
		Messages:  messages,
		Model:     agent.Model,
	})
}

// executeBlock runs one script in a fresh sandbox and renders the result
// for the model.
func (o *Orchestrator) executeBlock(ctx context.Context, agent Agent, sessionID string, opts turnOptions, code string) string {
	bridge := sandbox.NewHostBridge(o.deps.Executor, tools.CallContext{
		AgentID:   agent.ID,
		SessionID: sessionID,
		Source:    opts.source,
		Role:      opts.role,
	}, agent.Tier)
	res := sandbox.New(o.deps.SandboxCfg, bridge).Execute(ctx, code)

	var sb strings.Builder
	sb.WriteString("Execution result:\n")
	if res.Err != nil {
		fmt.Fprintf(&sb, "error: %s\n", res.Err)
	} else {
		fmt.Fprintf(&sb, "value: %v\n", res.Value)
	}
	if len(res.Console) > 0 {
		sb.WriteString("console:\n")
		for _, line := range res.Console {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// enforceTone re-prompts the model while the validator rejects the text.
// An exhausted retry budget delivers the last attempt with a warning
// rather than silencing the agent.
func (o *Orchestrator) enforceTone(ctx context.Context, agent Agent, channelKey, sessionID, system string, messages []runner.Message, text string, opts turnOptions) (string, error) {
	for retries := o.deps.Validator.MaxRetries(); retries > 0; retries-- {
		result := o.deps.Validator.Validate(text, opts.strict)
		if result.Valid {
			return text, nil
		}
		logger.WarnCF("orchestrator", "Response rejected by validator", map[string]any{
			"agent":  agent.ID,
			"reason": result.Reason,
		})
		messages = append(messages,
			runner.Message{Role: "assistant", Content: text},
			runner.Message{Role: "user", Content: enforce.RewritePrompt(result)})
		resp, err := o.callModel(ctx, agent, sessionID, system, messages)
		if err != nil {
			return "", err
		}
		o.deps.Pool.AddUsage(ctx, channelKey, resp.TotalTokens())
		text = resp.Text
	}
	if result := o.deps.Validator.Validate(text, opts.strict); !result.Valid {
		logger.WarnCF("orchestrator", "Delivering unvalidated response after retries", map[string]any{
			"agent":  agent.ID,
			"reason": result.Reason,
		})
	}
	return text, nil
}

// send pushes the reply through the rate limiter to the outbound bus.
// Cron jobs may redirect replies via metadata.
func (o *Orchestrator) send(ctx context.Context, msg bus.InboundMessage, agentID, text string) {
	source := msg.Source
	channelID := msg.ChannelID
	if rs := msg.Metadata["reply_source"]; rs != "" {
		source = rs
		channelID = msg.Metadata["reply_channel"]
	}
	out := bus.OutboundMessage{
		Source:    source,
		ChannelID: channelID,
		Content:   text,
		AgentID:   agentID,
	}
	if o.deps.Limiter == nil {
		o.deps.Bus.PublishOutbound(out)
		return
	}
	if _, err := o.deps.Limiter.Do(ctx, func(ctx context.Context) (any, error) {
		o.deps.Bus.PublishOutbound(out)
		return nil, nil
	}); err != nil {
		logger.ErrorCF("orchestrator", "Rate-limited send failed", map[string]any{
			"channel": routing.ChannelKey(source, channelID),
			"error":   err.Error(),
		})
	}
}

func (o *Orchestrator) systemPrompt(agent Agent, opts turnOptions) string {
	core := defaultPersona
	if agent.PersonaFile != "" {
		if data, err := os.ReadFile(agent.PersonaFile); err == nil {
			core = string(data)
		} else {
			logger.WarnCF("orchestrator", "Persona file unreadable", map[string]any{
				"agent": agent.ID,
				"error": err.Error(),
			})
		}
	} else if data, err := os.ReadFile(filepath.Join(o.cfg.Workspace, "CLAUDE.md")); err == nil {
		core = string(data)
	}

	bridge := sandbox.NewHostBridge(o.deps.Executor, tools.CallContext{
		AgentID: agent.ID,
		Source:  opts.source,
		Role:    opts.role,
	}, agent.Tier)

	return BuildPrompt([]PromptLayer{
		{Name: "core", Priority: layerCore, Content: core},
		{Name: "tools", Priority: layerTools, Content: bridge.Declarations()},
		{Name: "agents", Priority: layerAgents, Content: o.rosterPrompt(agent)},
		{Name: "rules", Priority: layerRules, Content: behaviorRules},
		{Name: "context", Priority: layerContext, Content: "Source: " + opts.source},
	})
}

// rosterPrompt lists delegation targets for tier-1 agents.
func (o *Orchestrator) rosterPrompt(agent Agent) string {
	if agent.Tier != 1 || !agent.CanDelegate {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You may delegate a task with a line of the form\n")
	sb.WriteString("DELEGATE::<agent>::<task>  (blocking) or DELEGATE_BG::<agent>::<task> (background).\n")
	sb.WriteString("Available agents:\n")
	for _, id := range sortedAgentIDs(o.cfg.Agents) {
		other := o.cfg.Agents[id]
		if other.ID == agent.ID {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", other.ID, other.Name)
	}
	return sb.String()
}

func (o *Orchestrator) leadAgent() (Agent, bool) {
	if agent, ok := o.cfg.Agents[o.cfg.DefaultAgentID]; ok && agent.Tier == 1 && agent.CanDelegate {
		return agent, true
	}
	for _, id := range sortedAgentIDs(o.cfg.Agents) {
		if agent := o.cfg.Agents[id]; agent.Tier == 1 && agent.CanDelegate {
			return agent, true
		}
	}
	return Agent{}, false
}

func (o *Orchestrator) lane(key string) *sync.Mutex {
	o.laneMu.Lock()
	defer o.laneMu.Unlock()
	lane, ok := o.lanes[key]
	if !ok {
		lane = &sync.Mutex{}
		o.lanes[key] = lane
	}
	return lane
}

// Wait blocks until background delegations finish; used on shutdown.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

func sortedAgentIDs(agents map[string]Agent) []string {
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
