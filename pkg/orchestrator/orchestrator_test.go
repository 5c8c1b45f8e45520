package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/continuation"
	"github.com/mama-os/mama/pkg/enforce"
	"github.com/mama-os/mama/pkg/roles"
	"github.com/mama-os/mama/pkg/routing"
	"github.com/mama-os/mama/pkg/runner"
	"github.com/mama-os/mama/pkg/sandbox"
	"github.com/mama-os/mama/pkg/session"
	"github.com/mama-os/mama/pkg/store"
	"github.com/mama-os/mama/pkg/tools"
)

// scriptRunner pops canned responses in call order and records every
// request it saw.
type scriptRunner struct {
	mu        sync.Mutex
	responses []string
	requests  []runner.Request
}

func (r *scriptRunner) Name() string { return "script" }

func (r *scriptRunner) Run(_ context.Context, req runner.Request) (*runner.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	text := "DONE"
	if len(r.responses) > 0 {
		text = r.responses[0]
		r.responses = r.responses[1:]
	}
	return &runner.Response{Text: text, InputTokens: 10, OutputTokens: 5}, nil
}

func (r *scriptRunner) calls() []runner.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Request(nil), r.requests...)
}

type fixture struct {
	o   *Orchestrator
	mb  *bus.MessageBus
	run *scriptRunner
	st  *store.Store
}

func newFixture(t *testing.T, mutate func(*Config, *Deps), script ...string) *fixture {
	t.Helper()

	rm := roles.NewManager(
		map[string]string{"test": "all", "cron": "all"},
		map[string]*roles.RoleConfig{"all": {AllowedTools: []string{"*"}}},
	)
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "mama.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	run := &scriptRunner{responses: script}
	cfg := Config{
		Agents: map[string]Agent{
			"mama":   {ID: "mama", Name: "Mama", Tier: 1, CanDelegate: true},
			"helper": {ID: "helper", Name: "Helper", Tier: 2},
		},
		DefaultAgentID: "mama",
		Workspace:      t.TempDir(),
		UltraWork:      UltraWorkConfig{Enabled: true},
	}
	deps := Deps{
		Router: routing.NewRouter(routing.Config{
			DefaultAgentID: "mama",
			Agents: []routing.Agent{
				{ID: "mama", Enabled: true},
				{ID: "helper", Enabled: true},
			},
		}),
		Pool:         session.NewPool(session.Config{}, nil),
		Runner:       run,
		Executor:     tools.NewExecutor(rm),
		Roles:        rm,
		ScopeGuard:   enforce.NewScopeGuard(enforce.ScopeGuardConfig{Enabled: true, Mode: enforce.ModeWarn}),
		Continuation: continuation.NewHandler(continuation.DefaultConfig()),
		Bus:          mb,
		Store:        st,
		SandboxCfg:   sandbox.DefaultConfig(),
		Diff:         func(context.Context) []string { return nil },
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return &fixture{o: New(cfg, deps), mb: mb, run: run, st: st}
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Source:    "test",
		ChannelID: "c1",
		UserID:    "u1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func (f *fixture) receive(t *testing.T) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return f.mb.SubscribeOutbound(ctx)
}

func TestPlainTurnSendsReply(t *testing.T) {
	f := newFixture(t, nil, "Deployment finished.")

	f.o.HandleMessage(context.Background(), inbound("deploy the api"))

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Content != "Deployment finished." || out.AgentID != "mama" {
		t.Errorf("out = %+v", out)
	}
	if out.Source != "test" || out.ChannelID != "c1" {
		t.Errorf("reply target = %s:%s", out.Source, out.ChannelID)
	}
}

func TestCodeActLoopFeedsResultsBack(t *testing.T) {
	f := newFixture(t, nil,
		"Let me compute that.\n```js\n1 + 2\n```",
		"The answer is 3.")

	f.o.HandleMessage(context.Background(), inbound("what is 1+2"))

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Content != "The answer is 3." {
		t.Errorf("content = %q", out.Content)
	}

	calls := f.run.calls()
	if len(calls) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(calls))
	}
	feedback := calls[1].Messages[len(calls[1].Messages)-1]
	if feedback.Role != "user" || !strings.Contains(feedback.Content, "Execution result") {
		t.Errorf("feedback = %+v", feedback)
	}
	if !strings.Contains(feedback.Content, "3") {
		t.Errorf("feedback missing value: %q", feedback.Content)
	}
}

func TestBlockingDelegationFlow(t *testing.T) {
	f := newFixture(t, nil,
		"DELEGATE::helper::summarize the incident log",
		"Summary: two incidents, both resolved. DONE",
		"Helper finished; all incidents resolved.")

	f.o.HandleMessage(context.Background(), inbound("status report please"))

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Content != "Helper finished; all incidents resolved." {
		t.Errorf("content = %q", out.Content)
	}

	calls := f.run.calls()
	if len(calls) != 3 {
		t.Fatalf("runner calls = %d, want 3", len(calls))
	}
	feedback := calls[2].Messages[len(calls[2].Messages)-1].Content
	if !strings.Contains(feedback, "Result from helper") {
		t.Errorf("feedback = %q", feedback)
	}

	edges, err := f.st.EdgesForChannel(context.Background(), "test:c1", 10)
	if err != nil {
		t.Fatalf("EdgesForChannel: %v", err)
	}
	if len(edges) != 1 || edges[0].FromAgent != "mama" || edges[0].ToAgent != "helper" || edges[0].Wave != 1 {
		t.Errorf("edges = %+v", edges)
	}
}

func TestDelegationCooldownBlocksSecondCommand(t *testing.T) {
	f := newFixture(t, nil,
		"DELEGATE::helper::task one\nDELEGATE_BG::helper::task two",
		"Task one complete. DONE",
		"Only task one ran.")

	f.o.HandleMessage(context.Background(), inbound("do both tasks"))

	if _, ok := f.receive(t); !ok {
		t.Fatal("no outbound message")
	}
	calls := f.run.calls()
	if len(calls) != 3 {
		t.Fatalf("runner calls = %d, want 3", len(calls))
	}
	feedback := calls[2].Messages[len(calls[2].Messages)-1].Content
	if !strings.Contains(feedback, "blocked") || !strings.Contains(feedback, "cooldown") {
		t.Errorf("second delegation not blocked by cooldown: %q", feedback)
	}

	edges, _ := f.st.EdgesForChannel(context.Background(), "test:c1", 10)
	if len(edges) != 1 {
		t.Errorf("edges = %d, want 1", len(edges))
	}
}

func TestDelegateMayNotRedelegate(t *testing.T) {
	f := newFixture(t, nil,
		"DELEGATE::helper::investigate the outage",
		"DELEGATE::mama::take this back",
		"Investigation complete, root cause found.",
		"Root cause identified.")

	f.o.HandleMessage(context.Background(), inbound("investigate"))

	if _, ok := f.receive(t); !ok {
		t.Fatal("no outbound message")
	}
	calls := f.run.calls()
	if len(calls) != 4 {
		t.Fatalf("runner calls = %d, want 4", len(calls))
	}
	// The helper's second turn carries the diagnostic for its rejected
	// delegation attempt.
	diag := calls[2].Messages[len(calls[2].Messages)-1].Content
	if !strings.Contains(diag, "blocked") && !strings.Contains(diag, "may not delegate") {
		t.Errorf("diagnostic = %q", diag)
	}

	edges, _ := f.st.EdgesForChannel(context.Background(), "test:c1", 10)
	if len(edges) != 1 {
		t.Errorf("edges = %d, want only the lead's delegation", len(edges))
	}
}

func TestScopeGuardBlockModeFailsDelegation(t *testing.T) {
	diffCalls := 0
	f := newFixture(t, func(cfg *Config, deps *Deps) {
		deps.ScopeGuard = enforce.NewScopeGuard(enforce.ScopeGuardConfig{
			Enabled: true,
			Mode:    enforce.ModeBlock,
		})
		deps.Diff = func(context.Context) []string {
			diffCalls++
			if diffCalls > 1 {
				return []string{"internal/secret.go"}
			}
			return nil
		}
	},
		"DELEGATE::helper::update notes.md with the summary",
		"Updated notes.md. DONE",
		"The delegation was rejected.")

	f.o.HandleMessage(context.Background(), inbound("update the notes"))

	if _, ok := f.receive(t); !ok {
		t.Fatal("no outbound message")
	}
	calls := f.run.calls()
	feedback := calls[2].Messages[len(calls[2].Messages)-1].Content
	if !strings.Contains(feedback, "failed") || !strings.Contains(feedback, "scope violation") {
		t.Errorf("feedback = %q", feedback)
	}
}

func TestValidatorReprompts(t *testing.T) {
	f := newFixture(t, func(cfg *Config, deps *Deps) {
		deps.Validator = enforce.NewValidator(enforce.ValidatorConfig{
			Enabled:               true,
			FlatteryThreshold:     0.01,
			PatternCountThreshold: 1,
			MaxRetries:            2,
		})
	},
		"Excellent! Perfect! Amazing! What a wonderful idea!",
		"Deployment finished.")

	f.o.HandleMessage(context.Background(), inbound("deploy"))

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Content != "Deployment finished." {
		t.Errorf("content = %q", out.Content)
	}

	calls := f.run.calls()
	if len(calls) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(calls))
	}
	reprompt := calls[1].Messages[len(calls[1].Messages)-1].Content
	if !strings.Contains(reprompt, "rejected") {
		t.Errorf("reprompt = %q", reprompt)
	}
}

func TestCronReplyRedirect(t *testing.T) {
	f := newFixture(t, nil, "Nightly report ready.")

	f.o.HandleMessage(context.Background(), bus.InboundMessage{
		Source:    "cron",
		ChannelID: "job-42",
		UserID:    "cron",
		Content:   "produce the nightly report",
		Metadata:  map[string]string{"reply_source": "discord", "reply_channel": "99"},
	})

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Source != "discord" || out.ChannelID != "99" {
		t.Errorf("reply target = %s:%s, want discord:99", out.Source, out.ChannelID)
	}
}

func TestAutoContinueFollowsUp(t *testing.T) {
	f := newFixture(t, func(cfg *Config, deps *Deps) {
		agent := cfg.Agents["mama"]
		agent.AutoContinue = true
		cfg.Agents["mama"] = agent
	},
		"Step 1 is in place. I'll continue with step 2.",
		"Step 2 shipped. DONE")

	f.o.HandleMessage(context.Background(), inbound("ship both steps"))

	out, ok := f.receive(t)
	if !ok {
		t.Fatal("no outbound message")
	}
	if out.Content != "Step 2 shipped. DONE" {
		t.Errorf("content = %q", out.Content)
	}
	calls := f.run.calls()
	if len(calls) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(calls))
	}
	followUp := calls[1].Messages[len(calls[1].Messages)-1].Content
	if !strings.Contains(followUp, "Continue exactly where you left off") {
		t.Errorf("follow-up = %q", followUp)
	}
}

func TestSystemPromptCarriesToolSurface(t *testing.T) {
	f := newFixture(t, nil, "ok")
	f.o.deps.Executor.Register(&tools.StatusTool{Status: func() map[string]any { return nil }})

	f.o.HandleMessage(context.Background(), inbound("hello"))
	f.receive(t)

	calls := f.run.calls()
	if len(calls) == 0 {
		t.Fatal("no runner calls")
	}
	system := calls[0].System
	if !strings.Contains(system, "declare function mama_status") {
		t.Errorf("system prompt missing tool declarations:\n%s", system)
	}
	if !strings.Contains(system, "DELEGATE::<agent>::<task>") {
		t.Errorf("tier-1 system prompt missing delegation roster:\n%s", system)
	}
}
