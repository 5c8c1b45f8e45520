package routing

import (
	"reflect"
	"regexp"
	"testing"

	"github.com/mama-os/mama/pkg/bus"
)

func testConfig() Config {
	return Config{
		DefaultAgentID: "mama",
		Agents: []Agent{
			{ID: "mama", Enabled: true, BotUserID: "111"},
			{ID: "dev", Enabled: true, TriggerPrefix: "!dev", AutoRespondKeywords: []string{"deploy"}, BotUserID: "222"},
			{ID: "Writer", Enabled: true, TriggerPrefix: "!write"},
			{ID: "retired", Enabled: false, TriggerPrefix: "!old"},
		},
		Categories: []Category{
			{
				Name:     "infra",
				Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\b(kubernetes|terraform)\b`)},
				AgentIDs: []string{"dev"},
				Priority: 10,
			},
			{
				Name:     "docs",
				Patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\bdocumentation\b`)},
				AgentIDs: []string{"Writer"},
				Priority: 5,
			},
		},
	}
}

func msg(content string) bus.InboundMessage {
	return bus.InboundMessage{Source: "discord", ChannelID: "c1", GuildID: "g1", Content: content}
}

func TestChannelKey(t *testing.T) {
	if got := ChannelKey("discord", "123"); got != "discord:123" {
		t.Errorf("ChannelKey = %q", got)
	}
}

func TestFreeChatSelectsAllEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.FreeChat = true
	r := NewRouter(cfg)

	match := r.Route(msg("anything at all"))
	if match.Stage != StageFreeChat {
		t.Fatalf("stage = %s", match.Stage)
	}
	want := []string{"mama", "dev", "Writer"}
	if !reflect.DeepEqual(match.AgentIDs, want) {
		t.Errorf("agents = %v, want %v", match.AgentIDs, want)
	}
}

func TestTriggerPrefix(t *testing.T) {
	r := NewRouter(testConfig())

	match := r.Route(msg("!dev restart the api"))
	if match.Stage != StageTrigger || len(match.AgentIDs) != 1 || match.AgentIDs[0] != "dev" {
		t.Errorf("match = %+v", match)
	}

	// Trigger may appear on a later line.
	match = r.Route(msg("hey\n!write a changelog"))
	if match.Stage != StageTrigger || match.AgentIDs[0] != "Writer" {
		t.Errorf("match = %+v", match)
	}

	// Disabled agents never trigger.
	match = r.Route(msg("!old do things"))
	if match.Stage == StageTrigger {
		t.Errorf("disabled agent triggered: %+v", match)
	}
}

func TestDelegateLineIsCaseSensitive(t *testing.T) {
	r := NewRouter(testConfig())

	match := r.Route(msg("DELEGATE::dev::fix the build"))
	if match.Stage != StageTrigger || match.AgentIDs[0] != "dev" {
		t.Fatalf("match = %+v", match)
	}

	match = r.Route(msg("DELEGATE_BG::Writer::draft release notes"))
	if match.Stage != StageTrigger || match.AgentIDs[0] != "Writer" {
		t.Fatalf("background form: %+v", match)
	}

	// "writer" is not "Writer".
	match = r.Route(msg("DELEGATE::writer::draft notes"))
	if match.Stage == StageTrigger {
		t.Errorf("case-mismatched id triggered: %+v", match)
	}
}

func TestCategoryPriorityOrder(t *testing.T) {
	cfg := testConfig()
	// A low-priority catch-all must lose to the infra category.
	cfg.Categories = append(cfg.Categories, Category{
		Name:     "catchall",
		Patterns: []*regexp.Regexp{regexp.MustCompile(`.`)},
		AgentIDs: []string{"mama"},
		Priority: 1,
	})
	r := NewRouter(cfg)

	match := r.Route(msg("the terraform plan is failing"))
	if match.Stage != StageCategory || match.AgentIDs[0] != "dev" {
		t.Errorf("match = %+v", match)
	}
}

func TestKeywordStage(t *testing.T) {
	r := NewRouter(testConfig())
	match := r.Route(msg("can someone Deploy this branch please"))
	if match.Stage != StageKeyword || match.AgentIDs[0] != "dev" {
		t.Errorf("match = %+v", match)
	}
}

func TestDefaultFallback(t *testing.T) {
	r := NewRouter(testConfig())
	match := r.Route(msg("hello there"))
	if match.Stage != StageDefault || match.AgentIDs[0] != "mama" {
		t.Errorf("match = %+v", match)
	}
}

func TestRequireMentionGatesLaterStages(t *testing.T) {
	r := NewRouter(testConfig())
	r.SetRequireMention("g1", "c1", true)

	// Stage 3-5 blocked without a mention.
	match := r.Route(msg("the terraform plan is failing"))
	if match.Stage != StageNone {
		t.Fatalf("unmentioned routed at stage %s", match.Stage)
	}

	// Mentioned in decorated platform form.
	m := msg("the terraform plan is failing")
	m.Mentions = []string{"<@!222>"}
	match = r.Route(m)
	if match.Stage != StageCategory {
		t.Errorf("mentioned message: %+v", match)
	}

	// Stage 2 bypasses the mention rule.
	match = r.Route(msg("!dev restart"))
	if match.Stage != StageTrigger {
		t.Errorf("trigger gated by mention rule: %+v", match)
	}

	// Other channels are unaffected.
	other := bus.InboundMessage{Source: "discord", ChannelID: "c2", GuildID: "g1", Content: "hello"}
	if match := r.Route(other); match.Stage != StageDefault {
		t.Errorf("foreign channel gated: %+v", match)
	}
}

func TestNormalizeMention(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<@123>", "123"},
		{"<@!123>", "123"},
		{"@mama", "mama"},
		{"123", "123"},
	}
	for _, tt := range tests {
		if got := NormalizeMention(tt.in); got != tt.want {
			t.Errorf("NormalizeMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
