// Package routing selects which agents handle an inbound message. The
// router runs five stages in order; each stage short-circuits on match
// except free-chat, which preempts all others.
package routing

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/logger"
)

// ChannelKey is the canonical identity of one conversation lane.
func ChannelKey(source, channelID string) string {
	return source + ":" + channelID
}

// Agent is the router's view of one configured agent.
type Agent struct {
	ID                  string
	Enabled             bool
	TriggerPrefix       string
	AutoRespondKeywords []string
	BotUserID           string
}

// Category routes by regex with a priority; higher priority wins.
type Category struct {
	Name     string
	Patterns []*regexp.Regexp
	AgentIDs []string
	Priority int
}

type Config struct {
	FreeChat       bool
	DefaultAgentID string
	Agents         []Agent
	Categories     []Category
}

// Match is the routing outcome for one message.
type Match struct {
	AgentIDs []string
	Stage    string
}

// Stages reported in Match.Stage.
const (
	StageFreeChat = "free_chat"
	StageTrigger  = "trigger"
	StageCategory = "category"
	StageKeyword  = "keyword"
	StageDefault  = "default"
	StageNone     = "none"
)

var delegateLineRe = regexp.MustCompile(`(?m)^DELEGATE(?:_BG)?::(\w+)::`)

// Router is safe for concurrent use. Mention requirements are mutable at
// runtime (set per guild+channel); the rest of the config is fixed.
type Router struct {
	cfg Config

	mu             sync.RWMutex
	requireMention map[string]bool // key: guildID + "/" + channelID
}

func NewRouter(cfg Config) *Router {
	// Categories are evaluated highest priority first.
	sorted := make([]Category, len(cfg.Categories))
	copy(sorted, cfg.Categories)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	cfg.Categories = sorted
	return &Router{cfg: cfg, requireMention: make(map[string]bool)}
}

// SetRequireMention toggles the mention requirement for one channel.
func (r *Router) SetRequireMention(guildID, channelID string, required bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requireMention[guildID+"/"+channelID] = required
}

func (r *Router) mentionRequired(guildID, channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requireMention[guildID+"/"+channelID]
}

// Route picks the agents for a message. Stages 1 (free-chat) and 2
// (explicit trigger) bypass the mention requirement; stages 3 to 5 only
// apply when the bot was mentioned or no mention rule is set.
func (r *Router) Route(msg bus.InboundMessage) Match {
	// Stage 1: free-chat selects every enabled agent.
	if r.cfg.FreeChat {
		ids := make([]string, 0, len(r.cfg.Agents))
		for _, agent := range r.cfg.Agents {
			if agent.Enabled {
				ids = append(ids, agent.ID)
			}
		}
		return r.log(msg, Match{AgentIDs: ids, Stage: StageFreeChat})
	}

	// Stage 2: explicit trigger prefix or delegation command.
	if id, ok := r.matchTrigger(msg.Content); ok {
		return r.log(msg, Match{AgentIDs: []string{id}, Stage: StageTrigger})
	}

	if r.mentionRequired(msg.GuildID, msg.ChannelID) && !r.mentioned(msg) {
		return r.log(msg, Match{Stage: StageNone})
	}

	// Stage 3: category regex by priority.
	for _, category := range r.cfg.Categories {
		for _, pattern := range category.Patterns {
			if pattern.MatchString(msg.Content) {
				return r.log(msg, Match{AgentIDs: category.AgentIDs, Stage: StageCategory})
			}
		}
	}

	// Stage 4: auto-respond keywords.
	lower := strings.ToLower(msg.Content)
	var byKeyword []string
	for _, agent := range r.cfg.Agents {
		if !agent.Enabled {
			continue
		}
		for _, keyword := range agent.AutoRespondKeywords {
			if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
				byKeyword = append(byKeyword, agent.ID)
				break
			}
		}
	}
	if len(byKeyword) > 0 {
		return r.log(msg, Match{AgentIDs: byKeyword, Stage: StageKeyword})
	}

	// Stage 5: default agent.
	if r.cfg.DefaultAgentID != "" {
		return r.log(msg, Match{AgentIDs: []string{r.cfg.DefaultAgentID}, Stage: StageDefault})
	}
	return r.log(msg, Match{Stage: StageNone})
}

// matchTrigger scans each line for a trigger prefix or a delegation
// command. Agent ids in DELEGATE:: lines are case-sensitive.
func (r *Router) matchTrigger(content string) (string, bool) {
	if m := delegateLineRe.FindStringSubmatch(content); m != nil {
		if agent := r.agentByID(m[1]); agent != nil && agent.Enabled {
			return agent.ID, true
		}
	}
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, agent := range r.cfg.Agents {
			if !agent.Enabled || agent.TriggerPrefix == "" {
				continue
			}
			if strings.HasPrefix(trimmed, agent.TriggerPrefix) {
				return agent.ID, true
			}
		}
	}
	return "", false
}

func (r *Router) agentByID(id string) *Agent {
	for i := range r.cfg.Agents {
		if r.cfg.Agents[i].ID == id {
			return &r.cfg.Agents[i]
		}
	}
	return nil
}

// mentioned reports whether any configured bot user appears in the
// message's normalized mention list.
func (r *Router) mentioned(msg bus.InboundMessage) bool {
	for _, mention := range msg.Mentions {
		normalized := NormalizeMention(mention)
		for _, agent := range r.cfg.Agents {
			if agent.BotUserID != "" && normalized == agent.BotUserID {
				return true
			}
		}
	}
	return false
}

// NormalizeMention strips platform decoration from a mention token:
// <@123>, <@!123> and @name all reduce to the bare identifier.
func NormalizeMention(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, "!")
	return s
}

func (r *Router) log(msg bus.InboundMessage, match Match) Match {
	logger.DebugCF("router", "Message routed", map[string]any{
		"channel": ChannelKey(msg.Source, msg.ChannelID),
		"stage":   match.Stage,
		"agents":  len(match.AgentIDs),
	})
	return match
}
