package orchestrator

import (
	"sort"
	"strings"

	"github.com/mama-os/mama/pkg/logger"
)

// Prompt budget thresholds, in characters.
const (
	promptWarnChars     = 15_000
	promptTruncateChars = 25_000
	promptHardChars     = 40_000
)

// Layer priorities. Lower number survives longer under budget pressure.
const (
	layerCore    = 1 // CLAUDE.md / persona, never removed
	layerTools   = 2 // .d.ts tool declarations
	layerAgents  = 4 // roster of delegatable agents
	layerRules   = 5 // behavioral rules
	layerContext = 6 // keywords and per-channel context
)

type PromptLayer struct {
	Name     string
	Priority int
	Content  string
}

// BuildPrompt assembles layers into one system prompt, trimming from the
// lowest-priority end when the total exceeds the truncate threshold. The
// priority-1 layer is never removed; when it alone exceeds the hard limit
// the call still proceeds with a logged warning.
func BuildPrompt(layers []PromptLayer) string {
	kept := make([]PromptLayer, 0, len(layers))
	for _, l := range layers {
		if strings.TrimSpace(l.Content) != "" {
			kept = append(kept, l)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Priority < kept[j].Priority })

	total := 0
	for _, l := range kept {
		total += len(l.Content)
	}
	if total > promptWarnChars {
		logger.WarnCF("orchestrator", "Prompt exceeds warning budget", map[string]any{
			"chars": total,
		})
	}

	// Shrink from the lowest-priority tail: truncate when that suffices,
	// drop the whole layer when it does not.
	for total > promptTruncateChars && len(kept) > 1 {
		last := &kept[len(kept)-1]
		if last.Priority == layerCore {
			break
		}
		excess := total - promptTruncateChars
		if excess < len(last.Content) {
			last.Content = last.Content[:len(last.Content)-excess]
			total = promptTruncateChars
			logger.WarnCF("orchestrator", "Prompt layer truncated", map[string]any{
				"layer": last.Name,
				"chars": excess,
			})
			break
		}
		total -= len(last.Content)
		kept = kept[:len(kept)-1]
		logger.WarnCF("orchestrator", "Prompt layer dropped", map[string]any{
			"layer": last.Name,
			"chars": len(last.Content),
		})
	}

	if len(kept) > 0 && kept[0].Priority == layerCore && len(kept[0].Content) > promptHardChars {
		logger.WarnCF("orchestrator", "Core prompt layer alone exceeds hard budget", map[string]any{
			"layer": kept[0].Name,
			"chars": len(kept[0].Content),
		})
	}

	parts := make([]string, 0, len(kept))
	for _, l := range kept {
		parts = append(parts, l.Content)
	}
	return strings.Join(parts, "\n\n")
}
