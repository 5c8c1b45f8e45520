// Package continuation decides whether an agent response ended a task or
// stopped mid-way and needs a bounded follow-up turn.
package continuation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mama-os/mama/pkg/logger"
)

// Reasons reported in Decision.Reason.
const (
	ReasonDisabled          = "disabled"
	ReasonManuallyStopped   = "manually_stopped"
	ReasonComplete          = "complete"
	ReasonIncomplete        = "incomplete_response"
	ReasonMaxRetriesReached = "max_retries_reached"
	ReasonNormalCompletion  = "normal_completion"
)

const (
	// A response this long that does not end in terminal punctuation is
	// assumed cut off by a platform message limit near 2000 chars.
	truncationThreshold = 1800

	promptTailChars   = 200
	defaultMaxRetries = 3
)

// completionMarkers end a task when found within the last three lines.
var completionMarkers = []string{
	"done",
	"finished",
	"task_complete",
	"✅",
	"완료했습니다",
	"끝났습니다",
	"마쳤습니다",
}

// incompleteMarkers anywhere in the text signal the model intends to keep
// going.
var incompleteMarkers = []string{
	"i'll continue",
	"let me continue",
	"to be continued",
	"continuing in the next message",
	"계속하겠",
	"계속할게",
	"이어서",
	"다음으로",
}

// terminalRunes are sentence-ending characters for the truncation check.
var terminalRunes = map[rune]bool{'.': true, '!': true, '?': true, '。': true, '…': true}

type Decision struct {
	ShouldContinue     bool
	Reason             string
	ContinuationPrompt string
	MaxRetriesReached  bool
	Attempts           int
}

type Config struct {
	Enabled    bool
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{Enabled: true, MaxRetries: defaultMaxRetries}
}

// Handler tracks per-channel retry state.
type Handler struct {
	cfg Config

	mu       sync.Mutex
	attempts map[string]int
	stopped  map[string]bool
}

func NewHandler(cfg Config) *Handler {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Handler{
		cfg:      cfg,
		attempts: make(map[string]int),
		stopped:  make(map[string]bool),
	}
}

// Stop marks a channel as manually stopped; analyze returns
// manually_stopped for it until Resume.
func (h *Handler) Stop(channelKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped[channelKey] = true
	h.attempts[channelKey] = 0
	logger.InfoCF("continuation", "Channel manually stopped", map[string]any{"channel": channelKey})
}

func (h *Handler) Resume(channelKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.stopped, channelKey)
}

// Analyze applies the decision rules in order and updates retry state.
func (h *Handler) Analyze(channelKey, responseText string) Decision {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.cfg.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if h.stopped[channelKey] {
		return Decision{Reason: ReasonManuallyStopped}
	}
	if hasCompletionMarker(responseText) {
		h.attempts[channelKey] = 0
		return Decision{Reason: ReasonComplete}
	}
	if hasIncompleteMarker(responseText) {
		return h.continueLocked(channelKey, responseText, ReasonIncomplete)
	}
	// Truncation is treated as an incomplete response, only detected by
	// shape instead of by marker.
	if looksTruncated(responseText) {
		return h.continueLocked(channelKey, responseText, ReasonIncomplete)
	}
	h.attempts[channelKey] = 0
	return Decision{Reason: ReasonNormalCompletion}
}

func (h *Handler) continueLocked(channelKey, responseText, reason string) Decision {
	next := h.attempts[channelKey] + 1
	if next > h.cfg.MaxRetries {
		h.attempts[channelKey] = 0
		logger.WarnCF("continuation", "Continuation retries exhausted", map[string]any{
			"channel": channelKey,
			"max":     h.cfg.MaxRetries,
		})
		return Decision{
			Reason:            ReasonMaxRetriesReached,
			MaxRetriesReached: true,
		}
	}
	h.attempts[channelKey] = next
	return Decision{
		ShouldContinue:     true,
		Reason:             reason,
		ContinuationPrompt: BuildPrompt(responseText),
		Attempts:           next,
	}
}

// hasCompletionMarker looks for a marker within the last three lines.
func hasCompletionMarker(text string) bool {
	lines := strings.Split(strings.TrimRight(text, "\n \t"), "\n")
	start := len(lines) - 3
	if start < 0 {
		start = 0
	}
	tail := strings.ToLower(strings.Join(lines[start:], "\n"))
	for _, marker := range completionMarkers {
		if strings.Contains(tail, marker) {
			return true
		}
	}
	return false
}

func hasIncompleteMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range incompleteMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// looksTruncated flags long responses whose last non-whitespace rune is
// not sentence-terminal.
func looksTruncated(text string) bool {
	if len([]rune(text)) < truncationThreshold {
		return false
	}
	runes := []rune(strings.TrimRight(text, " \t\n\r"))
	if len(runes) == 0 {
		return false
	}
	return !terminalRunes[runes[len(runes)-1]]
}

// BuildPrompt assembles the follow-up instruction with the tail of the
// interrupted response for context.
func BuildPrompt(previous string) string {
	runes := []rune(strings.TrimSpace(previous))
	tail := string(runes)
	if len(runes) > promptTailChars {
		tail = "..." + string(runes[len(runes)-promptTailChars:])
	}
	return fmt.Sprintf(
		"Your previous response appears incomplete. It ended with:\n\n%s\n\nContinue exactly where you left off. When the task is fully finished, end your message with DONE.",
		tail,
	)
}
