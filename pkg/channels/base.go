// Package channels hosts the gateway adapters that connect chat
// platforms to the message bus. Each adapter implements Channel; the
// Manager owns their lifecycles and fans outbound replies to
// per-channel workers.
package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mama-os/mama/pkg/bus"
)

// Channel is one gateway adapter (Discord, Slack, Telegram, viewer).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// MessageLengthProvider is implemented by channels with a platform
// message size cap. The manager splits oversized replies before Send.
type MessageLengthProvider interface {
	MaxMessageLength() int
}

// BaseChannel carries the state every adapter shares.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running atomic.Bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: messageBus}
}

func (b *BaseChannel) Name() string      { return b.name }
func (b *BaseChannel) IsRunning() bool   { return b.running.Load() }
func (b *BaseChannel) setRunning(v bool) { b.running.Store(v) }

// publishInbound stamps the source and timestamp and hands the message
// to the bus. Adapters fill the platform-specific fields.
func (b *BaseChannel) publishInbound(msg bus.InboundMessage) {
	msg.Source = b.name
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.bus.PublishInbound(msg)
}

// splitMessage splits long messages into chunks, preserving code block
// integrity. All length calculations use rune count since platform
// limits are character-based, not byte-based.
func splitMessage(content string, limit int) []string {
	var messages []string
	runes := []rune(content)

	for len(runes) > 0 {
		if len(runes) <= limit {
			messages = append(messages, string(runes))
			break
		}

		// Find natural split point within the limit
		msgEnd := findLastRuneNewline(runes[:limit], 200)
		if msgEnd <= 0 {
			msgEnd = findLastRuneSpace(runes[:limit], 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		// Check if this would end with an incomplete code block
		unclosedRuneIdx := findLastUnclosedCodeBlockRune(runes[:msgEnd])

		if unclosedRuneIdx >= 0 {
			// Try to extend to include the closing ``` (with some buffer)
			extendedLimit := limit + 400
			if len(runes) > extendedLimit {
				closingRuneIdx := findNextClosingCodeBlockRune(runes, msgEnd)
				if closingRuneIdx > 0 && closingRuneIdx <= extendedLimit {
					msgEnd = closingRuneIdx
				} else {
					// Can't find closing, split before the code block
					msgEnd = findLastRuneNewline(runes[:unclosedRuneIdx], 200)
					if msgEnd <= 0 {
						msgEnd = findLastRuneSpace(runes[:unclosedRuneIdx], 100)
					}
					if msgEnd <= 0 {
						msgEnd = unclosedRuneIdx
					}
				}
			} else {
				// Remaining content fits within extended limit
				msgEnd = len(runes)
			}
		}

		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, string(runes[:msgEnd]))
		remaining := strings.TrimSpace(string(runes[msgEnd:]))
		runes = []rune(remaining)
	}

	return messages
}

// findLastUnclosedCodeBlockRune finds the last opening ``` without a
// closing ```. Returns the rune position or -1 when all blocks close.
func findLastUnclosedCodeBlockRune(runes []rune) int {
	count := 0
	lastOpenIdx := -1

	for i := 0; i < len(runes); i++ {
		if i+2 < len(runes) && runes[i] == '`' && runes[i+1] == '`' && runes[i+2] == '`' {
			if count%2 == 0 {
				lastOpenIdx = i
			}
			count++
			i += 2
		}
	}

	if count%2 == 1 {
		return lastOpenIdx
	}
	return -1
}

// findNextClosingCodeBlockRune finds the next closing ``` at or after
// startIdx. Returns the position after the fence (and any trailing
// newline), or -1.
func findNextClosingCodeBlockRune(runes []rune, startIdx int) int {
	for i := startIdx; i < len(runes); i++ {
		if i+2 < len(runes) && runes[i] == '`' && runes[i+1] == '`' && runes[i+2] == '`' {
			end := i + 3
			if end < len(runes) && runes[end] == '\n' {
				end++
			}
			return end
		}
	}
	return -1
}

// findLastRuneNewline returns the index just past the last newline
// within the final searchWindow runes, or -1.
func findLastRuneNewline(runes []rune, searchWindow int) int {
	start := len(runes) - searchWindow
	if start < 0 {
		start = 0
	}
	for i := len(runes) - 1; i >= start; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

func findLastRuneSpace(runes []rune, searchWindow int) int {
	start := len(runes) - searchWindow
	if start < 0 {
		start = 0
	}
	for i := len(runes) - 1; i >= start; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return -1
}
