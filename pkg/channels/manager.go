package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/session"
)

const defaultChannelQueueSize = 100

// internalSources never map to a gateway; replies for them are consumed
// elsewhere (tests, tooling) or dropped.
var internalSources = map[string]bool{
	"system": true,
	"cron":   true,
}

type channelWorker struct {
	ch    Channel
	queue chan bus.OutboundMessage
	done  chan struct{}
}

// Manager owns the gateway adapters: it builds them from config, starts
// and stops them together, and dispatches outbound bus traffic to a
// per-channel worker so one slow platform cannot stall the rest.
type Manager struct {
	channels map[string]Channel
	workers  map[string]*channelWorker
	bus      *bus.MessageBus
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

// NewManager builds adapters for every enabled gateway in cfg. A pool
// may be nil; when present the viewer channel binds WebSocket clients
// to their sessions.
func NewManager(cfg config.GatewaysConfig, messageBus *bus.MessageBus, pool *session.Pool) *Manager {
	m := &Manager{
		channels: make(map[string]Channel),
		workers:  make(map[string]*channelWorker),
		bus:      messageBus,
	}

	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		m.initChannel("Discord", func() (Channel, error) {
			return NewDiscordChannel(cfg.Discord, messageBus)
		})
	}
	if cfg.Slack.Enabled && cfg.Slack.BotToken != "" && cfg.Slack.AppToken != "" {
		m.initChannel("Slack", func() (Channel, error) {
			return NewSlackChannel(cfg.Slack, messageBus)
		})
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		m.initChannel("Telegram", func() (Channel, error) {
			return NewTelegramChannel(cfg.Telegram, messageBus)
		})
	}
	if cfg.Viewer.Enabled && cfg.Viewer.ListenAddr != "" {
		m.initChannel("Viewer", func() (Channel, error) {
			return NewViewerChannel(cfg.Viewer, messageBus, pool)
		})
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})
	return m
}

func (m *Manager) initChannel(displayName string, build func() (Channel, error)) {
	ch, err := build()
	if err != nil {
		logger.ErrorCF("channels", "Failed to initialize channel", map[string]any{
			"channel": displayName,
			"error":   err.Error(),
		})
		return
	}
	m.register(ch)
	logger.InfoCF("channels", "Channel enabled", map[string]any{
		"channel": displayName,
	})
}

func (m *Manager) register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.workers[ch.Name()] = &channelWorker{
		ch:    ch,
		queue: make(chan bus.OutboundMessage, defaultChannelQueueSize),
		done:  make(chan struct{}),
	}
}

// RegisterChannel adds a channel after construction. Used by tests and
// by callers wiring custom gateways.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(ch)
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{
			"channel": name,
		})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	for name, w := range m.workers {
		go m.runWorker(dispatchCtx, name, w)
	}
	go m.dispatchOutbound(dispatchCtx)

	logger.InfoC("channels", "All channels started")
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	for _, w := range m.workers {
		close(w.queue)
	}
	for _, w := range m.workers {
		<-w.done
	}

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

// runWorker drains one channel's queue, splitting messages that exceed
// the platform's maximum length.
func (m *Manager) runWorker(ctx context.Context, name string, w *channelWorker) {
	defer close(w.done)
	for {
		select {
		case msg, ok := <-w.queue:
			if !ok {
				return
			}
			maxLen := 0
			if mlp, ok := w.ch.(MessageLengthProvider); ok {
				maxLen = mlp.MaxMessageLength()
			}
			if maxLen > 0 && len([]rune(msg.Content)) > maxLen {
				for _, chunk := range splitMessage(msg.Content, maxLen) {
					chunkMsg := msg
					chunkMsg.Content = chunk
					if err := w.ch.Send(ctx, chunkMsg); err != nil {
						logger.ErrorCF("channels", "Error sending chunk", map[string]any{
							"channel": name, "error": err.Error(),
						})
					}
				}
			} else if err := w.ch.Send(ctx, msg); err != nil {
				logger.ErrorCF("channels", "Error sending message", map[string]any{
					"channel": name, "error": err.Error(),
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatchOutbound reads replies off the bus and routes each to the
// worker for its source gateway.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				logger.InfoC("channels", "Outbound dispatcher stopped")
				return
			default:
				continue
			}
		}

		if internalSources[msg.Source] {
			continue
		}

		m.mu.RLock()
		w, exists := m.workers[msg.Source]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Source,
			})
			continue
		}

		select {
		case w.queue <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) GetStatus() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]any)
	for name, channel := range m.channels {
		status[name] = map[string]any{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// SendToChannel queues a message for one gateway directly, bypassing
// the bus. Used by tools that address a specific platform.
func (m *Manager) SendToChannel(ctx context.Context, source, channelID, content string) error {
	m.mu.RLock()
	w, exists := m.workers[source]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", source)
	}

	msg := bus.OutboundMessage{
		Source:    source,
		ChannelID: channelID,
		Content:   content,
	}
	select {
	case w.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
