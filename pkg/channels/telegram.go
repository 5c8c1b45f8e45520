package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/logger"
)

// Telegram caps messages at 4096 characters; splitting at 3900 leaves
// headroom for split points near code fences.
const (
	telegramMaxMessageLength = 4096
	telegramSplitLength      = 3900
)

type TelegramChannel struct {
	*BaseChannel
	bot     *telego.Bot
	config  config.TelegramConfig
	allowed map[string]bool
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[strings.TrimSpace(id)] = true
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", messageBus),
		bot:         bot,
		config:      cfg,
		allowed:     allowed,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot")
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) MaxMessageLength() int {
	return telegramMaxMessageLength
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChannelID, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, telegramSplitLength) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
	}
	return nil
}

func (c *TelegramChannel) handleMessage(m *telego.Message) {
	if m.From == nil {
		return
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if !c.chatAllowed(chatID) {
		logger.WarnCF("telegram", "Message from unauthorized chat dropped", map[string]any{
			"chat_id": chatID,
		})
		return
	}

	content := strings.TrimSpace(m.Text)
	if content == "" && m.Caption != "" {
		content = strings.TrimSpace(m.Caption)
	}
	if content == "" {
		return
	}

	// Telegram mentions arrive as @username entities in the text.
	var mentions []string
	for _, e := range m.Entities {
		if e.Type == "mention" && e.Offset+e.Length <= len(m.Text) {
			mentions = append(mentions, strings.TrimPrefix(m.Text[e.Offset:e.Offset+e.Length], "@"))
		}
	}

	logger.DebugCF("telegram", "Received message", map[string]any{
		"chat_id": chatID,
		"user_id": m.From.ID,
	})

	c.publishInbound(bus.InboundMessage{
		ChannelID: chatID,
		UserID:    strconv.FormatInt(m.From.ID, 10),
		Content:   content,
		Mentions:  mentions,
		Metadata: map[string]string{
			"username": m.From.Username,
		},
	})
}

// chatAllowed enforces the allow-list. An empty list means open access.
func (c *TelegramChannel) chatAllowed(chatID string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	return c.allowed[chatID]
}
