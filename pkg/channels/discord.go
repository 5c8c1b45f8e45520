package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/logger"
)

// Discord caps messages at 2000 characters; splitting at 1500 leaves
// room for natural break points, e.g. around code blocks.
const (
	discordMaxMessageLength = 2000
	discordSplitLength      = 1500
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	botID   string
}

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", messageBus),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	botUser, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	c.botID = botUser.ID
	c.setRunning(true)

	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) MaxMessageLength() int {
	return discordMaxMessageLength
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, discordSplitLength) {
		if _, err := c.session.ChannelMessageSend(msg.ChannelID, chunk); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botID || m.Author.Bot {
		return
	}

	content := strings.TrimSpace(m.Content)

	mentions := make([]string, 0, len(m.Mentions))
	mentioned := false
	for _, u := range m.Mentions {
		mentions = append(mentions, u.ID)
		if u.ID == c.botID {
			mentioned = true
		}
	}

	// In guild channels the bot only reacts when configured to always
	// listen or when addressed. DMs always go through.
	if c.config.RequireMention && m.GuildID != "" && !mentioned {
		return
	}
	if mentioned {
		content = stripDiscordMention(content, c.botID)
	}

	var attachments []bus.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, bus.Attachment{
			Type:     attachmentType(a.ContentType),
			URL:      a.URL,
			FileName: a.Filename,
			MIMEType: a.ContentType,
		})
	}

	if content == "" && len(attachments) == 0 {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]any{
		"channel_id": m.ChannelID,
		"user_id":    m.Author.ID,
		"length":     len(content),
	})

	c.publishInbound(bus.InboundMessage{
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		UserID:      m.Author.ID,
		Content:     content,
		Attachments: attachments,
		Mentions:    mentions,
		Metadata: map[string]string{
			"username": m.Author.Username,
		},
	})
}

// stripDiscordMention removes the bot's own <@id> / <@!id> tokens so the
// agent sees the bare request.
func stripDiscordMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

func attachmentType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "file"
	}
}
