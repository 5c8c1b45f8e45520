package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
	"github.com/mama-os/mama/pkg/logger"
)

const (
	slackMaxMessageLength = 4000
	slackSplitLength      = 3500
)

var slackMentionRe = regexp.MustCompile(`<@([A-Z0-9]+)>`)

// SlackChannel connects over Socket Mode, so no public HTTP endpoint is
// needed. Requires both a bot token (xoxb-) and an app token (xapp-).
type SlackChannel struct {
	*BaseChannel
	api    *slack.Client
	socket *socketmode.Client
	config config.SlackConfig
	botID  string
	cancel context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) (*SlackChannel, error) {
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("slack app token must start with xapp-")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", messageBus),
		api:         api,
		socket:      socketmode.New(api),
		config:      cfg,
	}, nil
}

func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack bot (socket mode)")

	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	c.botID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setRunning(true)

	go c.eventLoop(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "Socket mode terminated", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("slack", "Slack bot connected", map[string]any{
		"user":    auth.User,
		"user_id": auth.UserID,
	})
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack bot")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *SlackChannel) MaxMessageLength() int {
	return slackMaxMessageLength
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack bot not running")
	}
	if msg.ChannelID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, slackSplitLength) {
		_, _, err := c.api.PostMessageContext(ctx, msg.ChannelID,
			slack.MsgOptionText(chunk, false))
		if err != nil {
			return fmt.Errorf("chat.postMessage failed: %w", err)
		}
	}
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				logger.InfoC("slack", "Socket mode connected")
			case socketmode.EventTypeConnectionError:
				logger.WarnC("slack", "Socket mode connection error, retrying")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					c.socket.Ack(*evt.Request)
				}
				c.handleEventsAPI(apiEvent)
			}
		}
	}
}

func (c *SlackChannel) handleEventsAPI(evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := evt.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip edits, thread broadcasts and anything bot-authored.
		if ev.SubType != "" || ev.BotID != "" || ev.User == c.botID {
			return
		}
		c.publishMessage(ev.Channel, ev.User, ev.Text)
	case *slackevents.AppMentionEvent:
		if ev.User == c.botID {
			return
		}
		c.publishMessage(ev.Channel, ev.User, ev.Text)
	}
}

func (c *SlackChannel) publishMessage(channelID, userID, text string) {
	mentions := extractSlackMentions(text)
	content := strings.TrimSpace(slackMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		if strings.Contains(m, c.botID) {
			return ""
		}
		return m
	}))
	if content == "" {
		return
	}

	logger.DebugCF("slack", "Received message", map[string]any{
		"channel_id": channelID,
		"user_id":    userID,
	})

	c.publishInbound(bus.InboundMessage{
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		Mentions:  mentions,
	})
}

func extractSlackMentions(text string) []string {
	var ids []string
	for _, m := range slackMentionRe.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}
