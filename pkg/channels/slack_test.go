package channels

import (
	"context"
	"testing"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/config"
)

func TestExtractSlackMentions(t *testing.T) {
	ids := extractSlackMentions("<@U111> please ask <@U222> about it")
	if len(ids) != 2 || ids[0] != "U111" || ids[1] != "U222" {
		t.Errorf("ids = %v", ids)
	}
	if ids := extractSlackMentions("plain text"); ids != nil {
		t.Errorf("ids = %v", ids)
	}
}

func TestSlackPublishMessageStripsOwnMention(t *testing.T) {
	mb := bus.NewMessageBus()
	c := &SlackChannel{
		BaseChannel: NewBaseChannel("slack", mb),
		botID:       "UBOT",
	}

	c.publishMessage("C1", "U9", "<@UBOT> summarize <@U222> today")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message")
	}
	if msg.Source != "slack" || msg.ChannelID != "C1" || msg.UserID != "U9" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Content != "summarize <@U222> today" {
		t.Errorf("content = %q", msg.Content)
	}
	if len(msg.Mentions) != 2 || msg.Mentions[0] != "UBOT" {
		t.Errorf("mentions = %v", msg.Mentions)
	}
}

func TestSlackPublishMessageDropsEmpty(t *testing.T) {
	mb := bus.NewMessageBus()
	c := &SlackChannel{
		BaseChannel: NewBaseChannel("slack", mb),
		botID:       "UBOT",
	}

	c.publishMessage("C1", "U9", "<@UBOT>")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("empty message published")
	}
}

func TestNewSlackChannelRejectsBadAppToken(t *testing.T) {
	cfg := config.SlackConfig{Enabled: true, BotToken: "xoxb-1", AppToken: "not-an-app-token"}
	_, err := NewSlackChannel(cfg, bus.NewMessageBus())
	if err == nil {
		t.Error("bad app token accepted")
	}
}
