package tools

import (
	"context"
	"fmt"

	"github.com/mama-os/mama/pkg/bus"
)

// SendMessageTool lets an agent push a message to any connected gateway
// channel, independent of the turn's reply.
type SendMessageTool struct {
	Bus     *bus.MessageBus
	AgentID string
}

func (t *SendMessageTool) Name() string { return "send_message" }
func (t *SendMessageTool) Description() string {
	return "Send a message to a gateway channel"
}

func (t *SendMessageTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "gateway",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "source", Type: "string", Required: true, Description: "Gateway name: discord, slack or telegram"},
			{Name: "channel_id", Type: "string", Required: true, Description: "Target channel identifier"},
			{Name: "content", Type: "string", Required: true, Description: "Message text"},
		},
	}
}

func (t *SendMessageTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	source, _ := args["source"].(string)
	channelID, _ := args["channel_id"].(string)
	content, _ := args["content"].(string)
	if source == "" || channelID == "" || content == "" {
		return ErrorResult("source, channel_id and content are required")
	}

	t.Bus.PublishOutbound(bus.OutboundMessage{
		Source:    source,
		ChannelID: channelID,
		Content:   content,
		AgentID:   t.AgentID,
	})
	return NewToolResult(fmt.Sprintf("message sent to %s:%s", source, channelID))
}
