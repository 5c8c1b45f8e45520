package bus

import "time"

// InboundMessage is a message arriving from a gateway (or synthesized by
// cron/heartbeat). Source plus ChannelID form the channel key used for
// conversation continuity.
type InboundMessage struct {
	Source      string            `json:"source"` // discord | slack | telegram | viewer | cron | system
	ChannelID   string            `json:"channel_id"`
	GuildID     string            `json:"guild_id,omitempty"`
	UserID      string            `json:"user_id"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"` // normalised bot user IDs mentioned
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Attachment struct {
	Type     string `json:"type"` // image | file | audio | video
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// OutboundMessage is a reply heading back to a gateway channel.
type OutboundMessage struct {
	Source      string       `json:"source"`
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	AgentID     string       `json:"agent_id,omitempty"` // which persona produced the reply
	Attachments []Attachment `json:"attachments,omitempty"`
}

type MessageHandler func(InboundMessage) error
