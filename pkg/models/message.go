package models

import (
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelDiscord ChannelType = "discord"
	ChannelTest    ChannelType = "test"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is the platform-neutral view of a chat message.
//
// Inbound messages are produced by channel adapters and are read-only for
// the command layer. Raw and Conn carry the platform's own event and
// connection objects for handlers that need to reach past the neutral view.
type Message struct {
	ID        string      `json:"id"`
	Channel   ChannelType `json:"channel"`
	Direction Direction   `json:"direction"`

	// ChannelID is the platform channel the message was posted in.
	ChannelID string `json:"channel_id"`

	// GuildID is empty for direct messages.
	GuildID string `json:"guild_id,omitempty"`

	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name,omitempty"`

	// AuthorBot is set for bot accounts, Webhook for webhook-authored
	// (synthetic) messages.
	AuthorBot bool `json:"author_bot,omitempty"`
	Webhook   bool `json:"webhook,omitempty"`

	// Member is nil outside guilds.
	Member *Member `json:"member,omitempty"`

	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	Raw  any `json:"-"`
	Conn any `json:"-"`
}

// Member is the guild-scoped identity of a message author.
type Member struct {
	UserID string   `json:"user_id"`
	Nick   string   `json:"nick,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// HasGuild reports whether the message was posted inside a guild.
func (m *Message) HasGuild() bool {
	return m != nil && m.GuildID != ""
}

// IsAutomated reports whether the message was authored by a bot account or
// a webhook rather than a person.
func (m *Message) IsAutomated() bool {
	return m != nil && (m.AuthorBot || m.Webhook)
}
