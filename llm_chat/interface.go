package llm_chat

import (
	"context"

	"discord_ai_cogs/entities"
)

// Message is a chat message as seen by the reply cog.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	// ParentChannelID is set for messages inside a thread.
	ParentChannelID string
	AuthorName      string
	AuthorBot       bool
	// FromSelf marks messages written by this bot.
	FromSelf     bool
	Content      string
	MentionsBot  bool
	RepliesToBot bool
}

// Conversation is the channel a triggering message was posted in.
type Conversation interface {
	// SelfName is the display name of the bot in the conversation.
	SelfName() string
	// History returns up to limit messages before messageID, oldest first.
	History(ctx context.Context, messageID string, limit int) ([]Message, error)
	Reply(ctx context.Context, content string) error
}

type SettingsSource interface {
	Settings(ctx context.Context, guildID string) (*entities.GuildSettings, error)
}

type Chat interface {
	// HandleMessage answers msg when it is addressed to the bot in an allowed
	// channel. It reports whether a reply was sent.
	HandleMessage(ctx context.Context, msg Message, conversation Conversation) (bool, error)
}
