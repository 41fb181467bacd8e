package entities

import "time"

// ImageRecord is the stored trace of a posted generation, keyed by message.
type ImageRecord struct {
	ID             int64     `json:"id"`
	MessageID      string    `json:"message_id"`
	ChannelID      string    `json:"channel_id"`
	GuildID        string    `json:"guild_id"`
	MemberID       string    `json:"member_id"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt"`
	Seed           int64     `json:"seed"`
	InfoString     string    `json:"info_string"`
	Extension      string    `json:"extension"`
	NSFW           bool      `json:"nsfw"`
	CreatedAt      time.Time `json:"created_at"`
}
