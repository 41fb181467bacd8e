package discord_bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord_ai_cogs/llm_chat"
)

func (b *botImpl) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || s.State.User == nil || m.Author.ID == s.State.User.ID {
		return
	}

	self := s.State.User

	msg := chatMessage(m.Message, self.ID)
	msg.ParentChannelID = b.threadParent(m.ChannelID)

	conversation := &channelConversation{
		session: s,
		message: m.Message,
		self:    self,
	}

	replied, err := b.chat.HandleMessage(context.Background(), msg, conversation)
	if err != nil {
		b.logger.Error("Failed to answer chat message",
			zap.String("guild_id", m.GuildID),
			zap.String("channel_id", m.ChannelID),
			zap.Error(err),
		)

		return
	}

	if replied {
		b.logger.Debug("Answered chat message", zap.String("message_id", m.ID))
	}
}

func (b *botImpl) threadParent(channelID string) string {
	channel, err := b.botSession.State.Channel(channelID)
	if err != nil || !channel.IsThread() {
		return ""
	}

	return channel.ParentID
}

func chatMessage(m *discordgo.Message, selfID string) llm_chat.Message {
	msg := llm_chat.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}

	if m.Author != nil {
		msg.AuthorName = displayName(m)
		msg.AuthorBot = m.Author.Bot
		msg.FromSelf = m.Author.ID == selfID
	}

	for _, mentioned := range m.Mentions {
		if mentioned.ID == selfID {
			msg.MentionsBot = true
			break
		}
	}

	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		msg.RepliesToBot = m.ReferencedMessage.Author.ID == selfID
	}

	return msg
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}

	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}

	return m.Author.Username
}

type channelConversation struct {
	session *discordgo.Session
	message *discordgo.Message
	self    *discordgo.User
}

func (c *channelConversation) SelfName() string {
	return c.self.Username
}

func (c *channelConversation) History(ctx context.Context, messageID string, limit int) ([]llm_chat.Message, error) {
	messages, err := c.session.ChannelMessages(c.message.ChannelID, limit, messageID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	history := make([]llm_chat.Message, 0, len(messages))

	// newest first
	for i := len(messages) - 1; i >= 0; i-- {
		history = append(history, chatMessage(messages[i], c.self.ID))
	}

	return history, nil
}

func (c *channelConversation) Reply(ctx context.Context, content string) error {
	_, err := c.session.ChannelMessageSendReply(c.message.ChannelID, content, c.message.Reference(), discordgo.WithContext(ctx))

	return err
}
