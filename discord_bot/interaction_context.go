package discord_bot

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord_ai_cogs/image_handler"
)

// interactionContext delivers generation replies for one interaction. Slash
// commands are deferred, so their first public reply replaces the "thinking"
// response. Later replies, and replies whose interaction token has expired,
// are posted to the channel directly.
type interactionContext struct {
	session      *discordgo.Session
	interaction  *discordgo.Interaction
	user         *discordgo.User
	nsfw         bool
	editOriginal bool
	logger       *zap.Logger

	mu        sync.Mutex
	responded bool
}

func (b *botImpl) newInteractionContext(interaction *discordgo.Interaction, editOriginal bool) *interactionContext {
	return &interactionContext{
		session:      b.botSession,
		interaction:  interaction,
		user:         interactionUser(interaction),
		nsfw:         b.channelNSFW(interaction.ChannelID),
		editOriginal: editOriginal,
		logger:       b.logger.With(zap.String("interaction_id", interaction.ID)),
	}
}

// channelNSFW reports whether channelID, or the channel a thread belongs to,
// is age restricted.
func (b *botImpl) channelNSFW(channelID string) bool {
	channel, err := b.botSession.State.Channel(channelID)
	if err != nil {
		channel, err = b.botSession.Channel(channelID)
		if err != nil {
			b.logger.Warn("Failed to look up channel", zap.String("channel_id", channelID), zap.Error(err))

			return false
		}
	}

	if channel.IsThread() && channel.ParentID != "" {
		return b.channelNSFW(channel.ParentID)
	}

	return channel.NSFW
}

func (c *interactionContext) ID() string {
	return c.interaction.ID
}

func (c *interactionContext) GuildID() string {
	return c.interaction.GuildID
}

func (c *interactionContext) ChannelID() string {
	return c.interaction.ChannelID
}

func (c *interactionContext) ChannelNSFW() bool {
	return c.nsfw
}

func (c *interactionContext) UserID() string {
	if c.user == nil {
		return ""
	}

	return c.user.ID
}

func (c *interactionContext) UserMention() string {
	if c.user == nil {
		return ""
	}

	return c.user.Mention()
}

func (c *interactionContext) UserRoles() []string {
	if c.interaction.Member == nil {
		return nil
	}

	return c.interaction.Member.Roles
}

// takeOriginal reports whether the deferred response is still unused and
// marks it used.
func (c *interactionContext) takeOriginal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	first := c.editOriginal && !c.responded
	c.responded = true

	return first
}

func (c *interactionContext) Send(ctx context.Context, reply image_handler.Reply) (image_handler.SentMessage, error) {
	if reply.Ephemeral {
		return c.sendEphemeral(ctx, reply)
	}

	components := replyComponents(reply)
	embeds := replyEmbeds(reply)

	if c.takeOriginal() {
		message, err := c.session.InteractionResponseEdit(c.interaction, &discordgo.WebhookEdit{
			Content:    &reply.Content,
			Files:      replyFiles(reply),
			Components: &components,
			Embeds:     &embeds,
		}, discordgo.WithContext(ctx))
		if err == nil {
			return &sentMessage{session: c.session, channelID: message.ChannelID, messageID: message.ID}, nil
		}

		c.logger.Warn("Failed to edit interaction response, posting to the channel", zap.Error(err))
	}

	message, err := c.session.ChannelMessageSendComplex(c.interaction.ChannelID, &discordgo.MessageSend{
		Content:    reply.Content,
		Files:      replyFiles(reply),
		Components: components,
		Embeds:     embeds,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	return &sentMessage{session: c.session, channelID: message.ChannelID, messageID: message.ID}, nil
}

func (c *interactionContext) sendEphemeral(ctx context.Context, reply image_handler.Reply) (image_handler.SentMessage, error) {
	if c.takeOriginal() {
		// an ephemeral followup cannot replace a public deferred response
		err := c.session.InteractionResponseDelete(c.interaction, discordgo.WithContext(ctx))
		if err != nil {
			c.logger.Debug("Failed to delete deferred response", zap.Error(err))
		}
	}

	message, err := c.session.FollowupMessageCreate(c.interaction, true, &discordgo.WebhookParams{
		Content:    reply.Content,
		Files:      replyFiles(reply),
		Components: replyComponents(reply),
		Flags:      discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	return &sentMessage{
		session:     c.session,
		channelID:   message.ChannelID,
		messageID:   message.ID,
		interaction: c.interaction,
	}, nil
}

func replyFiles(reply image_handler.Reply) []*discordgo.File {
	if reply.File == nil {
		return nil
	}

	return []*discordgo.File{{
		Name:        fileName(reply.File),
		ContentType: http.DetectContentType(reply.File.Data),
		Reader:      bytes.NewReader(reply.File.Data),
	}}
}

func fileName(file *image_handler.File) string {
	if file.Spoiler {
		return "SPOILER_" + file.Name
	}

	return file.Name
}

func replyComponents(reply image_handler.Reply) []discordgo.MessageComponent {
	if reply.Actions == nil {
		return []discordgo.MessageComponent{}
	}

	return buttonRows(reply.Actions.Buttons())
}

func replyEmbeds(reply image_handler.Reply) []*discordgo.MessageEmbed {
	if reply.EmbedDescription == "" {
		return []*discordgo.MessageEmbed{}
	}

	embed := &discordgo.MessageEmbed{Description: reply.EmbedDescription}

	// spoilered files cannot be shown inside an embed
	if reply.File != nil && !reply.File.Spoiler {
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + fileName(reply.File)}
	}

	return []*discordgo.MessageEmbed{embed}
}

// sentMessage is a posted message. Ephemeral followups can only be changed
// through the interaction they belong to.
type sentMessage struct {
	session     *discordgo.Session
	channelID   string
	messageID   string
	interaction *discordgo.Interaction
}

func (m *sentMessage) ID() string {
	return m.messageID
}

func (m *sentMessage) ChannelID() string {
	return m.channelID
}

func (m *sentMessage) EditButtons(ctx context.Context, buttons []image_handler.ActionButton) error {
	components := buttonRows(buttons)

	var err error
	if m.interaction != nil {
		_, err = m.session.FollowupMessageEdit(m.interaction, m.messageID, &discordgo.WebhookEdit{
			Components: &components,
		}, discordgo.WithContext(ctx))
	} else {
		_, err = m.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         m.messageID,
			Channel:    m.channelID,
			Components: &components,
		}, discordgo.WithContext(ctx))
	}

	return messageError(err)
}

func (m *sentMessage) AddReaction(ctx context.Context, emoji string) error {
	if m.interaction != nil {
		return errors.New("cannot react to an ephemeral message")
	}

	return messageError(m.session.MessageReactionAdd(m.channelID, m.messageID, emoji, discordgo.WithContext(ctx)))
}

func (m *sentMessage) Delete(ctx context.Context) error {
	if m.interaction != nil {
		return messageError(m.session.FollowupMessageDelete(m.interaction, m.messageID, discordgo.WithContext(ctx)))
	}

	return messageError(m.session.ChannelMessageDelete(m.channelID, m.messageID, discordgo.WithContext(ctx)))
}

// messageError maps Discord's unknown message responses to ErrMessageDeleted.
func messageError(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
			return errors.Join(image_handler.ErrMessageDeleted, err)
		}

		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return errors.Join(image_handler.ErrMessageDeleted, err)
		}
	}

	return err
}
