package discord_bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/image_scanner"
)

func (b *botImpl) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.Emoji.Name != image_handler.ScanReaction || r.GuildID == "" {
		return
	}

	if s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}

	ctx := context.Background()
	logger := b.logger.With(zap.String("message_id", r.MessageID), zap.String("user_id", r.UserID))

	scan, err := b.scanner.Lookup(ctx, r.MessageID)
	if errors.Is(err, image_scanner.ErrNotIndexed) {
		return
	}

	if err != nil {
		logger.Error("Failed to look up image parameters", zap.Error(err))
		return
	}

	embed := scanEmbed(scan, r.GuildID, r.ChannelID, r.MessageID)

	dm, err := s.UserChannelCreate(r.UserID)
	if err == nil {
		_, err = s.ChannelMessageSendEmbed(dm.ID, embed)
		if err == nil {
			return
		}
	}

	logger.Debug("Could not send parameters by DM, posting to the channel", zap.Error(err))

	_, err = s.ChannelMessageSendComplex(r.ChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("<@%s>", r.UserID),
		Embeds:  []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		logger.Warn("Failed to send image parameters", zap.Error(err))
	}
}

func scanEmbed(scan *image_scanner.Scan, guildID, channelID, messageID string) *discordgo.MessageEmbed {
	embed := infoEmbed(scan.Parameters)
	embed.Title = "Image parameters"
	embed.URL = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)

	if scan.Record != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Seed %d", scan.Record.Seed)}
	}

	return embed
}
