package guild_settings

import (
	"context"

	"discord_ai_cogs/entities"
)

type Repository interface {
	Upsert(ctx context.Context, settings *entities.GuildSettings) (*entities.GuildSettings, error)
	GetByGuildID(ctx context.Context, guildID string) (*entities.GuildSettings, error)
}
