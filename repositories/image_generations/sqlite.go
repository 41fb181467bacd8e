package image_generations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/repositories"
)

const insertGenerationQuery string = `
INSERT INTO image_generations (message_id, channel_id, guild_id, member_id, prompt, negative_prompt, seed, info_string, extension, nsfw, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const getGenerationByMessageQuery string = `
SELECT id, message_id, channel_id, guild_id, member_id, prompt, negative_prompt, seed, info_string, extension, nsfw, created_at
FROM image_generations WHERE message_id = ? ORDER BY id DESC LIMIT 1;
`

type sqliteRepo struct {
	dbConn *sql.DB
	clock  clock.Clock
}

type Config struct {
	DB    *sql.DB
	Clock clock.Clock
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	repoClock := cfg.Clock
	if repoClock == nil {
		repoClock = clock.NewClock()
	}

	newRepo := &sqliteRepo{
		dbConn: cfg.DB,
		clock:  repoClock,
	}

	return newRepo, nil
}

func (repo *sqliteRepo) Create(ctx context.Context, record *entities.ImageRecord) (*entities.ImageRecord, error) {
	record.CreatedAt = repo.clock.Now()

	res, err := repo.dbConn.ExecContext(ctx, insertGenerationQuery,
		record.MessageID, record.ChannelID, record.GuildID, record.MemberID,
		record.Prompt, record.NegativePrompt, record.Seed, record.InfoString,
		record.Extension, record.NSFW, record.CreatedAt)
	if err != nil {
		return nil, err
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	record.ID = lastID

	return record, nil
}

func (repo *sqliteRepo) GetByMessage(ctx context.Context, messageID string) (*entities.ImageRecord, error) {
	var record entities.ImageRecord

	err := repo.dbConn.QueryRowContext(ctx, getGenerationByMessageQuery, messageID).Scan(
		&record.ID, &record.MessageID, &record.ChannelID, &record.GuildID, &record.MemberID,
		&record.Prompt, &record.NegativePrompt, &record.Seed, &record.InfoString,
		&record.Extension, &record.NSFW, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("image generation for message %s", messageID))
		}

		return nil, err
	}

	return &record, nil
}
