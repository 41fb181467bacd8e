package guild_settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/repositories"
)

const upsertSettings string = `
INSERT OR REPLACE INTO guild_settings (guild_id, settings, updated_at) VALUES (?, ?, ?);
`

const getSettingsByGuildID string = `
SELECT settings FROM guild_settings WHERE guild_id = ?;
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

func (repo *sqliteRepo) Upsert(ctx context.Context, settings *entities.GuildSettings) (*entities.GuildSettings, error) {
	if settings == nil || settings.GuildID == "" {
		return nil, errors.New("missing guild ID")
	}

	encoded, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	_, err = repo.dbConn.ExecContext(ctx, upsertSettings, settings.GuildID, string(encoded), repo.clock.Now())
	if err != nil {
		return nil, err
	}

	return settings, nil
}

func (repo *sqliteRepo) GetByGuildID(ctx context.Context, guildID string) (*entities.GuildSettings, error) {
	var encoded string

	err := repo.dbConn.QueryRowContext(ctx, getSettingsByGuildID, guildID).Scan(&encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("settings for guild ID %s", guildID))
		}

		return nil, err
	}

	var settings entities.GuildSettings

	err = json.Unmarshal([]byte(encoded), &settings)
	if err != nil {
		return nil, fmt.Errorf("corrupt settings for guild %s: %w", guildID, err)
	}

	settings.GuildID = guildID

	return &settings, nil
}
