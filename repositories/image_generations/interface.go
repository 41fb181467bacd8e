package image_generations

import (
	"context"

	"discord_ai_cogs/entities"
)

type Repository interface {
	Create(ctx context.Context, record *entities.ImageRecord) (*entities.ImageRecord, error)
	GetByMessage(ctx context.Context, messageID string) (*entities.ImageRecord, error)
}
