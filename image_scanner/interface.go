package image_scanner

import (
	"context"

	"discord_ai_cogs/entities"
)

// Scan is what the bot knows about an indexed image.
type Scan struct {
	Record     *entities.ImageRecord
	Parameters string
}

type Scanner interface {
	Enabled(channelID string) bool
	Register(ctx context.Context, record *entities.ImageRecord, data []byte) error
	Lookup(ctx context.Context, messageID string) (*Scan, error)
}
