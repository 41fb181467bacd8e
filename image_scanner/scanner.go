package image_scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"discord_ai_cogs/entities"
	"discord_ai_cogs/png_info_extractor"
	"discord_ai_cogs/repositories"
	"discord_ai_cogs/repositories/image_generations"
)

const DefaultCacheTTL = 24 * time.Hour

var ErrNotIndexed = errors.New("image is not indexed")

type scannerImpl struct {
	repo     image_generations.Repository
	channels map[string]bool
	images   *cache.Cache
	logger   *zap.Logger
}

type Config struct {
	Repo image_generations.Repository
	// Channels where generated images are indexed. Empty disables indexing.
	Channels []string
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func New(cfg Config) (Scanner, error) {
	if cfg.Repo == nil {
		return nil, errors.New("missing image generations repository")
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	channels := make(map[string]bool, len(cfg.Channels))
	for _, channelID := range cfg.Channels {
		channels[channelID] = true
	}

	return &scannerImpl{
		repo:     cfg.Repo,
		channels: channels,
		images:   cache.New(ttl, ttl/2),
		logger:   logger,
	}, nil
}

func (s *scannerImpl) Enabled(channelID string) bool {
	return s.channels[channelID]
}

func (s *scannerImpl) Register(ctx context.Context, record *entities.ImageRecord, data []byte) error {
	if record == nil || record.MessageID == "" {
		return errors.New("missing message ID")
	}

	_, err := s.repo.Create(ctx, record)
	if err != nil {
		return fmt.Errorf("storing image record: %w", err)
	}

	if len(data) > 0 {
		s.images.SetDefault(record.MessageID, data)
	}

	s.logger.Debug("Indexed image",
		zap.String("message_id", record.MessageID),
		zap.String("channel_id", record.ChannelID),
	)

	return nil
}

func (s *scannerImpl) Lookup(ctx context.Context, messageID string) (*Scan, error) {
	record, err := s.repo.GetByMessage(ctx, messageID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, err
	}

	scan := &Scan{Record: record}
	if record != nil {
		scan.Parameters = record.InfoString
	}

	if scan.Parameters == "" {
		scan.Parameters = s.cachedParameters(messageID)
	}

	if scan.Parameters == "" && scan.Record == nil {
		return nil, ErrNotIndexed
	}

	return scan, nil
}

func (s *scannerImpl) cachedParameters(messageID string) string {
	cached, ok := s.images.Get(messageID)
	if !ok {
		return ""
	}

	data, ok := cached.([]byte)
	if !ok {
		return ""
	}

	extractor, err := png_info_extractor.New(png_info_extractor.Config{PngData: data})
	if err != nil {
		s.logger.Warn("Cached image is not a readable png", zap.String("message_id", messageID), zap.Error(err))

		return ""
	}

	parameters, _ := extractor.Parameters()

	return parameters
}
