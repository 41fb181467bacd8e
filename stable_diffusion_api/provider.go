package stable_diffusion_api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
)

// BackendProvider resolves the backend variant for a guild's settings.
type BackendProvider interface {
	Backend(settings *entities.GuildSettings) (Backend, error)
}

type providerImpl struct {
	client        *http.Client
	clock         clock.Clock
	logger        *zap.Logger
	retryInterval time.Duration
	attempts      int
	pollInterval  time.Duration
}

type ProviderConfig struct {
	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration
	Client  *http.Client
	Clock   clock.Clock
	Logger  *zap.Logger

	RetryInterval time.Duration
	Attempts      int
	PollInterval  time.Duration
}

func NewProvider(cfg ProviderConfig) BackendProvider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &providerImpl{
		client:        client,
		clock:         cfg.Clock,
		logger:        logger,
		retryInterval: cfg.RetryInterval,
		attempts:      cfg.Attempts,
		pollInterval:  cfg.PollInterval,
	}
}

func (p *providerImpl) Backend(settings *entities.GuildSettings) (Backend, error) {
	if settings == nil {
		return nil, fmt.Errorf("missing guild settings")
	}

	switch settings.APIType {
	case "", entities.APITypeAutomatic1111:
		return NewWebUI(WebUIConfig{
			Endpoint:      settings.Endpoint,
			Auth:          settings.Auth,
			Settings:      settings,
			Client:        p.client,
			Logger:        p.logger.With(zap.String("backend", entities.APITypeAutomatic1111), zap.String("guild_id", settings.GuildID)),
			RetryInterval: p.retryInterval,
			Attempts:      p.attempts,
		})
	case entities.APITypeAIHorde:
		return NewHorde(HordeConfig{
			Endpoint:      settings.Endpoint,
			APIKey:        settings.Auth,
			Settings:      settings,
			Client:        p.client,
			Clock:         p.clock,
			Logger:        p.logger.With(zap.String("backend", entities.APITypeAIHorde), zap.String("guild_id", settings.GuildID)),
			PollInterval:  p.pollInterval,
			RetryInterval: p.retryInterval,
			Attempts:      p.attempts,
		})
	default:
		return nil, newAPIError(KindUnsupportedOperation, fmt.Sprintf("unknown api type %q", settings.APIType), nil)
	}
}
