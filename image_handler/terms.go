package image_handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"discord_ai_cogs/stable_diffusion_api"
)

// termsCache holds autocomplete options per guild and category. It is a
// convenience only; an empty category just means no suggestions.
type termsCache struct {
	mu         sync.RWMutex
	guilds     map[string]map[string][]string
	refreshing map[string]bool
}

func newTermsCache() *termsCache {
	return &termsCache{
		guilds:     make(map[string]map[string][]string),
		refreshing: make(map[string]bool),
	}
}

func (c *termsCache) get(guildID, category string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	guild, ok := c.guilds[guildID]
	if !ok {
		return nil, false
	}

	return append([]string(nil), guild[category]...), true
}

func (c *termsCache) merge(guildID string, terms map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	guild, ok := c.guilds[guildID]
	if !ok {
		guild = make(map[string][]string)
		c.guilds[guildID] = guild
	}

	for category, options := range terms {
		guild[category] = options
	}
}

// startRefresh reports whether the caller should run a refresh for guildID.
func (c *termsCache) startRefresh(guildID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshing[guildID] {
		return false
	}

	c.refreshing[guildID] = true

	return true
}

func (c *termsCache) endRefresh(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.refreshing, guildID)
}

// Terms returns the cached options of category for guildID. A guild seen for
// the first time gets a background refresh and no options yet.
func (h *handlerImpl) Terms(ctx context.Context, guildID, category string) []string {
	options, known := h.terms.get(guildID, category)
	if !known {
		go func() {
			err := h.RefreshTerms(context.Background(), guildID)
			if err != nil {
				h.logger.Debug("Autocomplete refresh failed", zap.String("guild_id", guildID), zap.Error(err))
			}
		}()
	}

	return options
}

func (h *handlerImpl) RefreshTerms(ctx context.Context, guildID string) error {
	if !h.terms.startRefresh(guildID) {
		return nil
	}

	defer h.terms.endRefresh(guildID)

	settings, err := h.Settings(ctx, guildID)
	if err != nil {
		return err
	}

	backend, err := h.provider.Backend(settings)
	if err != nil {
		return err
	}

	terms, err := backend.ListTerms(ctx)
	if err != nil {
		if stable_diffusion_api.KindOf(err) == stable_diffusion_api.KindUnsupportedOperation {
			h.logger.Debug("Autocomplete terms are not supported by the backend", zap.String("guild_id", guildID))
			// remember the guild so lookups stop triggering refreshes
			h.terms.merge(guildID, nil)

			return nil
		}

		return err
	}

	h.terms.merge(guildID, terms)

	return nil
}
