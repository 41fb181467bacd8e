package image_actions

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/image_handler"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultReenableDelay = time.Second
)

type registryEntry struct {
	controller *Controller
	timer      clock.Timer
}

// Registry keeps the controllers of recently generated images by message ID
// and retires them after a period without interactions.
type Registry struct {
	mu            sync.Mutex
	entries       map[string]*registryEntry
	idleTimeout   time.Duration
	reenableDelay time.Duration
	clock         clock.Clock
	logger        *zap.Logger
}

type Config struct {
	IdleTimeout   time.Duration
	ReenableDelay time.Duration
	Clock         clock.Clock
	Logger        *zap.Logger
}

func New(cfg Config) (*Registry, error) {
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	reenableDelay := cfg.ReenableDelay
	if reenableDelay <= 0 {
		reenableDelay = DefaultReenableDelay
	}

	registryClock := cfg.Clock
	if registryClock == nil {
		registryClock = clock.NewClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		entries:       make(map[string]*registryEntry),
		idleTimeout:   idleTimeout,
		reenableDelay: reenableDelay,
		clock:         registryClock,
		logger:        logger,
	}, nil
}

func (r *Registry) NewActions(params image_handler.ActionsParams) image_handler.Actions {
	payload := params.Result.Payload.Clone()
	if payload == nil {
		payload = &entities.Payload{AlwaysOnScripts: map[string]entities.ScriptArgs{}}
	}

	return &Controller{
		payload:       payload,
		info:          params.Result.InfoString,
		ownerID:       params.OwnerID,
		guildID:       params.GuildID,
		channelID:     params.ChannelID,
		maxPixels:     params.MaxPixels,
		stockNegative: params.StockNegativePrompt,
		submitter:     params.Submitter,
		registry:      r,
		clock:         r.clock,
		logger:        r.logger.With(zap.String("owner_id", params.OwnerID)),
		reenableDelay: r.reenableDelay,
		disabled:      make(map[string]bool),
	}
}

func (r *Registry) register(messageID string, controller *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[messageID]; ok {
		existing.timer.Stop()
	}

	r.entries[messageID] = &registryEntry{
		controller: controller,
		timer: r.clock.AfterFunc(r.idleTimeout, func() {
			r.expire(messageID, controller)
		}),
	}
}

// Get returns the controller of messageID and restarts its idle timer.
func (r *Registry) Get(messageID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[messageID]
	if !ok {
		return nil, false
	}

	entry.timer.Reset(r.idleTimeout)

	return entry.controller, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) remove(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[messageID]; ok {
		entry.timer.Stop()
		delete(r.entries, messageID)
	}
}

func (r *Registry) expire(messageID string, controller *Controller) {
	r.mu.Lock()
	entry, ok := r.entries[messageID]
	if !ok || entry.controller != controller {
		r.mu.Unlock()
		return
	}

	delete(r.entries, messageID)
	r.mu.Unlock()

	r.logger.Debug("Retiring image actions", zap.String("message_id", messageID))

	controller.expire(context.Background())
}

// Close removes the buttons of every live controller.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for messageID, entry := range entries {
		entry.timer.Stop()

		r.logger.Debug("Retiring image actions", zap.String("message_id", messageID))
		entry.controller.expire(context.Background())
	}
}
