package image_actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/stable_diffusion_api"
)

const (
	ActionReroll    = "reroll"
	ActionModify    = "modify"
	ActionVariation = "variation"
	ActionUpscale   = "upscale"
	ActionInfo      = "info"
	ActionDelete    = "delete"
)

var ErrNotOwner = errors.New("only the requester can do this")

type ModifyOptions struct {
	Prompt         string
	NegativePrompt string
	// KeepSeed reuses the seeds of the original image instead of rerolling.
	KeepSeed bool
}

type VariationOptions struct {
	// Strength is the variation strength in percent, 1 to 20.
	Strength    int
	KeepSubseed bool
}

type UpscaleOptions struct {
	Upscaler  string
	Scale     float64
	Denoising float64
	ADetailer bool
}

// Controller holds the follow-up actions of one generated image. Every action
// works on its own copy of the payload the image was generated from.
type Controller struct {
	payload       *entities.Payload
	info          string
	ownerID       string
	guildID       string
	channelID     string
	maxPixels     int
	stockNegative string
	submitter     image_handler.Submitter
	registry      *Registry
	clock         clock.Clock
	logger        *zap.Logger

	reenableDelay time.Duration

	mu       sync.Mutex
	message  image_handler.SentMessage
	disabled map[string]bool
	detached bool
}

func (c *Controller) OwnerID() string {
	return c.ownerID
}

func (c *Controller) GuildID() string {
	return c.guildID
}

// Info is the generation info string of the image.
func (c *Controller) Info() string {
	return c.info
}

func (c *Controller) Buttons() []image_handler.ActionButton {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.buttonsLocked()
}

func (c *Controller) buttonsLocked() []image_handler.ActionButton {
	buttons := []image_handler.ActionButton{
		{Action: ActionReroll, Emoji: "🔄", Label: "Reroll"},
		{Action: ActionModify, Emoji: "🔧", Label: "Modify"},
		{Action: ActionVariation, Emoji: "🤏", Label: "Variation"},
	}

	// hi-res fix only exists for txt2img
	if !c.payload.IsImg2Img() {
		buttons = append(buttons, image_handler.ActionButton{Action: ActionUpscale, Emoji: "⬆️", Label: "Upscale"})
	}

	buttons = append(buttons,
		image_handler.ActionButton{Action: ActionInfo, Emoji: "ℹ️"},
		image_handler.ActionButton{Action: ActionDelete, Emoji: "🗑️"},
	)

	for i := range buttons {
		buttons[i].Disabled = c.disabled[buttons[i].Action]
	}

	return buttons
}

func (c *Controller) Attach(message image_handler.SentMessage) {
	c.mu.Lock()
	c.message = message
	c.mu.Unlock()

	if c.registry != nil {
		c.registry.register(message.ID(), c)
	}
}

// ModifyDefaults are the prompts the modify form starts from.
func (c *Controller) ModifyDefaults() (prompt, negativePrompt string) {
	return c.payload.Prompt, c.payload.NegativePrompt
}

func (c *Controller) UpscaleForm(terms map[string][]string) UpscaleForm {
	return NewUpscaleForm(c.payload.Width, c.payload.Height, c.maxPixels, terms)
}

func (c *Controller) Reroll(ctx context.Context, origin image_handler.Context) error {
	payload := c.payload.Clone()
	payload.Seed = entities.RandomSeed
	payload.Subseed = entities.RandomSeed
	payload.SubseedStrength = 0

	return c.submit(ctx, origin, ActionReroll, payload, "Reroll requested by "+origin.UserMention())
}

func (c *Controller) Modify(ctx context.Context, origin image_handler.Context, opts ModifyOptions) error {
	payload := c.payload.Clone()

	negativePrompt := stable_diffusion_api.WithStockNegative(c.stockNegative, opts.NegativePrompt)

	samePrompt := opts.Prompt == payload.Prompt && negativePrompt == payload.NegativePrompt
	payload.Prompt = opts.Prompt
	payload.NegativePrompt = negativePrompt

	if opts.KeepSeed {
		c.applySeeds(payload)
	} else {
		payload.Seed = entities.RandomSeed
		payload.Subseed = entities.RandomSeed
		payload.SubseedStrength = 0
	}

	content := "Change requested by " + origin.UserMention()
	if samePrompt {
		content = "Reroll requested by " + origin.UserMention()
	}

	return c.submit(ctx, origin, ActionModify, payload, content)
}

func (c *Controller) Variation(ctx context.Context, origin image_handler.Context, opts VariationOptions) error {
	if opts.Strength < 1 || opts.Strength > 20 {
		return &stable_diffusion_api.APIError{
			Kind:    stable_diffusion_api.KindInvalidParameter,
			Message: fmt.Sprintf("variation strength %d%% is outside 1-20%%", opts.Strength),
		}
	}

	payload := c.payload.Clone()
	seeds := entities.ParseSeedParams(c.info)

	payload.Seed = seeds.Seed
	payload.Subseed = entities.RandomSeed
	if opts.KeepSubseed {
		payload.Subseed = seeds.Subseed
	}

	payload.SubseedStrength = float64(opts.Strength) / 100

	return c.submit(ctx, origin, ActionVariation, payload, "Variation requested by "+origin.UserMention())
}

func (c *Controller) Upscale(ctx context.Context, origin image_handler.Context, opts UpscaleOptions) error {
	if !c.scaleOffered(opts.Scale) {
		return &stable_diffusion_api.APIError{
			Kind:    stable_diffusion_api.KindInvalidParameter,
			Message: fmt.Sprintf("scale x%.2f exceeds the size limit", opts.Scale),
		}
	}

	if opts.Denoising < 0 || opts.Denoising > 1 {
		return &stable_diffusion_api.APIError{
			Kind:    stable_diffusion_api.KindInvalidParameter,
			Message: fmt.Sprintf("denoising %.2f is outside [0, 1]", opts.Denoising),
		}
	}

	payload := c.payload.Clone()
	denoising := opts.Denoising

	payload.EnableHR = true
	payload.HRUpscaler = opts.Upscaler
	payload.HRScale = opts.Scale
	payload.DenoisingStrength = &denoising
	payload.HRSecondPassSteps = payload.Steps / 2
	payload.HRPrompt = payload.Prompt
	payload.HRNegativePrompt = payload.NegativePrompt
	payload.HRResizeX = 0
	payload.HRResizeY = 0

	c.applySeeds(payload)

	if opts.ADetailer {
		payload.AlwaysOnScripts[stable_diffusion_api.ADetailerScriptName] = stable_diffusion_api.ADetailerScript()
	} else {
		delete(payload.AlwaysOnScripts, stable_diffusion_api.ADetailerScriptName)
	}

	return c.submit(ctx, origin, ActionUpscale, payload, "Upscale requested by "+origin.UserMention())
}

// Delete removes the image. Only the requester may delete it.
func (c *Controller) Delete(ctx context.Context, userID string) error {
	if userID != c.ownerID {
		return ErrNotOwner
	}

	c.mu.Lock()
	message := c.message
	c.detached = true
	c.mu.Unlock()

	if c.registry != nil && message != nil {
		c.registry.remove(message.ID())
	}

	if message == nil {
		return nil
	}

	err := message.Delete(ctx)
	if errors.Is(err, image_handler.ErrMessageDeleted) {
		return nil
	}

	return err
}

func (c *Controller) scaleOffered(scale float64) bool {
	for _, offered := range UpscaleScales(c.payload.Width, c.payload.Height, c.maxPixels) {
		if offered == scale {
			return true
		}
	}

	return false
}

// applySeeds restores the seeds the image was actually generated with.
func (c *Controller) applySeeds(payload *entities.Payload) {
	seeds := entities.ParseSeedParams(c.info)

	payload.Seed = seeds.Seed
	payload.Subseed = seeds.Subseed
	payload.SubseedStrength = seeds.SubseedStrength
}

// submit disables the action's button while the derived image is generated.
// The button comes back once the new image is posted, or at once when the
// submission fails.
func (c *Controller) submit(ctx context.Context, origin image_handler.Context, action string, payload *entities.Payload, content string) error {
	c.setDisabled(ctx, action, true)

	err := c.submitter.Submit(ctx, origin, image_handler.Submission{
		Payload:        payload,
		MessageContent: content,
		OnComplete: func(outcome image_handler.Outcome) {
			delay := time.Duration(0)
			if outcome.Message != nil {
				delay = c.reenableDelay
			}

			go c.reenableAfter(action, delay)
		},
	})
	if err != nil {
		c.setDisabled(ctx, action, false)

		return err
	}

	return nil
}

func (c *Controller) reenableAfter(action string, delay time.Duration) {
	if delay > 0 {
		_ = c.clock.Sleep(context.Background(), delay)
	}

	c.setDisabled(context.Background(), action, false)
}

func (c *Controller) setDisabled(ctx context.Context, action string, disabled bool) {
	c.mu.Lock()

	if c.disabled[action] == disabled {
		c.mu.Unlock()
		return
	}

	c.disabled[action] = disabled

	if c.detached || c.message == nil {
		c.mu.Unlock()
		return
	}

	message := c.message
	buttons := c.buttonsLocked()
	c.mu.Unlock()

	err := message.EditButtons(ctx, buttons)
	if errors.Is(err, image_handler.ErrMessageDeleted) {
		c.detach()

		if c.registry != nil {
			c.registry.remove(message.ID())
		}

		return
	}

	if err != nil {
		c.logger.Warn("Failed to update image buttons", zap.String("message_id", message.ID()), zap.Error(err))
	}
}

// detach stops the controller from touching its message again.
func (c *Controller) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.detached = true
}

// expire removes the buttons from the message after the idle timeout.
func (c *Controller) expire(ctx context.Context) {
	c.mu.Lock()

	if c.detached || c.message == nil {
		c.detached = true
		c.mu.Unlock()

		return
	}

	c.detached = true
	message := c.message
	c.mu.Unlock()

	err := message.EditButtons(ctx, nil)
	if err != nil && !errors.Is(err, image_handler.ErrMessageDeleted) {
		c.logger.Warn("Failed to remove image buttons", zap.String("message_id", message.ID()), zap.Error(err))
	}
}
