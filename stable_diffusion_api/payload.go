package stable_diffusion_api

import (
	"encoding/base64"
	"errors"
	"strings"

	"discord_ai_cogs/entities"
)

const (
	qualityBoost = "masterpiece, best quality, "

	censorScriptName = "CensorScript"

	ADetailerScriptName = "ADetailer"
	TiledVAEScriptName  = "Tiled VAE"

	fluxScheduler = "Simple"
	fluxCfgScale  = 1
)

// ADetailerScript enables face detailing with the default face model.
func ADetailerScript() entities.ScriptArgs {
	return entities.ScriptArgs{Args: []any{true, map[string]any{"ad_model": "face_yolov8n.pt"}}}
}

func tiledVAEScript() entities.ScriptArgs {
	return entities.ScriptArgs{Args: []any{true, 1536, 96, false, true, true}}
}

// WithStockNegative prefixes negative with the guild's stock negative prompt
// unless it already contains it.
func WithStockNegative(stock, negative string) string {
	switch {
	case strings.Contains(negative, stock):
		return negative
	case negative == "":
		return stock
	default:
		return stock + ", " + negative
	}
}

// BuildPayload merges req with the guild defaults into a WebUI payload.
func BuildPayload(req *entities.GenerationRequest, settings *entities.GuildSettings) (*entities.Payload, error) {
	if settings == nil {
		return nil, errors.New("missing guild settings")
	}

	err := req.Validate()
	if err != nil {
		return nil, newAPIError(KindInvalidParameter, err.Error(), err)
	}

	negativePrompt := WithStockNegative(settings.NegativePrompt, req.NegativePrompt)

	prompt := req.Prompt
	if !strings.Contains(prompt, "masterpiece") && !strings.Contains(prompt, "best quality") {
		prompt = qualityBoost + prompt
	}

	if req.Lora != "" {
		prompt = prompt + " " + req.Lora
	}

	styles := []string{}
	if req.Style != "" {
		styles = strings.Split(req.Style, ", ")
	}

	payload := &entities.Payload{
		Prompt:          prompt,
		NegativePrompt:  negativePrompt,
		Styles:          styles,
		CfgScale:        firstFloat(req.CfgScale, settings.CFG),
		Steps:           firstInt(req.Steps, settings.SamplingSteps),
		Seed:            req.Seed,
		Subseed:         req.Subseed,
		SubseedStrength: req.SubseedStrength,
		SamplerName:     firstString(req.SamplerName, settings.Sampler),
		Scheduler:       firstString(req.Scheduler, settings.Scheduler),
		OverrideSettings: entities.OverrideSettings{
			SDModelCheckpoint: firstString(req.Checkpoint, settings.Checkpoint),
			SDVAE:             firstString(req.VAE, settings.VAE),
		},
		Width:           firstInt(req.Width, settings.Width),
		Height:          firstInt(req.Height, settings.Height),
		AlwaysOnScripts: map[string]entities.ScriptArgs{},
	}

	if payload.Width <= 0 || payload.Height <= 0 {
		return nil, newAPIError(KindInvalidParameter, "width and height must be positive", nil)
	}

	if strings.Contains(strings.ToLower(payload.OverrideSettings.SDModelCheckpoint), "flux") {
		payload.Scheduler = fluxScheduler
		payload.CfgScale = fluxCfgScale
	}

	if req.IsImg2Img() {
		denoising := *req.Denoising
		payload.InitImages = []string{base64.StdEncoding.EncodeToString(req.InitImage)}
		payload.DenoisingStrength = &denoising
	}

	if settings.ADetailer {
		payload.AlwaysOnScripts[ADetailerScriptName] = ADetailerScript()
	}

	if settings.TiledVAE {
		payload.AlwaysOnScripts[TiledVAEScriptName] = tiledVAEScript()
	}

	payload.ScriptName = censorScriptName
	payload.ScriptArgs = []any{true, !settings.NSFW, settings.NSFWTuning}

	return payload, nil
}

func firstString(value, fallback string) string {
	if value != "" {
		return value
	}

	return fallback
}

func firstInt(value, fallback int) int {
	if value != 0 {
		return value
	}

	return fallback
}

func firstFloat(value, fallback float64) float64 {
	if value != 0 {
		return value
	}

	return fallback
}
