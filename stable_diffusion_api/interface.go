package stable_diffusion_api

import (
	"context"

	"discord_ai_cogs/entities"
)

// Term categories reported by ListTerms and kept in the autocomplete cache.
const (
	TermSamplers    = "samplers"
	TermSchedulers  = "schedulers"
	TermUpscalers   = "upscalers"
	TermScripts     = "scripts"
	TermLoras       = "loras"
	TermCheckpoints = "checkpoints"
	TermVAEs        = "vaes"
	TermStyles      = "styles"
)

// Backend generates images for one guild's configured endpoint.
type Backend interface {
	// GenerateImage builds a payload from req, or sends payload as-is when
	// req is nil. Exactly one of the two must be set.
	GenerateImage(ctx context.Context, req *entities.GenerationRequest, payload *entities.Payload) (*entities.GenerationResult, error)
	// ListTerms returns the known option names per term category.
	ListTerms(ctx context.Context) (map[string][]string, error)
}
