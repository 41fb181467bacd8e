package image_actions

import (
	"math"
	"sort"

	"discord_ai_cogs/stable_diffusion_api"
)

const (
	DefaultVariationStrength = 5
	DefaultUpscaleDenoising  = 0.40
	preferredUpscale         = 1.5
)

// VariationStrengths are the offered variation strengths in percent.
func VariationStrengths() []int {
	strengths := make([]int, 0, 20)
	for i := 1; i <= 20; i++ {
		strengths = append(strengths, i)
	}

	return strengths
}

// UpscaleScales lists the hi-res factors that keep width*height*scale² within
// maxPixels, in 0.25 steps from 1.00 up to at most 2.00. 1.00 is always offered.
func UpscaleScales(width, height, maxPixels int) []float64 {
	maxScale := 0.0
	if width > 0 && height > 0 {
		maxScale = math.Sqrt(float64(maxPixels) / float64(width*height))
	}

	upper := min(max(int(maxScale*100)+1, 101), 201)

	scales := []float64{}
	for percent := 100; percent < upper; percent += 25 {
		scales = append(scales, float64(percent)/100)
	}

	return scales
}

// DefaultUpscale is 1.5 when offered, otherwise the largest scale.
func DefaultUpscale(scales []float64) float64 {
	for _, scale := range scales {
		if scale == preferredUpscale {
			return scale
		}
	}

	return scales[len(scales)-1]
}

// DenoisingOptions are 0.00 to 0.95 in 0.05 steps.
func DenoisingOptions() []float64 {
	options := make([]float64, 0, 20)
	for percent := 0; percent < 100; percent += 5 {
		options = append(options, float64(percent)/100)
	}

	return options
}

type UpscaleForm struct {
	Upscalers        []string
	Scales           []float64
	DefaultScale     float64
	Denoising        []float64
	DefaultDenoising float64
	// ADetailer is offered only when the backend has the script installed.
	ADetailer bool
}

// NewUpscaleForm builds the choices for an upscale of a width x height image
// from the guild's autocomplete terms. Selects hold at most 25 options.
func NewUpscaleForm(width, height, maxPixels int, terms map[string][]string) UpscaleForm {
	upscalers := append([]string(nil), terms[stable_diffusion_api.TermUpscalers]...)
	sort.Strings(upscalers)

	if len(upscalers) > 25 {
		upscalers = upscalers[:25]
	}

	scales := UpscaleScales(width, height, maxPixels)

	adetailer := false
	for _, script := range terms[stable_diffusion_api.TermScripts] {
		if script == "adetailer" {
			adetailer = true
			break
		}
	}

	return UpscaleForm{
		Upscalers:        upscalers,
		Scales:           scales,
		DefaultScale:     DefaultUpscale(scales),
		Denoising:        DenoisingOptions(),
		DefaultDenoising: DefaultUpscaleDenoising,
		ADetailer:        adetailer,
	}
}
