package entities

import (
	"errors"
	"fmt"
	"strings"
)

const (
	RandomSeed = -1
)

// GenerationRequest describes a single image generation intent. Zero values for
// the optional fields mean "use the guild default".
type GenerationRequest struct {
	Prompt          string   `json:"prompt"`
	NegativePrompt  string   `json:"negative_prompt"`
	Style           string   `json:"style"`
	Width           int      `json:"width"`
	Height          int      `json:"height"`
	CfgScale        float64  `json:"cfg_scale"`
	Steps           int      `json:"steps"`
	SamplerName     string   `json:"sampler_name"`
	Scheduler       string   `json:"scheduler"`
	Checkpoint      string   `json:"checkpoint"`
	VAE             string   `json:"vae"`
	Seed            int64    `json:"seed"`
	Subseed         int64    `json:"subseed"`
	SubseedStrength float64  `json:"subseed_strength"`
	Lora            string   `json:"lora"`
	InitImage       []byte   `json:"-"`
	Denoising       *float64 `json:"denoising,omitempty"`
}

func NewGenerationRequest(prompt string) *GenerationRequest {
	return &GenerationRequest{
		Prompt:  prompt,
		Seed:    RandomSeed,
		Subseed: RandomSeed,
	}
}

// IsImg2Img reports whether a source image was supplied.
func (r *GenerationRequest) IsImg2Img() bool {
	return len(r.InitImage) > 0
}

func (r *GenerationRequest) Validate() error {
	if r == nil {
		return errors.New("missing generation request")
	}

	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}

	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("invalid dimensions %dx%d", r.Width, r.Height)
	}

	if r.SubseedStrength < 0 || r.SubseedStrength > 1 {
		return fmt.Errorf("subseed strength %.2f is outside [0, 1]", r.SubseedStrength)
	}

	if r.IsImg2Img() {
		if r.Denoising == nil {
			return errors.New("denoising strength is required with a source image")
		}

		if *r.Denoising < 0 || *r.Denoising > 1 {
			return fmt.Errorf("denoising strength %.2f is outside [0, 1]", *r.Denoising)
		}
	}

	return nil
}
