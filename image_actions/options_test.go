package image_actions

import (
	"math"
	"reflect"
	"testing"

	"discord_ai_cogs/stable_diffusion_api"
)

func TestUpscaleScales(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxPixels     int
		want          []float64
		wantDefault   float64
	}{
		{name: "square at limit 1.5", width: 1024, height: 1024, maxPixels: 1536 * 1536, want: []float64{1, 1.25, 1.5}, wantDefault: 1.5},
		{name: "small image capped at 2", width: 512, height: 512, maxPixels: 1536 * 1536, want: []float64{1, 1.25, 1.5, 1.75, 2}, wantDefault: 1.5},
		{name: "no headroom", width: 1024, height: 1024, maxPixels: 1024 * 1024, want: []float64{1}, wantDefault: 1},
		{name: "over budget", width: 1536, height: 1536, maxPixels: 1024 * 1024, want: []float64{1}, wantDefault: 1},
		{name: "portrait", width: 832, height: 1216, maxPixels: 1536 * 1536, want: []float64{1, 1.25, 1.5}, wantDefault: 1.5},
		{name: "between steps", width: 1024, height: 1024, maxPixels: 1300 * 1300, want: []float64{1, 1.25}, wantDefault: 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpscaleScales(tt.width, tt.height, tt.maxPixels)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("UpscaleScales() = %v, want %v", got, tt.want)
			}

			if def := DefaultUpscale(got); def != tt.wantDefault {
				t.Errorf("DefaultUpscale() = %v, want %v", def, tt.wantDefault)
			}

			limit := math.Max(1, math.Sqrt(float64(tt.maxPixels)/float64(tt.width*tt.height)))
			for _, scale := range got {
				if scale > limit || scale > 2 || scale < 1 {
					t.Errorf("scale %v outside [1, min(2, %v)]", scale, limit)
				}
			}
		})
	}
}

func TestDenoisingOptions(t *testing.T) {
	options := DenoisingOptions()

	if len(options) != 20 || options[0] != 0 || options[19] != 0.95 {
		t.Errorf("options = %v", options)
	}

	found := false
	for _, option := range options {
		if option == DefaultUpscaleDenoising {
			found = true
		}
	}

	if !found {
		t.Error("default denoising is not offered")
	}
}

func TestVariationStrengths(t *testing.T) {
	strengths := VariationStrengths()

	if len(strengths) != 20 || strengths[0] != 1 || strengths[19] != 20 || strengths[DefaultVariationStrength-1] != DefaultVariationStrength {
		t.Errorf("strengths = %v", strengths)
	}
}

func TestNewUpscaleForm(t *testing.T) {
	form := NewUpscaleForm(1024, 1024, 1536*1536, map[string][]string{
		stable_diffusion_api.TermUpscalers: {"R-ESRGAN 4x+", "Latent"},
		stable_diffusion_api.TermScripts:   {"censorscript", "adetailer"},
	})

	if !reflect.DeepEqual(form.Upscalers, []string{"Latent", "R-ESRGAN 4x+"}) {
		t.Errorf("upscalers = %v", form.Upscalers)
	}

	if !form.ADetailer {
		t.Error("expected the ADetailer toggle")
	}

	if NewUpscaleForm(1024, 1024, 1536*1536, nil).ADetailer {
		t.Error("ADetailer offered without the script")
	}
}
