package entities

// Payload is the wire body sent to a Stable Diffusion WebUI compatible backend.
// Follow-up actions mutate a Clone, never the payload stored in a result.
type Payload struct {
	Prompt           string           `json:"prompt"`
	NegativePrompt   string           `json:"negative_prompt"`
	Styles           []string         `json:"styles"`
	CfgScale         float64          `json:"cfg_scale"`
	Steps            int              `json:"steps"`
	Seed             int64            `json:"seed"`
	Subseed          int64            `json:"subseed"`
	SubseedStrength  float64          `json:"subseed_strength"`
	SamplerName      string           `json:"sampler_name"`
	Scheduler        string           `json:"scheduler"`
	OverrideSettings OverrideSettings `json:"override_settings"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`

	InitImages        []string `json:"init_images,omitempty"`
	DenoisingStrength *float64 `json:"denoising_strength,omitempty"`

	EnableHR          bool    `json:"enable_hr,omitempty"`
	HRUpscaler        string  `json:"hr_upscaler,omitempty"`
	HRScale           float64 `json:"hr_scale,omitempty"`
	HRSecondPassSteps int     `json:"hr_second_pass_steps,omitempty"`
	HRPrompt          string  `json:"hr_prompt,omitempty"`
	HRNegativePrompt  string  `json:"hr_negative_prompt,omitempty"`
	HRResizeX         int     `json:"hr_resize_x"`
	HRResizeY         int     `json:"hr_resize_y"`

	AlwaysOnScripts map[string]ScriptArgs `json:"alwayson_scripts"`
	ScriptName      string                `json:"script_name,omitempty"`
	ScriptArgs      []any                 `json:"script_args,omitempty"`
}

type OverrideSettings struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint,omitempty"`
	SDVAE             string `json:"sd_vae,omitempty"`
}

type ScriptArgs struct {
	Args []any `json:"args"`
}

// IsImg2Img reports whether the payload carries a source image.
func (p *Payload) IsImg2Img() bool {
	return len(p.InitImages) > 0
}

// Clone returns a deep copy. Script argument values are shared; they are
// treated as read-only constants.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}

	clone := *p

	clone.Styles = append([]string(nil), p.Styles...)
	clone.InitImages = append([]string(nil), p.InitImages...)
	clone.ScriptArgs = append([]any(nil), p.ScriptArgs...)

	if p.DenoisingStrength != nil {
		denoising := *p.DenoisingStrength
		clone.DenoisingStrength = &denoising
	}

	clone.AlwaysOnScripts = make(map[string]ScriptArgs, len(p.AlwaysOnScripts))
	for name, script := range p.AlwaysOnScripts {
		clone.AlwaysOnScripts[name] = ScriptArgs{Args: append([]any(nil), script.Args...)}
	}

	return &clone
}
