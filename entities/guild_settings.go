package entities

const (
	APITypeAutomatic1111 = "automatic1111"
	APITypeAIHorde       = "aihorde"
)

// GuildSettings holds the per-guild configuration consumed by both cogs.
type GuildSettings struct {
	GuildID        string   `json:"guild_id" yaml:"-" mapstructure:"-"`
	Endpoint       string   `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	APIType        string   `json:"api_type" yaml:"api_type" mapstructure:"api_type"`
	Auth           string   `json:"auth" yaml:"auth" mapstructure:"auth"`
	NSFW           bool     `json:"nsfw" yaml:"nsfw" mapstructure:"nsfw"`
	NSFWTuning     float64  `json:"nsfw_tuning" yaml:"nsfw_tuning" mapstructure:"nsfw_tuning"`
	WordsBlacklist []string `json:"words_blacklist" yaml:"words_blacklist" mapstructure:"words_blacklist"`
	BlacklistRegex string   `json:"blacklist_regex" yaml:"blacklist_regex" mapstructure:"blacklist_regex"`
	NegativePrompt string   `json:"negative_prompt" yaml:"negative_prompt" mapstructure:"negative_prompt"`
	CFG            float64  `json:"cfg" yaml:"cfg" mapstructure:"cfg"`
	SamplingSteps  int      `json:"sampling_steps" yaml:"sampling_steps" mapstructure:"sampling_steps"`
	Sampler        string   `json:"sampler" yaml:"sampler" mapstructure:"sampler"`
	Scheduler      string   `json:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
	Checkpoint     string   `json:"checkpoint" yaml:"checkpoint" mapstructure:"checkpoint"`
	VAE            string   `json:"vae" yaml:"vae" mapstructure:"vae"`
	ADetailer      bool     `json:"adetailer" yaml:"adetailer" mapstructure:"adetailer"`
	TiledVAE       bool     `json:"tiledvae" yaml:"tiledvae" mapstructure:"tiledvae"`
	Width          int      `json:"width" yaml:"width" mapstructure:"width"`
	Height         int      `json:"height" yaml:"height" mapstructure:"height"`
	MaxImg2Img     int      `json:"max_img2img" yaml:"max_img2img" mapstructure:"max_img2img"`
	VIPRole        string   `json:"vip_role" yaml:"vip_role" mapstructure:"vip_role"`
	UseEmbeds      bool     `json:"use_embeds" yaml:"use_embeds" mapstructure:"use_embeds"`

	Chat ChatSettings `json:"chat" yaml:"chat" mapstructure:"chat"`
}

// ChatSettings configures the LLM reply cog for a guild.
type ChatSettings struct {
	Enabled      bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Channels     []string `json:"channels" yaml:"channels" mapstructure:"channels"`
	Model        string   `json:"model" yaml:"model" mapstructure:"model"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt" mapstructure:"system_prompt"`
	Lookback     int      `json:"messages_lookback" yaml:"messages_lookback" mapstructure:"messages_lookback"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MaxPixels is the pixel budget for img2img inputs and hi-res upscales.
func (s *GuildSettings) MaxPixels() int {
	return s.MaxImg2Img * s.MaxImg2Img
}

// Clone copies the settings, including slices, so overrides never alias defaults.
func (s *GuildSettings) Clone() *GuildSettings {
	if s == nil {
		return nil
	}

	clone := *s
	clone.WordsBlacklist = append([]string(nil), s.WordsBlacklist...)
	clone.Chat.Channels = append([]string(nil), s.Chat.Channels...)

	return &clone
}

// ChatChannelAllowed reports whether the LLM cog may answer in channelID.
func (s *GuildSettings) ChatChannelAllowed(channelID string) bool {
	if !s.Chat.Enabled {
		return false
	}

	for _, allowed := range s.Chat.Channels {
		if allowed == channelID {
			return true
		}
	}

	return false
}
