package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"discord_ai_cogs/entities"
)

const EnvPrefix = "AICOGS"

const DefaultNegativePrompt = "(worst quality, low quality:1.4), lowres, bad anatomy, bad hands, text, watermark, signature"

var DefaultWordsBlacklist = []string{"loli", "shota", "underage", "child"}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
	// GuildID registers commands in a single guild; empty registers them globally.
	GuildID        string `mapstructure:"guild_id"`
	RemoveCommands bool   `mapstructure:"remove_commands"`
	DevMode        bool   `mapstructure:"dev_mode"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type GenerationConfig struct {
	QueueCooldown        time.Duration `mapstructure:"queue_cooldown"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	BackendTimeout       time.Duration `mapstructure:"backend_timeout"`
	BackendAttempts      int           `mapstructure:"backend_attempts"`
	BackendRetryInterval time.Duration `mapstructure:"backend_retry_interval"`
	HordePollInterval    time.Duration `mapstructure:"horde_poll_interval"`
	ActionIdleTimeout    time.Duration `mapstructure:"action_idle_timeout"`
}

type ScannerConfig struct {
	Channels []string      `mapstructure:"channels"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type Config struct {
	Discord    DiscordConfig          `mapstructure:"discord"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Log        LogConfig              `mapstructure:"log"`
	OpenAI     OpenAIConfig           `mapstructure:"openai"`
	Generation GenerationConfig       `mapstructure:"generation"`
	Scanner    ScannerConfig          `mapstructure:"scanner"`
	Defaults   entities.GuildSettings `mapstructure:"defaults"`
	// GuildSeedFile lists per-guild settings written to the store at startup.
	GuildSeedFile string `mapstructure:"guild_seed_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.remove_commands", false)
	v.SetDefault("discord.dev_mode", false)

	v.SetDefault("database.path", "")

	v.SetDefault("log.level", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.development", false)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")

	v.SetDefault("generation.queue_cooldown", 500*time.Millisecond)
	v.SetDefault("generation.max_attempts", 10)
	v.SetDefault("generation.retry_delay", 5*time.Second)
	v.SetDefault("generation.backend_timeout", 5*time.Minute)
	v.SetDefault("generation.backend_attempts", 3)
	v.SetDefault("generation.backend_retry_interval", 4*time.Second)
	v.SetDefault("generation.horde_poll_interval", 2*time.Second)
	v.SetDefault("generation.action_idle_timeout", 5*time.Minute)

	v.SetDefault("scanner.channels", []string{})
	v.SetDefault("scanner.cache_ttl", 24*time.Hour)

	v.SetDefault("defaults.endpoint", "")
	v.SetDefault("defaults.api_type", entities.APITypeAutomatic1111)
	v.SetDefault("defaults.auth", "")
	v.SetDefault("defaults.nsfw", true)
	v.SetDefault("defaults.nsfw_tuning", -0.025)
	v.SetDefault("defaults.words_blacklist", DefaultWordsBlacklist)
	v.SetDefault("defaults.blacklist_regex", "")
	v.SetDefault("defaults.negative_prompt", DefaultNegativePrompt)
	v.SetDefault("defaults.cfg", 5.0)
	v.SetDefault("defaults.sampling_steps", 24)
	v.SetDefault("defaults.sampler", "Euler a")
	v.SetDefault("defaults.scheduler", "Automatic")
	v.SetDefault("defaults.checkpoint", "")
	v.SetDefault("defaults.vae", "")
	v.SetDefault("defaults.adetailer", false)
	v.SetDefault("defaults.tiledvae", false)
	v.SetDefault("defaults.width", 1024)
	v.SetDefault("defaults.height", 1024)
	v.SetDefault("defaults.max_img2img", 1536)
	v.SetDefault("defaults.vip_role", "")
	v.SetDefault("defaults.use_embeds", false)

	v.SetDefault("defaults.chat.enabled", false)
	v.SetDefault("defaults.chat.channels", []string{})
	v.SetDefault("defaults.chat.model", "")
	v.SetDefault("defaults.chat.system_prompt", "")
	v.SetDefault("defaults.chat.messages_lookback", 10)
	v.SetDefault("defaults.chat.max_tokens", 0)

	v.SetDefault("guild_seed_file", "")
}

// Load reads an optional .env file, an optional config file at path and
// AICOGS_ prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		err = v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{}

	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("missing discord token")
	}

	if c.Defaults.Width <= 0 || c.Defaults.Height <= 0 {
		return errors.New("default width and height must be positive")
	}

	if c.Defaults.MaxImg2Img <= 0 {
		return errors.New("max img2img size must be positive")
	}

	switch c.Defaults.APIType {
	case entities.APITypeAutomatic1111, entities.APITypeAIHorde:
	default:
		return fmt.Errorf("unknown api type %q", c.Defaults.APIType)
	}

	return nil
}
