package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/config"
	"discord_ai_cogs/databases/sqlite"
	"discord_ai_cogs/discord_bot"
	"discord_ai_cogs/image_actions"
	"discord_ai_cogs/image_format"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/image_scanner"
	"discord_ai_cogs/imagine_queue"
	"discord_ai_cogs/llm_chat"
	"discord_ai_cogs/logging"
	"discord_ai_cogs/repositories/guild_settings"
	"discord_ai_cogs/repositories/image_generations"
	"discord_ai_cogs/stable_diffusion_api"
)

// Bot parameters
var (
	configFile         = flag.String("config", "", "Path of a yaml config file. Environment variables prefixed with AICOGS_ override it")
	removeCommandsFlag = flag.Bool("remove", false, "Delete all commands when bot exits")
	devModeFlag        = flag.Bool("dev", false, "Start in development mode, using \"dev_\" prefixed commands instead")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *removeCommandsFlag {
		cfg.Discord.RemoveCommands = true
	}

	if *devModeFlag {
		cfg.Discord.DevMode = true
		cfg.Log.Development = true
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	systemClock := clock.NewClock()

	sqliteDB, err := sqlite.New(ctx, sqlite.Config{Path: cfg.Database.Path, Logger: logger})
	if err != nil {
		logger.Fatal("Failed to create sqlite database", zap.Error(err))
	}
	defer sqliteDB.Close()

	generationRepo, err := image_generations.NewRepository(&image_generations.Config{DB: sqliteDB, Clock: systemClock})
	if err != nil {
		logger.Fatal("Failed to create image generation repository", zap.Error(err))
	}

	settingsRepo, err := guild_settings.NewRepository(&guild_settings.Config{DB: sqliteDB, Clock: systemClock})
	if err != nil {
		logger.Fatal("Failed to create guild settings repository", zap.Error(err))
	}

	if cfg.GuildSeedFile != "" {
		seeds, err := config.LoadGuildSeeds(cfg.GuildSeedFile, &cfg.Defaults)
		if err != nil {
			logger.Fatal("Failed to load guild seeds", zap.String("file", cfg.GuildSeedFile), zap.Error(err))
		}

		for _, seed := range seeds {
			_, err = settingsRepo.Upsert(ctx, seed)
			if err != nil {
				logger.Fatal("Failed to store guild settings", zap.String("guild_id", seed.GuildID), zap.Error(err))
			}
		}

		logger.Info("Loaded guild settings", zap.Int("guilds", len(seeds)))
	}

	imagineQueue, err := imagine_queue.New(imagine_queue.Config{
		Cooldown: cfg.Generation.QueueCooldown,
		Clock:    systemClock,
		Logger:   logger.Named("queue"),
	})
	if err != nil {
		logger.Fatal("Failed to create imagine queue", zap.Error(err))
	}

	provider := stable_diffusion_api.NewProvider(stable_diffusion_api.ProviderConfig{
		Timeout:       cfg.Generation.BackendTimeout,
		Clock:         systemClock,
		Logger:        logger.Named("backend"),
		RetryInterval: cfg.Generation.BackendRetryInterval,
		Attempts:      cfg.Generation.BackendAttempts,
		PollInterval:  cfg.Generation.HordePollInterval,
	})

	registry, err := image_actions.New(image_actions.Config{
		IdleTimeout: cfg.Generation.ActionIdleTimeout,
		Clock:       systemClock,
		Logger:      logger.Named("actions"),
	})
	if err != nil {
		logger.Fatal("Failed to create image actions registry", zap.Error(err))
	}

	scanner, err := image_scanner.New(image_scanner.Config{
		Repo:     generationRepo,
		Channels: cfg.Scanner.Channels,
		CacheTTL: cfg.Scanner.CacheTTL,
		Logger:   logger.Named("scanner"),
	})
	if err != nil {
		logger.Fatal("Failed to create image scanner", zap.Error(err))
	}

	handler, err := image_handler.New(image_handler.Config{
		Queue:          imagineQueue,
		Provider:       provider,
		SettingsRepo:   settingsRepo,
		Defaults:       &cfg.Defaults,
		ActionsFactory: registry,
		Indexer:        scanner,
		Clock:          systemClock,
		Logger:         logger.Named("imagine"),
		MaxAttempts:    cfg.Generation.MaxAttempts,
		RetryDelay:     cfg.Generation.RetryDelay,
	})
	if err != nil {
		logger.Fatal("Failed to create image handler", zap.Error(err))
	}

	images, err := image_format.New(image_format.Config{MaxPixels: 4 * cfg.Defaults.MaxPixels()})
	if err != nil {
		logger.Fatal("Failed to create image processor", zap.Error(err))
	}

	var chat llm_chat.Chat
	if cfg.OpenAI.APIKey != "" {
		chat, err = llm_chat.New(llm_chat.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			HTTPClient: &http.Client{Timeout: cfg.Generation.BackendTimeout},
			Settings:   handler,
			Logger:     logger.Named("chat"),
		})
		if err != nil {
			logger.Fatal("Failed to create chat cog", zap.Error(err))
		}
	} else {
		logger.Info("No OpenAI API key configured, chat replies are disabled")
	}

	bot, err := discord_bot.New(discord_bot.Config{
		DevelopmentMode: cfg.Discord.DevMode,
		BotToken:        cfg.Discord.Token,
		GuildID:         cfg.Discord.GuildID,
		RemoveCommands:  cfg.Discord.RemoveCommands,
		Handler:         handler,
		Registry:        registry,
		Images:          images,
		Scanner:         scanner,
		Chat:            chat,
		Logger:          logger.Named("discord"),
	})
	if err != nil {
		logger.Fatal("Error creating Discord bot", zap.Error(err))
	}

	err = bot.Start()
	if err != nil {
		logger.Fatal("Error starting Discord bot", zap.Error(err))
	}

	logger.Info("Bot is running. Press Ctrl+C to exit.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Gracefully shutting down.")

	bot.Close()
	imagineQueue.Stop()
}
