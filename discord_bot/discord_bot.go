package discord_bot

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"discord_ai_cogs/image_actions"
	"discord_ai_cogs/image_format"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/image_scanner"
	"discord_ai_cogs/llm_chat"
)

const (
	imagineCommandName   = "imagine"
	reimagineCommandName = "reimagine"

	formTTL = 10 * time.Minute
)

type botImpl struct {
	botSession         *discordgo.Session
	guildID            string
	developmentMode    bool
	removeCommands     bool
	handler            image_handler.Handler
	registry           *image_actions.Registry
	scanner            image_scanner.Scanner
	chat               llm_chat.Chat
	images             image_format.Processor
	httpClient         *http.Client
	forms              *cache.Cache
	formsMu            sync.Mutex
	logger             *zap.Logger
	registeredCommands []*discordgo.ApplicationCommand
}

type Config struct {
	DevelopmentMode bool
	BotToken        string
	// GuildID registers commands in one guild. Empty registers them globally.
	GuildID        string
	RemoveCommands bool
	Handler        image_handler.Handler
	Registry       *image_actions.Registry
	Images         image_format.Processor
	// Scanner and Chat are optional.
	Scanner    image_scanner.Scanner
	Chat       llm_chat.Chat
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func New(cfg Config) (Bot, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("missing bot token")
	}

	if cfg.Handler == nil {
		return nil, errors.New("missing image handler")
	}

	if cfg.Registry == nil {
		return nil, errors.New("missing image actions registry")
	}

	if cfg.Images == nil {
		return nil, errors.New("missing image processor")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}

	botSession, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}

	botSession.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	bot := &botImpl{
		botSession:         botSession,
		guildID:            cfg.GuildID,
		developmentMode:    cfg.DevelopmentMode,
		removeCommands:     cfg.RemoveCommands,
		handler:            cfg.Handler,
		registry:           cfg.Registry,
		scanner:            cfg.Scanner,
		chat:               cfg.Chat,
		images:             cfg.Images,
		httpClient:         httpClient,
		forms:              cache.New(formTTL, formTTL),
		logger:             logger,
		registeredCommands: make([]*discordgo.ApplicationCommand, 0),
	}

	botSession.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("Logged in", zap.String("user", s.State.User.Username), zap.String("user_id", s.State.User.ID))
	})

	botSession.AddHandler(bot.onInteraction)

	if cfg.Scanner != nil {
		botSession.AddHandler(bot.onReactionAdd)
	}

	if cfg.Chat != nil {
		botSession.AddHandler(bot.onMessageCreate)
	}

	return bot, nil
}

func (b *botImpl) Start() error {
	err := b.botSession.Open()
	if err != nil {
		return err
	}

	if b.developmentMode {
		b.logger.Info("Development mode, commands are prefixed with \"dev_\"")
	}

	for _, command := range b.commands() {
		err = b.addCommand(command)
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *botImpl) Close() {
	if b.removeCommands {
		for _, cmd := range b.registeredCommands {
			err := b.botSession.ApplicationCommandDelete(b.botSession.State.User.ID, b.guildID, cmd.ID)
			if err != nil {
				b.logger.Error("Failed to delete command", zap.String("command", cmd.Name), zap.Error(err))
			}
		}
	}

	b.registry.Close()

	err := b.botSession.Close()
	if err != nil {
		b.logger.Error("Failed to close Discord session", zap.Error(err))
	}
}

func (b *botImpl) addCommand(command *discordgo.ApplicationCommand) error {
	b.logger.Info("Adding command", zap.String("command", command.Name))

	cmd, err := b.botSession.ApplicationCommandCreate(b.botSession.State.User.ID, b.guildID, command)
	if err != nil {
		b.logger.Error("Failed to create command", zap.String("command", command.Name), zap.Error(err))

		return err
	}

	b.registeredCommands = append(b.registeredCommands, cmd)

	return nil
}

func (b *botImpl) commandName(name string) string {
	if b.developmentMode {
		return "dev_" + name
	}

	return name
}

func (b *botImpl) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		b.respondEphemeral(i.Interaction, "This only works in a server.")
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		switch strings.TrimPrefix(i.ApplicationCommandData().Name, "dev_") {
		case imagineCommandName:
			b.processImagineCommand(i)
		case reimagineCommandName:
			b.processReimagineCommand(i)
		default:
			b.logger.Warn("Unknown command", zap.String("command", i.ApplicationCommandData().Name))
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.processAutocomplete(i)
	case discordgo.InteractionMessageComponent:
		b.processComponent(i)
	case discordgo.InteractionModalSubmit:
		b.processModalSubmit(i)
	}
}

func (b *botImpl) respond(interaction *discordgo.Interaction, response *discordgo.InteractionResponse) {
	err := b.botSession.InteractionRespond(interaction, response)
	if err != nil {
		b.logger.Warn("Failed to respond to interaction", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (b *botImpl) respondEphemeral(interaction *discordgo.Interaction, content string) {
	b.respond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func (b *botImpl) deferUpdate(interaction *discordgo.Interaction) {
	b.respond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

func interactionUser(interaction *discordgo.Interaction) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}

	return interaction.User
}
