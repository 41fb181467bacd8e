package llm_chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultModel        = openai.GPT4oMini
	DefaultLookback     = 10
	DefaultSystemPrompt = "You are %s, a friendly member of a Discord server. Reply casually and keep it short."

	maxReplyLength = 2000
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

type chatImpl struct {
	client   *openai.Client
	settings SettingsSource
	logger   *zap.Logger
}

type Config struct {
	APIKey string
	// BaseURL points at any OpenAI compatible API. Empty uses OpenAI.
	BaseURL    string
	HTTPClient *http.Client
	Settings   SettingsSource
	Logger     *zap.Logger
}

func New(cfg Config) (Chat, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}

	if cfg.Settings == nil {
		return nil, errors.New("missing settings source")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &chatImpl{
		client:   openai.NewClientWithConfig(clientConfig),
		settings: cfg.Settings,
		logger:   logger,
	}, nil
}

func (c *chatImpl) HandleMessage(ctx context.Context, msg Message, conversation Conversation) (bool, error) {
	if msg.GuildID == "" || msg.AuthorBot || msg.FromSelf {
		return false, nil
	}

	if !msg.MentionsBot && !msg.RepliesToBot {
		return false, nil
	}

	settings, err := c.settings.Settings(ctx, msg.GuildID)
	if err != nil {
		return false, fmt.Errorf("loading guild settings: %w", err)
	}

	channelID := msg.ChannelID
	if msg.ParentChannelID != "" {
		channelID = msg.ParentChannelID
	}

	if !settings.ChatChannelAllowed(channelID) {
		return false, nil
	}

	lookback := settings.Chat.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	history, err := conversation.History(ctx, msg.ID, lookback)
	if err != nil {
		c.logger.Warn("Failed to load channel history", zap.String("channel_id", msg.ChannelID), zap.Error(err))

		history = nil
	}

	model := settings.Chat.Model
	if model == "" {
		model = DefaultModel
	}

	selfName := conversation.SelfName()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  buildMessages(settings.Chat.SystemPrompt, selfName, history, msg),
		MaxTokens: settings.Chat.MaxTokens,
	})
	if err != nil {
		return false, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return false, ErrEmptyCompletion
	}

	reply := cleanReply(resp.Choices[0].Message.Content, selfName)
	if reply == "" {
		c.logger.Debug("Skipping empty completion", zap.String("message_id", msg.ID))

		return false, nil
	}

	err = conversation.Reply(ctx, reply)
	if err != nil {
		return false, err
	}

	return true, nil
}

func buildMessages(systemPrompt, selfName string, history []Message, msg Message) []openai.ChatCompletionMessage {
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(DefaultSystemPrompt, selfName)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	conversation := append(append([]Message(nil), history...), msg)

	for _, past := range conversation {
		if strings.TrimSpace(past.Content) == "" {
			continue
		}

		if past.FromSelf {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: past.Content,
			})

			continue
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("%s: %s", past.AuthorName, past.Content),
		})
	}

	return messages
}

// cleanReply drops a leading "Name:" the model copies from the prompt format
// and fits the reply in a single message.
func cleanReply(reply, selfName string) string {
	reply = strings.TrimSpace(reply)

	if selfName != "" {
		prefix := selfName + ":"
		if len(reply) >= len(prefix) && strings.EqualFold(reply[:len(prefix)], prefix) {
			reply = strings.TrimSpace(reply[len(prefix):])
		}
	}

	if utf8.RuneCountInString(reply) > maxReplyLength {
		reply = string([]rune(reply)[:maxReplyLength])
	}

	return reply
}
