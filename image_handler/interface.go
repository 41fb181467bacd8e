package image_handler

import (
	"context"
	"errors"

	"discord_ai_cogs/entities"
)

var (
	ErrAlreadyGenerating = errors.New("user already has a generation in progress")
	ErrBlacklisted       = errors.New("prompt contains blacklisted terms")
	ErrNSFWBlocked       = errors.New("nsfw image blocked in a safe channel")
	// ErrMessageDeleted is returned by SentMessage operations on a message
	// that no longer exists.
	ErrMessageDeleted = errors.New("message was deleted")
)

// Context is the chat-side origin of a generation request and the place its
// responses are delivered to.
type Context interface {
	// ID identifies the interaction or message that started the request.
	ID() string
	GuildID() string
	ChannelID() string
	ChannelNSFW() bool
	UserID() string
	UserMention() string
	UserRoles() []string
	Send(ctx context.Context, reply Reply) (SentMessage, error)
}

type File struct {
	Name    string
	Data    []byte
	Spoiler bool
}

type Reply struct {
	Content string
	// EmbedDescription, when set, renders the file inside an embed.
	EmbedDescription string
	Ephemeral        bool
	File             *File
	Actions          Actions
}

type SentMessage interface {
	ID() string
	ChannelID() string
	// EditButtons replaces the message's buttons; nil removes them.
	EditButtons(ctx context.Context, buttons []ActionButton) error
	AddReaction(ctx context.Context, emoji string) error
	Delete(ctx context.Context) error
}

type ActionButton struct {
	Action   string
	Label    string
	Emoji    string
	Disabled bool
}

// Actions are the follow-up controls rendered below a generated image.
type Actions interface {
	Buttons() []ActionButton
	// Attach binds the controls to the message they were sent with.
	Attach(message SentMessage)
}

type ActionsParams struct {
	Result    *entities.GenerationResult
	OwnerID   string
	GuildID   string
	ChannelID string
	MaxPixels int
	// StockNegativePrompt is kept in every follow-up's negative prompt.
	StockNegativePrompt string
	Submitter           Submitter
}

type ActionsFactory interface {
	NewActions(params ActionsParams) Actions
}

// Indexer stores generated images so their parameters can be looked up later.
type Indexer interface {
	Enabled(channelID string) bool
	Register(ctx context.Context, record *entities.ImageRecord, data []byte) error
}

type Outcome struct {
	Result  *entities.GenerationResult
	Message SentMessage
	Err     error
}

type Submission struct {
	// Exactly one of Request and Payload is set.
	Request *entities.GenerationRequest
	Payload *entities.Payload
	// MessageContent is shown with the image, one italic line per line.
	MessageContent string
	// OnComplete runs once the queued task is over, whatever the outcome.
	OnComplete func(outcome Outcome)
}

type Submitter interface {
	Submit(ctx context.Context, origin Context, submission Submission) error
}

type Handler interface {
	Submitter
	Generating(userID string) bool
	Settings(ctx context.Context, guildID string) (*entities.GuildSettings, error)
	Terms(ctx context.Context, guildID, category string) []string
	RefreshTerms(ctx context.Context, guildID string) error
}
