package image_handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
	"discord_ai_cogs/imagine_queue"
	"discord_ai_cogs/repositories"
	"discord_ai_cogs/repositories/guild_settings"
	"discord_ai_cogs/stable_diffusion_api"
)

const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 5 * time.Second

	// ScanReaction marks indexed images; reacting with it shows their parameters.
	ScanReaction = "🔎"
)

const (
	noticeAlreadyGenerating = ":warning: You must wait for your current image to finish generating before you can request another one."
	noticeBlacklisted       = ":warning: Your prompt contains blocked terms!"
	noticeInvalidParameter  = ":warning: Invalid parameter: %s"
	noticeBadResponse       = ":warning: Timed out! Bad response from host!"
	noticeUnreachable       = ":warning: Timed out! Could not reach host!"
	noticeUnsupported       = ":warning: This method is not supported by the host!"
	noticeUnknown           = ":warning: Something went wrong!"
	noticeNSFWBlocked       = "🔞 Blocked NSFW image."
)

type handlerImpl struct {
	queue          imagine_queue.Queue
	provider       stable_diffusion_api.BackendProvider
	settingsRepo   guild_settings.Repository
	defaults       *entities.GuildSettings
	actionsFactory ActionsFactory
	indexer        Indexer
	clock          clock.Clock
	logger         *zap.Logger
	maxAttempts    int
	retryDelay     time.Duration

	mu         sync.Mutex
	generating map[string]int

	terms *termsCache
}

type Config struct {
	Queue    imagine_queue.Queue
	Provider stable_diffusion_api.BackendProvider
	// SettingsRepo is optional; guilds without stored settings use Defaults.
	SettingsRepo   guild_settings.Repository
	Defaults       *entities.GuildSettings
	ActionsFactory ActionsFactory
	Indexer        Indexer
	Clock          clock.Clock
	Logger         *zap.Logger
	MaxAttempts    int
	RetryDelay     time.Duration
}

func New(cfg Config) (Handler, error) {
	if cfg.Queue == nil {
		return nil, errors.New("missing queue")
	}

	if cfg.Provider == nil {
		return nil, errors.New("missing backend provider")
	}

	if cfg.Defaults == nil {
		return nil, errors.New("missing default guild settings")
	}

	handlerClock := cfg.Clock
	if handlerClock == nil {
		handlerClock = clock.NewClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	return &handlerImpl{
		queue:          cfg.Queue,
		provider:       cfg.Provider,
		settingsRepo:   cfg.SettingsRepo,
		defaults:       cfg.Defaults,
		actionsFactory: cfg.ActionsFactory,
		indexer:        cfg.Indexer,
		clock:          handlerClock,
		logger:         logger,
		maxAttempts:    maxAttempts,
		retryDelay:     retryDelay,
		generating:     make(map[string]int),
		terms:          newTermsCache(),
	}, nil
}

func (h *handlerImpl) Settings(ctx context.Context, guildID string) (*entities.GuildSettings, error) {
	if h.settingsRepo != nil {
		settings, err := h.settingsRepo.GetByGuildID(ctx, guildID)
		if err == nil {
			return settings, nil
		}

		if !repositories.IsNotFound(err) {
			return nil, err
		}
	}

	settings := h.defaults.Clone()
	settings.GuildID = guildID

	return settings, nil
}

func (h *handlerImpl) Generating(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.generating[userID] > 0
}

// acquire marks userID as generating. Users holding the VIP role may have
// several requests in flight.
func (h *handlerImpl) acquire(userID string, vip bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.generating[userID] > 0 && !vip {
		return false
	}

	h.generating[userID]++

	return true
}

func (h *handlerImpl) release(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.generating[userID]--
	if h.generating[userID] <= 0 {
		delete(h.generating, userID)
	}
}

func (h *handlerImpl) Submit(ctx context.Context, origin Context, submission Submission) error {
	if (submission.Request == nil) == (submission.Payload == nil) {
		return errors.New("submission needs exactly one of request or payload")
	}

	settings, err := h.Settings(ctx, origin.GuildID())
	if err != nil {
		h.logger.Error("Failed to load guild settings", zap.String("guild_id", origin.GuildID()), zap.Error(err))
		h.notify(ctx, origin, noticeUnknown, true)

		return err
	}

	prompt := submissionPrompt(submission)

	logger := h.logger.With(
		zap.String("guild_id", origin.GuildID()),
		zap.String("user_id", origin.UserID()),
		zap.String("prompt", prompt),
	)

	vip := hasRole(origin.UserRoles(), settings.VIPRole)

	if !vip && h.Generating(origin.UserID()) {
		h.notify(ctx, origin, noticeAlreadyGenerating, true)

		return ErrAlreadyGenerating
	}

	if isBlacklisted(prompt, settings, logger) {
		logger.Info("Rejected blacklisted prompt")
		h.notify(ctx, origin, noticeBlacklisted, true)

		return ErrBlacklisted
	}

	if submission.Request != nil {
		err = submission.Request.Validate()
		if err != nil {
			h.notify(ctx, origin, fmt.Sprintf(noticeInvalidParameter, err.Error()), true)

			return err
		}
	}

	if !h.acquire(origin.UserID(), vip) {
		h.notify(ctx, origin, noticeAlreadyGenerating, true)

		return ErrAlreadyGenerating
	}

	task := &imagine_queue.Task{
		Name: "generate image",
		Run: func(taskCtx context.Context) error {
			return h.runGeneration(taskCtx, origin, settings, submission, logger)
		},
		Dropped: func() {
			h.release(origin.UserID())

			if submission.OnComplete != nil {
				submission.OnComplete(Outcome{Err: imagine_queue.ErrStopped})
			}
		},
	}

	position, err := h.queue.Add(task)
	if err != nil {
		h.release(origin.UserID())
		logger.Error("Failed to queue generation", zap.Error(err))
		h.notify(ctx, origin, noticeUnknown, true)

		if submission.OnComplete != nil {
			submission.OnComplete(Outcome{Err: err})
		}

		return err
	}

	logger.Info("Queued generation", zap.String("task_id", task.ID), zap.Int("position", position))

	return nil
}

func (h *handlerImpl) runGeneration(ctx context.Context, origin Context, settings *entities.GuildSettings, submission Submission, logger *zap.Logger) error {
	outcome := Outcome{}

	defer func() {
		h.release(origin.UserID())

		if submission.OnComplete != nil {
			submission.OnComplete(outcome)
		}
	}()

	logger.Info("Starting generation")

	result, err := h.generate(ctx, settings, submission, logger)
	if err != nil {
		outcome.Err = err

		logger.Error("Failed generation", zap.Stringer("kind", stable_diffusion_api.KindOf(err)), zap.Error(err))
		h.notify(ctx, origin, noticeFor(err), true)

		return nil
	}

	logger.Info("Finished generation")

	outcome.Result = result

	if result.IsNSFW && !origin.ChannelNSFW() {
		outcome.Err = ErrNSFWBlocked
		h.notify(ctx, origin, noticeNSFWBlocked, false)

		return nil
	}

	message, err := h.deliver(ctx, origin, settings, submission, result)
	if err != nil {
		outcome.Err = err

		return fmt.Errorf("failed to send generated image: %w", err)
	}

	outcome.Message = message

	go func() {
		refreshErr := h.RefreshTerms(context.Background(), origin.GuildID())
		if refreshErr != nil {
			logger.Debug("Autocomplete refresh failed", zap.Error(refreshErr))
		}
	}()

	h.index(ctx, origin, message, submission, result, logger)

	return nil
}

// generate calls the backend, retrying only transient network failures.
func (h *handlerImpl) generate(ctx context.Context, settings *entities.GuildSettings, submission Submission, logger *zap.Logger) (*entities.GenerationResult, error) {
	backend, err := h.provider.Backend(settings)
	if err != nil {
		return nil, err
	}

	var lastErr error

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		result, err := backend.GenerateImage(ctx, submission.Request, submission.Payload)
		if err == nil {
			return result, nil
		}

		if stable_diffusion_api.KindOf(err) != stable_diffusion_api.KindTransientNetwork {
			return nil, err
		}

		lastErr = err

		logger.Info("Failed to generate, sleeping...", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == h.maxAttempts {
			break
		}

		err = h.clock.Sleep(ctx, h.retryDelay)
		if err != nil {
			return nil, err
		}
	}

	return nil, &stable_diffusion_api.APIError{
		Kind:    stable_diffusion_api.KindUnknown,
		Message: fmt.Sprintf("gave up after %d attempts", h.maxAttempts),
		Err:     lastErr,
	}
}

func (h *handlerImpl) deliver(ctx context.Context, origin Context, settings *entities.GuildSettings, submission Submission, result *entities.GenerationResult) (SentMessage, error) {
	filename := fmt.Sprintf("image_%s.%s", origin.ID(), result.Extension)

	reply := Reply{
		File: &File{
			Name:    filename,
			Data:    result.Data,
			Spoiler: result.IsNSFW,
		},
	}

	if submission.MessageContent != "" {
		if settings.UseEmbeds {
			reply.EmbedDescription = formatLines(submission.MessageContent, "-# ", "")
		} else {
			reply.Content = formatLines(submission.MessageContent, "*", "*")
		}
	}

	if h.actionsFactory != nil {
		reply.Actions = h.actionsFactory.NewActions(ActionsParams{
			Result:              result,
			OwnerID:             origin.UserID(),
			GuildID:             origin.GuildID(),
			ChannelID:           origin.ChannelID(),
			MaxPixels:           settings.MaxPixels(),
			StockNegativePrompt: settings.NegativePrompt,
			Submitter:           h,
		})
	}

	message, err := origin.Send(ctx, reply)
	if err != nil {
		return nil, err
	}

	if reply.Actions != nil {
		reply.Actions.Attach(message)
	}

	return message, nil
}

func (h *handlerImpl) index(ctx context.Context, origin Context, message SentMessage, submission Submission, result *entities.GenerationResult, logger *zap.Logger) {
	if h.indexer == nil || result.Extension != "png" || !h.indexer.Enabled(origin.ChannelID()) {
		return
	}

	seeds := entities.ParseSeedParams(result.InfoString)

	record := &entities.ImageRecord{
		MessageID:  message.ID(),
		ChannelID:  message.ChannelID(),
		GuildID:    origin.GuildID(),
		MemberID:   origin.UserID(),
		Prompt:     submissionPrompt(submission),
		Seed:       seeds.Seed,
		InfoString: result.InfoString,
		Extension:  result.Extension,
		NSFW:       result.IsNSFW,
	}

	if result.Payload != nil {
		record.Prompt = result.Payload.Prompt
		record.NegativePrompt = result.Payload.NegativePrompt
	}

	err := h.indexer.Register(ctx, record, result.Data)
	if err != nil {
		logger.Error("Failed to index generated image", zap.Error(err))

		return
	}

	err = message.AddReaction(ctx, ScanReaction)
	if err != nil && !errors.Is(err, ErrMessageDeleted) {
		logger.Warn("Failed to add scan reaction", zap.Error(err))
	}
}

func (h *handlerImpl) notify(ctx context.Context, origin Context, content string, ephemeral bool) {
	_, err := origin.Send(ctx, Reply{Content: content, Ephemeral: ephemeral})
	if err != nil {
		h.logger.Warn("Failed to send notice",
			zap.String("guild_id", origin.GuildID()),
			zap.String("notice", content),
			zap.Error(err),
		)
	}
}

func noticeFor(err error) string {
	var apiErr *stable_diffusion_api.APIError

	switch stable_diffusion_api.KindOf(err) {
	case stable_diffusion_api.KindInvalidParameter:
		message := err.Error()
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			message = apiErr.Message
		}

		return fmt.Sprintf(noticeInvalidParameter, message)
	case stable_diffusion_api.KindBadResponse:
		return noticeBadResponse
	case stable_diffusion_api.KindBackendUnreachable:
		return noticeUnreachable
	case stable_diffusion_api.KindUnsupportedOperation:
		return noticeUnsupported
	default:
		return noticeUnknown
	}
}

func submissionPrompt(submission Submission) string {
	if submission.Request != nil {
		return submission.Request.Prompt
	}

	return submission.Payload.Prompt
}

// isBlacklisted uses the guild regex when one is set and compiles. The word
// list applies only otherwise.
func isBlacklisted(prompt string, settings *entities.GuildSettings, logger *zap.Logger) bool {
	if settings.BlacklistRegex != "" {
		pattern, err := regexp.Compile("(?i)" + settings.BlacklistRegex)
		if err == nil {
			return pattern.MatchString(prompt)
		}

		logger.Warn("Invalid blacklist regex", zap.String("regex", settings.BlacklistRegex), zap.Error(err))
	}

	lowered := strings.ToLower(prompt)

	for _, word := range settings.WordsBlacklist {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" && strings.Contains(lowered, word) {
			return true
		}
	}

	return false
}

func hasRole(roles []string, role string) bool {
	if role == "" {
		return false
	}

	for _, r := range roles {
		if r == role {
			return true
		}
	}

	return false
}

func formatLines(content, prefix, suffix string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = prefix + strings.TrimSpace(line) + suffix
	}

	return strings.Join(lines, "\n")
}
