package discord_bot

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord_ai_cogs/entities"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/stable_diffusion_api"
)

const (
	maxAutocompleteChoices = 25
	maxAttachmentBytes     = 25 << 20

	noticeInvalidImage = "The file you uploaded is not a valid image."
)

var (
	minCfg       = 2.0
	minSeed      = -1.0
	minZero      = 0.0
	minScale     = 0.5
	maxScale     = 2.0
	maxVariation = 0.5
)

var resolutions = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "Square", Value: "1024x1024"},
	{Name: "Portrait", Value: "832x1216"},
	{Name: "Landscape", Value: "1216x832"},
}

// autocompleteCategories maps command options to autocomplete term categories.
var autocompleteCategories = map[string]string{
	"checkpoint": stable_diffusion_api.TermCheckpoints,
	"vae":        stable_diffusion_api.TermVAEs,
	"lora":       stable_diffusion_api.TermLoras,
	"sampler":    stable_diffusion_api.TermSamplers,
	"style":      stable_diffusion_api.TermStyles,
}

func sharedOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionString, Name: "negative_prompt", Description: "Undesired terms go here."},
		{Type: discordgo.ApplicationCommandOptionString, Name: "checkpoint", Description: "The main AI model used to generate the image.", Autocomplete: true},
		{Type: discordgo.ApplicationCommandOptionString, Name: "lora", Description: "Shortcut to insert LoRA into the prompt.", Autocomplete: true},
		{Type: discordgo.ApplicationCommandOptionNumber, Name: "cfg", Description: "Sets the intensity of the prompt, 5 is common.", MinValue: &minCfg, MaxValue: 8},
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "seed", Description: "Random number that generates the image, -1 for random.", MinValue: &minSeed},
		{Type: discordgo.ApplicationCommandOptionInteger, Name: "subseed", Description: "Random number that defines variations on a set seed.", MinValue: &minSeed},
		{Type: discordgo.ApplicationCommandOptionNumber, Name: "variation", Description: "Also known as subseed strength, makes variations on a set seed.", MinValue: &minZero, MaxValue: maxVariation},
		{Type: discordgo.ApplicationCommandOptionString, Name: "vae", Description: "The VAE converts the final details of the image.", Autocomplete: true},
		{Type: discordgo.ApplicationCommandOptionString, Name: "sampler", Description: "The sampling method.", Autocomplete: true},
		{Type: discordgo.ApplicationCommandOptionString, Name: "style", Description: "A saved prompt style.", Autocomplete: true},
	}
}

func (b *botImpl) commands() []*discordgo.ApplicationCommand {
	imagineOptions := append([]*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionString, Name: "resolution", Description: "The dimensions of the image.", Required: true, Choices: resolutions},
		{Type: discordgo.ApplicationCommandOptionString, Name: "prompt", Description: "The prompt to generate an image from.", Required: true},
	}, sharedOptions()...)

	reimagineOptions := append([]*discordgo.ApplicationCommandOption{
		{Type: discordgo.ApplicationCommandOptionAttachment, Name: "image", Description: "The input image.", Required: true},
		{Type: discordgo.ApplicationCommandOptionNumber, Name: "denoising", Description: "How much the image should change. Try around 0.6", Required: true, MinValue: &minZero, MaxValue: 1},
		{Type: discordgo.ApplicationCommandOptionString, Name: "prompt", Description: "The prompt to generate an image from.", Required: true},
		{Type: discordgo.ApplicationCommandOptionNumber, Name: "scale", Description: "Resizes the image up or down, 0.5 to 2.0.", MinValue: &minScale, MaxValue: maxScale},
	}, sharedOptions()...)

	return []*discordgo.ApplicationCommand{
		{
			Name:        b.commandName(imagineCommandName),
			Description: "Generate an image using Stable Diffusion.",
			Options:     imagineOptions,
		},
		{
			Name:        b.commandName(reimagineCommandName),
			Description: "Convert an image using Stable Diffusion.",
			Options:     reimagineOptions,
		},
	}
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	result := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		result[opt.Name] = opt
	}

	return result
}

func parseResolution(value string) (int, int, error) {
	w, h, ok := strings.Cut(value, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", value)
	}

	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", value)
	}

	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", value)
	}

	return width, height, nil
}

// requestFromOptions builds a generation request from the options the two
// commands share.
func requestFromOptions(options map[string]*discordgo.ApplicationCommandInteractionDataOption) *entities.GenerationRequest {
	request := entities.NewGenerationRequest("")

	if opt, ok := options["prompt"]; ok {
		request.Prompt = strings.TrimSpace(opt.StringValue())
	}

	if opt, ok := options["negative_prompt"]; ok {
		request.NegativePrompt = opt.StringValue()
	}

	if opt, ok := options["checkpoint"]; ok {
		request.Checkpoint = opt.StringValue()
	}

	if opt, ok := options["lora"]; ok {
		request.Lora = opt.StringValue()
	}

	if opt, ok := options["vae"]; ok {
		request.VAE = opt.StringValue()
	}

	if opt, ok := options["sampler"]; ok {
		request.SamplerName = opt.StringValue()
	}

	if opt, ok := options["style"]; ok {
		request.Style = opt.StringValue()
	}

	if opt, ok := options["cfg"]; ok {
		request.CfgScale = opt.FloatValue()
	}

	if opt, ok := options["seed"]; ok {
		request.Seed = opt.IntValue()
	}

	if opt, ok := options["subseed"]; ok {
		request.Subseed = opt.IntValue()
	}

	if opt, ok := options["variation"]; ok {
		request.SubseedStrength = opt.FloatValue()
	}

	return request
}

func (b *botImpl) deferCommand(interaction *discordgo.Interaction) error {
	return b.botSession.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (b *botImpl) processImagineCommand(i *discordgo.InteractionCreate) {
	// the channel lookup may be slow, so acknowledge first
	err := b.deferCommand(i.Interaction)
	if err != nil {
		b.logger.Error("Failed to defer imagine command", zap.Error(err))
		return
	}

	options := optionMap(i.ApplicationCommandData().Options)
	origin := b.newInteractionContext(i.Interaction, true)
	ctx := context.Background()

	request := requestFromOptions(options)

	if opt, ok := options["resolution"]; ok {
		request.Width, request.Height, err = parseResolution(opt.StringValue())
		if err != nil {
			b.sendNotice(ctx, origin, ":warning: "+err.Error())
			return
		}
	}

	b.warmTerms(i.GuildID)

	err = b.handler.Submit(ctx, origin, image_handler.Submission{
		Request:        request,
		MessageContent: "Requested by " + origin.UserMention(),
	})
	b.logSubmitError(err)
}

func (b *botImpl) processReimagineCommand(i *discordgo.InteractionCreate) {
	err := b.deferCommand(i.Interaction)
	if err != nil {
		b.logger.Error("Failed to defer reimagine command", zap.Error(err))
		return
	}

	data := i.ApplicationCommandData()
	options := optionMap(data.Options)
	origin := b.newInteractionContext(i.Interaction, true)
	ctx := context.Background()

	attachment := resolvedAttachment(data, options["image"])
	if attachment == nil || !strings.HasPrefix(attachment.ContentType, "image/") {
		b.sendNotice(ctx, origin, noticeInvalidImage)
		return
	}

	scale := 1.0
	if opt, ok := options["scale"]; ok {
		scale = opt.FloatValue()
	}

	settings, err := b.handler.Settings(ctx, i.GuildID)
	if err != nil {
		b.logger.Error("Failed to load guild settings", zap.String("guild_id", i.GuildID), zap.Error(err))
		b.sendNotice(ctx, origin, ":warning: Something went wrong!")

		return
	}

	imageData, err := b.download(ctx, attachment.URL)
	if err != nil {
		b.logger.Warn("Failed to download attachment", zap.String("url", attachment.URL), zap.Error(err))
		b.sendNotice(ctx, origin, ":warning: Could not download your image.")

		return
	}

	request := requestFromOptions(options)

	initImage, width, height, notice := b.prepareInitImage(imageData, scale, settings.MaxImg2Img)
	if notice != "" {
		b.sendNotice(ctx, origin, notice)
		return
	}

	denoising := 0.0
	if opt, ok := options["denoising"]; ok {
		denoising = opt.FloatValue()
	}

	request.InitImage = initImage
	request.Width = width
	request.Height = height
	request.Denoising = &denoising

	b.warmTerms(i.GuildID)

	err = b.handler.Submit(ctx, origin, image_handler.Submission{
		Request:        request,
		MessageContent: "Requested by " + origin.UserMention(),
	})
	b.logSubmitError(err)
}

// prepareInitImage checks an uploaded image against the img2img size budget
// and returns it with its target size, or a notice for the user. Formats the
// backends do not read are converted to PNG.
func (b *botImpl) prepareInitImage(data []byte, scale float64, maxSide int) ([]byte, int, int, string) {
	info, err := b.images.Inspect(data)
	if err != nil {
		return nil, 0, 0, noticeInvalidImage
	}

	if notice := img2imgSizeNotice(info.Width, info.Height, scale, maxSide); notice != "" {
		return nil, 0, 0, notice
	}

	width := int(math.Round(float64(info.Width) * scale))
	height := int(math.Round(float64(info.Height) * scale))

	if info.Format == "png" || info.Format == "jpeg" {
		return data, width, height, ""
	}

	converted, err := b.images.Resize(data, width, height)
	if err != nil {
		b.logger.Warn("Failed to convert image", zap.String("format", info.Format), zap.Error(err))

		return nil, 0, 0, noticeInvalidImage
	}

	return converted, width, height, ""
}

func img2imgSizeNotice(width, height int, scale float64, maxSide int) string {
	size := float64(width*height) * scale * scale
	maxSize := float64(maxSide * maxSide)

	if size <= maxSize {
		return ""
	}

	verb := "is"
	if scale != 1 {
		verb = "after resizing would be"
	}

	return fmt.Sprintf("Max img2img size is %d² pixels. Your image %s %d² pixels, which is too big.",
		maxSide, verb, int(math.Sqrt(size)))
}

func resolvedAttachment(data discordgo.ApplicationCommandInteractionData, option *discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageAttachment {
	if option == nil || data.Resolved == nil {
		return nil
	}

	id, ok := option.Value.(string)
	if !ok {
		return nil
	}

	return data.Resolved.Attachments[id]
}

func (b *botImpl) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
}

func (b *botImpl) sendNotice(ctx context.Context, origin image_handler.Context, content string) {
	_, err := origin.Send(ctx, image_handler.Reply{Content: content, Ephemeral: true})
	if err != nil {
		b.logger.Warn("Failed to send notice", zap.Error(err))
	}
}

// warmTerms fills the autocomplete cache of a guild seen for the first time.
func (b *botImpl) warmTerms(guildID string) {
	b.handler.Terms(context.Background(), guildID, stable_diffusion_api.TermCheckpoints)
}

func (b *botImpl) processAutocomplete(i *discordgo.InteractionCreate) {
	var focused *discordgo.ApplicationCommandInteractionDataOption
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Focused {
			focused = opt
			break
		}
	}

	choices := []*discordgo.ApplicationCommandOptionChoice{}

	if focused != nil {
		if category, ok := autocompleteCategories[focused.Name]; ok {
			terms := b.handler.Terms(context.Background(), i.GuildID, category)
			choices = filterChoices(terms, focused.StringValue())
		}
	}

	b.respond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
}

// filterChoices returns up to 25 terms containing query, ignoring case.
func filterChoices(terms []string, query string) []*discordgo.ApplicationCommandOptionChoice {
	query = strings.ToLower(strings.TrimSpace(query))
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, maxAutocompleteChoices)

	for _, term := range terms {
		if len(choices) == maxAutocompleteChoices {
			break
		}

		if query != "" && !strings.Contains(strings.ToLower(term), query) {
			continue
		}

		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  truncateRunes(term, 100),
			Value: term,
		})
	}

	return choices
}
