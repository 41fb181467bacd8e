package discord_bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord_ai_cogs/image_actions"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/stable_diffusion_api"
)

const (
	actionButtonPrefix = "imagine_"

	variationStrengthID = "variation_strength"
	variationModeID     = "variation_mode"
	variationSubmitID   = "variation_submit"

	upscaleUpscalerID  = "upscale_upscaler"
	upscaleScaleID     = "upscale_scale"
	upscaleDenoisingID = "upscale_denoising"
	upscaleADetailerID = "upscale_adetailer"
	upscaleSubmitID    = "upscale_submit"

	modifyModalID          = "modify_modal"
	modifyPromptInputID    = "prompt"
	modifyNegativeInputID  = "negative_prompt"
	modifySeedModeInputID  = "seed_mode"
	seedModeKeep           = "keep"
	seedModeReroll         = "reroll"
	maxButtonsPerActionRow = 5
)

type variationForm struct {
	Strength    int
	KeepSubseed bool
}

type upscaleForm struct {
	Upscaler  string
	Scale     float64
	Denoising float64
	ADetailer bool
}

// buttonRows lays out action buttons, at most five per row.
func buttonRows(buttons []image_handler.ActionButton) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, (len(buttons)+maxButtonsPerActionRow-1)/maxButtonsPerActionRow)

	for start := 0; start < len(buttons); start += maxButtonsPerActionRow {
		end := min(start+maxButtonsPerActionRow, len(buttons))

		row := discordgo.ActionsRow{}
		for _, button := range buttons[start:end] {
			component := discordgo.Button{
				Label:    button.Label,
				Style:    discordgo.SecondaryButton,
				CustomID: actionButtonPrefix + button.Action,
				Disabled: button.Disabled,
			}

			if button.Emoji != "" {
				component.Emoji = &discordgo.ComponentEmoji{Name: button.Emoji}
			}

			if button.Action == image_actions.ActionDelete {
				component.Style = discordgo.DangerButton
			}

			row.Components = append(row.Components, component)
		}

		rows = append(rows, row)
	}

	return rows
}

// splitCustomID splits "kind:argument" custom IDs.
func splitCustomID(customID string) (kind, argument string) {
	kind, argument, _ = strings.Cut(customID, ":")

	return kind, argument
}

func formKey(userID, messageID string) string {
	return userID + ":" + messageID
}

func (b *botImpl) processComponent(i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()

	if action, ok := strings.CutPrefix(data.CustomID, actionButtonPrefix); ok {
		b.processActionButton(i, action)
		return
	}

	kind, messageID := splitCustomID(data.CustomID)

	switch kind {
	case variationStrengthID, variationModeID:
		b.updateVariationForm(i, kind, messageID, data.Values)
	case variationSubmitID:
		b.submitVariationForm(i, messageID)
	case upscaleUpscalerID, upscaleScaleID, upscaleDenoisingID, upscaleADetailerID:
		b.updateUpscaleForm(i, kind, messageID, data.Values)
	case upscaleSubmitID:
		b.submitUpscaleForm(i, messageID)
	default:
		b.logger.Warn("Unknown message component", zap.String("custom_id", data.CustomID))
	}
}

func (b *botImpl) controller(i *discordgo.InteractionCreate, messageID string) (*image_actions.Controller, bool) {
	controller, ok := b.registry.Get(messageID)
	if !ok {
		b.respondEphemeral(i.Interaction, "These buttons have expired.")

		return nil, false
	}

	return controller, true
}

func (b *botImpl) processActionButton(i *discordgo.InteractionCreate, action string) {
	if i.Message == nil {
		return
	}

	controller, ok := b.controller(i, i.Message.ID)
	if !ok {
		return
	}

	ctx := context.Background()
	user := interactionUser(i.Interaction)

	switch action {
	case image_actions.ActionReroll:
		b.deferUpdate(i.Interaction)
		b.logSubmitError(controller.Reroll(ctx, b.newInteractionContext(i.Interaction, false)))
	case image_actions.ActionModify:
		b.respond(i.Interaction, modifyModal(i.Message.ID, controller))
	case image_actions.ActionVariation:
		b.openVariationForm(i, user.ID)
	case image_actions.ActionUpscale:
		b.openUpscaleForm(i, user.ID, controller)
	case image_actions.ActionInfo:
		b.respond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{infoEmbed(controller.Info())},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		})
	case image_actions.ActionDelete:
		err := controller.Delete(ctx, user.ID)
		if errors.Is(err, image_actions.ErrNotOwner) {
			b.respondEphemeral(i.Interaction, "Only the requester may delete this image.")
			return
		}

		if err != nil {
			b.logger.Warn("Failed to delete image", zap.String("message_id", i.Message.ID), zap.Error(err))
			b.respondEphemeral(i.Interaction, ":warning: Could not delete the image.")

			return
		}

		b.deferUpdate(i.Interaction)
	default:
		b.logger.Warn("Unknown image action", zap.String("action", action))
	}
}

// logSubmitError logs failed submissions. The handler already told the user.
func (b *botImpl) logSubmitError(err error) {
	if err != nil {
		b.logger.Debug("Follow-up submission rejected", zap.Error(err))
	}
}

func infoEmbed(info string) *discordgo.MessageEmbed {
	if info == "" {
		info = "No generation info available."
	}

	// embed descriptions are limited to 4096 characters
	runes := []rune(info)
	if len(runes) > 4000 {
		info = string(runes[:4000]) + "…"
	}

	return &discordgo.MessageEmbed{Title: "Generation info", Description: "```\n" + info + "\n```"}
}

func modifyModal(messageID string, controller *image_actions.Controller) *discordgo.InteractionResponse {
	prompt, negativePrompt := controller.ModifyDefaults()

	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: modifyModalID + ":" + messageID,
			Title:    "Modify image",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  modifyPromptInputID,
						Label:     "Prompt",
						Style:     discordgo.TextInputParagraph,
						Value:     truncateRunes(prompt, 4000),
						Required:  true,
						MaxLength: 4000,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  modifyNegativeInputID,
						Label:     "Negative prompt",
						Style:     discordgo.TextInputParagraph,
						Value:     truncateRunes(negativePrompt, 4000),
						MaxLength: 4000,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    modifySeedModeInputID,
						Label:       "Seed (keep or reroll)",
						Style:       discordgo.TextInputShort,
						Value:       seedModeReroll,
						Placeholder: "keep / reroll",
						Required:    true,
						MaxLength:   6,
					},
				}},
			},
		},
	}
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) > limit {
		return string(runes[:limit])
	}

	return value
}

// modalValues collects the text inputs of a submitted modal by custom ID.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)

	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}

		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				values[input.CustomID] = input.Value
			}
		}
	}

	return values
}

func parseModifyOptions(values map[string]string) (image_actions.ModifyOptions, error) {
	opts := image_actions.ModifyOptions{
		Prompt:         strings.TrimSpace(values[modifyPromptInputID]),
		NegativePrompt: strings.TrimSpace(values[modifyNegativeInputID]),
	}

	if opts.Prompt == "" {
		return opts, errors.New("prompt is required")
	}

	switch strings.ToLower(strings.TrimSpace(values[modifySeedModeInputID])) {
	case seedModeKeep:
		opts.KeepSeed = true
	case seedModeReroll, "":
	default:
		return opts, fmt.Errorf("seed must be %q or %q", seedModeKeep, seedModeReroll)
	}

	return opts, nil
}

func (b *botImpl) processModalSubmit(i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()

	kind, messageID := splitCustomID(data.CustomID)
	if kind != modifyModalID {
		b.logger.Warn("Unknown modal", zap.String("custom_id", data.CustomID))
		return
	}

	opts, err := parseModifyOptions(modalValues(data))
	if err != nil {
		b.respondEphemeral(i.Interaction, ":warning: "+err.Error())
		return
	}

	controller, ok := b.controller(i, messageID)
	if !ok {
		return
	}

	b.deferUpdate(i.Interaction)
	b.logSubmitError(controller.Modify(context.Background(), b.newInteractionContext(i.Interaction, false), opts))
}

func (b *botImpl) openVariationForm(i *discordgo.InteractionCreate, userID string) {
	messageID := i.Message.ID

	b.forms.SetDefault(formKey(userID, messageID), &variationForm{Strength: image_actions.DefaultVariationStrength})

	strengths := make([]discordgo.SelectMenuOption, 0, 20)
	for _, strength := range image_actions.VariationStrengths() {
		strengths = append(strengths, discordgo.SelectMenuOption{
			Label:   fmt.Sprintf("Variation strength: %d%%", strength),
			Value:   strconv.Itoa(strength),
			Default: strength == image_actions.DefaultVariationStrength,
		})
	}

	b.respond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				selectRow(variationStrengthID+":"+messageID, "Variation strength", strengths),
				selectRow(variationModeID+":"+messageID, "Subseed", []discordgo.SelectMenuOption{
					{Label: "Reroll subseed", Value: seedModeReroll, Default: true},
					{Label: "Keep subseed", Value: seedModeKeep},
				}),
				submitRow(variationSubmitID + ":" + messageID),
			},
		},
	})
}

func (b *botImpl) updateVariationForm(i *discordgo.InteractionCreate, kind, messageID string, values []string) {
	form, ok := b.pendingVariation(i, messageID)
	if !ok || len(values) == 0 {
		return
	}

	b.formsMu.Lock()
	defer b.formsMu.Unlock()

	switch kind {
	case variationStrengthID:
		strength, err := strconv.Atoi(values[0])
		if err == nil {
			form.Strength = strength
		}
	case variationModeID:
		form.KeepSubseed = values[0] == seedModeKeep
	}

	b.deferUpdate(i.Interaction)
}

func (b *botImpl) pendingVariation(i *discordgo.InteractionCreate, messageID string) (*variationForm, bool) {
	cached, ok := b.forms.Get(formKey(interactionUser(i.Interaction).ID, messageID))
	if ok {
		if form, ok := cached.(*variationForm); ok {
			return form, true
		}
	}

	b.respondEphemeral(i.Interaction, "This form has expired.")

	return nil, false
}

func (b *botImpl) submitVariationForm(i *discordgo.InteractionCreate, messageID string) {
	form, ok := b.pendingVariation(i, messageID)
	if !ok {
		return
	}

	controller, ok := b.controller(i, messageID)
	if !ok {
		return
	}

	b.forms.Delete(formKey(interactionUser(i.Interaction).ID, messageID))
	b.closeForm(i, "Variation requested.")

	b.formsMu.Lock()
	opts := image_actions.VariationOptions{
		Strength:    form.Strength,
		KeepSubseed: form.KeepSubseed,
	}
	b.formsMu.Unlock()

	err := controller.Variation(context.Background(), b.newInteractionContext(i.Interaction, false), opts)
	b.reportFormError(i, err)
}

func (b *botImpl) openUpscaleForm(i *discordgo.InteractionCreate, userID string, controller *image_actions.Controller) {
	messageID := i.Message.ID
	ctx := context.Background()

	form := controller.UpscaleForm(map[string][]string{
		stable_diffusion_api.TermUpscalers: b.handler.Terms(ctx, controller.GuildID(), stable_diffusion_api.TermUpscalers),
		stable_diffusion_api.TermScripts:   b.handler.Terms(ctx, controller.GuildID(), stable_diffusion_api.TermScripts),
	})

	pending := newUpscaleForm(form)

	b.forms.SetDefault(formKey(userID, messageID), pending)

	components := make([]discordgo.MessageComponent, 0, 5)

	if len(form.Upscalers) > 0 {
		upscalers := make([]discordgo.SelectMenuOption, 0, len(form.Upscalers))
		for _, upscaler := range form.Upscalers {
			upscalers = append(upscalers, discordgo.SelectMenuOption{
				Label:   upscaler,
				Value:   upscaler,
				Default: upscaler == pending.Upscaler,
			})
		}

		components = append(components, selectRow(upscaleUpscalerID+":"+messageID, "Upscaler", upscalers))
	}

	scales := make([]discordgo.SelectMenuOption, 0, len(form.Scales))
	for _, scale := range form.Scales {
		scales = append(scales, discordgo.SelectMenuOption{
			Label:   fmt.Sprintf("Scale: x%.2f", scale),
			Value:   strconv.FormatFloat(scale, 'f', 2, 64),
			Default: scale == form.DefaultScale,
		})
	}

	components = append(components, selectRow(upscaleScaleID+":"+messageID, "Scale", scales))

	denoising := make([]discordgo.SelectMenuOption, 0, len(form.Denoising))
	for _, value := range form.Denoising {
		denoising = append(denoising, discordgo.SelectMenuOption{
			Label:   fmt.Sprintf("Denoising: %.2f", value),
			Value:   strconv.FormatFloat(value, 'f', 2, 64),
			Default: value == form.DefaultDenoising,
		})
	}

	components = append(components, selectRow(upscaleDenoisingID+":"+messageID, "Denoising", denoising))

	if form.ADetailer {
		components = append(components, selectRow(upscaleADetailerID+":"+messageID, "ADetailer", adetailerOptions(pending.ADetailer)))
	}

	components = append(components, submitRow(upscaleSubmitID+":"+messageID))

	b.respond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:      discordgo.MessageFlagsEphemeral,
			Components: components,
		},
	})
}

// newUpscaleForm starts from the form defaults, ADetailer on when offered.
func newUpscaleForm(form image_actions.UpscaleForm) *upscaleForm {
	pending := &upscaleForm{
		Scale:     form.DefaultScale,
		Denoising: form.DefaultDenoising,
		ADetailer: form.ADetailer,
	}

	if len(form.Upscalers) > 0 {
		pending.Upscaler = form.Upscalers[0]
	}

	return pending
}

func adetailerOptions(enabled bool) []discordgo.SelectMenuOption {
	return []discordgo.SelectMenuOption{
		{Label: "ADetailer on", Value: "on", Default: enabled},
		{Label: "ADetailer off", Value: "off", Default: !enabled},
	}
}

func (b *botImpl) pendingUpscale(i *discordgo.InteractionCreate, messageID string) (*upscaleForm, bool) {
	cached, ok := b.forms.Get(formKey(interactionUser(i.Interaction).ID, messageID))
	if ok {
		if form, ok := cached.(*upscaleForm); ok {
			return form, true
		}
	}

	b.respondEphemeral(i.Interaction, "This form has expired.")

	return nil, false
}

func (b *botImpl) updateUpscaleForm(i *discordgo.InteractionCreate, kind, messageID string, values []string) {
	form, ok := b.pendingUpscale(i, messageID)
	if !ok || len(values) == 0 {
		return
	}

	b.formsMu.Lock()
	defer b.formsMu.Unlock()

	switch kind {
	case upscaleUpscalerID:
		form.Upscaler = values[0]
	case upscaleScaleID:
		if scale, err := strconv.ParseFloat(values[0], 64); err == nil {
			form.Scale = scale
		}
	case upscaleDenoisingID:
		if denoising, err := strconv.ParseFloat(values[0], 64); err == nil {
			form.Denoising = denoising
		}
	case upscaleADetailerID:
		form.ADetailer = values[0] == "on"
	}

	b.deferUpdate(i.Interaction)
}

func (b *botImpl) submitUpscaleForm(i *discordgo.InteractionCreate, messageID string) {
	form, ok := b.pendingUpscale(i, messageID)
	if !ok {
		return
	}

	controller, ok := b.controller(i, messageID)
	if !ok {
		return
	}

	b.forms.Delete(formKey(interactionUser(i.Interaction).ID, messageID))
	b.closeForm(i, "Upscale requested.")

	b.formsMu.Lock()
	opts := image_actions.UpscaleOptions{
		Upscaler:  form.Upscaler,
		Scale:     form.Scale,
		Denoising: form.Denoising,
		ADetailer: form.ADetailer,
	}
	b.formsMu.Unlock()

	err := controller.Upscale(context.Background(), b.newInteractionContext(i.Interaction, false), opts)
	b.reportFormError(i, err)
}

// closeForm replaces an ephemeral form with a short note.
func (b *botImpl) closeForm(i *discordgo.InteractionCreate, content string) {
	b.respond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
}

// reportFormError shows option errors, which never reach the handler.
func (b *botImpl) reportFormError(i *discordgo.InteractionCreate, err error) {
	if err == nil {
		return
	}

	var apiErr *stable_diffusion_api.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == stable_diffusion_api.KindInvalidParameter {
		_, sendErr := b.botSession.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: ":warning: Invalid parameter: " + apiErr.Message,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		if sendErr != nil {
			b.logger.Warn("Failed to report form error", zap.Error(sendErr))
		}

		return
	}

	b.logSubmitError(err)
}

func selectRow(customID, placeholder string, options []discordgo.SelectMenuOption) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    customID,
			Placeholder: placeholder,
			Options:     options,
		},
	}}
}

func submitRow(customID string) discordgo.ActionsRow {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "Generate",
			Style:    discordgo.PrimaryButton,
			CustomID: customID,
		},
	}}
}
