package discord_bot

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"discord_ai_cogs/entities"
	"discord_ai_cogs/image_actions"
	"discord_ai_cogs/image_handler"
	"discord_ai_cogs/image_scanner"
)

func TestButtonRows(t *testing.T) {
	buttons := []image_handler.ActionButton{
		{Action: image_actions.ActionReroll, Emoji: "🔄", Label: "Reroll"},
		{Action: image_actions.ActionModify, Emoji: "🔧", Label: "Modify"},
		{Action: image_actions.ActionVariation, Emoji: "🤏", Label: "Variation", Disabled: true},
		{Action: image_actions.ActionUpscale, Emoji: "⬆️", Label: "Upscale"},
		{Action: image_actions.ActionInfo, Emoji: "ℹ️"},
		{Action: image_actions.ActionDelete, Emoji: "🗑️"},
	}

	rows := buttonRows(buttons)
	if len(rows) != 2 {
		t.Fatalf("%d rows, want 2", len(rows))
	}

	first := rows[0].(discordgo.ActionsRow)
	if len(first.Components) != 5 {
		t.Fatalf("%d buttons in first row, want 5", len(first.Components))
	}

	variation := first.Components[2].(discordgo.Button)
	if variation.CustomID != "imagine_variation" || !variation.Disabled || variation.Emoji.Name != "🤏" {
		t.Errorf("variation button = %+v", variation)
	}

	deleteButton := rows[1].(discordgo.ActionsRow).Components[0].(discordgo.Button)
	if deleteButton.Style != discordgo.DangerButton {
		t.Errorf("delete style = %v", deleteButton.Style)
	}

	if len(buttonRows(nil)) != 0 {
		t.Error("expected no rows without buttons")
	}
}

func TestSplitCustomID(t *testing.T) {
	kind, argument := splitCustomID("upscale_scale:123")
	if kind != upscaleScaleID || argument != "123" {
		t.Errorf("got %q, %q", kind, argument)
	}

	kind, argument = splitCustomID("plain")
	if kind != "plain" || argument != "" {
		t.Errorf("got %q, %q", kind, argument)
	}
}

func TestParseResolution(t *testing.T) {
	width, height, err := parseResolution("832x1216")
	if err != nil || width != 832 || height != 1216 {
		t.Errorf("got %dx%d, %v", width, height, err)
	}

	for _, invalid := range []string{"", "1024", "axb", "1024x"} {
		if _, _, err := parseResolution(invalid); err == nil {
			t.Errorf("parseResolution(%q) should fail", invalid)
		}
	}
}

func TestRequestFromOptions(t *testing.T) {
	options := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "prompt", Type: discordgo.ApplicationCommandOptionString, Value: "  a cat  "},
		{Name: "negative_prompt", Type: discordgo.ApplicationCommandOptionString, Value: "dog"},
		{Name: "checkpoint", Type: discordgo.ApplicationCommandOptionString, Value: "sdxl"},
		{Name: "cfg", Type: discordgo.ApplicationCommandOptionNumber, Value: 6.5},
		{Name: "seed", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(42)},
		{Name: "variation", Type: discordgo.ApplicationCommandOptionNumber, Value: 0.25},
	})

	request := requestFromOptions(options)

	want := entities.NewGenerationRequest("a cat")
	want.NegativePrompt = "dog"
	want.Checkpoint = "sdxl"
	want.CfgScale = 6.5
	want.Seed = 42
	want.SubseedStrength = 0.25

	if !reflect.DeepEqual(request, want) {
		t.Errorf("request = %+v, want %+v", request, want)
	}
}

func TestImg2ImgSizeNotice(t *testing.T) {
	if notice := img2imgSizeNotice(1024, 1024, 1.5, 1536); notice != "" {
		t.Errorf("unexpected notice %q", notice)
	}

	notice := img2imgSizeNotice(1024, 1024, 2, 1536)
	if !strings.Contains(notice, "1536²") || !strings.Contains(notice, "after resizing would be 2048²") {
		t.Errorf("notice = %q", notice)
	}

	notice = img2imgSizeNotice(2048, 2048, 1, 1536)
	if !strings.Contains(notice, "Your image is 2048²") {
		t.Errorf("notice = %q", notice)
	}
}

func TestFilterChoices(t *testing.T) {
	terms := []string{"sd_xl_base", "Juggernaut XL", "dreamshaper", "flux1-dev"}

	choices := filterChoices(terms, "xl")
	if len(choices) != 2 || choices[0].Value != "sd_xl_base" || choices[1].Value != "Juggernaut XL" {
		t.Errorf("choices = %v", choices)
	}

	if len(filterChoices(terms, "")) != len(terms) {
		t.Error("empty query should list every term")
	}

	many := make([]string, 40)
	for i := range many {
		many[i] = strings.Repeat("a", i+1)
	}

	if len(filterChoices(many, "a")) != maxAutocompleteChoices {
		t.Error("choices not capped")
	}
}

func TestModalValuesAndModifyOptions(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		CustomID: "modify_modal:1",
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: modifyPromptInputID, Value: " a red cat "},
			}},
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: modifyNegativeInputID, Value: "blurry"},
			}},
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: modifySeedModeInputID, Value: "Keep"},
			}},
		},
	}

	opts, err := parseModifyOptions(modalValues(data))
	if err != nil {
		t.Fatalf("parseModifyOptions() error: %v", err)
	}

	want := image_actions.ModifyOptions{Prompt: "a red cat", NegativePrompt: "blurry", KeepSeed: true}
	if opts != want {
		t.Errorf("opts = %+v, want %+v", opts, want)
	}

	if _, err := parseModifyOptions(map[string]string{modifyPromptInputID: "cat", modifySeedModeInputID: "maybe"}); err == nil {
		t.Error("expected an error for an unknown seed mode")
	}

	if _, err := parseModifyOptions(map[string]string{modifyPromptInputID: "  "}); err == nil {
		t.Error("expected an error for an empty prompt")
	}
}

func TestMessageError(t *testing.T) {
	unknown := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}

	if err := messageError(unknown); !errors.Is(err, image_handler.ErrMessageDeleted) {
		t.Errorf("got %v, want ErrMessageDeleted", err)
	}

	forbidden := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
	}

	if err := messageError(forbidden); errors.Is(err, image_handler.ErrMessageDeleted) {
		t.Error("forbidden is not a deleted message")
	}

	if messageError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestReplyFilesAndEmbeds(t *testing.T) {
	reply := image_handler.Reply{
		EmbedDescription: "-# Requested by someone",
		File:             &image_handler.File{Name: "image_1.png", Data: []byte("\x89PNG\r\n\x1a\n")},
	}

	files := replyFiles(reply)
	if len(files) != 1 || files[0].Name != "image_1.png" || files[0].ContentType != "image/png" {
		t.Fatalf("files = %+v", files)
	}

	embeds := replyEmbeds(reply)
	if len(embeds) != 1 || embeds[0].Image == nil || embeds[0].Image.URL != "attachment://image_1.png" {
		t.Fatalf("embeds = %+v", embeds)
	}

	reply.File.Spoiler = true
	if replyFiles(reply)[0].Name != "SPOILER_image_1.png" {
		t.Error("spoiler prefix missing")
	}

	if replyEmbeds(reply)[0].Image != nil {
		t.Error("spoilered image must not be embedded")
	}
}

func TestChatMessage(t *testing.T) {
	m := &discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   "hey <@bot>",
		Author:    &discordgo.User{ID: "u1", Username: "ann", GlobalName: "Ann"},
		Member:    &discordgo.Member{Nick: "Annie"},
		Mentions:  []*discordgo.User{{ID: "bot"}},
		ReferencedMessage: &discordgo.Message{
			Author: &discordgo.User{ID: "bot"},
		},
	}

	msg := chatMessage(m, "bot")
	if !msg.MentionsBot || !msg.RepliesToBot || msg.FromSelf || msg.AuthorName != "Annie" {
		t.Errorf("msg = %+v", msg)
	}

	own := chatMessage(&discordgo.Message{Author: &discordgo.User{ID: "bot", Username: "Botty"}}, "bot")
	if !own.FromSelf || own.AuthorName != "Botty" {
		t.Errorf("own = %+v", own)
	}
}

func TestScanEmbed(t *testing.T) {
	embed := scanEmbed(&image_scanner.Scan{
		Record:     &entities.ImageRecord{Seed: 1234},
		Parameters: "a cat\nSteps: 24, Seed: 1234",
	}, "g", "c", "m")

	if !strings.Contains(embed.Description, "Seed: 1234") || embed.Footer == nil || embed.Footer.Text != "Seed 1234" {
		t.Errorf("embed = %+v", embed)
	}

	if embed.URL != "https://discord.com/channels/g/c/m" {
		t.Errorf("url = %s", embed.URL)
	}
}

func TestNewUpscaleFormDefaults(t *testing.T) {
	form := image_actions.UpscaleForm{
		Upscalers:        []string{"4x-UltraSharp", "R-ESRGAN 4x+"},
		DefaultScale:     1.5,
		DefaultDenoising: 0.3,
		ADetailer:        true,
	}

	pending := newUpscaleForm(form)
	if pending.Upscaler != "4x-UltraSharp" || pending.Scale != 1.5 || pending.Denoising != 0.3 || !pending.ADetailer {
		t.Errorf("unexpected defaults: %+v", pending)
	}

	options := adetailerOptions(pending.ADetailer)
	if !options[0].Default || options[0].Value != "on" || options[1].Default {
		t.Errorf("ADetailer options = %+v, want on selected", options)
	}

	form.ADetailer = false

	if newUpscaleForm(form).ADetailer {
		t.Error("ADetailer enabled without the script")
	}
}
