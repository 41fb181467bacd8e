package stable_diffusion_api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/entities"
)

// samplers the WebUI ships with; its samplers page lists them too, but the
// static list keeps autocomplete usable while the backend is loading.
var a1111Samplers = []string{
	"DPM++ 2M",
	"DPM++ SDE",
	"DPM++ 2M SDE",
	"DPM++ 2M SDE Heun",
	"DPM++ 2S a",
	"DPM++ 3M SDE",
	"Euler a",
	"Euler",
	"LMS",
	"Heun",
	"DPM2",
	"DPM2 a",
	"DPM fast",
	"DPM adaptive",
	"Restart",
	"DDIM",
	"DDIM CFG++",
	"PLMS",
	"UniPC",
	"LCM",
	"DDPM",
}

type termPage struct {
	path     string
	category string
}

var webuiTermPages = []termPage{
	{path: "upscalers", category: TermUpscalers},
	{path: "scripts", category: TermScripts},
	{path: "loras", category: TermLoras},
	{path: "sd-models", category: TermCheckpoints},
	{path: "sd-vae", category: TermVAEs},
	{path: "prompt-styles", category: TermStyles},
	{path: "schedulers", category: TermSchedulers},
}

type webuiImpl struct {
	endpoint string
	auth     string
	settings *entities.GuildSettings
	client   *http.Client
	logger   *zap.Logger
	retry    retryPolicy
}

type WebUIConfig struct {
	// Endpoint is the API root, e.g. http://localhost:7860/sdapi/v1
	Endpoint string
	// Auth is "user:password" for basic auth, empty for none.
	Auth     string
	Settings *entities.GuildSettings
	Client   *http.Client
	Logger   *zap.Logger

	RetryInterval time.Duration
	Attempts      int
}

func NewWebUI(cfg WebUIConfig) (Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("missing endpoint")
	}

	if cfg.Settings == nil {
		return nil, errors.New("missing guild settings")
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &webuiImpl{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		auth:     cfg.Auth,
		settings: cfg.Settings,
		client:   client,
		logger:   logger,
		retry:    newRetryPolicy(cfg.RetryInterval, cfg.Attempts),
	}, nil
}

type webuiImageResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

type webuiInfo struct {
	Infotexts            []string        `json:"infotexts"`
	ExtraGenerationParam json.RawMessage `json:"extra_generation_params"`
}

type webuiErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

func (api *webuiImpl) GenerateImage(ctx context.Context, req *entities.GenerationRequest, payload *entities.Payload) (*entities.GenerationResult, error) {
	if req == nil && payload == nil {
		return nil, newAPIError(KindInvalidParameter, "no request or payload to generate from", nil)
	}

	if payload == nil {
		var err error

		payload, err = BuildPayload(req, api.settings)
		if err != nil {
			return nil, err
		}
	}

	generationType := "txt2img"
	if payload.IsImg2Img() {
		generationType = "img2img"
	}

	var result *entities.GenerationResult

	err := api.retry.do(ctx, api.logger, generationType, func() error {
		var err error

		result, err = api.postImageGeneration(ctx, generationType, payload)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (api *webuiImpl) postImageGeneration(ctx context.Context, generationType string, payload *entities.Payload) (*entities.GenerationResult, error) {
	postURL := api.endpoint + "/" + generationType

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json; charset=UTF-8")
	api.setAuth(request)

	response, err := api.client.Do(request)
	if err != nil {
		return nil, classify(err)
	}

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, classify(err)
	}

	if response.StatusCode == http.StatusUnprocessableEntity {
		return nil, &APIError{
			Kind:       KindInvalidParameter,
			Message:    validationDetail(body),
			StatusCode: response.StatusCode,
		}
	}

	if response.StatusCode != http.StatusOK {
		api.logger.Error("Unexpected API response",
			zap.String("url", postURL),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", truncate(body, 512)),
		)

		return nil, &APIError{
			Kind:       KindBadResponse,
			Message:    http.StatusText(response.StatusCode),
			StatusCode: response.StatusCode,
		}
	}

	return parseWebUIResponse(body, payload)
}

func parseWebUIResponse(body []byte, payload *entities.Payload) (*entities.GenerationResult, error) {
	respStruct := &webuiImageResponse{}

	err := json.Unmarshal(body, respStruct)
	if err != nil {
		return nil, newAPIError(KindBadResponse, "malformed response", err)
	}

	if len(respStruct.Images) == 0 {
		return nil, newAPIError(KindBadResponse, "response contained no images", nil)
	}

	data, err := base64.StdEncoding.DecodeString(respStruct.Images[0])
	if err != nil {
		return nil, newAPIError(KindBadResponse, "malformed image data", err)
	}

	info := &webuiInfo{}

	err = json.Unmarshal([]byte(respStruct.Info), info)
	if err != nil {
		return nil, newAPIError(KindBadResponse, "malformed generation info", err)
	}

	infoString := ""
	if len(info.Infotexts) > 0 {
		infoString = info.Infotexts[0]
	}

	return &entities.GenerationResult{
		Data:       data,
		Payload:    payload,
		IsNSFW:     parseNSFWFlag(info.ExtraGenerationParam),
		InfoString: infoString,
		Extension:  "png",
	}, nil
}

// parseNSFWFlag reads extra_generation_params.nsfw, which the censor script
// reports either as a bool or as one bool per image.
func parseNSFWFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var extra struct {
		NSFW json.RawMessage `json:"nsfw"`
	}

	if json.Unmarshal(raw, &extra) != nil || len(extra.NSFW) == 0 {
		return false
	}

	var single bool
	if json.Unmarshal(extra.NSFW, &single) == nil {
		return single
	}

	var perImage []bool
	if json.Unmarshal(extra.NSFW, &perImage) == nil && len(perImage) > 0 {
		return perImage[0]
	}

	return false
}

func validationDetail(body []byte) string {
	errResp := &webuiErrorResponse{}
	if json.Unmarshal(body, errResp) != nil || len(errResp.Detail) == 0 {
		return string(truncate(body, 200))
	}

	var detail string
	if json.Unmarshal(errResp.Detail, &detail) == nil {
		return detail
	}

	// pydantic validation errors come as a list of {loc, msg, type}
	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}

	if json.Unmarshal(errResp.Detail, &items) == nil && len(items) > 0 {
		messages := make([]string, 0, len(items))
		for _, item := range items {
			if len(item.Loc) > 0 {
				messages = append(messages, fmt.Sprintf("%v: %s", item.Loc[len(item.Loc)-1], item.Msg))
			} else {
				messages = append(messages, item.Msg)
			}
		}

		return strings.Join(messages, "; ")
	}

	return string(errResp.Detail)
}

func (api *webuiImpl) ListTerms(ctx context.Context) (map[string][]string, error) {
	terms := map[string][]string{
		TermSamplers: append([]string(nil), a1111Samplers...),
	}

	for _, page := range webuiTermPages {
		choices, err := api.getTerms(ctx, page.path)
		if err != nil {
			api.logger.Warn("Failed to update autocomplete terms",
				zap.String("category", page.category),
				zap.String("endpoint", api.endpoint),
				zap.Error(err),
			)

			continue
		}

		terms[page.category] = choices
	}

	return terms, nil
}

func (api *webuiImpl) getTerms(ctx context.Context, page string) ([]string, error) {
	getURL := api.endpoint + "/" + page

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}

	api.setAuth(request)

	response, err := api.client.Do(request)
	if err != nil {
		return nil, classify(err)
	}

	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, classify(err)
	}

	if response.StatusCode != http.StatusOK {
		return nil, &APIError{Kind: KindBadResponse, Message: http.StatusText(response.StatusCode), StatusCode: response.StatusCode}
	}

	return parseTerms(page, body)
}

func parseTerms(page string, body []byte) ([]string, error) {
	choices := []string{}

	switch page {
	case "scripts":
		var scripts struct {
			Txt2Img []string `json:"txt2img"`
		}

		err := json.Unmarshal(body, &scripts)
		if err != nil {
			return nil, err
		}

		choices = append(choices, scripts.Txt2Img...)
	case "sd-models", "sd-vae":
		var models []struct {
			ModelName string `json:"model_name"`
		}

		err := json.Unmarshal(body, &models)
		if err != nil {
			return nil, err
		}

		for _, model := range models {
			choices = append(choices, model.ModelName)
		}
	default:
		var named []struct {
			Name string `json:"name"`
		}

		err := json.Unmarshal(body, &named)
		if err != nil {
			return nil, err
		}

		for _, item := range named {
			choices = append(choices, item.Name)
		}
	}

	return choices, nil
}

func (api *webuiImpl) setAuth(request *http.Request) {
	if api.auth == "" {
		return
	}

	username, password, _ := strings.Cut(api.auth, ":")
	request.SetBasicAuth(username, password)
}

func truncate(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}

	return body[:limit]
}
