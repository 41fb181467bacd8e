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
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"discord_ai_cogs/clock"
	"discord_ai_cogs/entities"
)

const (
	DefaultHordeEndpoint = "https://aihorde.net/api"
	anonymousHordeKey    = "0000000000"
	hordeClientAgent     = "discord_ai_cogs:1.0:github"

	defaultPollInterval = 2 * time.Second
	defaultMaxWait      = 5 * time.Minute
)

var hordeSamplers = map[string]string{
	"Euler a":      "k_euler_a",
	"Euler":        "k_euler",
	"LMS":          "k_lms",
	"Heun":         "k_heun",
	"DPM2":         "k_dpm_2",
	"DPM2 a":       "k_dpm_2_a",
	"DPM fast":     "k_dpm_fast",
	"DPM adaptive": "k_dpm_adaptive",
	"DPM++ 2S a":   "k_dpmpp_2s_a",
	"DPM++ 2M":     "k_dpmpp_2m",
	"DPM++ SDE":    "k_dpmpp_sde",
	"DDIM":         "DDIM",
	"LCM":          "lcm",
}

type hordeImpl struct {
	endpoint     string
	apiKey       string
	settings     *entities.GuildSettings
	client       *http.Client
	clock        clock.Clock
	logger       *zap.Logger
	pollInterval time.Duration
	maxWait      time.Duration
	retry        retryPolicy
}

type HordeConfig struct {
	Endpoint string
	APIKey   string
	Settings *entities.GuildSettings
	Client   *http.Client
	Clock    clock.Clock
	Logger   *zap.Logger

	PollInterval  time.Duration
	MaxWait       time.Duration
	RetryInterval time.Duration
	Attempts      int
}

func NewHorde(cfg HordeConfig) (Backend, error) {
	if cfg.Settings == nil {
		return nil, errors.New("missing guild settings")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultHordeEndpoint
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = anonymousHordeKey
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	hordeClock := cfg.Clock
	if hordeClock == nil {
		hordeClock = clock.NewClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}

	return &hordeImpl{
		endpoint:     strings.TrimSuffix(endpoint, "/"),
		apiKey:       apiKey,
		settings:     cfg.Settings,
		client:       client,
		clock:        hordeClock,
		logger:       logger,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		retry:        newRetryPolicy(cfg.RetryInterval, cfg.Attempts),
	}, nil
}

type hordeParams struct {
	SamplerName       string   `json:"sampler_name"`
	CfgScale          float64  `json:"cfg_scale"`
	Seed              string   `json:"seed,omitempty"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	Steps             int      `json:"steps"`
	N                 int      `json:"n"`
	Karras            bool     `json:"karras"`
	HiresFix          bool     `json:"hires_fix"`
	DenoisingStrength *float64 `json:"denoising_strength,omitempty"`
}

type hordeGenerateRequest struct {
	Prompt           string      `json:"prompt"`
	Params           hordeParams `json:"params"`
	NSFW             bool        `json:"nsfw"`
	CensorNSFW       bool        `json:"censor_nsfw"`
	Models           []string    `json:"models,omitempty"`
	R2               bool        `json:"r2"`
	SourceImage      string      `json:"source_image,omitempty"`
	SourceProcessing string      `json:"source_processing,omitempty"`
}

type hordeAsyncResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type hordeCheckResponse struct {
	Done       bool `json:"done"`
	Faulted    bool `json:"faulted"`
	IsPossible bool `json:"is_possible"`
	WaitTime   int  `json:"wait_time"`
}

type hordeGeneration struct {
	Img      string `json:"img"`
	Seed     string `json:"seed"`
	Censored bool   `json:"censored"`
	Model    string `json:"model"`
}

type hordeStatusResponse struct {
	Generations []hordeGeneration `json:"generations"`
	Faulted     bool              `json:"faulted"`
}

func (api *hordeImpl) GenerateImage(ctx context.Context, req *entities.GenerationRequest, payload *entities.Payload) (*entities.GenerationResult, error) {
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

	hordeReq := api.toHordeRequest(payload)

	id, err := api.submit(ctx, hordeReq)
	if err != nil {
		return nil, err
	}

	api.logger.Info("Submitted horde generation", zap.String("id", id))

	err = api.waitUntilDone(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &hordeStatusResponse{}

	err = api.retry.do(ctx, api.logger, "horde status", func() error {
		return api.doJSON(ctx, http.MethodGet, "/v2/generate/status/"+id, nil, status)
	})
	if err != nil {
		return nil, err
	}

	if status.Faulted || len(status.Generations) == 0 {
		return nil, newAPIError(KindBadResponse, "horde generation faulted", nil)
	}

	generation := status.Generations[0]

	data, err := base64.StdEncoding.DecodeString(generation.Img)
	if err != nil {
		return nil, newAPIError(KindBadResponse, "malformed image data", err)
	}

	return &entities.GenerationResult{
		Data:       data,
		Payload:    payload,
		IsNSFW:     generation.Censored,
		InfoString: hordeInfoString(payload, generation),
		Extension:  "webp",
	}, nil
}

func (api *hordeImpl) toHordeRequest(payload *entities.Payload) *hordeGenerateRequest {
	sampler, ok := hordeSamplers[payload.SamplerName]
	if !ok {
		sampler = "k_euler_a"
	}

	hordeReq := &hordeGenerateRequest{
		Prompt: payload.Prompt,
		Params: hordeParams{
			SamplerName: sampler,
			CfgScale:    payload.CfgScale,
			Width:       payload.Width,
			Height:      payload.Height,
			Steps:       payload.Steps,
			N:           1,
			Karras:      strings.EqualFold(payload.Scheduler, "Karras"),
			HiresFix:    payload.EnableHR,
		},
		NSFW:       api.settings.NSFW,
		CensorNSFW: !api.settings.NSFW,
	}

	if payload.NegativePrompt != "" {
		hordeReq.Prompt = payload.Prompt + " ### " + payload.NegativePrompt
	}

	if payload.Seed != entities.RandomSeed {
		hordeReq.Params.Seed = strconv.FormatInt(payload.Seed, 10)
	}

	if payload.OverrideSettings.SDModelCheckpoint != "" {
		hordeReq.Models = []string{payload.OverrideSettings.SDModelCheckpoint}
	}

	if payload.IsImg2Img() {
		hordeReq.SourceImage = payload.InitImages[0]
		hordeReq.SourceProcessing = "img2img"
		hordeReq.Params.DenoisingStrength = payload.DenoisingStrength
	}

	return hordeReq
}

// hordeInfoString renders a WebUI-style infotext so seed recovery works the
// same way for both backends.
func hordeInfoString(payload *entities.Payload, generation hordeGeneration) string {
	var info strings.Builder

	info.WriteString(payload.Prompt)

	if payload.NegativePrompt != "" {
		info.WriteString("\nNegative prompt: ")
		info.WriteString(payload.NegativePrompt)
	}

	fmt.Fprintf(&info, "\nSteps: %d, Sampler: %s, CFG scale: %s, Seed: %s, Size: %dx%d",
		payload.Steps,
		payload.SamplerName,
		strconv.FormatFloat(payload.CfgScale, 'f', -1, 64),
		generation.Seed,
		payload.Width,
		payload.Height,
	)

	if generation.Model != "" {
		fmt.Fprintf(&info, ", Model: %s", generation.Model)
	}

	return info.String()
}

func (api *hordeImpl) submit(ctx context.Context, hordeReq *hordeGenerateRequest) (string, error) {
	resp := &hordeAsyncResponse{}

	err := api.retry.do(ctx, api.logger, "horde submit", func() error {
		return api.doJSON(ctx, http.MethodPost, "/v2/generate/async", hordeReq, resp)
	})
	if err != nil {
		return "", err
	}

	if resp.ID == "" {
		return "", newAPIError(KindBadResponse, "horde returned no generation id", nil)
	}

	return resp.ID, nil
}

func (api *hordeImpl) waitUntilDone(ctx context.Context, id string) error {
	deadline := api.clock.Now().Add(api.maxWait)

	for {
		check := &hordeCheckResponse{}

		err := api.retry.do(ctx, api.logger, "horde check", func() error {
			return api.doJSON(ctx, http.MethodGet, "/v2/generate/check/"+id, nil, check)
		})
		if err != nil {
			return err
		}

		if check.Faulted {
			return newAPIError(KindBadResponse, "horde generation faulted", nil)
		}

		if !check.IsPossible && !check.Done {
			return newAPIError(KindInvalidParameter, "no horde worker can serve this request", nil)
		}

		if check.Done {
			return nil
		}

		if api.clock.Now().After(deadline) {
			return newAPIError(KindBadResponse, "horde generation timed out", nil)
		}

		err = api.clock.Sleep(ctx, api.pollInterval)
		if err != nil {
			return classify(err)
		}
	}
}

func (api *hordeImpl) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader

	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}

		reader = bytes.NewBuffer(jsonData)
	}

	request, err := http.NewRequestWithContext(ctx, method, api.endpoint+path, reader)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json; charset=UTF-8")
	request.Header.Set("apikey", api.apiKey)
	request.Header.Set("Client-Agent", hordeClientAgent)

	response, err := api.client.Do(request)
	if err != nil {
		return classify(err)
	}

	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return classify(err)
	}

	switch {
	case response.StatusCode == http.StatusBadRequest:
		errResp := &hordeAsyncResponse{}
		_ = json.Unmarshal(respBody, errResp)

		return &APIError{Kind: KindInvalidParameter, Message: errResp.Message, StatusCode: response.StatusCode}
	case response.StatusCode < 200 || response.StatusCode > 299:
		api.logger.Error("Unexpected horde response",
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", truncate(respBody, 512)),
		)

		return &APIError{Kind: KindBadResponse, Message: http.StatusText(response.StatusCode), StatusCode: response.StatusCode}
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return newAPIError(KindBadResponse, "malformed response", err)
	}

	return nil
}

func (api *hordeImpl) ListTerms(ctx context.Context) (map[string][]string, error) {
	return nil, newAPIError(KindUnsupportedOperation, "horde does not list terms", nil)
}
