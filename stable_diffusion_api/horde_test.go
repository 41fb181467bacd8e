package stable_diffusion_api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"discord_ai_cogs/entities"
)

func TestHordeGenerateImage(t *testing.T) {
	var (
		checks    atomic.Int32
		submitted hordeGenerateRequest
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/generate/async", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "horde-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewDecoder(r.Body).Decode(&submitted)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id": "job-1"}`))
	})
	mux.HandleFunc("/api/v2/generate/check/job-1", func(w http.ResponseWriter, r *http.Request) {
		done := checks.Add(1) > 1
		_ = json.NewEncoder(w).Encode(map[string]any{"done": done, "is_possible": true})
	})
	mux.HandleFunc("/api/v2/generate/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"generations": []map[string]any{{
				"img":      base64.StdEncoding.EncodeToString([]byte("webp-bytes")),
				"seed":     "777",
				"censored": true,
				"model":    "AlbedoBase XL",
			}},
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	settings := testSettings()
	settings.APIType = entities.APITypeAIHorde

	backend, err := NewHorde(HordeConfig{
		Endpoint:     server.URL + "/api",
		APIKey:       "horde-key",
		Settings:     settings,
		Client:       server.Client(),
		Logger:       zaptest.NewLogger(t),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHorde() error: %v", err)
	}

	req := entities.NewGenerationRequest("a cat")
	req.NegativePrompt = "blurry"
	req.Seed = 777

	result, err := backend.GenerateImage(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}

	if !strings.Contains(submitted.Prompt, " ### ") || submitted.Params.SamplerName != "k_euler_a" || submitted.Params.Seed != "777" {
		t.Errorf("unexpected submission: %+v", submitted)
	}

	if !submitted.CensorNSFW {
		t.Error("expected censoring in a non-nsfw guild")
	}

	if string(result.Data) != "webp-bytes" || result.Extension != "webp" || !result.IsNSFW {
		t.Errorf("unexpected result: %+v", result)
	}

	if entities.ParseSeedParams(result.InfoString).Seed != 777 {
		t.Errorf("seed not recoverable from %q", result.InfoString)
	}
}

func TestHordeValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Input payload validation failed"}`))
	}))
	defer server.Close()

	backend, err := NewHorde(HordeConfig{Endpoint: server.URL, Settings: testSettings(), Client: server.Client()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = backend.GenerateImage(context.Background(), entities.NewGenerationRequest("a cat"), nil)
	if KindOf(err) != KindInvalidParameter {
		t.Errorf("got %v, want invalid parameter", err)
	}
}

func TestHordeRetriesSubmit(t *testing.T) {
	tests := []struct {
		name        string
		failures    int32
		wantSubmits int32
		wantKind    ErrorKind
	}{
		{name: "recovers after one failure", failures: 1, wantSubmits: 2},
		{name: "gives up after all attempts", failures: 10, wantSubmits: defaultAttempts, wantKind: KindBadResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var submits atomic.Int32

			mux := http.NewServeMux()
			mux.HandleFunc("/v2/generate/async", func(w http.ResponseWriter, r *http.Request) {
				if submits.Add(1) <= tt.failures {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}

				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"id": "job-2"}`))
			})
			mux.HandleFunc("/v2/generate/check/job-2", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"done": true, "is_possible": true})
			})
			mux.HandleFunc("/v2/generate/status/job-2", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"generations": []map[string]any{{
						"img":  base64.StdEncoding.EncodeToString([]byte("webp-bytes")),
						"seed": "1",
					}},
				})
			})

			server := httptest.NewServer(mux)
			defer server.Close()

			backend, err := NewHorde(HordeConfig{
				Endpoint:      server.URL,
				Settings:      testSettings(),
				Client:        server.Client(),
				Logger:        zaptest.NewLogger(t),
				PollInterval:  time.Millisecond,
				RetryInterval: time.Millisecond,
			})
			if err != nil {
				t.Fatal(err)
			}

			result, err := backend.GenerateImage(context.Background(), entities.NewGenerationRequest("a cat"), nil)

			if submits.Load() != tt.wantSubmits {
				t.Errorf("submits = %d, want %d", submits.Load(), tt.wantSubmits)
			}

			if tt.wantKind != 0 {
				if KindOf(err) != tt.wantKind {
					t.Errorf("got %v, want %v", err, tt.wantKind)
				}

				return
			}

			if err != nil {
				t.Fatalf("GenerateImage() error: %v", err)
			}

			if string(result.Data) != "webp-bytes" {
				t.Errorf("unexpected result: %+v", result)
			}
		})
	}
}

func TestHordeListTermsUnsupported(t *testing.T) {
	backend, err := NewHorde(HordeConfig{Settings: testSettings()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = backend.ListTerms(context.Background())
	if KindOf(err) != KindUnsupportedOperation {
		t.Errorf("got %v, want unsupported operation", err)
	}
}

func TestProviderSelectsVariant(t *testing.T) {
	provider := NewProvider(ProviderConfig{})

	settings := testSettings()

	backend, err := provider.Backend(settings)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := backend.(*webuiImpl); !ok {
		t.Errorf("got %T, want webui backend", backend)
	}

	settings.APIType = entities.APITypeAIHorde

	backend, err = provider.Backend(settings)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := backend.(*hordeImpl); !ok {
		t.Errorf("got %T, want horde backend", backend)
	}

	settings.APIType = "comfy"

	if _, err = provider.Backend(settings); KindOf(err) != KindUnsupportedOperation {
		t.Errorf("got %v, want unsupported operation", err)
	}
}
