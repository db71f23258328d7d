package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wellis321/cv-app-sub000/internal/models"
)

func newTestDispatcher() *Dispatcher {
	return New(2*time.Second, 5*time.Second)
}

func TestDispatch_OpenAICompatible(t *testing.T) {
	var gotPath, gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var payload struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotModel = payload.Model

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"overall_score": 80}`}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 40},
		})
	}))
	defer server.Close()

	d := newTestDispatcher()
	result, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test-key",
	}, "assess this", Options{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Errorf("Expected /chat/completions, got %s", gotPath)
	}
	if gotAuth != "Bearer sk-test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("Model not forwarded, got %q", gotModel)
	}
	if result.Text != `{"overall_score": 80}` {
		t.Errorf("Unexpected text: %q", result.Text)
	}
	if result.Usage == nil || result.Usage.PromptTokens != 100 {
		t.Errorf("Usage not parsed: %+v", result.Usage)
	}
}

func TestDispatch_Anthropic(t *testing.T) {
	var gotAPIKey, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": "first "},
				{"type": "text", "text": "second"},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer server.Close()

	d := newTestDispatcher()
	result, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderAnthropic,
		BaseURL:  server.URL,
		Model:    "claude-3-5-haiku-latest",
		APIKey:   "sk-ant-test",
	}, "assess this", Options{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if gotAPIKey != "sk-ant-test" {
		t.Errorf("Expected x-api-key header, got %q", gotAPIKey)
	}
	if gotVersion == "" {
		t.Error("Expected anthropic-version header")
	}
	if result.Text != "first second" {
		t.Errorf("Text blocks not concatenated: %q", result.Text)
	}
	if result.Usage == nil || result.Usage.CompletionTokens != 5 {
		t.Errorf("Usage not mapped: %+v", result.Usage)
	}
}

func TestDispatch_Gemini(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")

		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": "gemini says hi"}}}},
			},
		})
	}))
	defer server.Close()

	d := newTestDispatcher()
	result, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderGemini,
		BaseURL:  server.URL,
		Model:    "gemini-1.5-flash",
		APIKey:   "AIza-test",
	}, "assess this", Options{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if gotPath != "/models/gemini-1.5-flash:generateContent" {
		t.Errorf("Unexpected path: %s", gotPath)
	}
	if gotKey != "AIza-test" {
		t.Errorf("API key not passed as query param, got %q", gotKey)
	}
	if result.Text != "gemini says hi" {
		t.Errorf("Unexpected text: %q", result.Text)
	}
}

func TestDispatch_ClassifiesProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer server.Close()

	d := newTestDispatcher()
	_, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-bad",
	}, "assess this", Options{})

	var dispErr *Error
	if !errors.As(err, &dispErr) {
		t.Fatalf("Expected *Error, got %T (%v)", err, err)
	}
	if dispErr.Kind != ErrorUnauthorized {
		t.Errorf("Expected unauthorized, got %s", dispErr.Kind)
	}
}

func TestDispatch_ClassifiesUnreachable(t *testing.T) {
	// Closed server: the port was valid once, now connection-refused
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	d := newTestDispatcher()
	_, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderOpenAI,
		BaseURL:  baseURL,
		Model:    "gpt-4o-mini",
	}, "assess this", Options{})

	var dispErr *Error
	if !errors.As(err, &dispErr) {
		t.Fatalf("Expected *Error, got %T (%v)", err, err)
	}
	if dispErr.Kind != ErrorUnreachable {
		t.Errorf("Expected unreachable, got %s", dispErr.Kind)
	}
}

func TestDispatch_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	d := newTestDispatcher()
	_, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		Model:    "gpt-4o-mini",
	}, "assess this", Options{})

	var dispErr *Error
	if !errors.As(err, &dispErr) {
		t.Fatalf("Expected *Error, got %T (%v)", err, err)
	}
	if dispErr.Kind != ErrorMalformedResponse {
		t.Errorf("Expected malformed_response, got %s", dispErr.Kind)
	}
}

func TestDispatch_EmptyChoicesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	d := newTestDispatcher()
	_, err := d.Dispatch(context.Background(), Target{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		Model:    "gpt-4o-mini",
	}, "assess this", Options{})

	var dispErr *Error
	if !errors.As(err, &dispErr) || dispErr.Kind != ErrorMalformedResponse {
		t.Errorf("Expected malformed_response, got %v", err)
	}
}

func TestBaseURLFor(t *testing.T) {
	d := newTestDispatcher()

	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{"explicit url kept", Target{Provider: models.ProviderOpenAI, BaseURL: "http://proxy.internal/v1"}, "http://proxy.internal/v1"},
		{"ollama gets /v1 suffix", Target{Provider: models.ProviderOllama, BaseURL: "http://localhost:11434"}, "http://localhost:11434/v1"},
		{"ollama /v1 not doubled", Target{Provider: models.ProviderOllama, BaseURL: "http://localhost:11434/v1"}, "http://localhost:11434/v1"},
		{"openai fallback", Target{Provider: models.ProviderOpenAI}, "https://api.openai.com/v1"},
		{"anthropic fallback", Target{Provider: models.ProviderAnthropic}, "https://api.anthropic.com/v1"},
		{"mistral fallback", Target{Provider: models.ProviderMistral}, "https://api.mistral.ai/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.baseURLFor(tt.target); got != tt.want {
				t.Errorf("baseURLFor(%+v) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}
