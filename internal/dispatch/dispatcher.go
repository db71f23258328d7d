package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wellis321/cv-app-sub000/internal/models"
)

// Target is a fully resolved, server-reachable provider: kind, endpoint,
// model and (already revealed) credential. Raw provider response shapes
// never leak past this package.
type Target struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// GenerationResult is the normalized provider output.
type GenerationResult struct {
	Text  string
	Usage *Usage
}

// Usage reports token consumption when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Options tunes a single dispatch. Zero values get provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Dispatcher performs blocking request/response calls against
// server-reachable providers. No automatic retries: callers decide.
type Dispatcher struct {
	testClient     *http.Client // connectivity probes, short timeout
	generateClient *http.Client // generation calls, multi-minute ceiling
}

// New creates a dispatcher with distinct timeouts per call type.
func New(testTimeout, generateTimeout time.Duration) *Dispatcher {
	if testTimeout <= 0 {
		testTimeout = 10 * time.Second
	}
	if generateTimeout <= 0 {
		generateTimeout = 3 * time.Minute
	}
	return &Dispatcher{
		testClient:     &http.Client{Timeout: testTimeout},
		generateClient: &http.Client{Timeout: generateTimeout},
	}
}

// Dispatch sends a prompt to the target and returns the normalized result.
// On failure the returned error is always a *Error with a classified kind.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, prompt string, opts Options) (*GenerationResult, error) {
	started := time.Now()
	result, err := d.generate(ctx, d.generateClient, target, prompt, opts)
	observeDispatch(target.Provider, err, time.Since(started))
	return result, err
}

// TestConnection verifies that the target is reachable and the credential
// is accepted, using the short-timeout client. For Ollama it lists models;
// for cloud providers it issues a minimal generation.
func (d *Dispatcher) TestConnection(ctx context.Context, target Target) error {
	if target.Provider == models.ProviderOllama {
		_, err := d.ListLocalModels(ctx, target.BaseURL)
		return err
	}

	started := time.Now()
	_, err := d.generate(ctx, d.testClient, target, "Reply with the single word: ok", Options{MaxTokens: 4})
	observeDispatch(target.Provider, err, time.Since(started))
	return err
}

func (d *Dispatcher) generate(ctx context.Context, client *http.Client, target Target, prompt string, opts Options) (*GenerationResult, error) {
	switch target.Provider {
	case models.ProviderAnthropic:
		return d.generateAnthropic(ctx, client, target, prompt, opts)
	case models.ProviderGemini:
		return d.generateGemini(ctx, client, target, prompt, opts)
	default:
		// openai, mistral, ollama and the site default all speak the
		// OpenAI-compatible chat completions API
		return d.generateOpenAICompatible(ctx, client, target, prompt, opts)
	}
}

// --- OpenAI-compatible (openai, mistral, ollama, site default) ---

func (d *Dispatcher) generateOpenAICompatible(ctx context.Context, client *http.Client, target Target, prompt string, opts Options) (*GenerationResult, error) {
	endpoint := strings.TrimRight(d.baseURLFor(target), "/") + "/chat/completions"

	payload := map[string]any{
		"model": target.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}

	body, respErr := d.post(ctx, client, target, endpoint, payload, func(req *http.Request) {
		if target.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+target.APIKey)
		}
	})
	if respErr != nil {
		return nil, respErr
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, malformed(target.Provider, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, malformed(target.Provider, fmt.Errorf("no choices in response"))
	}

	return &GenerationResult{Text: parsed.Choices[0].Message.Content, Usage: parsed.Usage}, nil
}

// --- Anthropic messages API ---

func (d *Dispatcher) generateAnthropic(ctx context.Context, client *http.Client, target Target, prompt string, opts Options) (*GenerationResult, error) {
	endpoint := strings.TrimRight(d.baseURLFor(target), "/") + "/messages"

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096 // Anthropic requires the field
	}
	payload := map[string]any{
		"model":      target.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if opts.Temperature > 0 {
		payload["temperature"] = opts.Temperature
	}

	body, respErr := d.post(ctx, client, target, endpoint, payload, func(req *http.Request) {
		req.Header.Set("x-api-key", target.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	})
	if respErr != nil {
		return nil, respErr
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, malformed(target.Provider, err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, malformed(target.Provider, fmt.Errorf("no text content in response"))
	}

	result := &GenerationResult{Text: text.String()}
	if parsed.Usage != nil {
		result.Usage = &Usage{PromptTokens: parsed.Usage.InputTokens, CompletionTokens: parsed.Usage.OutputTokens}
	}
	return result, nil
}

// --- Gemini generateContent ---

func (d *Dispatcher) generateGemini(ctx context.Context, client *http.Client, target Target, prompt string, opts Options) (*GenerationResult, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(d.baseURLFor(target), "/"),
		url.PathEscape(target.Model),
		url.QueryEscape(target.APIKey))

	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		genCfg := map[string]any{}
		if opts.Temperature > 0 {
			genCfg["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			genCfg["maxOutputTokens"] = opts.MaxTokens
		}
		payload["generationConfig"] = genCfg
	}

	body, respErr := d.post(ctx, client, target, endpoint, payload, nil)
	if respErr != nil {
		return nil, respErr
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, malformed(target.Provider, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, malformed(target.Provider, fmt.Errorf("no candidates in response"))
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return &GenerationResult{Text: text.String()}, nil
}

// post sends the JSON payload and returns the response body, classifying
// every failure path into a *Error.
func (d *Dispatcher) post(ctx context.Context, client *http.Client, target Target, endpoint string, payload any, decorate func(*http.Request)) ([]byte, *Error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: ErrorUnknown, Provider: target.Provider, Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &Error{Kind: ErrorUnknown, Provider: target.Provider, Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		dispErr := classifyTransport(target.Provider, err)
		log.Printf("⚠️ [DISPATCH] %s request failed: %s", target.Provider, dispErr.Kind)
		return nil, dispErr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(target.Provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		dispErr := classifyHTTP(target.Provider, resp.StatusCode, string(respBody))
		log.Printf("⚠️ [DISPATCH] %s returned %d (%s)", target.Provider, resp.StatusCode, dispErr.Kind)
		return nil, dispErr
	}

	return respBody, nil
}

// baseURLFor returns the target's base URL, falling back to the
// provider's public endpoint when none is configured.
func (d *Dispatcher) baseURLFor(target Target) string {
	if target.BaseURL != "" {
		base := target.BaseURL
		// Ollama exposes the OpenAI-compatible API under /v1
		if target.Provider == models.ProviderOllama && !strings.HasSuffix(strings.TrimRight(base, "/"), "/v1") {
			base = strings.TrimRight(base, "/") + "/v1"
		}
		return base
	}

	switch target.Provider {
	case models.ProviderOpenAI:
		return "https://api.openai.com/v1"
	case models.ProviderAnthropic:
		return "https://api.anthropic.com/v1"
	case models.ProviderGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	case models.ProviderMistral:
		return "https://api.mistral.ai/v1"
	default:
		return "http://localhost:11434/v1"
	}
}
