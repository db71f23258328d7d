package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
)

// LocalModel is one model served by the self-hosted model server.
type LocalModel struct {
	Name          string `json:"name"`
	Family        string `json:"family,omitempty"`
	ParameterSize string `json:"parameter_size,omitempty"`
}

// ListLocalModels lists the models currently available at an Ollama
// endpoint via its native /api/tags. Uses the short-timeout client:
// discovery is a connectivity probe, not a generation call.
func (d *Dispatcher) ListLocalModels(ctx context.Context, baseURL string) ([]LocalModel, error) {
	// Strip /v1 if the stored URL points at the OpenAI-compatible API
	ollamaBase := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	endpoint := ollamaBase + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: ErrorUnknown, Provider: "ollama", Message: "failed to build request", Cause: err}
	}

	resp, err := d.testClient.Do(req)
	if err != nil {
		return nil, classifyTransport("ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTP("ollama", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport("ollama", err)
	}

	var tagsResp struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				Family        string `json:"family"`
				ParameterSize string `json:"parameter_size"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, malformed("ollama", err)
	}

	localModels := make([]LocalModel, 0, len(tagsResp.Models))
	for _, m := range tagsResp.Models {
		localModels = append(localModels, LocalModel{
			Name:          m.Name,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
		})
	}

	log.Printf("🔍 [OLLAMA] %d models available at %s", len(localModels), ollamaBase)
	return localModels, nil
}

// PickModel suggests which available model to use for a configured name.
// Preference: exact match, then a model from the same family (name before
// the ":" tag), then the first available. Advisory only — the saved
// configuration is never overwritten without the caller's acceptance.
func PickModel(configured string, available []LocalModel) (string, error) {
	if len(available) == 0 {
		return "", fmt.Errorf("no models available on the server")
	}

	for _, m := range available {
		if m.Name == configured {
			return m.Name, nil
		}
	}

	family := modelFamily(configured)
	if family != "" {
		for _, m := range available {
			if modelFamily(m.Name) == family {
				return m.Name, nil
			}
		}
	}

	return available[0].Name, nil
}

// modelFamily extracts the family portion of an Ollama model name,
// e.g. "llama3.1:8b" -> "llama3.1".
func modelFamily(name string) string {
	if idx := strings.Index(name, ":"); idx > 0 {
		return name[:idx]
	}
	return name
}
