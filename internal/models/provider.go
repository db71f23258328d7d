package models

import (
	"fmt"
	"strings"
	"time"
)

// Provider kinds. Exactly one is effective per request; resolution order
// is user choice → organisation policy → site default.
const (
	ProviderOllama    = "ollama"    // self-hosted model server, privileged accounts only
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMistral   = "mistral"
	ProviderBrowser   = "browser"   // runs on the requester's own device
	ProviderDefault   = "default"   // process-wide site default
)

// CloudProviders are the kinds that require a stored API key.
var CloudProviders = map[string]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderGemini:    true,
	ProviderMistral:   true,
}

// IsKnownProvider reports whether kind is a selectable provider kind.
func IsKnownProvider(kind string) bool {
	switch kind {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderGemini,
		ProviderMistral, ProviderBrowser, ProviderDefault:
		return true
	}
	return false
}

// keyRule declares the format a provider's API key must satisfy before it
// is accepted, either for storage or for one-shot test use.
type keyRule struct {
	Prefix    string
	MinLength int
}

var keyRules = map[string]keyRule{
	ProviderOpenAI:    {Prefix: "sk-", MinLength: 51},
	ProviderAnthropic: {Prefix: "sk-ant-", MinLength: 40},
	ProviderGemini:    {Prefix: "AIza", MinLength: 39},
	ProviderMistral:   {MinLength: 32},
}

// ValidateAPIKey checks a plaintext key against the provider's format rule.
// Shared by the save-settings and test-connection paths so the two can
// never drift apart.
func ValidateAPIKey(provider, key string) error {
	rule, ok := keyRules[provider]
	if !ok {
		return fmt.Errorf("provider %q does not take an API key", provider)
	}
	if rule.Prefix != "" && !strings.HasPrefix(key, rule.Prefix) {
		return fmt.Errorf("%s API keys must start with %q", provider, rule.Prefix)
	}
	if len(key) < rule.MinLength {
		return fmt.Errorf("%s API keys must be at least %d characters", provider, rule.MinLength)
	}
	return nil
}

// AISettings is a user's saved provider preference. The API key is stored
// separately in the credential vault and never appears here.
type AISettings struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	BaseURL   string    `json:"base_url,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AISettingsView is the outward representation of a user's settings.
// Credential presence is exposed only as a boolean.
type AISettingsView struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	HasKey   bool   `json:"has_key"`
}

// UpdateAISettingsRequest is the request body for saving settings.
// An empty APIKey means "retain the currently stored credential".
type UpdateAISettingsRequest struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// OrgAIPolicy is an organisation-level provider default. It never
// overrides an explicit per-user choice.
type OrgAIPolicy struct {
	OrgID     string    `json:"org_id"`
	Enabled   bool      `json:"enabled"`
	Provider  string    `json:"provider"`
	BaseURL   string    `json:"base_url,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateOrgAIPolicyRequest is the request body for saving an org policy.
type UpdateOrgAIPolicyRequest struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// TestConnectionRequest checks a provider configuration without saving it.
// An inline APIKey is used once and never persisted.
type TestConnectionRequest struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// TestConnectionResponse is returned after a connectivity test.
type TestConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
