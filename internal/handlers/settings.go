package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/internal/config"
	"github.com/wellis321/cv-app-sub000/internal/dispatch"
	"github.com/wellis321/cv-app-sub000/internal/models"
	"github.com/wellis321/cv-app-sub000/internal/services"
)

// AISettingsHandler handles per-user AI provider settings requests
type AISettingsHandler struct {
	cfg         *config.Config
	settings    *services.SettingsService
	credentials *services.CredentialService
	dispatcher  *dispatch.Dispatcher
}

// NewAISettingsHandler creates a new AI settings handler
func NewAISettingsHandler(cfg *config.Config, settings *services.SettingsService, credentials *services.CredentialService, dispatcher *dispatch.Dispatcher) *AISettingsHandler {
	return &AISettingsHandler{
		cfg:         cfg,
		settings:    settings,
		credentials: credentials,
		dispatcher:  dispatcher,
	}
}

// Get returns the requester's saved provider settings.
// GET /api/ai-settings
func (h *AISettingsHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}

	view, err := h.settings.View(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load settings"})
	}

	return c.JSON(view)
}

// Update saves the requester's provider settings.
// PUT /api/ai-settings
func (h *AISettingsHandler) Update(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}

	var req models.UpdateAISettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	err := h.settings.Update(userID, h.isPrivileged(c), &req)
	switch {
	case errors.Is(err, services.ErrPrivilegedProvider):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrCredentialNotSecured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to secure credential"})
	case err != nil:
		// Format and unknown-provider errors carry actionable messages
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	view, err := h.settings.View(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load settings"})
	}
	return c.JSON(view)
}

// Delete resets the requester's AI configuration: the settings row and
// every stored credential go together.
// DELETE /api/ai-settings
func (h *AISettingsHandler) Delete(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}

	if err := h.settings.Delete(userID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to reset settings"})
	}

	return c.JSON(fiber.Map{"provider": models.ProviderDefault, "has_key": false})
}

// TestConnection checks a provider configuration without saving it. An
// inline API key is validated with the same rule as the save path, used
// once, and never persisted.
// POST /api/ai-settings/test
func (h *AISettingsHandler) TestConnection(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}

	var req models.TestConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !models.IsKnownProvider(req.Provider) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown provider"})
	}

	switch req.Provider {
	case models.ProviderBrowser:
		return c.JSON(models.TestConnectionResponse{
			Success: true,
			Message: "The in-browser model runs on your own device; use the capability check in the assessment page to verify support.",
		})

	case models.ProviderOllama:
		if !h.isPrivileged(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": services.ErrPrivilegedProvider.Error()})
		}
		return h.testLocalServer(c, req)
	}

	target := dispatch.Target{
		Provider: req.Provider,
		BaseURL:  req.BaseURL,
		Model:    req.Model,
	}

	if req.Provider == models.ProviderDefault {
		target.BaseURL = h.cfg.DefaultProviderBaseURL
		target.Model = h.cfg.DefaultProviderModel
		target.APIKey = h.cfg.DefaultProviderAPIKey
	} else {
		key, response := h.resolveTestKey(c, userID, &req)
		if response != nil {
			return c.Status(fiber.StatusBadRequest).JSON(response)
		}
		target.APIKey = key
	}
	if target.Model == "" {
		target.Model = defaultModelFor(req.Provider)
	}

	if err := h.dispatcher.TestConnection(c.Context(), target); err != nil {
		return c.JSON(testFailure(err))
	}

	return c.JSON(models.TestConnectionResponse{
		Success: true,
		Message: "Connection verified.",
	})
}

// resolveTestKey picks the key for a cloud connectivity test through the
// same resolution path as dispatch: the stored credential wins, an inline
// key is a one-shot ephemeral fallback, and no key at all is an error.
func (h *AISettingsHandler) resolveTestKey(c *fiber.Ctx, userID string, req *models.TestConnectionRequest) (string, *models.TestConnectionResponse) {
	hasKey, err := h.credentials.Has(userID, req.Provider)
	if err != nil {
		return "", &models.TestConnectionResponse{
			Success: false,
			Message: "Stored credential could not be checked. Try again.",
		}
	}

	res, err := services.Resolve(services.ResolveInput{
		UserID:     userID,
		Privileged: h.isPrivileged(c),
		Settings: &models.AISettings{
			UserID:   userID,
			Provider: req.Provider,
			BaseURL:  req.BaseURL,
			Model:    req.Model,
		},
		UserHasKey: hasKey,
		InlineKey:  req.APIKey,
	})
	switch {
	case errors.Is(err, services.ErrMissingCredential):
		return "", &models.TestConnectionResponse{
			Success: false,
			Message: "No API key available for this provider. Enter a key to test with.",
		}
	case err != nil:
		// Key format errors carry actionable messages
		return "", &models.TestConnectionResponse{Success: false, Message: err.Error()}
	}

	if res.KeySource == services.KeyInline {
		return req.APIKey, nil
	}

	key, err := h.credentials.Reveal(userID, req.Provider)
	if err != nil {
		return "", &models.TestConnectionResponse{
			Success: false,
			Message: "Stored credential could not be read. Re-enter the key.",
		}
	}
	return key, nil
}

// testLocalServer probes the self-hosted model server and reports the
// available models, with an advisory suggestion when the configured model
// is not served. Nothing is saved without the caller's acceptance.
func (h *AISettingsHandler) testLocalServer(c *fiber.Ctx, req models.TestConnectionRequest) error {
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = h.cfg.OllamaBaseURL
	}

	available, err := h.dispatcher.ListLocalModels(c.Context(), baseURL)
	if err != nil {
		return c.JSON(testFailure(err))
	}

	names := make([]string, len(available))
	for i, m := range available {
		names[i] = m.Name
	}

	configured := req.Model
	if configured == "" {
		configured = h.cfg.OllamaModel
	}

	suggested, pickErr := dispatch.PickModel(configured, available)
	resp := fiber.Map{
		"success":          true,
		"message":          "Model server is reachable.",
		"available_models": names,
	}
	if pickErr == nil && suggested != configured {
		resp["suggested_model"] = suggested
		resp["message"] = "Model server is reachable, but the configured model is not available."
	}

	return c.JSON(resp)
}

// ListLocalModels returns the models currently served by the self-hosted
// model server. Privileged accounts only — the provider itself is gated.
// GET /api/ai-settings/local-models
func (h *AISettingsHandler) ListLocalModels(c *fiber.Ctx) error {
	if !h.isPrivileged(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": services.ErrPrivilegedProvider.Error()})
	}

	baseURL := c.Query("base_url", h.cfg.OllamaBaseURL)
	available, err := h.dispatcher.ListLocalModels(c.Context(), baseURL)
	if err != nil {
		resp := testFailure(err)
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}

	return c.JSON(fiber.Map{"models": available, "count": len(available)})
}

func (h *AISettingsHandler) isPrivileged(c *fiber.Ctx) bool {
	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("user_role").(string)
	return role == "superadmin" || h.cfg.IsSuperadmin(userID)
}

// testFailure maps a dispatch error onto an actionable test response
// without leaking provider error bodies.
func testFailure(err error) models.TestConnectionResponse {
	var dispErr *dispatch.Error
	if errors.As(err, &dispErr) {
		return models.TestConnectionResponse{
			Success: false,
			Message: dispErr.UserMessage(),
		}
	}
	return models.TestConnectionResponse{
		Success: false,
		Message: "Connection test failed. Retry, or switch providers.",
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case models.ProviderOpenAI:
		return "gpt-4o-mini"
	case models.ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case models.ProviderGemini:
		return "gemini-1.5-flash"
	case models.ProviderMistral:
		return "mistral-small-latest"
	default:
		return ""
	}
}
