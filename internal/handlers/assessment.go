package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/internal/config"
	"github.com/wellis321/cv-app-sub000/internal/dispatch"
	"github.com/wellis321/cv-app-sub000/internal/logging"
	"github.com/wellis321/cv-app-sub000/internal/models"
	"github.com/wellis321/cv-app-sub000/internal/services"
)

// AssessmentHandler runs CV quality assessments: it resolves the
// effective provider, dispatches server-side or issues an execution
// ticket, and feeds raw model output through the assessment pipeline.
type AssessmentHandler struct {
	cfg         *config.Config
	settings    *services.SettingsService
	credentials *services.CredentialService
	tickets     *services.TicketService
	assessments *services.AssessmentService
	variants    services.CVVariantSource
	dispatcher  *dispatch.Dispatcher
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(
	cfg *config.Config,
	settings *services.SettingsService,
	credentials *services.CredentialService,
	tickets *services.TicketService,
	assessments *services.AssessmentService,
	variants services.CVVariantSource,
	dispatcher *dispatch.Dispatcher,
) *AssessmentHandler {
	return &AssessmentHandler{
		cfg:         cfg,
		settings:    settings,
		credentials: credentials,
		tickets:     tickets,
		assessments: assessments,
		variants:    variants,
		dispatcher:  dispatcher,
	}
}

// Request runs a quality assessment for a CV variant. Depending on the
// resolved provider this either blocks on a server-side generation call
// or returns an execution ticket for the requester's device to fulfil.
// POST /api/cvs/:variantID/assessments
func (h *AssessmentHandler) Request(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}
	cvVariantID := c.Params("variantID")
	if cvVariantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "CV variant ID is required"})
	}

	req := models.AssessmentRequest{UserID: userID, CVVariantID: cvVariantID}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	logger := logging.WithRequester(userID, cvVariantID)

	resolution, err := h.resolve(c, userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPrivilegedProvider):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrMissingCredential):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			logger.Error("provider resolution failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to resolve an AI provider"})
		}
	}

	content, err := h.variants.VariantContent(cvVariantID, userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "CV variant not found"})
	}
	prompt := services.BuildAssessmentPrompt(content, req.JobDescription)
	hasJobDescription := req.JobDescription != ""

	if resolution.Delegated {
		model := resolution.Model
		if model == "" {
			model = h.cfg.BrowserModel
		}
		ticket := h.tickets.Issue(userID, cvVariantID, models.RuntimeWebLLM, model, prompt, hasJobDescription)
		logger.Info("assessment delegated to browser", "ticket_id", ticket.ID, "model", model)

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"delegated":          true,
			"ticket":             ticket,
			"expires_in_seconds": int(h.tickets.TTL() / time.Second),
		})
	}

	target, err := h.buildTarget(userID, resolution)
	if err != nil {
		logger.Error("credential reveal failed", "provider", resolution.Provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Stored credential could not be read. Re-enter the key in AI settings.",
		})
	}

	result, err := h.dispatcher.Dispatch(c.Context(), target, prompt, dispatch.Options{})
	if err != nil {
		return dispatchFailure(c, err)
	}

	assessment, err := h.assessments.Process(result.Text, cvVariantID, userID, hasJobDescription)
	if err != nil {
		return pipelineFailure(c, err)
	}

	logger.Info("assessment complete", "provider", target.Provider, "overall_score", assessment.OverallScore)
	return c.Status(fiber.StatusCreated).JSON(assessment)
}

// SubmitDelegatedResult accepts raw model output produced on the
// requester's own device, redeems the ticket and runs the same pipeline
// a server-side dispatch would.
// POST /api/assessments/delegated/:ticketID
func (h *AssessmentHandler) SubmitDelegatedResult(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}
	ticketID := c.Params("ticketID")
	if ticketID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Ticket ID is required"})
	}

	var req models.SubmitDelegatedResultRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.RawOutput == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Raw model output is required"})
	}

	ticket, err := h.tickets.Redeem(ticketID, userID)
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This execution ticket has expired or was already used. Request a new assessment.",
		})
	case errors.Is(err, services.ErrTicketOwnerMismatch):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "This execution ticket belongs to a different account"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to redeem ticket"})
	}

	assessment, err := h.assessments.Process(req.RawOutput, ticket.CVVariantID, userID, ticket.HasJobDescription)
	if err != nil {
		return pipelineFailure(c, err)
	}

	logging.WithRequester(userID, ticket.CVVariantID).Info("delegated assessment complete",
		"ticket_id", ticketID, "overall_score", assessment.OverallScore)
	return c.Status(fiber.StatusCreated).JSON(assessment)
}

// GetLatest returns the newest persisted assessment for a CV variant.
// GET /api/cvs/:variantID/assessments/latest
func (h *AssessmentHandler) GetLatest(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}
	cvVariantID := c.Params("variantID")

	assessment, err := h.assessments.Latest(cvVariantID, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load assessment"})
	}
	if assessment == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No assessment exists for this CV variant yet"})
	}

	return c.JSON(assessment)
}

// DeleteForVariant removes the assessment history for a CV variant the
// requester owns. Used when the variant itself is deleted.
// DELETE /api/cvs/:variantID/assessments
func (h *AssessmentHandler) DeleteForVariant(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Authentication required"})
	}
	cvVariantID := c.Params("variantID")

	// Ownership check before the unscoped history delete
	if _, err := h.variants.VariantContent(cvVariantID, userID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "CV variant not found"})
	}

	deleted, err := h.assessments.DeleteForVariant(cvVariantID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete assessments"})
	}

	return c.JSON(fiber.Map{"deleted": deleted})
}

// ReportCapability evaluates the client's self-reported device support
// for the in-browser provider. Advisory only; nothing is stored and no
// server behaviour changes.
// POST /api/assessments/capability
func (h *AssessmentHandler) ReportCapability(c *fiber.Ctx) error {
	var report models.CapabilityReport
	if err := c.BodyParser(&report); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	resp := models.CapabilityResponse{Supported: true}
	switch {
	case !report.WebGPUAvailable:
		resp.Supported = false
		resp.Reason = "This browser does not expose WebGPU, which the in-browser model requires."
		resp.Recommendation = "Use a recent Chromium-based browser, or pick a cloud provider in AI settings."
	case report.StorageAvailableMB > 0 && report.StorageAvailableMB < 2048:
		resp.Supported = false
		resp.Reason = "Less than 2 GB of browser storage is available; the model weights will not fit."
		resp.Recommendation = "Free up browser storage, or pick a cloud provider in AI settings."
	}

	return c.JSON(resp)
}

// resolve gathers settings, org policy and credential presence, then runs
// the pure resolution function.
func (h *AssessmentHandler) resolve(c *fiber.Ctx, userID string) (*services.Resolution, error) {
	settings, err := h.settings.Get(userID)
	if err != nil {
		return nil, err
	}

	userHasKey := false
	if settings != nil && models.CloudProviders[settings.Provider] {
		userHasKey, err = h.credentials.Has(userID, settings.Provider)
		if err != nil {
			return nil, err
		}
	}

	orgID, _ := c.Locals("org_id").(string)
	policy, err := h.settings.GetOrgPolicy(orgID)
	if err != nil {
		return nil, err
	}

	orgHasKey := false
	if policy != nil && models.CloudProviders[policy.Provider] {
		orgHasKey, err = h.credentials.Has(orgID, policy.Provider)
		if err != nil {
			return nil, err
		}
	}

	role, _ := c.Locals("user_role").(string)
	return services.Resolve(services.ResolveInput{
		UserID:         userID,
		Privileged:     role == "superadmin" || h.cfg.IsSuperadmin(userID),
		Settings:       settings,
		UserHasKey:     userHasKey,
		OrgID:          orgID,
		OrgPolicy:      policy,
		OrgHasKey:      orgHasKey,
		DefaultBaseURL: h.cfg.DefaultProviderBaseURL,
		DefaultModel:   h.cfg.DefaultProviderModel,
	})
}

// buildTarget turns a resolution into a dispatchable target, revealing
// the credential only now, at the edge of the outbound call.
func (h *AssessmentHandler) buildTarget(userID string, res *services.Resolution) (dispatch.Target, error) {
	target := dispatch.Target{
		Provider: res.Provider,
		BaseURL:  res.BaseURL,
		Model:    res.Model,
	}

	switch res.Provider {
	case models.ProviderDefault:
		target.BaseURL = h.cfg.DefaultProviderBaseURL
		target.Model = h.cfg.DefaultProviderModel
		target.APIKey = h.cfg.DefaultProviderAPIKey
		return target, nil

	case models.ProviderOllama:
		if target.BaseURL == "" {
			target.BaseURL = h.cfg.OllamaBaseURL
		}
		if target.Model == "" {
			target.Model = h.cfg.OllamaModel
		}
		return target, nil
	}

	if target.Model == "" {
		target.Model = defaultModelFor(res.Provider)
	}

	switch res.KeySource {
	case services.KeyStored:
		key, err := h.credentials.Reveal(userID, res.Provider)
		if err != nil {
			return target, err
		}
		target.APIKey = key
	case services.KeyOrg:
		key, err := h.credentials.Reveal(res.OwnerID, res.Provider)
		if err != nil {
			return target, err
		}
		target.APIKey = key
	}

	return target, nil
}

// dispatchFailure maps a classified dispatch error onto an HTTP response
// carrying a corrective message rather than the provider's body.
func dispatchFailure(c *fiber.Ctx, err error) error {
	var dispErr *dispatch.Error
	if !errors.As(err, &dispErr) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "AI provider request failed"})
	}

	status := fiber.StatusBadGateway
	switch dispErr.Kind {
	case dispatch.ErrorUnauthorized:
		status = fiber.StatusUnauthorized
	case dispatch.ErrorRateLimited:
		status = fiber.StatusTooManyRequests
	case dispatch.ErrorTimeout:
		status = fiber.StatusGatewayTimeout
	case dispatch.ErrorMalformedResponse:
		status = fiber.StatusUnprocessableEntity
	}

	return c.Status(status).JSON(fiber.Map{
		"error":      dispErr.UserMessage(),
		"error_kind": dispErr.Kind.String(),
		"provider":   dispErr.Provider,
	})
}

// pipelineFailure maps assessment pipeline errors: malformed model output
// and validation failures both mean "got a response, couldn't use it".
func pipelineFailure(c *fiber.Ctx, err error) error {
	var valErr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrMalformedOutput):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      "The model's response was not a usable assessment. Retry, or switch providers.",
			"error_kind": "malformed_response",
		})
	case errors.As(err, &valErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      valErr.Error(),
			"error_kind": "malformed_response",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save the assessment"})
	}
}
