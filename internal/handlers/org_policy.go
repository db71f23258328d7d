package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/internal/config"
	"github.com/wellis321/cv-app-sub000/internal/models"
	"github.com/wellis321/cv-app-sub000/internal/services"
)

// OrgPolicyHandler manages organisation-level provider fallback policies.
// Routes behind it require the org admin role.
type OrgPolicyHandler struct {
	cfg      *config.Config
	settings *services.SettingsService
}

// NewOrgPolicyHandler creates a new org policy handler
func NewOrgPolicyHandler(cfg *config.Config, settings *services.SettingsService) *OrgPolicyHandler {
	return &OrgPolicyHandler{cfg: cfg, settings: settings}
}

// Get returns the organisation's policy, if any.
// GET /api/orgs/:orgID/ai-policy
func (h *OrgPolicyHandler) Get(c *fiber.Ctx) error {
	orgID, err := h.authorizedOrg(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	}

	policy, err := h.settings.GetOrgPolicy(orgID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load org policy"})
	}
	if policy == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No AI policy configured for this organisation"})
	}

	return c.JSON(policy)
}

// Update saves the organisation's policy. Credential write semantics
// match per-user settings; the key is owned by the org.
// PUT /api/orgs/:orgID/ai-policy
func (h *OrgPolicyHandler) Update(c *fiber.Ctx) error {
	orgID, err := h.authorizedOrg(c)
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	}

	var req models.UpdateOrgAIPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	userID, _ := c.Locals("user_id").(string)
	role, _ := c.Locals("user_role").(string)
	privileged := role == "superadmin" || h.cfg.IsSuperadmin(userID)

	err = h.settings.UpdateOrgPolicy(orgID, privileged, &req)
	switch {
	case errors.Is(err, services.ErrPrivilegedProvider):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrCredentialNotSecured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to secure credential"})
	case err != nil:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	policy, err := h.settings.GetOrgPolicy(orgID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load org policy"})
	}
	return c.JSON(policy)
}

// authorizedOrg checks that the caller administers the org in the path.
// Superadmins may manage any org.
func (h *OrgPolicyHandler) authorizedOrg(c *fiber.Ctx) (string, error) {
	orgID := c.Params("orgID")
	if orgID == "" {
		return "", errors.New("organisation ID is required")
	}

	role, _ := c.Locals("user_role").(string)
	userID, _ := c.Locals("user_id").(string)
	if role == "superadmin" || h.cfg.IsSuperadmin(userID) {
		return orgID, nil
	}

	memberOrg, _ := c.Locals("org_id").(string)
	if memberOrg != orgID {
		return "", errors.New("you do not administer this organisation")
	}
	return orgID, nil
}
