package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/wellis321/cv-app-sub000/internal/database"
	"github.com/wellis321/cv-app-sub000/internal/models"
)

// ErrPrivilegedProvider is returned when a standard account tries to
// select the self-hosted model server. Rejected, never silently downgraded.
var ErrPrivilegedProvider = errors.New("the self-hosted model server is restricted to administrator accounts")

// SettingsService manages per-user provider preferences and org-level
// fallback policies, including the credential write semantics around them.
type SettingsService struct {
	db          *database.DB
	credentials *CredentialService
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *database.DB, credentials *CredentialService) *SettingsService {
	return &SettingsService{db: db, credentials: credentials}
}

// Get returns the user's saved settings, or nil when none exist.
func (s *SettingsService) Get(userID string) (*models.AISettings, error) {
	var settings models.AISettings
	var baseURL, model sql.NullString
	err := s.db.QueryRow(`
		SELECT user_id, provider, base_url, model, created_at, updated_at
		FROM ai_settings WHERE user_id = ?
	`, userID).Scan(&settings.UserID, &settings.Provider, &baseURL, &model, &settings.CreatedAt, &settings.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	settings.BaseURL = baseURL.String
	settings.Model = model.String
	return &settings, nil
}

// View returns the outward representation: provider, endpoint, model and
// whether a key is stored — never the key itself.
func (s *SettingsService) View(userID string) (*models.AISettingsView, error) {
	settings, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return &models.AISettingsView{Provider: models.ProviderDefault}, nil
	}

	view := &models.AISettingsView{
		Provider: settings.Provider,
		BaseURL:  settings.BaseURL,
		Model:    settings.Model,
	}
	if models.CloudProviders[settings.Provider] {
		hasKey, err := s.credentials.Has(userID, settings.Provider)
		if err != nil {
			return nil, err
		}
		view.HasKey = hasKey
	}
	return view, nil
}

// Update saves the user's provider preference with the vault write
// semantics:
//   - unknown provider kinds are rejected
//   - the self-hosted provider is rejected for unprivileged accounts
//   - a non-empty key must pass the provider's format rule, then replaces
//     the stored credential
//   - an empty key retains whatever is currently stored
//   - switching away from a cloud provider clears that provider's credential
//
// The settings row and credential changes commit in one transaction; an
// encryption failure aborts the whole write.
func (s *SettingsService) Update(userID string, privileged bool, req *models.UpdateAISettingsRequest) error {
	if !models.IsKnownProvider(req.Provider) {
		return fmt.Errorf("unknown provider: %s", req.Provider)
	}
	if req.Provider == models.ProviderOllama && !privileged {
		return ErrPrivilegedProvider
	}
	if models.CloudProviders[req.Provider] && req.APIKey != "" {
		if err := models.ValidateAPIKey(req.Provider, req.APIKey); err != nil {
			return err
		}
	}

	previous, err := s.Get(userID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO ai_settings (user_id, provider, base_url, model)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			provider = VALUES(provider),
			base_url = VALUES(base_url),
			model    = VALUES(model)
	`, userID, req.Provider, nullable(req.BaseURL), nullable(req.Model))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	// Switching away from cloud provider X clears X's stored credential
	if previous != nil && models.CloudProviders[previous.Provider] && previous.Provider != req.Provider {
		if err := s.credentials.Clear(tx, userID, previous.Provider); err != nil {
			return err
		}
	}

	if models.CloudProviders[req.Provider] && req.APIKey != "" {
		if err := s.credentials.Store(tx, userID, req.Provider, req.APIKey); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}

	log.Printf("⚙️ [SETTINGS] User %s now uses provider %s", userID, req.Provider)
	return nil
}

// Delete removes the user's settings row and every credential stored
// under their owner key. Used when the user resets their AI configuration
// or their account is removed.
func (s *SettingsService) Delete(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM ai_settings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}

	cleared, err := s.credentials.DeleteAllForOwner(userID)
	if err != nil {
		return err
	}

	log.Printf("⚙️ [SETTINGS] User %s settings removed (%d credentials cleared)", userID, cleared)
	return nil
}

// GetOrgPolicy returns the organisation's fallback policy, or nil.
func (s *SettingsService) GetOrgPolicy(orgID string) (*models.OrgAIPolicy, error) {
	if orgID == "" {
		return nil, nil
	}

	var policy models.OrgAIPolicy
	var baseURL, model sql.NullString
	err := s.db.QueryRow(`
		SELECT org_id, enabled, provider, base_url, model, created_at, updated_at
		FROM org_ai_policies WHERE org_id = ?
	`, orgID).Scan(&policy.OrgID, &policy.Enabled, &policy.Provider, &baseURL, &model, &policy.CreatedAt, &policy.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query org policy: %w", err)
	}

	policy.BaseURL = baseURL.String
	policy.Model = model.String
	return &policy, nil
}

// UpdateOrgPolicy saves an organisation's fallback policy. Same write
// semantics as user settings; the credential is owned by the org.
func (s *SettingsService) UpdateOrgPolicy(orgID string, privileged bool, req *models.UpdateOrgAIPolicyRequest) error {
	if !models.IsKnownProvider(req.Provider) {
		return fmt.Errorf("unknown provider: %s", req.Provider)
	}
	if req.Provider == models.ProviderOllama && !privileged {
		return ErrPrivilegedProvider
	}
	if models.CloudProviders[req.Provider] && req.APIKey != "" {
		if err := models.ValidateAPIKey(req.Provider, req.APIKey); err != nil {
			return err
		}
	}

	previous, err := s.GetOrgPolicy(orgID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO org_ai_policies (org_id, enabled, provider, base_url, model)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			enabled  = VALUES(enabled),
			provider = VALUES(provider),
			base_url = VALUES(base_url),
			model    = VALUES(model)
	`, orgID, req.Enabled, req.Provider, nullable(req.BaseURL), nullable(req.Model))
	if err != nil {
		return fmt.Errorf("failed to save org policy: %w", err)
	}

	if previous != nil && models.CloudProviders[previous.Provider] && previous.Provider != req.Provider {
		if err := s.credentials.Clear(tx, orgID, previous.Provider); err != nil {
			return err
		}
	}

	if models.CloudProviders[req.Provider] && req.APIKey != "" {
		if err := s.credentials.Store(tx, orgID, req.Provider, req.APIKey); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit org policy: %w", err)
	}

	log.Printf("⚙️ [SETTINGS] Org %s policy updated (provider %s, enabled=%v)", orgID, req.Provider, req.Enabled)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
