package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"

	"github.com/wellis321/cv-app-sub000/internal/config"
	"github.com/wellis321/cv-app-sub000/internal/crypto"
	"github.com/wellis321/cv-app-sub000/internal/database"
	"github.com/wellis321/cv-app-sub000/internal/dispatch"
	"github.com/wellis321/cv-app-sub000/internal/models"
	"github.com/wellis321/cv-app-sub000/internal/services"
)

type settingsHarness struct {
	app   *fiber.App
	mock  sqlmock.Sqlmock
	vault *crypto.Vault
}

func setupSettingsHandler(t *testing.T) (*settingsHarness, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	masterKey, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}
	vault, err := crypto.NewVault(masterKey)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	db := &database.DB{DB: mockDB}
	credentials := services.NewCredentialService(db, vault)
	handler := NewAISettingsHandler(&config.Config{}, services.NewSettingsService(db, credentials), credentials,
		dispatch.New(2*time.Second, 5*time.Second))

	app := fiber.New()
	app.Post("/test", func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		c.Locals("user_role", "user")
		return handler.TestConnection(c)
	})

	return &settingsHarness{app: app, mock: mock, vault: vault}, func() { mockDB.Close() }
}

func postTestConnection(t *testing.T, app *fiber.App, body models.TestConnectionRequest) (*http.Response, models.TestConnectionResponse) {
	t.Helper()

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	var result models.TestConnectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, result
}

func newProviderStub(t *testing.T, gotAuth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
}

func TestTestConnection_StoredCredentialWinsOverInline(t *testing.T) {
	h, cleanup := setupSettingsHandler(t)
	defer cleanup()

	var gotAuth string
	server := newProviderStub(t, &gotAuth)
	defer server.Close()

	stored := "sk-" + strings.Repeat("s", 48)
	blob, err := h.vault.Seal("user-1", stored)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	h.mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	h.mock.ExpectQuery("SELECT api_key_enc").
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"api_key_enc"}).AddRow(blob))

	resp, result := postTestConnection(t, h.app, models.TestConnectionRequest{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		APIKey:   "sk-" + strings.Repeat("i", 48),
	})
	if resp.StatusCode != fiber.StatusOK || !result.Success {
		t.Fatalf("Expected successful test, got status %d: %+v", resp.StatusCode, result)
	}
	if gotAuth != "Bearer "+stored {
		t.Errorf("Expected the stored credential on the wire, got %q", gotAuth)
	}
}

func TestTestConnection_InlineKeyUsedWhenNoneStored(t *testing.T) {
	h, cleanup := setupSettingsHandler(t)
	defer cleanup()

	var gotAuth string
	server := newProviderStub(t, &gotAuth)
	defer server.Close()

	h.mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	inline := "sk-" + strings.Repeat("i", 48)
	resp, result := postTestConnection(t, h.app, models.TestConnectionRequest{
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		APIKey:   inline,
	})
	if resp.StatusCode != fiber.StatusOK || !result.Success {
		t.Fatalf("Expected successful test, got status %d: %+v", resp.StatusCode, result)
	}
	if gotAuth != "Bearer "+inline {
		t.Errorf("Expected the inline key on the wire, got %q", gotAuth)
	}
	// Inline keys are one-shot: nothing beyond the existence check runs
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unexpected database access: %v", err)
	}
}

func TestTestConnection_NoKeyAvailable(t *testing.T) {
	h, cleanup := setupSettingsHandler(t)
	defer cleanup()

	h.mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	resp, result := postTestConnection(t, h.app, models.TestConnectionRequest{
		Provider: models.ProviderOpenAI,
	})
	if resp.StatusCode != fiber.StatusBadRequest || result.Success {
		t.Fatalf("Expected 400 failure, got status %d: %+v", resp.StatusCode, result)
	}
	if !strings.Contains(result.Message, "No API key available") {
		t.Errorf("Unexpected message: %q", result.Message)
	}
}

func TestTestConnection_RejectsMalformedInlineKey(t *testing.T) {
	h, cleanup := setupSettingsHandler(t)
	defer cleanup()

	h.mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1", "openai").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	resp, result := postTestConnection(t, h.app, models.TestConnectionRequest{
		Provider: models.ProviderOpenAI,
		APIKey:   "sk-short",
	})
	if resp.StatusCode != fiber.StatusBadRequest || result.Success {
		t.Fatalf("Expected 400 failure, got status %d: %+v", resp.StatusCode, result)
	}
	if !strings.Contains(result.Message, "API keys must") {
		t.Errorf("Expected a format error, got %q", result.Message)
	}
}
