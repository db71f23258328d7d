package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/wellis321/cv-app-sub000/internal/crypto"
	"github.com/wellis321/cv-app-sub000/internal/database"
)

// ErrCredentialNotSecured is the generic error reported when encryption
// fails on store. The plaintext is never persisted under any failure path.
var ErrCredentialNotSecured = errors.New("failed to secure credential")

// CredentialService is the storage side of the credential vault: opaque
// encrypted blobs keyed by (owner, provider). Plaintext is revealed only
// at dispatch time and never crosses the API boundary.
type CredentialService struct {
	db    *database.DB
	vault *crypto.Vault
}

// NewCredentialService creates a new credential service
func NewCredentialService(db *database.DB, vault *crypto.Vault) *CredentialService {
	return &CredentialService{db: db, vault: vault}
}

// execer lets the same statements run inside or outside a transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store encrypts and upserts a credential. Overwriting is destructive:
// there is no version history. Runs on tx so an encryption failure aborts
// the surrounding settings write.
func (s *CredentialService) Store(tx execer, ownerID, provider, plaintext string) error {
	blob, err := s.vault.Seal(ownerID, plaintext)
	if err != nil {
		log.Printf("⚠️ [CREDENTIAL] Encryption failed for owner %s (%s): %v", ownerID, provider, err)
		return ErrCredentialNotSecured
	}

	_, err = tx.Exec(`
		INSERT INTO ai_credentials (owner_id, provider, api_key_enc)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE api_key_enc = VALUES(api_key_enc)
	`, ownerID, provider, blob)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	log.Printf("🔐 [CREDENTIAL] Stored credential for owner %s (%s)", ownerID, provider)
	return nil
}

// Reveal decrypts the stored credential for dispatch. Callers must not
// serialize the returned plaintext back across the system boundary.
func (s *CredentialService) Reveal(ownerID, provider string) (string, error) {
	var blob string
	err := s.db.QueryRow(`
		SELECT api_key_enc FROM ai_credentials WHERE owner_id = ? AND provider = ?
	`, ownerID, provider).Scan(&blob)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no credential stored for provider %s", provider)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	plaintext, err := s.vault.Open(ownerID, blob)
	if err != nil {
		log.Printf("⚠️ [CREDENTIAL] Decryption failed for owner %s (%s): %v", ownerID, provider, err)
		return "", errors.New("failed to decrypt credential")
	}

	return plaintext, nil
}

// Has reports whether a credential exists for (owner, provider) without
// touching the ciphertext.
func (s *CredentialService) Has(ownerID, provider string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM ai_credentials WHERE owner_id = ? AND provider = ?
	`, ownerID, provider).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check credential: %w", err)
	}
	return count > 0, nil
}

// Clear deletes the credential for (owner, provider). Idempotent: clearing
// an already-cleared credential is a no-op.
func (s *CredentialService) Clear(tx execer, ownerID, provider string) error {
	result, err := tx.Exec(`
		DELETE FROM ai_credentials WHERE owner_id = ? AND provider = ?
	`, ownerID, provider)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		log.Printf("🗑️ [CREDENTIAL] Cleared credential for owner %s (%s)", ownerID, provider)
	}
	return nil
}

// DeleteAllForOwner removes every credential an owner holds (account or
// organisation deletion).
func (s *CredentialService) DeleteAllForOwner(ownerID string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM ai_credentials WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete credentials: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		log.Printf("🗑️ [CREDENTIAL] Deleted %d credentials for owner %s", deleted, ownerID)
	}
	return deleted, nil
}
