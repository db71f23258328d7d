package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Vault encrypts and decrypts provider secrets at rest. Every owner
// (user or organisation) gets its own derived key, so a leaked blob for
// one owner cannot be opened with another owner's key material.
type Vault struct {
	masterKey []byte
}

// NewVault creates a vault from a 32-byte hex-encoded master key
// (64 characters, e.g. from `openssl rand -hex 32`).
func NewVault(masterKeyHex string) (*Vault, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}

	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	return &Vault{masterKey: masterKey}, nil
}

// deriveOwnerKey derives a unique AES-256 key for a specific owner using
// HKDF. The owner ID acts as the salt.
func (v *Vault) deriveOwnerKey(ownerID string) ([]byte, error) {
	if ownerID == "" {
		return nil, errors.New("owner ID is required for key derivation")
	}

	hkdfReader := hkdf.New(sha256.New, v.masterKey, []byte(ownerID), []byte("cv-app-credential-vault"))

	ownerKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, ownerKey); err != nil {
		return nil, fmt.Errorf("failed to derive owner key: %w", err)
	}

	return ownerKey, nil
}

// Seal encrypts a plaintext secret with AES-256-GCM under the owner's
// derived key. Returns a base64-encoded blob (nonce prepended).
func (v *Vault) Seal(ownerID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("refusing to seal an empty secret")
	}

	ownerKey, err := v.deriveOwnerKey(ownerID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a base64-encoded blob produced by Seal.
func (v *Vault) Open(ownerID, blob string) (string, error) {
	if blob == "" {
		return "", errors.New("empty ciphertext")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	ownerKey, err := v.deriveOwnerKey(ownerID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// Redact returns a masked preview of a secret safe to show in the UI,
// e.g. "sk-a…x9Qz". Never reveals more than the first 4 and last 4 chars.
func Redact(secret string) string {
	if len(secret) <= 8 {
		return "••••"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

// GenerateMasterKey generates a new random 32-byte master key (for setup)
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
