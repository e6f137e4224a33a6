package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"verify-service/internal/apperr"
)

// separator joins the encoded nonce and ciphertext. RawStdEncoding never
// emits '.', so its presence reliably marks an encrypted value.
const separator = "."

// TemplateVault encrypts and decrypts biometric template blobs at rest
// with AES-256-GCM. Every encryption draws a fresh random nonce; the
// stored form is base64(nonce) "." base64(ciphertext).
type TemplateVault struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

// New builds a vault from a 32-byte AES key.
func New(key []byte, logger *zap.Logger) (*TemplateVault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &TemplateVault{aead: aead, logger: logger}, nil
}

// Encrypt seals a template blob under a fresh nonce.
func (v *TemplateVault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce generation: %v", apperr.ErrEncryption, err)
	}

	ciphertext := v.aead.Seal(nil, nonce, plaintext, nil)

	return base64.RawStdEncoding.EncodeToString(nonce) +
		separator +
		base64.RawStdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a stored template. Authentication-tag failure is a hard
// error; corrupted plaintext is never returned silently.
//
// Values without the separator predate the vault and pass through
// unchanged. This is a transitional compatibility shim for templates
// imported before encryption-at-rest, not a security guarantee; it should
// be removed once all legacy rows have been re-imported.
func (v *TemplateVault) Decrypt(stored string) ([]byte, error) {
	idx := strings.Index(stored, separator)
	if idx < 0 {
		v.logger.Warn("decrypting legacy plaintext template")
		return []byte(stored), nil
	}

	nonce, err := base64.RawStdEncoding.DecodeString(stored[:idx])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed nonce", apperr.ErrEncryption)
	}
	if len(nonce) != v.aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", apperr.ErrEncryption)
	}

	ciphertext, err := base64.RawStdEncoding.DecodeString(stored[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", apperr.ErrEncryption)
	}

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", apperr.ErrEncryption)
	}

	return plaintext, nil
}

// IsEncrypted reports whether a stored value carries the vault format.
func IsEncrypted(stored string) bool {
	return strings.Contains(stored, separator)
}
