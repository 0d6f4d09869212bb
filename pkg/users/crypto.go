// Package users manages user identities and their encrypted
// connected-service tokens.
package users

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// gcmIVSize is the nonce length used for token encryption.
const gcmIVSize = 12

// devSecret is the well-known fallback used when no secret is configured.
// Data encrypted with it is not protected against anyone with the source.
const devSecret = "agentmux-dev-secret-do-not-use-in-production"

// ErrMalformedToken indicates a stored token that does not match the
// expected <iv>.<tag>.<ciphertext> layout.
var ErrMalformedToken = errors.New("malformed encrypted token")

// TokenCipher encrypts and decrypts connected-service tokens with
// AES-256-GCM. Tokens serialize as three dot-separated base64 segments:
// IV, auth tag, ciphertext.
type TokenCipher struct {
	key [sha256.Size]byte
}

// NewTokenCipher derives the AES key by hashing the configured secret.
// An empty secret falls back to a well-known development key with a loud
// warning.
func NewTokenCipher(secret string) *TokenCipher {
	if secret == "" {
		slog.Warn("AGENTMUX_SECRET is not set, user tokens are encrypted with a " +
			"PUBLIC development key and are NOT protected. Set AGENTMUX_SECRET in production.")
		secret = devSecret
	}
	return &TokenCipher{key: sha256.Sum256([]byte(secret))}
}

// Encrypt seals a plaintext token.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcmIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(iv),
		enc.EncodeToString(tag),
		enc.EncodeToString(ciphertext),
	}, "."), nil
}

// Decrypt opens a stored token.
func (c *TokenCipher) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) != gcmIVSize {
		return "", ErrMalformedToken
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedToken
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedToken
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	if len(tag) != gcm.Overhead() {
		return "", ErrMalformedToken
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	return string(plaintext), nil
}

func (c *TokenCipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
