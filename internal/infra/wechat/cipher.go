package wechat

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"paygate/internal/domain"
)

// ResourceCipher performs authenticated decryption of the encrypted resource
// carried inside a verified webhook, using AES-256-GCM keyed by the APIv3 key.
type ResourceCipher struct {
	gcm cipher.AEAD
}

func NewResourceCipher(apiV3Key string) (*ResourceCipher, error) {
	if len(apiV3Key) != 32 {
		return nil, fmt.Errorf("apiv3 key must be 32 bytes; got %d", len(apiV3Key))
	}
	block, err := aes.NewCipher([]byte(apiV3Key))
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &ResourceCipher{gcm: gcm}, nil
}

// Decrypt base64-decodes the ciphertext and opens it with the given nonce and
// associated data (empty string when absent). Any decode failure or
// authentication-tag mismatch is rejected outright.
func (c *ResourceCipher) Decrypt(ciphertextB64, nonce, associatedData string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not valid base64", domain.ErrDecryption)
	}
	if len(nonce) != c.gcm.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes; got %d", domain.ErrDecryption, c.gcm.NonceSize(), len(nonce))
	}
	pt, err := c.gcm.Open(nil, []byte(nonce), ct, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return pt, nil
}

// Encrypt is the inverse of Decrypt, used to fabricate encrypted resources
// for sandbox simulation and tests.
func (c *ResourceCipher) Encrypt(plaintext []byte, nonce, associatedData string) (string, error) {
	if len(nonce) != c.gcm.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes; got %d", c.gcm.NonceSize(), len(nonce))
	}
	ct := c.gcm.Seal(nil, []byte(nonce), plaintext, []byte(associatedData))
	return base64.StdEncoding.EncodeToString(ct), nil
}
