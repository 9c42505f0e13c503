package filecopy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Cipher is the pluggable at-rest encryption capability. The engine
// and copier hold no keys themselves — callers inject a concrete
// Cipher (see SPEC_FULL.md §6 open question 1).
type Cipher interface {
	// Seal returns nonce||ciphertext, self-contained and decryptable
	// given the same key.
	Seal(plaintext []byte) ([]byte, error)
	// Open reverses Seal.
	Open(sealed []byte) ([]byte, error)
}

// StaticKeyCipher implements AES-256-GCM with a caller-supplied 32-byte
// key. Key provisioning policy (env var, KMS, vault) is the caller's
// concern; this type only requires the 32 raw bytes.
type StaticKeyCipher struct {
	aead cipher.AEAD
}

// NewStaticKeyCipher builds a StaticKeyCipher from a 32-byte AES-256 key.
func NewStaticKeyCipher(key []byte) (*StaticKeyCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("filecopy: AES-256-GCM key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("filecopy: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("filecopy: %w", err)
	}
	return &StaticKeyCipher{aead: aead}, nil
}

func (c *StaticKeyCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("filecopy: generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *StaticKeyCipher) Open(sealed []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("filecopy: ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("filecopy: decrypt: %w", err)
	}
	return plaintext, nil
}
