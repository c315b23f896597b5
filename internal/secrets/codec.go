// Package secrets provides the at-rest field encryption codec. The rest
// of the system treats the ciphertext as an opaque blob and never
// inspects its format.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// Codec encrypts and decrypts individual stored fields.
type Codec interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(blob []byte) (string, error)
}

// AESCodec is an AES-256-GCM Codec. Each blob is nonce || ciphertext.
type AESCodec struct {
	aead cipher.AEAD
}

// NewAESCodec builds a codec from a 32-byte key.
func NewAESCodec(key []byte) (*AESCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("codec: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &AESCodec{aead: aead}, nil
}

// NewAESCodecFromPassphrase derives the key as SHA-256 of the
// passphrase. An empty passphrase is accepted: the store still encrypts
// under the derived key, and the daemon warns at startup instead of
// refusing to boot a default config.
func NewAESCodecFromPassphrase(passphrase string) (*AESCodec, error) {
	key := sha256.Sum256([]byte(passphrase))
	return NewAESCodec(key[:])
}

func (c *AESCodec) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("codec: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (c *AESCodec) Decrypt(blob []byte) (string, error) {
	if len(blob) < c.aead.NonceSize() {
		return "", fmt.Errorf("codec: blob too short")
	}
	nonce, ciphertext := blob[:c.aead.NonceSize()], blob[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("codec: decrypt: %w", err)
	}
	return string(plaintext), nil
}

var _ Codec = (*AESCodec)(nil)
