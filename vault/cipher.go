package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required length of the symmetric key in bytes (AES-256)
const KeySize = 32

var (
	// ErrIntegrity is returned when a ciphertext fails authentication.
	// Tampered blobs, truncated blobs and a wrong key all end up here.
	ErrIntegrity = errors.New("credential integrity check failed")

	ErrMissingKey = errors.New("encryption key is not configured")
	ErrInvalidKey = errors.New("encryption key must be 64 hexadecimal characters")
)

// Credentials is the escrowed login of a sold game account
type Credentials struct {
	Username string            `json:"username" validate:"required,notblank"`
	Password string            `json:"password" validate:"required,notblank"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Cipher encrypts and decrypts credential blobs using AES-GCM
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a hex encoded 256-bit key
func NewCipher(hexKey string) (*Cipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns nonce||ciphertext
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to nonce so the result is nonce||ciphertext||tag
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(blob) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrIntegrity)
	}

	plaintext, err := c.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	return plaintext, nil
}

// EncryptCredentials serializes and seals credentials
func (c *Cipher) EncryptCredentials(creds Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return c.Encrypt(plaintext)
}

// DecryptCredentials opens and deserializes credentials
func (c *Cipher) DecryptCredentials(blob []byte) (Credentials, error) {
	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		// an authenticated blob that does not decode is corrupted data, not a user error
		return Credentials{}, fmt.Errorf("%w: malformed credential payload", ErrIntegrity)
	}
	return creds, nil
}
