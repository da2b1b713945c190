package application

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ericfisherdev/credvault/internal/domain/model"
)

// Key derivation parameters.
const (
	DefaultKDFIterations = 100_000
	MinKDFIterations     = 100_000
	keyLength            = 32
	ivLength             = 12
	authTagLength        = 16
)

// Cipher seals credential secrets with AES-256-GCM. The authenticated data
// binds each ciphertext to its credential key, so a row copied onto another
// identity fails to open.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from masterSecret with PBKDF2-SHA256.
func NewCipher(masterSecret string, salt []byte, iterations int) (*Cipher, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required")
	}
	if len(salt) == 0 {
		return nil, errors.New("kdf salt is required")
	}
	if iterations < MinKDFIterations {
		return nil, fmt.Errorf("kdf iterations must be at least %d, got %d", MinKDFIterations, iterations)
	}

	key := pbkdf2.Key([]byte(masterSecret), salt, iterations, keyLength, sha256.New)
	return NewCipherFromKey(key)
}

// NewCipherFromKey builds a Cipher from a raw 32-byte key.
func NewCipherFromKey(key []byte) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext for key with a fresh random IV and returns the
// ciphertext and authentication tag separately.
func (c *Cipher) Seal(key model.CredentialKey, plaintext string) (ciphertext, iv, tag []byte, err error) {
	iv = make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generate iv: %w", err)
	}

	// Seal produces ciphertext || tag.
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), associatedData(key))
	split := len(sealed) - authTagLength
	return sealed[:split], iv, sealed[split:], nil
}

// Open authenticates and decrypts a sealed secret. Any failure is a
// *model.DecryptionError.
func (c *Cipher) Open(key model.CredentialKey, ciphertext, iv, tag []byte) (string, error) {
	if len(iv) != ivLength {
		return "", &model.DecryptionError{Key: key, Err: fmt.Errorf("iv length %d, want %d", len(iv), ivLength)}
	}
	if len(tag) != authTagLength {
		return "", &model.DecryptionError{Key: key, Err: fmt.Errorf("auth tag length %d, want %d", len(tag), authTagLength)}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, associatedData(key))
	if err != nil {
		return "", &model.DecryptionError{Key: key, Err: err}
	}
	return string(plaintext), nil
}

func associatedData(key model.CredentialKey) []byte {
	return []byte(key.UserID + "\x00" + key.ProviderID + "\x00" + key.Scope)
}
