// Package cipher encrypts token strings before they reach a credential store.
//
// SecretCipher is the seam for platform key storage: a keychain, a secure
// enclave or the software implementation in this package all satisfy it.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrCiphertext is returned when a value cannot be decoded or authenticated.
var ErrCiphertext = errors.New("invalid ciphertext")

// ErrEmpty is returned when asked to encrypt an empty string.
var ErrEmpty = errors.New("empty plaintext")

// SecretCipher encrypts and decrypts token strings. Decrypt(Encrypt(x)) must
// return x for any non-empty x; ciphertexts need not be stable across calls.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

const keyInfo = "frollo-sdk token cipher v1"

// SoftwareCipher is a SecretCipher backed by XChaCha20-Poly1305 with a key
// derived from caller-supplied secret material. Output is
// base64(nonce || sealed).
type SoftwareCipher struct {
	key []byte
}

// NewSoftwareCipher derives a 256-bit key from secret with HKDF-SHA256.
func NewSoftwareCipher(secret []byte) (*SoftwareCipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("cipher secret must not be empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &SoftwareCipher{key: key}, nil
}

// NewEphemeralCipher uses a random key. Anything it encrypts becomes
// unreadable once the process exits.
func NewEphemeralCipher() (*SoftwareCipher, error) {
	secret := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSoftwareCipher(secret)
}

// FromSecret returns a cipher keyed by secret, or an ephemeral one when secret
// is empty. The second result reports which.
func FromSecret(secret string) (*SoftwareCipher, bool, error) {
	if secret == "" {
		c, err := NewEphemeralCipher()
		return c, true, err
	}
	c, err := NewSoftwareCipher([]byte(secret))
	return c, false, err
}

func (c *SoftwareCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmpty
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *SoftwareCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}
