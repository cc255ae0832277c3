package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedVersion = "v1"

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrUnknownKey       = errors.New("unknown encryption key id")
)

// KeyProvider supplies AES-256 keys by id. New data is always sealed with the
// active key; older ids stay readable so keys can be rotated without
// invalidating codes already in flight.
type KeyProvider interface {
	ActiveKey() (id string, key []byte)
	Key(id string) ([]byte, bool)
}

// RecordCipher seals OTP records with AES-256-GCM before they reach a store.
// Output format: "v1:<key id>:<base64(nonce || ciphertext)>".
type RecordCipher struct {
	keys KeyProvider
}

func NewRecordCipher(keys KeyProvider) *RecordCipher {
	return &RecordCipher{keys: keys}
}

// Encrypt seals plaintext. aad binds the ciphertext to its storage key so a
// sealed record copied under another email fails to open.
func (c *RecordCipher) Encrypt(plaintext, aad []byte) (string, error) {
	id, key := c.keys.ActiveKey()

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, aad)
	return sealedVersion + ":" + id + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt with the same aad
func (c *RecordCipher) Decrypt(sealed string, aad []byte) ([]byte, error) {
	parts := strings.SplitN(sealed, ":", 3)
	if len(parts) != 3 || parts[0] != sealedVersion {
		return nil, fmt.Errorf("%w: unrecognised format", ErrDecryptionFailed)
	}

	key, ok := c.keys.Key(parts[1])
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrDecryptionFailed, ErrUnknownKey, parts[1])
	}

	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
