package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// AES-256-GCM with a caller-supplied IV. Each message key is single-use,
// so a random IV per call is enough for nonce uniqueness. The IV travels
// in the clear next to the ciphertext.

const (
	KeySize = 32
	IVSize  = 12
)

var ErrDecryptFailure = errors.New("message decrypt failed")

// GenerateMessageKey returns a fresh one-time symmetric key. A key must
// never be reused across two messages.
func GenerateMessageKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("rand.Read key: %w", err)
	}
	return key, nil
}

// GenerateIV returns a fresh random nonce of the GCM nonce length.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("rand.Read iv: %w", err)
	}
	return iv, nil
}

func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	aead, err := newAEAD(key, iv)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// Decrypt fails with ErrDecryptFailure on any authentication mismatch:
// tampered ciphertext, wrong key or wrong IV all look the same.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	aead, err := newAEAD(key, iv)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	return plain, nil
}

func newAEAD(key, iv []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: bad key length %d", ErrDecryptFailure, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length %d", ErrDecryptFailure, len(iv))
	}
	return aead, nil
}

// EncodeBytes / DecodeBytes are the base64 helpers used to embed raw
// bytes in JSON payloads.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBytes(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
