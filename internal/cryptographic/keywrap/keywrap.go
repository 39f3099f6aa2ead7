package keywrap

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Asymmetric wrap for one-time message keys: ephemeral-static X25519,
// HKDF-SHA256, ChaCha20-Poly1305. Wire format of a wrapped key:
//
//	ephPub(32) || nonce(24) || ciphertext+tag
//
// Only the holder of the recipient's private key can recover the key.

const (
	KeySize   = 32
	nonceSize = chacha20poly1305.NonceSizeX
	overhead  = chacha20poly1305.Overhead
)

var hkdfInfo = []byte("fitchat-keywrap-v1")

var (
	ErrWrapFailure   = errors.New("key wrap failed")
	ErrUnwrapFailure = errors.New("key unwrap failed")
)

type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// NewKeyPair generates a fresh X25519 keypair.
func NewKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// Wrap encrypts a symmetric message key to recipientPub.
func Wrap(symmetricKey, recipientPub []byte) ([]byte, error) {
	if len(recipientPub) != KeySize {
		return nil, fmt.Errorf("%w: bad public key length %d", ErrWrapFailure, len(recipientPub))
	}

	ephPriv := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, ephPriv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailure, err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailure, err)
	}

	shared, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailure, err)
	}

	aead, err := newAEAD(shared, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailure, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailure, err)
	}

	ct := aead.Seal(nil, nonce, symmetricKey, nil)

	out := make([]byte, 0, KeySize+nonceSize+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Unwrap recovers a symmetric key wrapped for ownPriv. An authentication
// failure means the blob was not wrapped for this key or was corrupted;
// callers treat the single message as undecryptable and move on.
func Unwrap(wrapped, ownPriv []byte) ([]byte, error) {
	if len(ownPriv) != KeySize {
		return nil, fmt.Errorf("%w: bad private key length %d", ErrUnwrapFailure, len(ownPriv))
	}
	if len(wrapped) < KeySize+nonceSize+overhead {
		return nil, fmt.Errorf("%w: blob too short", ErrUnwrapFailure)
	}

	ephPub := wrapped[:KeySize]
	nonce := wrapped[KeySize : KeySize+nonceSize]
	ct := wrapped[KeySize+nonceSize:]

	shared, err := curve25519.X25519(ownPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailure, err)
	}

	aead, err := newAEAD(shared, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailure, err)
	}

	key, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrUnwrapFailure
	}
	return key, nil
}

func newAEAD(shared, ephPub []byte) (cipher.AEAD, error) {
	h := hkdf.New(sha256.New, shared, ephPub, hkdfInfo)
	aeadKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, aeadKey); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(aeadKey)
}
