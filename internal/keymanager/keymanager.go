package keymanager

import (
	"errors"
	"fmt"

	"fitchat/internal/cryptographic/codec"
	"fitchat/internal/cryptographic/keywrap"
	"fitchat/internal/keystore"
)

// Fixed keystore keys for the exported keypair halves.
const (
	publicKeyName  = "chat_public_key"
	privateKeyName = "chat_private_key"
)

// ErrCryptoUnavailable means the durable keypair could not be produced:
// corrupt stored material, unreadable storage or rng failure. Callers
// degrade to messaging-disabled rather than crash.
var ErrCryptoUnavailable = errors.New("crypto unavailable")

// Manager owns the single static keypair for this user. The keypair is
// generated lazily on first use, persisted, and never rotated. No
// forward secrecy is provided; a leaked private key opens every message
// ever wrapped for it.
type Manager struct {
	keyPair *keywrap.KeyPair
}

// LoadOrCreate loads the keypair from local storage, generating and
// persisting a fresh one if none exists yet.
func LoadOrCreate(store keystore.Store) (*Manager, error) {
	pub, pubErr := store.Get(publicKeyName)
	priv, privErr := store.Get(privateKeyName)

	if pubErr == nil && privErr == nil {
		kp, err := importKeyPair(pub, priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
		}
		return &Manager{keyPair: kp}, nil
	}

	if !errors.Is(pubErr, keystore.ErrNotFound) && pubErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, pubErr)
	}
	if !errors.Is(privErr, keystore.ErrNotFound) && privErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, privErr)
	}

	kp, err := keywrap.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	if err := store.Set(publicKeyName, codec.EncodeBytes(kp.Public[:])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	if err := store.Set(privateKeyName, codec.EncodeBytes(kp.Private[:])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return &Manager{keyPair: kp}, nil
}

func importKeyPair(pub, priv string) (*keywrap.KeyPair, error) {
	pubBytes, err := codec.DecodeBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	privBytes, err := codec.DecodeBytes(priv)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(pubBytes) != keywrap.KeySize || len(privBytes) != keywrap.KeySize {
		return nil, fmt.Errorf("corrupt key material")
	}

	var kp keywrap.KeyPair
	copy(kp.Public[:], pubBytes)
	copy(kp.Private[:], privBytes)
	return &kp, nil
}

// WrapKey encrypts a one-time message key under recipientPublicKey
// (base64, as served by the key directory).
func (m *Manager) WrapKey(symmetricKey []byte, recipientPublicKey string) ([]byte, error) {
	pub, err := codec.DecodeBytes(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keywrap.ErrWrapFailure, err)
	}
	return keywrap.Wrap(symmetricKey, pub)
}

// UnwrapKey recovers a message key wrapped for this user.
func (m *Manager) UnwrapKey(wrapped []byte) ([]byte, error) {
	return keywrap.Unwrap(wrapped, m.keyPair.Private[:])
}

// ExportPublicKey serializes the public half for transmission.
func (m *Manager) ExportPublicKey() string {
	return codec.EncodeBytes(m.keyPair.Public[:])
}
