package vault

import (
	"errors"
	"fmt"

	"github.com/charlesng35/dbwarden/pkg/crypto"
)

// cipherKey is the AES key derived from the vault secret.
type cipherKey struct {
	key    []byte
	salt   []byte
	params crypto.Argon2Parameters
}

type deriveConfig struct {
	params crypto.Argon2Parameters
	salt   []byte
}

// DeriveOption tunes key derivation.
type DeriveOption func(*deriveConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) DeriveOption {
	cp := append([]byte(nil), salt...)
	return func(cfg *deriveConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 parameters used during key derivation.
func WithArgon2Parameters(params crypto.Argon2Parameters) DeriveOption {
	return func(cfg *deriveConfig) {
		cfg.params = params
	}
}

func deriveKey(secret []byte, opts ...DeriveOption) (cipherKey, error) {
	if len(secret) == 0 {
		return cipherKey{}, errors.New("vault: secret is required")
	}

	cfg := deriveConfig{params: crypto.DefaultArgon2Params()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.params.KeyLength = 32

	if len(cfg.salt) == 0 {
		cfg.salt = crypto.SaltFromSecret(secret)
	} else if len(cfg.salt) < crypto.MinSaltLength {
		return cipherKey{}, fmt.Errorf("vault: salt must be at least %d bytes (got %d)", crypto.MinSaltLength, len(cfg.salt))
	}

	derived, err := crypto.DeriveKeyArgon2id(secret, cfg.salt, cfg.params)
	if err != nil {
		return cipherKey{}, fmt.Errorf("vault: derive key: %w", err)
	}

	return cipherKey{key: derived, salt: cfg.salt, params: cfg.params}, nil
}
