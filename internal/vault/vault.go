// Package vault encrypts credential fields with a single process-wide key.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/app"
	"github.com/charlesng35/dbwarden/pkg/crypto"
	"github.com/charlesng35/dbwarden/pkg/logger"
)

// Source names where the vault secret came from.
type Source string

const (
	SourceExternal Source = "external"
	SourceKeyFile  Source = "key_file"
)

// Options selects the vault secret. Key wins over KeyFile.
type Options struct {
	Key     string
	KeyFile string
	Derive  []DeriveOption
}

// DecryptionError reports a token that cannot be opened with the current key.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("vault: decryption failed: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault encrypts and decrypts whole strings.
type Vault struct {
	key    cipherKey
	source Source
}

// New resolves the vault secret and derives the working key.
func New(opts Options) (*Vault, error) {
	var (
		secret []byte
		source Source
		err    error
	)

	switch {
	case trimmed(opts.Key) != "":
		secret, err = app.DecodeKey(opts.Key)
		if err != nil {
			return nil, fmt.Errorf("vault: decode key: %w", err)
		}
		source = SourceExternal
	case trimmed(opts.KeyFile) != "":
		var created bool
		secret, created, err = loadOrCreateKeyFile(trimmed(opts.KeyFile))
		if err != nil {
			return nil, err
		}
		source = SourceKeyFile
		if created {
			logger.WithModule("vault").Info("generated vault key file", zap.String("path", opts.KeyFile))
		}
	default:
		return nil, errors.New("vault: either a key or a key file is required")
	}

	key, err := deriveKey(secret, opts.Derive...)
	if err != nil {
		return nil, err
	}
	return &Vault{key: key, source: source}, nil
}

// Source reports where the secret was loaded from.
func (v *Vault) Source() Source {
	v.mustBeReady()
	return v.source
}

// Fingerprint identifies the working key without revealing it.
func (v *Vault) Fingerprint() string {
	v.mustBeReady()
	sum := sha256.Sum256(v.key.key)
	return hex.EncodeToString(sum[:8])
}

// Encrypt seals plaintext. The empty string stays empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	v.mustBeReady()
	if plaintext == "" {
		return "", nil
	}
	token, err := crypto.Encrypt([]byte(plaintext), v.key.key)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	return token, nil
}

// Decrypt opens a token produced by Encrypt. Foreign or corrupted tokens yield *DecryptionError.
func (v *Vault) Decrypt(token string) (string, error) {
	v.mustBeReady()
	if token == "" {
		return "", nil
	}
	plain, err := crypto.Decrypt(token, v.key.key)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plain), nil
}

func (v *Vault) mustBeReady() {
	if v == nil || len(v.key.key) == 0 {
		panic("vault: used before initialisation")
	}
}
