package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlesng35/dbwarden/internal/app"
	"github.com/charlesng35/dbwarden/pkg/crypto"
)

const (
	keyFileMode    = 0o600
	generatedBytes = 32
)

// loadOrCreateKeyFile returns the secret stored at path, creating it on first run.
func loadOrCreateKeyFile(path string) (secret []byte, created bool, err error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		secret, err = app.DecodeKey(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("vault: key file %s: %w", path, err)
		}
		return secret, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("vault: read key file: %w", err)
	}

	raw, err := crypto.RandomBytes(generatedBytes)
	if err != nil {
		return nil, false, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("vault: create key dir: %w", err)
		}
	}

	// Concurrent first runs race on O_EXCL; the loser reads the winner's key.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if errors.Is(err, fs.ErrExist) {
		return loadOrCreateKeyFile(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("vault: create key file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(app.EncodeKey(raw) + "\n"); err != nil {
		return nil, false, fmt.Errorf("vault: write key file: %w", err)
	}
	if err := os.Chmod(path, keyFileMode); err != nil {
		return nil, false, fmt.Errorf("vault: restrict key file: %w", err)
	}

	return raw, true, nil
}

func trimmed(s string) string { return strings.TrimSpace(s) }
