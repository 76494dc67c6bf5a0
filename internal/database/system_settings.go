package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/dbwarden/internal/models"
)

// VaultFingerprintSetting stores a digest of the vault key that encrypted saved connections.
const VaultFingerprintSetting = "vault.key_fingerprint"

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return "", fmt.Errorf("system settings: get %q: %w", key, err)
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// CheckVaultFingerprint records fingerprint on first use and reports whether it matches afterwards.
// A mismatch means stored credentials were sealed with another key and will be skipped on load.
func CheckVaultFingerprint(ctx context.Context, db *gorm.DB, fingerprint string) (bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return false, fmt.Errorf("system settings: vault fingerprint is empty")
	}

	current, err := GetSystemSetting(ctx, db, VaultFingerprintSetting)
	if err != nil {
		return false, err
	}
	if current == "" {
		return true, UpsertSystemSetting(ctx, db, VaultFingerprintSetting, fingerprint)
	}
	return current == fingerprint, nil
}
