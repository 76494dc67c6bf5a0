package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	value, err := GetSystemSetting(ctx, db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(ctx, db, "sample", "value1"))
	retrieved, err := GetSystemSetting(ctx, db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value1", retrieved)

	require.NoError(t, UpsertSystemSetting(ctx, db, "sample", "value2"))
	retrieved, err = GetSystemSetting(ctx, db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", retrieved)

	require.Error(t, UpsertSystemSetting(ctx, db, "  ", "x"))
}

func TestCheckVaultFingerprint(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	match, err := CheckVaultFingerprint(ctx, db, "abc")
	require.NoError(t, err)
	require.True(t, match, "first fingerprint is recorded")

	match, err = CheckVaultFingerprint(ctx, db, "abc")
	require.NoError(t, err)
	require.True(t, match)

	match, err = CheckVaultFingerprint(ctx, db, "other")
	require.NoError(t, err)
	require.False(t, match)

	_, err = CheckVaultFingerprint(ctx, db, "")
	require.Error(t, err)
}
