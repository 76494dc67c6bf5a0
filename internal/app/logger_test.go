package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(logger.Replace(zap.NewNop()))

	require.NoError(t, ConfigureLogging(LoggingConfig{Level: "debug"}))
	require.True(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, ConfigureLogging(LoggingConfig{}))
	require.False(t, logger.Logger().Core().Enabled(zap.DebugLevel))
}
