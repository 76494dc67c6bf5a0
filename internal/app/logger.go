package app

import (
	"strings"

	"github.com/charlesng35/dbwarden/pkg/logger"
)

// ConfigureLogging initialises the global logger from the logging section, defaulting to info.
func ConfigureLogging(cfg LoggingConfig) error {
	level := strings.TrimSpace(cfg.Level)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level:    level,
		Encoding: cfg.Encoding,
		File: logger.FileOptions{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
	})
}
