package app

import (
	"strings"

	"github.com/charlesng35/authguard/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level and format,
// defaulting to info-level JSON.
func ConfigureLogging(level, format string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	return logger.Init(level, strings.ToLower(strings.TrimSpace(format)))
}
