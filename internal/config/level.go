package config

import (
	"log/slog"
	"strings"
)

// ParseLogLevel maps a configured level name to a slog level, defaulting to
// info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
