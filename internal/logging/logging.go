package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger. The level comes from LOG_LEVEL;
// production builds only show errors.
func Init() {
	InitWithLevel(os.Getenv("LOG_LEVEL"))
}

// InitWithLevel installs the default slog logger at the named level.
func InitWithLevel(name string) {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: ParseLevel(name),
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values mean error.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
