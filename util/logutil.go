package util

import (
	"log/slog"
	"os"
)

// InitSlog installs a text handler on stderr when LOG_LEVEL is set. Levels are parsed
// like slog.Level text ("debug", "warn", "info+2"); unknown values fall back to info.
func InitSlog() {
	value, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(value)})))
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
