package feetesting

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// NewLogger returns a stderr logger for tests. Output is limited to errors unless
// FEEVAULT_TEST_LOG is set to "info" or "debug".
func NewLogger() *slog.Logger {
	level := slog.LevelError
	switch os.Getenv("FEEVAULT_TEST_LOG") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, NoColor: true}))
}
