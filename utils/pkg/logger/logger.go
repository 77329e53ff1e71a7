package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

type Config struct {
	Verbose bool
	// JSON switches from colored text to JSON lines, for log collectors.
	JSON   bool
	Writer io.Writer
}

func New(verbose bool) *slog.Logger {
	return NewWithConfig(Config{Verbose: verbose})
}

func NewWithConfig(cfg Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       logLevel,
			ReplaceAttr: replaceAttr,
		}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       logLevel,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	if s, ok := a.Value.Any().(fmt.Stringer); ok && a.Value.Kind() == slog.KindAny {
		a.Value = slog.StringValue(s.String())
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
