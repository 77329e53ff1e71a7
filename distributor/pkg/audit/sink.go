package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

// LogSink writes every event to the logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, events []distribution.Event) error {
	for _, ev := range events {
		r, err := RecordOf(ev)
		if err != nil {
			return err
		}
		s.log.Info("audit: event",
			"type", r.EventType,
			"vault", r.Vault,
			"account", r.Account,
			"amount", r.Amount,
			"page", r.Page,
			"event_ts", r.EventTS)
	}
	return nil
}

// Multi publishes to every sink, continuing past failures.
type Multi []distribution.EventSink

func (m Multi) Publish(ctx context.Context, events []distribution.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
