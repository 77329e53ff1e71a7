package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/clickhouse"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
)

const eventsTable = "fact_feevault_events"

type ClickHouseSinkConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
	Clock      clockwork.Clock
}

func (cfg *ClickHouseSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ClickHouseSink appends events to the fact_feevault_events table.
type ClickHouseSink struct {
	log *slog.Logger
	cfg ClickHouseSinkConfig
}

func NewClickHouseSink(cfg ClickHouseSinkConfig) (*ClickHouseSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ClickHouseSink{log: cfg.Logger, cfg: cfg}, nil
}

func (s *ClickHouseSink) Publish(ctx context.Context, events []distribution.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]Record, 0, len(events))
	for _, ev := range events {
		r, err := RecordOf(ev)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	if err := s.write(ctx, records); err != nil {
		metrics.AuditRowsWrittenTotal.WithLabelValues("error").Add(float64(len(records)))
		return err
	}
	metrics.AuditRowsWrittenTotal.WithLabelValues("success").Add(float64(len(records)))
	return nil
}

func (s *ClickHouseSink) write(ctx context.Context, records []Record) error {
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+eventsTable+" (event_ts, ingested_at, vault, event_type, account, amount, page, payload)")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	ingestedAt := s.cfg.Clock.Now().UTC()
	for i, r := range records {
		if err := batch.Append(r.EventTS, ingestedAt, r.Vault, string(r.EventType), r.Account, r.Amount, r.Page, string(r.Payload)); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("audit: wrote events", "table", eventsTable, "count", len(records))
	return nil
}

// Events returns the vault's most recent events, newest first.
func (s *ClickHouseSink) Events(ctx context.Context, vault solana.PublicKey, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT event_ts, vault, event_type, account, amount, page, payload
		FROM `+eventsTable+`
		WHERE vault = ?
		ORDER BY event_ts DESC, ingested_at DESC
		LIMIT ?`, vault.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			eventType string
			payload   string
			eventTS   time.Time
		)
		if err := rows.Scan(&eventTS, &r.Vault, &eventType, &r.Account, &r.Amount, &r.Page, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.EventTS = eventTS.UTC()
		r.EventType = distribution.EventType(eventType)
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}
