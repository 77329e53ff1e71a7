package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
)

type EngineConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Store     Store
	Vesting   vesting.Source
	Pools     PoolReader
	Positions PositionOpener
	Events    EventSink // optional
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Vesting == nil {
		return errors.New("vesting source is required")
	}
	if cfg.Pools == nil {
		return errors.New("pool reader is required")
	}
	if cfg.Positions == nil {
		return errors.New("position opener is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine runs vault initialization and the daily crank.
type Engine struct {
	log *slog.Logger
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

func (e *Engine) now() int64 {
	return e.cfg.Clock.Now().Unix()
}

// publish hands committed events to the sink. Failures never undo the operation.
func (e *Engine) publish(ctx context.Context, events []Event) {
	if e.cfg.Events == nil || len(events) == 0 {
		return
	}
	if err := e.cfg.Events.Publish(ctx, events); err != nil {
		e.log.Error("distribution: failed to publish events", "error", err, "count", len(events))
		metrics.EventsPublishedTotal.WithLabelValues("error").Add(float64(len(events)))
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues("success").Add(float64(len(events)))
}

func (e *Engine) Policy(ctx context.Context, vault solana.PublicKey) (*Policy, error) {
	var policy *Policy
	err := e.cfg.Store.WithTx(ctx, vault, func(ctx context.Context, tx Tx) error {
		var err error
		policy, err = tx.Policy(ctx)
		return err
	})
	if err != nil {
		return nil, notInitialized(err)
	}
	return policy, nil
}

func (e *Engine) Position(ctx context.Context, vault solana.PublicKey) (*Position, error) {
	var position *Position
	err := e.cfg.Store.WithTx(ctx, vault, func(ctx context.Context, tx Tx) error {
		var err error
		position, err = tx.Position(ctx)
		return err
	})
	if err != nil {
		return nil, notInitialized(err)
	}
	return position, nil
}

func (e *Engine) Progress(ctx context.Context, vault solana.PublicKey) (*Progress, error) {
	var progress *Progress
	err := e.cfg.Store.WithTx(ctx, vault, func(ctx context.Context, tx Tx) error {
		var err error
		progress, err = tx.Progress(ctx)
		return err
	})
	if err != nil {
		return nil, notInitialized(err)
	}
	return progress, nil
}

// Now is the engine clock in unix seconds.
func (e *Engine) Now() int64 {
	return e.now()
}

func notInitialized(err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrVaultNotInitialized, err)
	}
	return err
}
