package vesting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/malbeclabs/feevault/utils/pkg/retry"
)

// AccountRPC is the subset of the Solana RPC client used to load stream accounts.
type AccountRPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error)
}

type RPCSourceConfig struct {
	Logger *slog.Logger
	RPC    AccountRPC

	// Owner, when set, is the program that must own every stream account.
	Owner solana.PublicKey
	Retry retry.Config
}

func (cfg *RPCSourceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// RPCSource reads vesting streams from chain.
type RPCSource struct {
	log *slog.Logger
	cfg RPCSourceConfig
}

func NewRPCSource(cfg RPCSourceConfig) (*RPCSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RPCSource{log: cfg.Logger, cfg: cfg}, nil
}

func (s *RPCSource) Schedule(ctx context.Context, stream solana.PublicKey) (Schedule, error) {
	var res *solanarpc.GetAccountInfoResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		res, err = s.cfg.RPC.GetAccountInfo(ctx, stream)
		return err
	})
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return Schedule{}, fmt.Errorf("%w: %s", ErrStreamNotFound, stream)
		}
		return Schedule{}, fmt.Errorf("failed to get stream account %s: %w", stream, err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return Schedule{}, fmt.Errorf("%w: %s", ErrStreamNotFound, stream)
	}
	if !s.cfg.Owner.IsZero() && !res.Value.Owner.Equals(s.cfg.Owner) {
		return Schedule{}, fmt.Errorf("%w: stream %s owned by %s", ErrMalformedSchedule, stream, res.Value.Owner)
	}

	schedule, err := DecodeAccount(res.Value.Data.GetBinary())
	if err != nil {
		return Schedule{}, fmt.Errorf("stream %s: %w", stream, err)
	}
	s.log.Debug("vesting: loaded stream", "stream", stream, "kind", schedule.Kind.String(), "total", schedule.Total)
	return schedule, nil
}
