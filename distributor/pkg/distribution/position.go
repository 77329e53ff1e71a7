package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	MinTick int32 = -443636
	MaxTick int32 = 443636
)

type InitializePositionParams struct {
	Vault          solana.PublicKey `json:"vault"`
	Pool           solana.PublicKey `json:"pool"`
	TickLower      int32            `json:"tick_lower"`
	TickUpper      int32            `json:"tick_upper"`
	QuoteIsPrimary bool             `json:"quote_is_primary"`
	Liquidity      uint64           `json:"liquidity"`
}

// CheckOneSided reports whether [tickLower, tickUpper] can only ever earn fees in the quote asset
// given the pool's current tick.
func CheckOneSided(tickLower, tickUpper, currentTick int32, quoteIsPrimary bool) error {
	if tickLower < MinTick || tickUpper > MaxTick {
		return fmt.Errorf("%w: [%d, %d]", ErrTickOutOfBounds, tickLower, tickUpper)
	}
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d, upper %d", ErrInvalidTickRange, tickLower, tickUpper)
	}
	if quoteIsPrimary {
		if tickLower <= currentTick {
			return fmt.Errorf("%w: lower tick %d must be above current tick %d", ErrPositionWouldAccrueBaseFees, tickLower, currentTick)
		}
		return nil
	}
	if tickUpper >= currentTick {
		return fmt.Errorf("%w: upper tick %d must be below current tick %d", ErrPositionWouldAccrueBaseFees, tickUpper, currentTick)
	}
	return nil
}

// InitializePosition validates the requested range against the pool and records the vault's position.
func (e *Engine) InitializePosition(ctx context.Context, params InitializePositionParams) (*Position, error) {
	if params.Vault.IsZero() || params.Pool.IsZero() {
		return nil, fmt.Errorf("%w: vault and pool are required", ErrInvalidPageParameters)
	}
	if params.Liquidity == 0 {
		params.Liquidity = 1
	}

	pool, err := e.cfg.Pools.Pool(ctx, params.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool %s: %w", params.Pool, err)
	}

	now := e.now()
	var position *Position
	err = e.cfg.Store.WithTx(ctx, params.Vault, func(ctx context.Context, tx Tx) error {
		policy, err := tx.Policy(ctx)
		if err != nil {
			return notInitialized(err)
		}

		quoteSide := pool.Mint1
		if params.QuoteIsPrimary {
			quoteSide = pool.Mint0
		}
		if !quoteSide.Equals(policy.QuoteMint) {
			return fmt.Errorf("%w: quote mint %s, pool mints %s/%s", ErrQuoteMintNotInPool, policy.QuoteMint, pool.Mint0, pool.Mint1)
		}
		if err := CheckOneSided(params.TickLower, params.TickUpper, pool.CurrentTick, params.QuoteIsPrimary); err != nil {
			return err
		}

		if _, err := tx.Position(ctx); err == nil {
			return fmt.Errorf("%w: %s", ErrPositionAlreadyInitialized, params.Vault)
		} else if !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("failed to load position: %w", err)
		}

		// Opening acts outside the unit of work and is not rolled back, so every check runs first.
		id, err := e.cfg.Positions.OpenPosition(ctx, params.Vault, params.Pool, params.TickLower, params.TickUpper, params.Liquidity)
		if err != nil {
			return fmt.Errorf("failed to open position: %w", err)
		}

		position = &Position{
			Vault:          params.Vault,
			Pool:           params.Pool,
			PositionID:     id,
			TickLower:      params.TickLower,
			TickUpper:      params.TickUpper,
			QuoteIsPrimary: params.QuoteIsPrimary,
			Liquidity:      params.Liquidity,
			CreatedAt:      now,
		}
		if err := tx.InsertPosition(ctx, position); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: %s", ErrPositionAlreadyInitialized, params.Vault)
			}
			return fmt.Errorf("failed to insert position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("distribution: position initialized",
		"vault", position.Vault,
		"pool", position.Pool,
		"position_id", position.PositionID,
		"tick_lower", position.TickLower,
		"tick_upper", position.TickUpper,
		"quote_is_primary", position.QuoteIsPrimary)

	e.publish(ctx, []Event{PositionInitialized{
		Vault:          position.Vault,
		Pool:           position.Pool,
		PositionID:     position.PositionID,
		TickLower:      position.TickLower,
		TickUpper:      position.TickUpper,
		QuoteIsPrimary: position.QuoteIsPrimary,
		Liquidity:      position.Liquidity,
		Timestamp:      now,
	}})
	return position, nil
}
