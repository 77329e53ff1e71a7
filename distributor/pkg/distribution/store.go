package distribution

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Store runs units of work against a vault's records.
type Store interface {
	// WithTx runs fn with exclusive access to vault. Changes made through tx are
	// applied only if fn returns nil.
	WithTx(ctx context.Context, vault solana.PublicKey, fn func(ctx context.Context, tx Tx) error) error
}

// Tx reads and writes the records of the vault it was opened for.
type Tx interface {
	Policy(ctx context.Context) (*Policy, error)
	InsertPolicy(ctx context.Context, policy *Policy) error

	Progress(ctx context.Context) (*Progress, error)
	InsertProgress(ctx context.Context, progress *Progress) error
	UpdateProgress(ctx context.Context, progress *Progress) error

	Position(ctx context.Context) (*Position, error)
	InsertPosition(ctx context.Context, position *Position) error

	// Custodian moves quote funds held for the vault.
	Custodian() FeeCustodian
}

// FeeCustodian is the vault's treasury, scoped to the enclosing transaction.
type FeeCustodian interface {
	// ClaimFees moves fees accrued by the position into the treasury and returns the amount moved.
	ClaimFees(ctx context.Context) (uint64, error)
	// ClaimableBalance is the treasury balance available for transfers.
	ClaimableBalance(ctx context.Context) (uint64, error)
	Transfer(ctx context.Context, amount uint64, dest solana.PublicKey) error
}

// PoolReader loads the current state of an AMM pool.
type PoolReader interface {
	Pool(ctx context.Context, pool solana.PublicKey) (Pool, error)
}

// PositionOpener creates the liquidity position backing a vault.
type PositionOpener interface {
	OpenPosition(ctx context.Context, vault, pool solana.PublicKey, tickLower, tickUpper int32, liquidity uint64) (solana.PublicKey, error)
}
