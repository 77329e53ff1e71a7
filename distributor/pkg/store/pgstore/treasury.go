package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func scanAmount(row pgx.Row) (uint64, error) {
	var s string
	if err := row.Scan(&s); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q out of range: %w", s, err)
	}
	return v, nil
}

const checkViolation = "23514"

// exceedsU64 reports whether err is a violation of the u64 bounds on vault_treasuries.
func exceedsU64(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != checkViolation {
		return false
	}
	return pgErr.ConstraintName == "vault_treasuries_balance_u64" || pgErr.ConstraintName == "vault_treasuries_accrued_u64"
}

type custodian struct {
	tx    pgx.Tx
	vault solana.PublicKey
}

func (c *custodian) ClaimFees(ctx context.Context) (uint64, error) {
	claimed, err := scanAmount(c.tx.QueryRow(ctx,
		`WITH prev AS (
			SELECT accrued FROM vault_treasuries WHERE vault_id = $1 FOR UPDATE
		)
		UPDATE vault_treasuries t
		SET balance = t.balance + prev.accrued, accrued = 0, updated_at = now()
		FROM prev
		WHERE t.vault_id = $1
		RETURNING prev.accrued::text`,
		c.vault.String(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		if exceedsU64(err) {
			return 0, fmt.Errorf("%w: treasury of %s cannot take the claimed fees", distribution.ErrMathOverflow, c.vault)
		}
		return 0, fmt.Errorf("failed to claim fees: %w", err)
	}
	return claimed, nil
}

func (c *custodian) ClaimableBalance(ctx context.Context) (uint64, error) {
	balance, _, err := treasury(ctx, c.tx, c.vault)
	return balance, err
}

func (c *custodian) Transfer(ctx context.Context, amount uint64, dest solana.PublicKey) error {
	tag, err := c.tx.Exec(ctx,
		`UPDATE vault_treasuries
		 SET balance = balance - $2, updated_at = now()
		 WHERE vault_id = $1 AND balance >= $2`,
		c.vault.String(), numeric(amount),
	)
	if err != nil {
		return fmt.Errorf("failed to debit treasury: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transfer %d from %s", distribution.ErrInsufficientFeeBalance, amount, c.vault)
	}
	if _, err := c.tx.Exec(ctx,
		`INSERT INTO treasury_transfers (transfer_id, vault_id, destination, amount) VALUES ($1, $2, $3, $4)`,
		uuid.New(), c.vault.String(), dest.String(), numeric(amount),
	); err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func treasury(ctx context.Context, q dbtx, vault solana.PublicKey) (balance, accrued uint64, err error) {
	var b, a string
	err = q.QueryRow(ctx,
		`SELECT balance::text, accrued::text FROM vault_treasuries WHERE vault_id = $1`,
		vault.String(),
	).Scan(&b, &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read treasury: %w", err)
	}
	if balance, err = strconv.ParseUint(b, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("treasury balance %q out of range: %w", b, err)
	}
	if accrued, err = strconv.ParseUint(a, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("treasury accrued %q out of range: %w", a, err)
	}
	return balance, accrued, nil
}

// AccrueFees records fees earned by the vault's position that have not been claimed yet.
func (s *Store) AccrueFees(ctx context.Context, vault solana.PublicKey, amount uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_treasuries (vault_id, accrued) VALUES ($1, $2)
		 ON CONFLICT (vault_id) DO UPDATE SET accrued = vault_treasuries.accrued + EXCLUDED.accrued, updated_at = now()`,
		vault.String(), numeric(amount),
	)
	if err != nil {
		if exceedsU64(err) {
			return fmt.Errorf("%w: accrued fees of %s", distribution.ErrMathOverflow, vault)
		}
		return fmt.Errorf("failed to accrue fees: %w", err)
	}
	return nil
}

// Deposit credits the treasury directly, without going through a claim.
func (s *Store) Deposit(ctx context.Context, vault solana.PublicKey, amount uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_treasuries (vault_id, balance) VALUES ($1, $2)
		 ON CONFLICT (vault_id) DO UPDATE SET balance = vault_treasuries.balance + EXCLUDED.balance, updated_at = now()`,
		vault.String(), numeric(amount),
	)
	if err != nil {
		if exceedsU64(err) {
			return fmt.Errorf("%w: treasury of %s", distribution.ErrMathOverflow, vault)
		}
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// Treasury returns the vault's treasury balance and its unclaimed accrued fees.
func (s *Store) Treasury(ctx context.Context, vault solana.PublicKey) (balance, accrued uint64, err error) {
	return treasury(ctx, s.pool, vault)
}

// BalanceOf is the total transferred to a payout destination.
func (s *Store) BalanceOf(ctx context.Context, dest solana.PublicKey) (uint64, error) {
	v, err := scanAmount(s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM treasury_transfers WHERE destination = $1`,
		dest.String(),
	))
	if err != nil {
		return 0, fmt.Errorf("failed to read destination balance: %w", err)
	}
	return v, nil
}
