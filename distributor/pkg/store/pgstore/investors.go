package pgstore

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

// ReplaceInvestors replaces the vault's investor directory. Order is preserved.
func (s *Store) ReplaceInvestors(ctx context.Context, vault solana.PublicKey, investors []distribution.PageEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM vault_investors WHERE vault_id = $1`, vault.String()); err != nil {
			return fmt.Errorf("failed to clear investors: %w", err)
		}
		rows := make([][]any, len(investors))
		for i, e := range investors {
			rows[i] = []any{vault.String(), int32(i), e.Investor.String(), e.Stream.String(), e.PayoutDest.String()}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"vault_investors"},
			[]string{"vault_id", "ordinal", "investor", "stream", "payout_dest"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to insert investors: %w", err)
		}
		s.log.Debug("pgstore: replaced investors", "vault", vault, "count", len(investors))
		return nil
	})
}

// Investors returns the vault's investor directory in order.
func (s *Store) Investors(ctx context.Context, vault solana.PublicKey) ([]distribution.PageEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT investor, stream, payout_dest FROM vault_investors WHERE vault_id = $1 ORDER BY ordinal`,
		vault.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query investors: %w", err)
	}
	defer rows.Close()

	var out []distribution.PageEntry
	for rows.Next() {
		var investor, stream, dest string
		if err := rows.Scan(&investor, &stream, &dest); err != nil {
			return nil, fmt.Errorf("failed to scan investor: %w", err)
		}
		var e distribution.PageEntry
		if e.Investor, err = solana.PublicKeyFromBase58(investor); err != nil {
			return nil, fmt.Errorf("invalid investor %q: %w", investor, err)
		}
		if e.Stream, err = solana.PublicKeyFromBase58(stream); err != nil {
			return nil, fmt.Errorf("invalid stream %q: %w", stream, err)
		}
		if e.PayoutDest, err = solana.PublicKeyFromBase58(dest); err != nil {
			return nil, fmt.Errorf("invalid payout destination %q: %w", dest, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate investors: %w", err)
	}
	return out, nil
}
