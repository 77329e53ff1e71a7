package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/stretchr/testify/require"
)

func TestFeeVault_MemStore_Records(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := New()
	vault := solana.NewWallet().PublicKey()
	capAmount := uint64(10)

	err := s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		_, err := tx.Policy(ctx)
		require.ErrorIs(t, err, distribution.ErrRecordNotFound)

		require.NoError(t, tx.InsertPolicy(ctx, &distribution.Policy{Vault: vault, DailyCap: &capAmount}))
		require.ErrorIs(t, tx.InsertPolicy(ctx, &distribution.Policy{Vault: vault}), distribution.ErrRecordExists)
		return tx.InsertProgress(ctx, distribution.NewProgress(vault))
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		policy, err := tx.Policy(ctx)
		require.NoError(t, err)
		*policy.DailyCap = 99

		progress, err := tx.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), progress.Version)

		progress.PaginationCursor = 1
		require.NoError(t, tx.UpdateProgress(ctx, progress))
		require.Equal(t, uint64(2), progress.Version)

		stale := *progress
		stale.Version = 1
		require.Error(t, tx.UpdateProgress(ctx, &stale))
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		policy, err := tx.Policy(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(10), *policy.DailyCap)

		progress, err := tx.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, uint32(1), progress.PaginationCursor)
		return nil
	})
	require.NoError(t, err)

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Equal(t, []solana.PublicKey{vault}, vaults)
}

func TestFeeVault_MemStore_Rollback(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := New()
	vault := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	require.NoError(t, s.AccrueFees(ctx, vault, 500))

	boom := errors.New("boom")
	err := s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		c := tx.Custodian()
		claimed, err := c.ClaimFees(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(500), claimed)
		require.NoError(t, c.Transfer(ctx, 200, dest))
		require.NoError(t, tx.InsertPolicy(ctx, &distribution.Policy{Vault: vault}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, accrued, err := s.Treasury(ctx, vault)
	require.NoError(t, err)
	require.Zero(t, balance)
	require.Equal(t, uint64(500), accrued)

	got, err := s.BalanceOf(ctx, dest)
	require.NoError(t, err)
	require.Zero(t, got)
	require.Empty(t, s.Transfers())

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Empty(t, vaults)
}

func TestFeeVault_MemStore_Custodian(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := New()
	vault := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	require.NoError(t, s.Deposit(ctx, vault, 100))
	require.NoError(t, s.AccrueFees(ctx, vault, 50))

	err := s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		c := tx.Custodian()
		claimed, err := c.ClaimFees(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(50), claimed)

		balance, err := c.ClaimableBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(150), balance)

		require.ErrorIs(t, c.Transfer(ctx, 151, dest), distribution.ErrInsufficientFeeBalance)
		return c.Transfer(ctx, 120, dest)
	})
	require.NoError(t, err)

	balance, accrued, err := s.Treasury(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, uint64(30), balance)
	require.Zero(t, accrued)

	got, err := s.BalanceOf(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, uint64(120), got)

	transfers := s.Transfers()
	require.Len(t, transfers, 1)
	require.Equal(t, vault, transfers[0].Vault)
	require.Equal(t, uint64(120), transfers[0].Amount)
}

func TestFeeVault_MemStore_Investors(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := New()
	vault := solana.NewWallet().PublicKey()
	entries := []distribution.PageEntry{
		{Investor: solana.NewWallet().PublicKey(), Stream: solana.NewWallet().PublicKey(), PayoutDest: solana.NewWallet().PublicKey()},
		{Investor: solana.NewWallet().PublicKey(), Stream: solana.NewWallet().PublicKey(), PayoutDest: solana.NewWallet().PublicKey()},
	}
	require.NoError(t, s.ReplaceInvestors(ctx, vault, entries))

	got, err := s.Investors(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, entries, got)

	got[0] = distribution.PageEntry{}
	again, err := s.Investors(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, entries, again)
}

func TestFeeVault_MemStore_SerializesVault(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := New()
	vault := solana.NewWallet().PublicKey()
	require.NoError(t, s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		return tx.InsertProgress(ctx, distribution.NewProgress(vault))
	}))

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
				p, err := tx.Progress(ctx)
				if err != nil {
					return err
				}
				p.LifetimeClaimed++
				return tx.UpdateProgress(ctx, p)
			})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		p, err := tx.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(50), p.LifetimeClaimed)
		require.Equal(t, uint64(51), p.Version)
		return nil
	}))
}
