package pgstore_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
	feetesting "github.com/malbeclabs/feevault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

func TestFeeVault_PGStore_Records(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newStore(t)
	vault := solana.NewWallet().PublicKey()
	capAmount := uint64(1_000)
	policy := &distribution.Policy{
		Vault:               vault,
		Creator:             solana.NewWallet().PublicKey(),
		CreatorPayoutDest:   solana.NewWallet().PublicKey(),
		QuoteMint:           solana.NewWallet().PublicKey(),
		InvestorFeeShareBps: 2500,
		DailyCap:            &capAmount,
		Y0TotalAllocation:   1_000_000,
		CreatedAt:           1_700_000_000,
	}

	err := s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		_, err := tx.Policy(ctx)
		require.ErrorIs(t, err, distribution.ErrRecordNotFound)
		if err := tx.InsertPolicy(ctx, policy); err != nil {
			return err
		}
		return tx.InsertProgress(ctx, distribution.NewProgress(vault))
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		return tx.InsertPolicy(ctx, policy)
	})
	require.ErrorIs(t, err, distribution.ErrRecordExists)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		got, err := tx.Policy(ctx)
		require.NoError(t, err)
		require.Equal(t, policy, got)

		progress, err := tx.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), progress.Version)
		require.True(t, progress.DayComplete)

		progress.DayComplete = false
		progress.PaginationCursor = 3
		require.NoError(t, tx.UpdateProgress(ctx, progress))
		require.Equal(t, uint64(2), progress.Version)

		stale := *progress
		stale.Version = 1
		require.Error(t, tx.UpdateProgress(ctx, &stale))
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		progress, err := tx.Progress(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(2), progress.Version)
		require.Equal(t, uint32(3), progress.PaginationCursor)
		require.False(t, progress.DayComplete)
		return nil
	})
	require.NoError(t, err)

	vaults, err := s.Vaults(ctx)
	require.NoError(t, err)
	require.Equal(t, []solana.PublicKey{vault}, vaults)
}

func TestFeeVault_PGStore_Treasury(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newStore(t)
	vault := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()

	balance, accrued, err := s.Treasury(ctx, vault)
	require.NoError(t, err)
	require.Zero(t, balance)
	require.Zero(t, accrued)

	require.NoError(t, s.Deposit(ctx, vault, 100))
	require.NoError(t, s.AccrueFees(ctx, vault, 18_000_000_000_000_000_000))

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		c := tx.Custodian()
		claimed, err := c.ClaimFees(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(18_000_000_000_000_000_000), claimed)

		again, err := c.ClaimFees(ctx)
		require.NoError(t, err)
		require.Zero(t, again)

		available, err := c.ClaimableBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(18_000_000_000_000_000_100), available)

		return c.Transfer(ctx, 18_000_000_000_000_000_000, dest)
	})
	require.NoError(t, err)

	balance, accrued, err = s.Treasury(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, uint64(100), balance)
	require.Zero(t, accrued)

	got, err := s.BalanceOf(ctx, dest)
	require.NoError(t, err)
	require.Equal(t, uint64(18_000_000_000_000_000_000), got)

	err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		return tx.Custodian().Transfer(ctx, 101, dest)
	})
	require.ErrorIs(t, err, distribution.ErrInsufficientFeeBalance)

	t.Run("amounts stay within u64", func(t *testing.T) {
		ctx := t.Context()
		vault := solana.NewWallet().PublicKey()

		require.NoError(t, s.AccrueFees(ctx, vault, 18_000_000_000_000_000_000))
		err := s.AccrueFees(ctx, vault, 18_000_000_000_000_000_000)
		require.ErrorIs(t, err, distribution.ErrMathOverflow)

		require.NoError(t, s.Deposit(ctx, vault, math.MaxUint64-5))
		require.ErrorIs(t, s.Deposit(ctx, vault, 10), distribution.ErrMathOverflow)

		err = s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
			_, err := tx.Custodian().ClaimFees(ctx)
			return err
		})
		require.ErrorIs(t, err, distribution.ErrMathOverflow)
		require.Equal(t, distribution.KindArithmetic, distribution.KindOf(err))

		balance, accrued, err := s.Treasury(ctx, vault)
		require.NoError(t, err)
		require.Equal(t, uint64(math.MaxUint64-5), balance)
		require.Equal(t, uint64(18_000_000_000_000_000_000), accrued)
	})
}

func TestFeeVault_PGStore_Rollback(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newStore(t)
	vault := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	require.NoError(t, s.AccrueFees(ctx, vault, 500))

	boom := errors.New("boom")
	err := s.WithTx(ctx, vault, func(ctx context.Context, tx distribution.Tx) error {
		if _, err := tx.Custodian().ClaimFees(ctx); err != nil {
			return err
		}
		if err := tx.Custodian().Transfer(ctx, 500, dest); err != nil {
			return err
		}
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
}

func TestFeeVault_PGStore_Investors(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newStore(t)
	vault := solana.NewWallet().PublicKey()

	entries := make([]distribution.PageEntry, 25)
	for i := range entries {
		entries[i] = distribution.PageEntry{
			Investor:   solana.NewWallet().PublicKey(),
			Stream:     solana.NewWallet().PublicKey(),
			PayoutDest: solana.NewWallet().PublicKey(),
		}
	}
	require.NoError(t, s.ReplaceInvestors(ctx, vault, entries))

	got, err := s.Investors(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, entries, got)

	require.NoError(t, s.ReplaceInvestors(ctx, vault, entries[:2]))
	got, err = s.Investors(ctx, vault)
	require.NoError(t, err)
	require.Equal(t, entries[:2], got)
}

func TestFeeVault_PGStore_Engine(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	s := newStore(t)
	clock := clockwork.NewFakeClock()
	source := vesting.NewStaticSource()
	vault := solana.NewWallet().PublicKey()
	creatorDest := solana.NewWallet().PublicKey()
	quote := solana.NewWallet().PublicKey()
	pool := distribution.Pool{
		Address:     solana.NewWallet().PublicKey(),
		Mint0:       quote,
		Mint1:       solana.NewWallet().PublicKey(),
		CurrentTick: -50,
	}

	engine, err := distribution.NewEngine(distribution.EngineConfig{
		Logger:    feetesting.NewLogger(),
		Clock:     clock,
		Store:     s,
		Vesting:   source,
		Pools:     distribution.NewStaticPools(pool),
		Positions: distribution.DerivedPositions{ProgramID: solana.SystemProgramID},
	})
	require.NoError(t, err)

	_, err = engine.InitializePolicy(ctx, distribution.InitializePolicyParams{
		Vault:               vault,
		Creator:             solana.NewWallet().PublicKey(),
		CreatorPayoutDest:   creatorDest,
		QuoteMint:           quote,
		InvestorFeeShareBps: 5000,
		Y0TotalAllocation:   10_000_000,
	})
	require.NoError(t, err)
	_, err = engine.InitializePosition(ctx, distribution.InitializePositionParams{
		Vault: vault, Pool: pool.Address, TickLower: 0, TickUpper: 100, QuoteIsPrimary: true,
	})
	require.NoError(t, err)

	now := clock.Now().Unix()
	entries := make([]distribution.PageEntry, 2)
	for i := range entries {
		entries[i] = distribution.PageEntry{
			Investor:   solana.NewWallet().PublicKey(),
			Stream:     solana.NewWallet().PublicKey(),
			PayoutDest: solana.NewWallet().PublicKey(),
		}
		schedule, err := vesting.NewCliff(now, now+86400*365, now+86400*730, 3_000_000, 0)
		require.NoError(t, err)
		require.NoError(t, source.Set(entries[i].Stream, schedule))
	}
	require.NoError(t, s.AccrueFees(ctx, vault, 1_000_000))

	// Concurrent callers race for the same first page; exactly one wins.
	zero := uint32(0)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Crank(ctx, distribution.CrankRequest{
				Vault:          vault,
				Page:           entries,
				IsLastPage:     true,
				ExpectedCursor: &zero,
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, distribution.ErrTooEarlyForDistribution)
	}
	require.Equal(t, 1, ok)

	for _, e := range entries {
		got, err := s.BalanceOf(ctx, e.PayoutDest)
		require.NoError(t, err)
		require.Equal(t, uint64(250_000), got)
	}
	got, err := s.BalanceOf(ctx, creatorDest)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000), got)

	progress, err := engine.Progress(ctx, vault)
	require.NoError(t, err)
	require.True(t, progress.DayComplete)
	require.Equal(t, uint64(1_000_000), progress.LifetimeClaimed)
	require.Equal(t, uint64(2), progress.Version)
}
