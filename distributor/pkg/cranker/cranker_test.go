package cranker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/cranker"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/store/memstore"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
	"github.com/malbeclabs/feevault/utils/pkg/retry"
	feetesting "github.com/malbeclabs/feevault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

type fixture struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	store   *memstore.Store
	vesting *vesting.StaticSource
	pools   *distribution.StaticPools
	engine  *distribution.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		clock:   clockwork.NewFakeClockAt(genesis),
		store:   memstore.New(),
		vesting: vesting.NewStaticSource(),
		pools:   distribution.NewStaticPools(),
	}
	engine, err := distribution.NewEngine(distribution.EngineConfig{
		Logger:    feetesting.NewLogger(),
		Clock:     f.clock,
		Store:     f.store,
		Vesting:   f.vesting,
		Pools:     f.pools,
		Positions: distribution.DerivedPositions{ProgramID: solana.SystemProgramID},
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

type testVault struct {
	key         solana.PublicKey
	creatorDest solana.PublicKey
	investors   []distribution.PageEntry
}

// addVault initializes a vault whose investors each hold locked tokens for years.
func (f *fixture) addVault(investors int, locked uint64) testVault {
	f.t.Helper()
	ctx := f.t.Context()

	quote, base, pool := newKey(), newKey(), newKey()
	f.pools.Set(distribution.Pool{Address: pool, Mint0: base, Mint1: quote, CurrentTick: 1000})

	v := testVault{key: newKey(), creatorDest: newKey()}
	_, err := f.engine.InitializePolicy(ctx, distribution.InitializePolicyParams{
		Vault:               v.key,
		Creator:             newKey(),
		CreatorPayoutDest:   v.creatorDest,
		QuoteMint:           quote,
		InvestorFeeShareBps: 5000,
		Y0TotalAllocation:   10_000_000,
	})
	require.NoError(f.t, err)
	_, err = f.engine.InitializePosition(ctx, distribution.InitializePositionParams{
		Vault:     v.key,
		Pool:      pool,
		TickLower: 800,
		TickUpper: 900,
	})
	require.NoError(f.t, err)

	now := f.clock.Now().Unix()
	for range investors {
		schedule, err := vesting.NewCliff(now, now+10*365*86400, now+20*365*86400, locked, 0)
		require.NoError(f.t, err)
		e := distribution.PageEntry{Investor: newKey(), Stream: newKey(), PayoutDest: newKey()}
		require.NoError(f.t, f.vesting.Set(e.Stream, schedule))
		v.investors = append(v.investors, e)
	}
	require.NoError(f.t, f.store.ReplaceInvestors(ctx, v.key, v.investors))
	return v
}

func (f *fixture) cranker(configure func(cfg *cranker.Config)) *cranker.Cranker {
	f.t.Helper()
	cfg := cranker.Config{
		Logger:    feetesting.NewLogger(),
		Clock:     f.clock,
		Engine:    f.engine,
		Directory: f.store,
		Vaults:    f.store,
		Retry:     retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	if configure != nil {
		configure(&cfg)
	}
	c, err := cranker.New(cfg)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) balanceOf(dest solana.PublicKey) uint64 {
	f.t.Helper()
	v, err := f.store.BalanceOf(f.t.Context(), dest)
	require.NoError(f.t, err)
	return v
}

func TestFeeVault_Cranker_Pages(t *testing.T) {
	t.Parallel()

	entries := make([]distribution.PageEntry, 55)
	pages := cranker.Pages(entries, distribution.MaxPageSize)
	require.Len(t, pages, 3)
	require.Len(t, pages[0], 20)
	require.Len(t, pages[1], 20)
	require.Len(t, pages[2], 15)

	require.Empty(t, cranker.Pages(nil, 20))
	require.Len(t, cranker.Pages(entries[:40], 20), 2)
	require.Len(t, cranker.Pages(entries[:7], 0), 1)
}

func TestFeeVault_Cranker_Config(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := cranker.New(cranker.Config{Engine: f.engine, Directory: f.store, Vaults: f.store})
	require.ErrorContains(t, err, "logger is required")

	_, err = cranker.New(cranker.Config{
		Logger:    feetesting.NewLogger(),
		Engine:    f.engine,
		Directory: f.store,
		Vaults:    f.store,
		Schedule:  "not a schedule",
	})
	require.ErrorContains(t, err, "invalid schedule")
}

func TestFeeVault_Cranker_RunOnce(t *testing.T) {
	t.Parallel()

	t.Run("closes every vault's day", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		a := f.addVault(45, 100_000)
		b := f.addVault(3, 1_000_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), a.key, 1_000_000))
		require.NoError(t, f.store.AccrueFees(t.Context(), b.key, 90_000))

		c := f.cranker(nil)
		runs, err := c.RunOnce(t.Context())
		require.NoError(t, err)
		require.Len(t, runs, 2)

		byVault := map[solana.PublicKey]cranker.VaultRun{}
		for _, r := range runs {
			byVault[r.Vault] = r
		}

		// 4.5M of 10M locked caps the investor share at 45%.
		ra := byVault[a.key]
		require.True(t, ra.DayClosed)
		require.Equal(t, 3, ra.Pages)
		require.Equal(t, uint64(450_000), ra.Distributed)
		require.Equal(t, uint64(550_000), ra.Creator)
		for _, inv := range a.investors {
			require.Equal(t, uint64(10_000), f.balanceOf(inv.PayoutDest))
		}
		require.Equal(t, uint64(550_000), f.balanceOf(a.creatorDest))

		rb := byVault[b.key]
		require.True(t, rb.DayClosed)
		require.Equal(t, 1, rb.Pages)
		require.Equal(t, uint64(27_000), rb.Distributed)
		require.Equal(t, uint64(63_000), rb.Creator)

		for _, v := range []solana.PublicKey{a.key, b.key} {
			p, err := f.engine.Progress(t.Context(), v)
			require.NoError(t, err)
			require.True(t, p.DayComplete)
			require.Zero(t, p.PaginationCursor)
		}
	})

	t.Run("skips vaults inside the window", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.addVault(2, 100_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000))

		c := f.cranker(nil)
		_, err := c.RunOnce(t.Context())
		require.NoError(t, err)

		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000))
		f.clock.Advance(time.Hour)
		runs, err := c.RunOnce(t.Context())
		require.NoError(t, err)
		require.Len(t, runs, 1)
		require.True(t, runs[0].Skipped)
		require.Zero(t, runs[0].Pages)

		f.clock.Advance(24 * time.Hour)
		runs, err = c.RunOnce(t.Context())
		require.NoError(t, err)
		require.False(t, runs[0].Skipped)
		require.True(t, runs[0].DayClosed)
	})

	t.Run("resumes from the stored cursor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.addVault(45, 100_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000_000))

		_, err := f.engine.Crank(t.Context(), distribution.CrankRequest{Vault: v.key, Page: v.investors[:20]})
		require.NoError(t, err)

		runs, err := f.cranker(nil).RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2, runs[0].Pages)
		require.True(t, runs[0].DayClosed)
		for _, inv := range v.investors {
			require.Equal(t, uint64(10_000), f.balanceOf(inv.PayoutDest))
		}
	})

	t.Run("closes a vault without investors", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.addVault(0, 0)
		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 5_000))

		runs, err := f.cranker(nil).RunOnce(t.Context())
		require.NoError(t, err)
		require.Equal(t, 1, runs[0].Pages)
		require.Equal(t, uint64(5_000), f.balanceOf(v.creatorDest))
	})
}

type flakyDirectory struct {
	cranker.Directory
	fail solana.PublicKey
}

func (d flakyDirectory) Investors(ctx context.Context, vault solana.PublicKey) ([]distribution.PageEntry, error) {
	if vault == d.fail {
		return nil, errors.New("directory unavailable")
	}
	return d.Directory.Investors(ctx, vault)
}

type flakyEngine struct {
	cranker.Engine
	failures atomic.Int32
}

func (e *flakyEngine) Crank(ctx context.Context, req distribution.CrankRequest) (*distribution.CrankResult, error) {
	if e.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return e.Engine.Crank(ctx, req)
}

func TestFeeVault_Cranker_Failures(t *testing.T) {
	t.Parallel()

	t.Run("one vault failing does not stop the rest", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		bad := f.addVault(2, 100_000)
		good := f.addVault(2, 100_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), good.key, 1_000))

		var reported []solana.PublicKey
		c := f.cranker(func(cfg *cranker.Config) {
			cfg.Directory = flakyDirectory{Directory: f.store, fail: bad.key}
			cfg.Concurrency = 1
			cfg.ErrorReporter = func(vault solana.PublicKey, _ error) { reported = append(reported, vault) }
		})
		_, err := c.RunOnce(t.Context())
		require.ErrorContains(t, err, "directory unavailable")
		require.Equal(t, []solana.PublicKey{bad.key}, reported)

		p, err := f.engine.Progress(t.Context(), good.key)
		require.NoError(t, err)
		require.True(t, p.DayComplete)
	})

	t.Run("retries transient crank errors", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.addVault(2, 100_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000))

		engine := &flakyEngine{Engine: f.engine}
		engine.failures.Store(2)
		runs, err := f.cranker(func(cfg *cranker.Config) { cfg.Engine = engine }).RunOnce(t.Context())
		require.NoError(t, err)
		require.True(t, runs[0].DayClosed)

		engine.failures.Store(5)
		f.clock.Advance(24 * time.Hour)
		_, err = f.cranker(func(cfg *cranker.Config) { cfg.Engine = engine }).RunOnce(t.Context())
		require.ErrorContains(t, err, "failed after 3 attempts")
	})

	t.Run("does not retry rejected cranks", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		v := f.addVault(1, 100_000)
		require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000))
		// A payout destination the directory lost is rejected by the engine.
		v.investors[0].PayoutDest = solana.PublicKey{}
		require.NoError(t, f.store.ReplaceInvestors(t.Context(), v.key, v.investors))

		_, err := f.cranker(nil).RunOnce(t.Context())
		require.ErrorIs(t, err, distribution.ErrInvalidPageParameters)
		require.NotContains(t, err.Error(), "attempts")
	})
}

func TestFeeVault_Cranker_Start(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	v := f.addVault(2, 100_000)
	require.NoError(t, f.store.AccrueFees(t.Context(), v.key, 1_000))

	c := f.cranker(func(cfg *cranker.Config) { cfg.Schedule = "@every 1h" })
	require.False(t, c.Ready())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	waitCtx, waitCancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, c.WaitReady(waitCtx))
	require.True(t, c.Ready())

	p, err := f.engine.Progress(t.Context(), v.key)
	require.NoError(t, err)
	require.True(t, p.DayComplete)
}
