package distribution_test

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/stretchr/testify/require"
)

func TestFeeVault_Distribution_CheckOneSided(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		lower, upper   int32
		quoteIsPrimary bool
		wantErr        error
	}{
		{name: "primary above current tick", lower: 1100, upper: 1200, quoteIsPrimary: true},
		{name: "primary straddling current tick", lower: 900, upper: 1100, quoteIsPrimary: true, wantErr: distribution.ErrPositionWouldAccrueBaseFees},
		{name: "primary starting at current tick", lower: 1000, upper: 1100, quoteIsPrimary: true, wantErr: distribution.ErrPositionWouldAccrueBaseFees},
		{name: "secondary below current tick", lower: 800, upper: 900},
		{name: "secondary straddling current tick", lower: 900, upper: 1100, wantErr: distribution.ErrPositionWouldAccrueBaseFees},
		{name: "secondary ending at current tick", lower: 900, upper: 1000, wantErr: distribution.ErrPositionWouldAccrueBaseFees},
		{name: "inverted range", lower: 1200, upper: 1100, quoteIsPrimary: true, wantErr: distribution.ErrInvalidTickRange},
		{name: "empty range", lower: 1100, upper: 1100, quoteIsPrimary: true, wantErr: distribution.ErrInvalidTickRange},
		{name: "below minimum tick", lower: distribution.MinTick - 1, upper: 0, wantErr: distribution.ErrTickOutOfBounds},
		{name: "above maximum tick", lower: 2000, upper: distribution.MaxTick + 1, quoteIsPrimary: true, wantErr: distribution.ErrTickOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := distribution.CheckOneSided(tt.lower, tt.upper, 1000, tt.quoteIsPrimary)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFeeVault_Distribution_InitializePolicy(t *testing.T) {
	t.Parallel()

	t.Run("creates policy and progress", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		capAmount := uint64(5_000)
		params := h.policyParams()
		params.DailyCap = &capAmount

		policy, err := h.engine.InitializePolicy(t.Context(), params)
		require.NoError(t, err)
		require.Equal(t, genesis.Unix(), policy.CreatedAt)

		stored, err := h.engine.Policy(t.Context(), h.vault)
		require.NoError(t, err)
		require.Equal(t, policy, stored)

		progress := h.progress()
		require.True(t, progress.DayComplete)
		require.Zero(t, progress.PaginationCursor)
		require.Zero(t, progress.LastDistributionTime)
		require.Equal(t, uint64(1), progress.Version)

		events := h.sink.Take()
		require.Len(t, events, 1)
		ev := events[0].(distribution.PolicyInitialized)
		require.Equal(t, uint16(5000), ev.InvestorFeeShareBps)
		require.Equal(t, &capAmount, ev.DailyCap)
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)

		params := h.policyParams()
		params.InvestorFeeShareBps = 10_001
		_, err := h.engine.InitializePolicy(t.Context(), params)
		require.ErrorIs(t, err, distribution.ErrInvalidFeeShareBps)

		params = h.policyParams()
		params.Y0TotalAllocation = 0
		_, err = h.engine.InitializePolicy(t.Context(), params)
		require.ErrorIs(t, err, distribution.ErrInvalidY0Allocation)

		_, err = h.engine.Policy(t.Context(), h.vault)
		require.ErrorIs(t, err, distribution.ErrVaultNotInitialized)
		require.Empty(t, h.sink.Take())
	})

	t.Run("rejects a second initialization", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)

		params := h.policyParams()
		params.InvestorFeeShareBps = 1
		_, err = h.engine.InitializePolicy(t.Context(), params)
		require.ErrorIs(t, err, distribution.ErrPolicyAlreadyInitialized)

		stored, err := h.engine.Policy(t.Context(), h.vault)
		require.NoError(t, err)
		require.Equal(t, uint16(5000), stored.InvestorFeeShareBps)
	})
}

func TestFeeVault_Distribution_InitializePosition(t *testing.T) {
	t.Parallel()

	t.Run("records a one-sided position", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)

		position, err := h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault:     h.vault,
			Pool:      h.pool,
			TickLower: 800,
			TickUpper: 900,
		})
		require.NoError(t, err)
		require.Equal(t, uint64(1), position.Liquidity)
		require.False(t, position.PositionID.IsZero())

		want, _, err := solana.FindProgramAddress([][]byte{[]byte("position"), h.vault[:], h.pool[:]}, solana.SystemProgramID)
		require.NoError(t, err)
		require.Equal(t, want, position.PositionID)

		stored, err := h.engine.Position(t.Context(), h.vault)
		require.NoError(t, err)
		require.Equal(t, position, stored)

		events := h.sink.Take()
		require.Equal(t, []distribution.EventType{
			distribution.EventPolicyInitialized,
			distribution.EventPositionInitialized,
		}, eventTypes(events))
	})

	t.Run("requires a policy", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 800, TickUpper: 900,
		})
		require.ErrorIs(t, err, distribution.ErrVaultNotInitialized)
	})

	t.Run("rejects an unknown pool", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: newKey(), TickLower: 800, TickUpper: 900,
		})
		require.ErrorIs(t, err, distribution.ErrPoolNotFound)
	})

	t.Run("quote mint on the wrong side", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 1100, TickUpper: 1200, QuoteIsPrimary: true,
		})
		require.ErrorIs(t, err, distribution.ErrQuoteMintNotInPool)
	})

	t.Run("range that would earn base fees", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 900, TickUpper: 1100,
		})
		require.ErrorIs(t, err, distribution.ErrPositionWouldAccrueBaseFees)

		_, err = h.engine.Position(t.Context(), h.vault)
		require.ErrorIs(t, err, distribution.ErrVaultNotInitialized)
	})

	t.Run("rejects a second position", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, err := h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 700, TickUpper: 800,
		})
		require.ErrorIs(t, err, distribution.ErrPositionAlreadyInitialized)
		require.Equal(t, 1, h.opener.Calls())
	})

	t.Run("rejected ranges never open a position", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 800, TickUpper: 900,
		})
		require.ErrorIs(t, err, distribution.ErrVaultNotInitialized)

		_, err = h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 1100, TickUpper: 1200, QuoteIsPrimary: true,
		})
		require.ErrorIs(t, err, distribution.ErrQuoteMintNotInPool)
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 900, TickUpper: 1100,
		})
		require.ErrorIs(t, err, distribution.ErrPositionWouldAccrueBaseFees)
		require.Zero(t, h.opener.Calls())
	})

	t.Run("failed open records nothing", func(t *testing.T) {
		t.Parallel()
		h := newEngineHarness(t)
		_, err := h.engine.InitializePolicy(t.Context(), h.policyParams())
		require.NoError(t, err)
		h.sink.Take()

		boom := errors.New("boom")
		h.opener.err = boom
		_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
			Vault: h.vault, Pool: h.pool, TickLower: 800, TickUpper: 900,
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, h.opener.Calls())

		_, err = h.engine.Position(t.Context(), h.vault)
		require.ErrorIs(t, err, distribution.ErrVaultNotInitialized)
		require.Empty(t, h.sink.Take())
	})
}
