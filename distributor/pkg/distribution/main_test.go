package distribution_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/store/memstore"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
	feetesting "github.com/malbeclabs/feevault/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

type recordingSink struct {
	mu     sync.Mutex
	events []distribution.Event
}

func (s *recordingSink) Publish(_ context.Context, events []distribution.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) Take() []distribution.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

type countingOpener struct {
	distribution.DerivedPositions

	mu    sync.Mutex
	calls int
	err   error
}

func (o *countingOpener) OpenPosition(ctx context.Context, vault, pool solana.PublicKey, tickLower, tickUpper int32, liquidity uint64) (solana.PublicKey, error) {
	o.mu.Lock()
	o.calls++
	err := o.err
	o.mu.Unlock()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return o.DerivedPositions.OpenPosition(ctx, vault, pool, tickLower, tickUpper, liquidity)
}

func (o *countingOpener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func eventTypes(events []distribution.Event) []distribution.EventType {
	out := make([]distribution.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type()
	}
	return out
}

type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	store   *memstore.Store
	vesting *vesting.StaticSource
	pools   *distribution.StaticPools
	opener  *countingOpener
	sink    *recordingSink
	engine  *distribution.Engine

	vault       solana.PublicKey
	creator     solana.PublicKey
	creatorDest solana.PublicKey
	quoteMint   solana.PublicKey
	baseMint    solana.PublicKey
	pool        solana.PublicKey
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

// newEngineHarness builds an engine on the memory store with nothing initialized.
func newEngineHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		clock:       clockwork.NewFakeClockAt(genesis),
		store:       memstore.New(),
		vesting:     vesting.NewStaticSource(),
		opener:      &countingOpener{DerivedPositions: distribution.DerivedPositions{ProgramID: solana.SystemProgramID}},
		sink:        &recordingSink{},
		vault:       newKey(),
		creator:     newKey(),
		creatorDest: newKey(),
		quoteMint:   newKey(),
		baseMint:    newKey(),
		pool:        newKey(),
	}
	h.pools = distribution.NewStaticPools(distribution.Pool{
		Address:     h.pool,
		Mint0:       h.baseMint,
		Mint1:       h.quoteMint,
		CurrentTick: 1000,
	})

	engine, err := distribution.NewEngine(distribution.EngineConfig{
		Logger:    feetesting.NewLogger(),
		Clock:     h.clock,
		Store:     h.store,
		Vesting:   h.vesting,
		Pools:     h.pools,
		Positions: h.opener,
		Events:    h.sink,
	})
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) policyParams() distribution.InitializePolicyParams {
	return distribution.InitializePolicyParams{
		Vault:               h.vault,
		Creator:             h.creator,
		CreatorPayoutDest:   h.creatorDest,
		QuoteMint:           h.quoteMint,
		InvestorFeeShareBps: 5000,
		Y0TotalAllocation:   10_000_000,
	}
}

// newHarness builds an engine and initializes the vault's policy and position.
func newHarness(t *testing.T, configure func(p *distribution.InitializePolicyParams)) *harness {
	t.Helper()
	h := newEngineHarness(t)

	params := h.policyParams()
	if configure != nil {
		configure(&params)
	}
	_, err := h.engine.InitializePolicy(t.Context(), params)
	require.NoError(t, err)

	_, err = h.engine.InitializePosition(t.Context(), distribution.InitializePositionParams{
		Vault:     h.vault,
		Pool:      h.pool,
		TickLower: 800,
		TickUpper: 900,
	})
	require.NoError(t, err)

	h.sink.Take()
	return h
}

// investor registers an investor whose full amount stays locked for years.
func (h *harness) investor(locked uint64) distribution.PageEntry {
	h.t.Helper()
	now := h.clock.Now().Unix()
	schedule, err := vesting.NewCliff(now, now+10*365*86400, now+20*365*86400, locked, 0)
	require.NoError(h.t, err)

	entry := distribution.PageEntry{Investor: newKey(), Stream: newKey(), PayoutDest: newKey()}
	require.NoError(h.t, h.vesting.Set(entry.Stream, schedule))
	return entry
}

func (h *harness) crank(page []distribution.PageEntry, last bool) (*distribution.CrankResult, error) {
	return h.engine.Crank(h.t.Context(), distribution.CrankRequest{
		Vault:      h.vault,
		Page:       page,
		IsLastPage: last,
	})
}

func (h *harness) progress() *distribution.Progress {
	h.t.Helper()
	p, err := h.engine.Progress(h.t.Context(), h.vault)
	require.NoError(h.t, err)
	return p
}

func (h *harness) accrue(amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.store.AccrueFees(h.t.Context(), h.vault, amount))
}

func (h *harness) balanceOf(dest solana.PublicKey) uint64 {
	h.t.Helper()
	v, err := h.store.BalanceOf(h.t.Context(), dest)
	require.NoError(h.t, err)
	return v
}

func (h *harness) treasury() (balance, accrued uint64) {
	h.t.Helper()
	balance, accrued, err := h.store.Treasury(h.t.Context(), h.vault)
	require.NoError(h.t, err)
	return balance, accrued
}
