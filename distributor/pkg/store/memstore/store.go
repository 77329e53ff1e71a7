package memstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

// Transfer is a committed treasury transfer.
type Transfer struct {
	ID        uuid.UUID
	Vault     solana.PublicKey
	Dest      solana.PublicKey
	Amount    uint64
	CreatedAt time.Time
}

// Store keeps vault records, treasuries and payout balances in memory.
type Store struct {
	// TransferHook, when set, runs before every transfer and can fail it.
	TransferHook func(vault, dest solana.PublicKey, amount uint64) error

	mu        sync.Mutex
	vaults    map[solana.PublicKey]*vault
	balances  map[solana.PublicKey]uint64
	transfers []Transfer
	investors map[solana.PublicKey][]distribution.PageEntry
}

type vault struct {
	mu    sync.Mutex
	state state
}

type state struct {
	policy   *distribution.Policy
	progress *distribution.Progress
	position *distribution.Position
	treasury uint64
	accrued  uint64
}

func New() *Store {
	return &Store{
		vaults:    make(map[solana.PublicKey]*vault),
		balances:  make(map[solana.PublicKey]uint64),
		investors: make(map[solana.PublicKey][]distribution.PageEntry),
	}
}

func (s *Store) vault(key solana.PublicKey) *vault {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[key]
	if !ok {
		v = &vault{}
		s.vaults[key] = v
	}
	return v
}

func (s *Store) WithTx(ctx context.Context, key solana.PublicKey, fn func(ctx context.Context, tx distribution.Tx) error) error {
	v := s.vault(key)
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := &tx{store: s, vault: key, state: v.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}

	v.state = work.state
	if len(work.transfers) > 0 {
		s.mu.Lock()
		for _, t := range work.transfers {
			s.balances[t.Dest] += t.Amount
			s.transfers = append(s.transfers, t)
		}
		s.mu.Unlock()
	}
	return nil
}

// AccrueFees records fees earned by the vault's position that have not been claimed yet.
func (s *Store) AccrueFees(_ context.Context, key solana.PublicKey, amount uint64) error {
	v := s.vault(key)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.accrued+amount < v.state.accrued {
		return fmt.Errorf("%w: accrued fees for %s", distribution.ErrMathOverflow, key)
	}
	v.state.accrued += amount
	return nil
}

// Deposit credits the treasury directly, without going through a claim.
func (s *Store) Deposit(_ context.Context, key solana.PublicKey, amount uint64) error {
	v := s.vault(key)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.treasury+amount < v.state.treasury {
		return fmt.Errorf("%w: treasury for %s", distribution.ErrMathOverflow, key)
	}
	v.state.treasury += amount
	return nil
}

// Treasury returns the vault's treasury balance and its unclaimed accrued fees.
func (s *Store) Treasury(_ context.Context, key solana.PublicKey) (balance, accrued uint64, err error) {
	v := s.vault(key)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.treasury, v.state.accrued, nil
}

// BalanceOf is the total received by a payout destination.
func (s *Store) BalanceOf(_ context.Context, dest solana.PublicKey) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[dest], nil
}

func (s *Store) Transfers() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transfers)
}

// ReplaceInvestors replaces the vault's investor directory. Order is preserved.
func (s *Store) ReplaceInvestors(_ context.Context, key solana.PublicKey, investors []distribution.PageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investors[key] = slices.Clone(investors)
	return nil
}

// Investors returns the vault's investor directory in order.
func (s *Store) Investors(_ context.Context, key solana.PublicKey) ([]distribution.PageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.investors[key]), nil
}

// Vaults lists every vault that has a policy.
func (s *Store) Vaults(_ context.Context) ([]solana.PublicKey, error) {
	s.mu.Lock()
	keys := make([]*vault, 0, len(s.vaults))
	ids := make([]solana.PublicKey, 0, len(s.vaults))
	for id, v := range s.vaults {
		ids = append(ids, id)
		keys = append(keys, v)
	}
	s.mu.Unlock()

	var out []solana.PublicKey
	for i, v := range keys {
		v.mu.Lock()
		if v.state.policy != nil {
			out = append(out, ids[i])
		}
		v.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })
	return out, nil
}

func (st state) clone() state {
	out := st
	if st.policy != nil {
		p := *st.policy
		if st.policy.DailyCap != nil {
			c := *st.policy.DailyCap
			p.DailyCap = &c
		}
		out.policy = &p
	}
	if st.progress != nil {
		p := *st.progress
		out.progress = &p
	}
	if st.position != nil {
		p := *st.position
		out.position = &p
	}
	return out
}

type tx struct {
	store     *Store
	vault     solana.PublicKey
	state     state
	transfers []Transfer
}

func (t *tx) Policy(_ context.Context) (*distribution.Policy, error) {
	if t.state.policy == nil {
		return nil, fmt.Errorf("%w: %s", distribution.ErrRecordNotFound, distribution.KeyFor(t.vault, distribution.RecordPolicy))
	}
	return t.state.clone().policy, nil
}

func (t *tx) InsertPolicy(_ context.Context, policy *distribution.Policy) error {
	if t.state.policy != nil {
		return fmt.Errorf("%w: %s", distribution.ErrRecordExists, distribution.KeyFor(t.vault, distribution.RecordPolicy))
	}
	t.state.policy = state{policy: policy}.clone().policy
	return nil
}

func (t *tx) Progress(_ context.Context) (*distribution.Progress, error) {
	if t.state.progress == nil {
		return nil, fmt.Errorf("%w: %s", distribution.ErrRecordNotFound, distribution.KeyFor(t.vault, distribution.RecordProgress))
	}
	p := *t.state.progress
	return &p, nil
}

func (t *tx) InsertProgress(_ context.Context, progress *distribution.Progress) error {
	if t.state.progress != nil {
		return fmt.Errorf("%w: %s", distribution.ErrRecordExists, distribution.KeyFor(t.vault, distribution.RecordProgress))
	}
	p := *progress
	p.Version = 1
	t.state.progress = &p
	return nil
}

func (t *tx) UpdateProgress(_ context.Context, progress *distribution.Progress) error {
	if t.state.progress == nil {
		return fmt.Errorf("%w: %s", distribution.ErrRecordNotFound, distribution.KeyFor(t.vault, distribution.RecordProgress))
	}
	if progress.Version != t.state.progress.Version {
		return fmt.Errorf("progress version conflict: have %d, stored %d", progress.Version, t.state.progress.Version)
	}
	p := *progress
	p.Version++
	t.state.progress = &p
	progress.Version = p.Version
	return nil
}

func (t *tx) Position(_ context.Context) (*distribution.Position, error) {
	if t.state.position == nil {
		return nil, fmt.Errorf("%w: %s", distribution.ErrRecordNotFound, distribution.KeyFor(t.vault, distribution.RecordPosition))
	}
	p := *t.state.position
	return &p, nil
}

func (t *tx) InsertPosition(_ context.Context, position *distribution.Position) error {
	if t.state.position != nil {
		return fmt.Errorf("%w: %s", distribution.ErrRecordExists, distribution.KeyFor(t.vault, distribution.RecordPosition))
	}
	p := *position
	t.state.position = &p
	return nil
}

func (t *tx) Custodian() distribution.FeeCustodian {
	return custodian{tx: t}
}

type custodian struct {
	tx *tx
}

func (c custodian) ClaimFees(_ context.Context) (uint64, error) {
	claimed := c.tx.state.accrued
	if c.tx.state.treasury+claimed < c.tx.state.treasury {
		return 0, fmt.Errorf("%w: treasury %d cannot take %d claimed fees", distribution.ErrMathOverflow, c.tx.state.treasury, claimed)
	}
	c.tx.state.treasury += claimed
	c.tx.state.accrued = 0
	return claimed, nil
}

func (c custodian) ClaimableBalance(_ context.Context) (uint64, error) {
	return c.tx.state.treasury, nil
}

func (c custodian) Transfer(_ context.Context, amount uint64, dest solana.PublicKey) error {
	if hook := c.tx.store.TransferHook; hook != nil {
		if err := hook(c.tx.vault, dest, amount); err != nil {
			return err
		}
	}
	if amount > c.tx.state.treasury {
		return fmt.Errorf("%w: balance %d, transfer %d", distribution.ErrInsufficientFeeBalance, c.tx.state.treasury, amount)
	}
	c.tx.state.treasury -= amount
	c.tx.transfers = append(c.tx.transfers, Transfer{
		ID:        uuid.New(),
		Vault:     c.tx.vault,
		Dest:      dest,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}
