package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var ErrPoolNotFound = errors.New("pool not found")

// StaticPools is a PoolReader over a fixed set of pools.
type StaticPools struct {
	mu    sync.RWMutex
	pools map[solana.PublicKey]Pool
}

func NewStaticPools(pools ...Pool) *StaticPools {
	p := &StaticPools{pools: make(map[solana.PublicKey]Pool, len(pools))}
	for _, pool := range pools {
		p.pools[pool.Address] = pool
	}
	return p
}

// Set adds or replaces a pool.
func (p *StaticPools) Set(pool Pool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[pool.Address] = pool
}

func (p *StaticPools) Pool(_ context.Context, address solana.PublicKey) (Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pool, ok := p.pools[address]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrPoolNotFound, address)
	}
	return pool, nil
}

// DerivedPositions assigns each vault's position the program address derived from the vault and pool.
type DerivedPositions struct {
	ProgramID solana.PublicKey
}

func (d DerivedPositions) OpenPosition(_ context.Context, vault, pool solana.PublicKey, _, _ int32, _ uint64) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("position"), vault[:], pool[:]}, d.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive position address: %w", err)
	}
	return addr, nil
}
