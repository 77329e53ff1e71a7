// Package registry loads the YAML file that describes the pools, vaults and investor
// directories a feevault deployment serves.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
	"gopkg.in/yaml.v3"
)

// File mirrors the registry YAML.
type File struct {
	Pools  []PoolEntry  `yaml:"pools"`
	Vaults []VaultEntry `yaml:"vaults"`
}

type PoolEntry struct {
	Address     string `yaml:"address"`
	Mint0       string `yaml:"mint0"`
	Mint1       string `yaml:"mint1"`
	CurrentTick int32  `yaml:"current_tick"`
}

type VaultEntry struct {
	Vault               string          `yaml:"vault"`
	Creator             string          `yaml:"creator"`
	CreatorPayoutDest   string          `yaml:"creator_payout_dest"`
	QuoteMint           string          `yaml:"quote_mint"`
	InvestorFeeShareBps uint16          `yaml:"investor_fee_share_bps"`
	DailyCap            *uint64         `yaml:"daily_cap"`
	MinPayout           uint64          `yaml:"min_payout"`
	Y0TotalAllocation   uint64          `yaml:"y0_total_allocation"`
	Position            *PositionEntry  `yaml:"position"`
	Investors           []InvestorEntry `yaml:"investors"`
}

type PositionEntry struct {
	Pool           string `yaml:"pool"`
	TickLower      int32  `yaml:"tick_lower"`
	TickUpper      int32  `yaml:"tick_upper"`
	QuoteIsPrimary bool   `yaml:"quote_is_primary"`
	Liquidity      uint64 `yaml:"liquidity"`
}

type InvestorEntry struct {
	Investor   string         `yaml:"investor"`
	Stream     string         `yaml:"stream"`
	PayoutDest string         `yaml:"payout_dest"`
	Schedule   *ScheduleEntry `yaml:"schedule"`
}

type ScheduleEntry struct {
	Kind      string `yaml:"kind"`
	Start     int64  `yaml:"start"`
	Cliff     int64  `yaml:"cliff"`
	End       int64  `yaml:"end"`
	Total     uint64 `yaml:"total"`
	Withdrawn uint64 `yaml:"withdrawn"`
}

// Vault is a resolved vault entry.
type Vault struct {
	Policy    distribution.InitializePolicyParams
	Position  *distribution.InitializePositionParams
	Investors []distribution.PageEntry
	Schedules map[solana.PublicKey]vesting.Schedule
}

// Registry is a resolved registry file.
type Registry struct {
	Pools  []distribution.Pool
	Vaults []Vault
}

// Load reads and resolves the registry at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and resolves registry YAML.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	return f.Resolve()
}

// Resolve parses every key and schedule in the file.
func (f *File) Resolve() (*Registry, error) {
	r := &Registry{}
	for i, p := range f.Pools {
		pool, err := p.resolve()
		if err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		r.Pools = append(r.Pools, pool)
	}

	seen := make(map[solana.PublicKey]struct{}, len(f.Vaults))
	for i, v := range f.Vaults {
		vault, err := v.resolve()
		if err != nil {
			return nil, fmt.Errorf("vaults[%d]: %w", i, err)
		}
		if _, ok := seen[vault.Policy.Vault]; ok {
			return nil, fmt.Errorf("vaults[%d]: duplicate vault %s", i, vault.Policy.Vault)
		}
		seen[vault.Policy.Vault] = struct{}{}
		r.Vaults = append(r.Vaults, vault)
	}
	return r, nil
}

func (p PoolEntry) resolve() (distribution.Pool, error) {
	var (
		pool distribution.Pool
		err  error
	)
	if pool.Address, err = parseKey("address", p.Address); err != nil {
		return pool, err
	}
	if pool.Mint0, err = parseKey("mint0", p.Mint0); err != nil {
		return pool, err
	}
	if pool.Mint1, err = parseKey("mint1", p.Mint1); err != nil {
		return pool, err
	}
	pool.CurrentTick = p.CurrentTick
	return pool, nil
}

func (v VaultEntry) resolve() (Vault, error) {
	out := Vault{
		Policy: distribution.InitializePolicyParams{
			InvestorFeeShareBps: v.InvestorFeeShareBps,
			DailyCap:            v.DailyCap,
			MinPayout:           v.MinPayout,
			Y0TotalAllocation:   v.Y0TotalAllocation,
		},
		Schedules: make(map[solana.PublicKey]vesting.Schedule),
	}
	var err error
	if out.Policy.Vault, err = parseKey("vault", v.Vault); err != nil {
		return out, err
	}
	if out.Policy.Creator, err = parseKey("creator", v.Creator); err != nil {
		return out, err
	}
	if out.Policy.CreatorPayoutDest, err = parseKey("creator_payout_dest", v.CreatorPayoutDest); err != nil {
		return out, err
	}
	if out.Policy.QuoteMint, err = parseKey("quote_mint", v.QuoteMint); err != nil {
		return out, err
	}

	if v.Position != nil {
		pool, err := parseKey("position.pool", v.Position.Pool)
		if err != nil {
			return out, err
		}
		out.Position = &distribution.InitializePositionParams{
			Vault:          out.Policy.Vault,
			Pool:           pool,
			TickLower:      v.Position.TickLower,
			TickUpper:      v.Position.TickUpper,
			QuoteIsPrimary: v.Position.QuoteIsPrimary,
			Liquidity:      v.Position.Liquidity,
		}
	}

	for i, inv := range v.Investors {
		var e distribution.PageEntry
		if e.Investor, err = parseKey("investor", inv.Investor); err != nil {
			return out, fmt.Errorf("investors[%d]: %w", i, err)
		}
		if e.Stream, err = parseKey("stream", inv.Stream); err != nil {
			return out, fmt.Errorf("investors[%d]: %w", i, err)
		}
		if e.PayoutDest, err = parseKey("payout_dest", inv.PayoutDest); err != nil {
			return out, fmt.Errorf("investors[%d]: %w", i, err)
		}
		if inv.Schedule != nil {
			schedule, err := inv.Schedule.resolve()
			if err != nil {
				return out, fmt.Errorf("investors[%d]: %w", i, err)
			}
			out.Schedules[e.Stream] = schedule
		}
		out.Investors = append(out.Investors, e)
	}
	return out, nil
}

func (s ScheduleEntry) resolve() (vesting.Schedule, error) {
	kind, err := vesting.ParseKind(s.Kind)
	if err != nil {
		return vesting.Schedule{}, err
	}
	schedule := vesting.Schedule{
		Kind:      kind,
		Start:     s.Start,
		Cliff:     s.Cliff,
		End:       s.End,
		Total:     s.Total,
		Withdrawn: s.Withdrawn,
	}
	if kind == vesting.KindLinear && schedule.Cliff == 0 {
		schedule.Cliff = schedule.Start
	}
	if err := schedule.Validate(); err != nil {
		return vesting.Schedule{}, err
	}
	return schedule, nil
}

func parseKey(field, s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", field)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return pk, nil
}

// Engine is the part of the distribution engine the registry bootstraps.
type Engine interface {
	InitializePolicy(ctx context.Context, params distribution.InitializePolicyParams) (*distribution.Policy, error)
	InitializePosition(ctx context.Context, params distribution.InitializePositionParams) (*distribution.Position, error)
}

// Directory stores each vault's ordered investor list.
type Directory interface {
	ReplaceInvestors(ctx context.Context, vault solana.PublicKey, investors []distribution.PageEntry) error
}

// ApplyConfig selects what Apply writes. Nil fields are skipped.
type ApplyConfig struct {
	Logger    *slog.Logger
	Engine    Engine
	Directory Directory
	Vesting   *vesting.StaticSource
	Pools     *distribution.StaticPools
}

// Apply loads the registry into the running components. Vaults and positions that already
// exist are left as they are.
func (r *Registry) Apply(ctx context.Context, cfg ApplyConfig) error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pools != nil {
		for _, p := range r.Pools {
			cfg.Pools.Set(p)
		}
	}

	for _, v := range r.Vaults {
		vault := v.Policy.Vault
		if cfg.Vesting != nil {
			for stream, schedule := range v.Schedules {
				if err := cfg.Vesting.Set(stream, schedule); err != nil {
					return fmt.Errorf("vault %s: %w", vault, err)
				}
			}
		}

		if cfg.Engine != nil {
			if _, err := cfg.Engine.InitializePolicy(ctx, v.Policy); err != nil {
				if !errors.Is(err, distribution.ErrPolicyAlreadyInitialized) {
					return fmt.Errorf("failed to initialize policy for %s: %w", vault, err)
				}
				cfg.Logger.Debug("registry: policy already initialized", "vault", vault)
			}
			if v.Position != nil {
				if _, err := cfg.Engine.InitializePosition(ctx, *v.Position); err != nil {
					if !errors.Is(err, distribution.ErrPositionAlreadyInitialized) {
						return fmt.Errorf("failed to initialize position for %s: %w", vault, err)
					}
					cfg.Logger.Debug("registry: position already initialized", "vault", vault)
				}
			}
		}

		if cfg.Directory != nil {
			if err := cfg.Directory.ReplaceInvestors(ctx, vault, v.Investors); err != nil {
				return fmt.Errorf("failed to store investors for %s: %w", vault, err)
			}
		}

		cfg.Logger.Info("registry: vault applied", "vault", vault, "investors", len(v.Investors))
	}
	return nil
}
