package distribution

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	// SecondsPerDay is the minimum spacing between the starts of two distribution days.
	SecondsPerDay int64 = 86400
	// MaxPageSize is the maximum number of investors processed by one crank call.
	MaxPageSize = 20
	// MaxBps is 100% in basis points.
	MaxBps uint64 = 10_000
)

// Policy holds a vault's distribution rules. It never changes after creation.
type Policy struct {
	Vault               solana.PublicKey `json:"vault"`
	Creator             solana.PublicKey `json:"creator"`
	CreatorPayoutDest   solana.PublicKey `json:"creator_payout_dest"`
	QuoteMint           solana.PublicKey `json:"quote_mint"`
	InvestorFeeShareBps uint16           `json:"investor_fee_share_bps"`
	DailyCap            *uint64          `json:"daily_cap,omitempty"`
	MinPayout           uint64           `json:"min_payout"`
	Y0TotalAllocation   uint64           `json:"y0_total_allocation"`
	CreatedAt           int64            `json:"created_at"`
}

func (p *Policy) Validate() error {
	if uint64(p.InvestorFeeShareBps) > MaxBps {
		return fmt.Errorf("%w: %d", ErrInvalidFeeShareBps, p.InvestorFeeShareBps)
	}
	if p.Y0TotalAllocation == 0 {
		return ErrInvalidY0Allocation
	}
	if p.Vault.IsZero() || p.Creator.IsZero() || p.CreatorPayoutDest.IsZero() || p.QuoteMint.IsZero() {
		return fmt.Errorf("%w: vault, creator, creator payout destination and quote mint are required", ErrInvalidPageParameters)
	}
	return nil
}

// Phase is the position of a vault in the daily distribution cycle.
type Phase string

const (
	PhaseNewDayReady Phase = "new_day_ready"
	PhasePaginating  Phase = "paginating"
	PhaseWaiting     Phase = "waiting"
)

// Progress is the mutable per-vault distribution state.
type Progress struct {
	Vault                solana.PublicKey `json:"vault"`
	LastDistributionTime int64            `json:"last_distribution_time"`
	CurrentDayStart      int64            `json:"current_day_start"`
	DailyDistributed     uint64           `json:"daily_distributed"`
	CarryOverDust        uint64           `json:"carry_over_dust"`
	PaginationCursor     uint32           `json:"pagination_cursor"`
	DayComplete          bool             `json:"day_complete"`
	LifetimeClaimed      uint64           `json:"lifetime_claimed"`

	// DayClaimed is everything claimed since the current day started.
	DayClaimed uint64 `json:"day_claimed"`
	Version    uint64 `json:"version"`
}

// NewProgress returns the initial progress for a vault: a completed day that has never run.
func NewProgress(vault solana.PublicKey) *Progress {
	return &Progress{Vault: vault, DayComplete: true}
}

// Phase reports where the vault sits in the daily cycle at now.
func (p *Progress) Phase(now int64) Phase {
	if !p.DayComplete {
		return PhasePaginating
	}
	if p.LastDistributionTime == 0 || now >= p.NextDayAt() {
		return PhaseNewDayReady
	}
	return PhaseWaiting
}

// NextDayAt is the earliest time a new day may start.
func (p *Progress) NextDayAt() int64 {
	return p.LastDistributionTime + SecondsPerDay
}

// Check verifies the record against its invariants.
func (p *Progress) Check(policy *Policy) error {
	if p.DayComplete && p.PaginationCursor != 0 {
		return fmt.Errorf("%w: cursor %d on a completed day", ErrPaginationStateMismatch, p.PaginationCursor)
	}
	if policy != nil && policy.DailyCap != nil && p.DailyDistributed > *policy.DailyCap {
		return fmt.Errorf("%w: daily distributed %d exceeds cap %d", ErrPaginationStateMismatch, p.DailyDistributed, *policy.DailyCap)
	}
	if !p.DayComplete && p.DailyDistributed > p.DayClaimed {
		return fmt.Errorf("%w: daily distributed %d exceeds day claimed %d", ErrPaginationStateMismatch, p.DailyDistributed, p.DayClaimed)
	}
	return nil
}

// Position describes the vault's one-sided fee-bearing liquidity position.
type Position struct {
	Vault          solana.PublicKey `json:"vault"`
	Pool           solana.PublicKey `json:"pool"`
	PositionID     solana.PublicKey `json:"position_id"`
	TickLower      int32            `json:"tick_lower"`
	TickUpper      int32            `json:"tick_upper"`
	QuoteIsPrimary bool             `json:"quote_is_primary"`
	Liquidity      uint64           `json:"liquidity"`
	CreatedAt      int64            `json:"created_at"`
}

// Pool is a point-in-time view of an AMM pool.
type Pool struct {
	Address     solana.PublicKey `json:"address"`
	Mint0       solana.PublicKey `json:"mint0"`
	Mint1       solana.PublicKey `json:"mint1"`
	CurrentTick int32            `json:"current_tick"`
}

// PageEntry is one investor in a crank page.
type PageEntry struct {
	Investor   solana.PublicKey `json:"investor"`
	Stream     solana.PublicKey `json:"stream"`
	PayoutDest solana.PublicKey `json:"payout_dest"`
}

// InvestorLockSnapshot is an investor's locked amount as observed during one crank.
type InvestorLockSnapshot struct {
	Investor   solana.PublicKey `json:"investor"`
	PayoutDest solana.PublicKey `json:"payout_dest"`
	Locked     uint64           `json:"locked"`
}

// Payout is one transfer made by a crank.
type Payout struct {
	Recipient solana.PublicKey `json:"recipient"`
	Dest      solana.PublicKey `json:"dest"`
	Amount    uint64           `json:"amount"`
	Creator   bool             `json:"creator,omitempty"`
}

// CrankRequest asks the engine to process one page.
type CrankRequest struct {
	Vault      solana.PublicKey `json:"vault"`
	Page       []PageEntry      `json:"page"`
	IsLastPage bool             `json:"is_last_page"`

	// ExpectedCursor, when set, must equal the stored cursor.
	ExpectedCursor *uint32 `json:"expected_cursor,omitempty"`
}

// Validate checks the request shape without reading any state.
func (r *CrankRequest) Validate() error {
	if r.Vault.IsZero() {
		return fmt.Errorf("%w: vault is required", ErrInvalidPageParameters)
	}
	if len(r.Page) > MaxPageSize {
		return fmt.Errorf("%w: %d > %d", ErrInvalidInvestorCount, len(r.Page), MaxPageSize)
	}
	seen := make(map[solana.PublicKey]struct{}, len(r.Page))
	for i, e := range r.Page {
		if e.Stream.IsZero() || e.PayoutDest.IsZero() {
			return fmt.Errorf("%w: entry %d is missing its stream or payout destination", ErrInvalidPageParameters, i)
		}
		if _, ok := seen[e.Investor]; ok {
			return fmt.Errorf("%w: investor %s appears twice", ErrInvalidPageParameters, e.Investor)
		}
		seen[e.Investor] = struct{}{}
	}
	return nil
}

// CrankResult describes what one crank call did.
type CrankResult struct {
	CrankID          string                 `json:"crank_id"`
	Vault            solana.PublicKey       `json:"vault"`
	Page             uint32                 `json:"page"`
	NextCursor       uint32                 `json:"next_cursor"`
	DayStarted       bool                   `json:"day_started"`
	DayClosed        bool                   `json:"day_closed"`
	Claimed          uint64                 `json:"claimed"`
	TotalAvailable   uint64                 `json:"total_available"`
	LockedTotal      uint64                 `json:"locked_total"`
	FLockedBps       uint64                 `json:"f_locked_bps"`
	EligibleBps      uint64                 `json:"eligible_bps"`
	InvestorFeeTotal uint64                 `json:"investor_fee_total"`
	TotalDistributed uint64                 `json:"total_distributed"`
	Dust             uint64                 `json:"dust"`
	CarryOverDust    uint64                 `json:"carry_over_dust"`
	CreatorAmount    uint64                 `json:"creator_amount"`
	Snapshots        []InvestorLockSnapshot `json:"snapshots"`
	Payouts          []Payout               `json:"payouts"`
	Events           []Event                `json:"-"`
}
