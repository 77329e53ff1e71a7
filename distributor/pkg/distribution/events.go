package distribution

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

type EventType string

const (
	EventPolicyInitialized   EventType = "policy_initialized"
	EventPositionInitialized EventType = "position_initialized"
	EventFeesClaimed         EventType = "fees_claimed"
	EventInvestorPayout      EventType = "investor_payout"
	EventCreatorPayout       EventType = "creator_payout"
	EventDustCarriedOver     EventType = "dust_carried_over"
)

// Event is an observable fact emitted by a committed operation.
type Event interface {
	Type() EventType
	VaultID() solana.PublicKey
}

// EventSink receives events after the operation that produced them has committed.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

type PolicyInitialized struct {
	Vault               solana.PublicKey `json:"vault"`
	Creator             solana.PublicKey `json:"creator"`
	QuoteMint           solana.PublicKey `json:"quote_mint"`
	InvestorFeeShareBps uint16           `json:"investor_fee_share_bps"`
	DailyCap            *uint64          `json:"daily_cap,omitempty"`
	Y0TotalAllocation   uint64           `json:"y0_total_allocation"`
	Timestamp           int64            `json:"timestamp"`
}

func (e PolicyInitialized) Type() EventType           { return EventPolicyInitialized }
func (e PolicyInitialized) VaultID() solana.PublicKey { return e.Vault }

type PositionInitialized struct {
	Vault          solana.PublicKey `json:"vault"`
	Pool           solana.PublicKey `json:"pool"`
	PositionID     solana.PublicKey `json:"position_id"`
	TickLower      int32            `json:"tick_lower"`
	TickUpper      int32            `json:"tick_upper"`
	QuoteIsPrimary bool             `json:"quote_is_primary"`
	Liquidity      uint64           `json:"liquidity"`
	Timestamp      int64            `json:"timestamp"`
}

func (e PositionInitialized) Type() EventType           { return EventPositionInitialized }
func (e PositionInitialized) VaultID() solana.PublicKey { return e.Vault }

type FeesClaimed struct {
	Vault            solana.PublicKey `json:"vault"`
	Amount           uint64           `json:"amount"`
	TotalDistributed uint64           `json:"total_distributed"`
	Page             uint32           `json:"page"`
	Timestamp        int64            `json:"timestamp"`
}

func (e FeesClaimed) Type() EventType           { return EventFeesClaimed }
func (e FeesClaimed) VaultID() solana.PublicKey { return e.Vault }

type InvestorPayout struct {
	Vault        solana.PublicKey `json:"vault"`
	Investor     solana.PublicKey `json:"investor"`
	Amount       uint64           `json:"amount"`
	LockedAmount uint64           `json:"locked_amount"`
	Page         uint32           `json:"page"`
	Timestamp    int64            `json:"timestamp"`
}

func (e InvestorPayout) Type() EventType           { return EventInvestorPayout }
func (e InvestorPayout) VaultID() solana.PublicKey { return e.Vault }

type CreatorPayout struct {
	Vault                       solana.PublicKey `json:"vault"`
	Creator                     solana.PublicKey `json:"creator"`
	Amount                      uint64           `json:"amount"`
	DayStart                    int64            `json:"day_start"`
	TotalDistributedToInvestors uint64           `json:"total_distributed_to_investors"`
	Timestamp                   int64            `json:"timestamp"`
}

func (e CreatorPayout) Type() EventType           { return EventCreatorPayout }
func (e CreatorPayout) VaultID() solana.PublicKey { return e.Vault }

type DustCarriedOver struct {
	Vault      solana.PublicKey `json:"vault"`
	DustAmount uint64           `json:"dust_amount"`
	Page       uint32           `json:"page"`
	Timestamp  int64            `json:"timestamp"`
}

func (e DustCarriedOver) Type() EventType           { return EventDustCarriedOver }
func (e DustCarriedOver) VaultID() solana.PublicKey { return e.Vault }
