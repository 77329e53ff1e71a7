package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

type InitializePolicyParams struct {
	Vault               solana.PublicKey `json:"vault"`
	Creator             solana.PublicKey `json:"creator"`
	CreatorPayoutDest   solana.PublicKey `json:"creator_payout_dest"`
	QuoteMint           solana.PublicKey `json:"quote_mint"`
	InvestorFeeShareBps uint16           `json:"investor_fee_share_bps"`
	DailyCap            *uint64          `json:"daily_cap,omitempty"`
	MinPayout           uint64           `json:"min_payout"`
	Y0TotalAllocation   uint64           `json:"y0_total_allocation"`
}

// InitializePolicy creates the vault's policy together with its initial progress record.
func (e *Engine) InitializePolicy(ctx context.Context, params InitializePolicyParams) (*Policy, error) {
	now := e.now()
	policy := &Policy{
		Vault:               params.Vault,
		Creator:             params.Creator,
		CreatorPayoutDest:   params.CreatorPayoutDest,
		QuoteMint:           params.QuoteMint,
		InvestorFeeShareBps: params.InvestorFeeShareBps,
		DailyCap:            params.DailyCap,
		MinPayout:           params.MinPayout,
		Y0TotalAllocation:   params.Y0TotalAllocation,
		CreatedAt:           now,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	err := e.cfg.Store.WithTx(ctx, params.Vault, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertPolicy(ctx, policy); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: %s", ErrPolicyAlreadyInitialized, params.Vault)
			}
			return fmt.Errorf("failed to insert policy: %w", err)
		}
		if err := tx.InsertProgress(ctx, NewProgress(params.Vault)); err != nil {
			if errors.Is(err, ErrRecordExists) {
				return fmt.Errorf("%w: progress for %s", ErrPolicyAlreadyInitialized, params.Vault)
			}
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("distribution: policy initialized",
		"vault", policy.Vault,
		"investor_fee_share_bps", policy.InvestorFeeShareBps,
		"y0_total_allocation", policy.Y0TotalAllocation,
		"min_payout", policy.MinPayout)

	e.publish(ctx, []Event{PolicyInitialized{
		Vault:               policy.Vault,
		Creator:             policy.Creator,
		QuoteMint:           policy.QuoteMint,
		InvestorFeeShareBps: policy.InvestorFeeShareBps,
		DailyCap:            policy.DailyCap,
		Y0TotalAllocation:   policy.Y0TotalAllocation,
		Timestamp:           now,
	}})
	return policy, nil
}
