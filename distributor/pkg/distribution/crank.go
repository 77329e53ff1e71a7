package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/feevault/distributor/pkg/metrics"
	"github.com/malbeclabs/feevault/distributor/pkg/vesting"
)

// Crank processes one page of investors for the vault's current distribution day.
//
// The first page of a day (stored cursor 0) opens the day once the previous day is complete
// and a full day has passed since it closed. Every page claims whatever the position has
// accrued, pays its investors pro rata to their locked balances and advances the cursor. The
// page marked IsLastPage sends the rest of the day's pool to the creator and closes the day.
// Either the whole page applies or nothing does.
func (e *Engine) Crank(ctx context.Context, req CrankRequest) (*CrankResult, error) {
	start := time.Now()
	res, err := e.crank(ctx, req)
	metrics.CrankDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		code := string(CodeOf(err))
		if code == "" {
			code = "internal"
		}
		metrics.CrankTotal.WithLabelValues("error", code).Inc()
		e.log.Debug("distribution: crank rejected", "vault", req.Vault, "error", err)
		return nil, err
	}
	metrics.CrankTotal.WithLabelValues("success", "").Inc()
	metrics.DistributedAmountTotal.WithLabelValues("investor").Add(float64(res.TotalDistributed))
	metrics.DistributedAmountTotal.WithLabelValues("creator").Add(float64(res.CreatorAmount))
	if !res.DayClosed {
		metrics.DustCarriedTotal.Add(float64(res.Dust))
	}

	e.log.Info("distribution: crank committed",
		"crank_id", res.CrankID,
		"vault", res.Vault,
		"page", res.Page,
		"next_cursor", res.NextCursor,
		"claimed", res.Claimed,
		"investors", len(req.Page),
		"distributed", res.TotalDistributed,
		"dust", res.Dust,
		"creator_amount", res.CreatorAmount,
		"day_closed", res.DayClosed)

	e.publish(ctx, res.Events)
	return res, nil
}

func (e *Engine) crank(ctx context.Context, req CrankRequest) (*CrankResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	var res *CrankResult
	err := e.cfg.Store.WithTx(ctx, req.Vault, func(ctx context.Context, tx Tx) error {
		policy, err := tx.Policy(ctx)
		if err != nil {
			return notInitialized(err)
		}
		if _, err := tx.Position(ctx); err != nil {
			return notInitialized(err)
		}
		progress, err := tx.Progress(ctx)
		if err != nil {
			return notInitialized(err)
		}

		res, err = e.crankPage(ctx, tx, policy, progress, req, now)
		if err != nil {
			return err
		}

		if err := tx.UpdateProgress(ctx, progress); err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// crankPage applies one page to progress in place and performs the page's transfers through tx.
func (e *Engine) crankPage(ctx context.Context, tx Tx, policy *Policy, progress *Progress, req CrankRequest, now int64) (*CrankResult, error) {
	if err := progress.Check(policy); err != nil {
		return nil, err
	}
	if req.ExpectedCursor != nil && *req.ExpectedCursor != progress.PaginationCursor {
		return nil, fmt.Errorf("%w: expected cursor %d, stored cursor %d", ErrPaginationStateMismatch, *req.ExpectedCursor, progress.PaginationCursor)
	}

	res := &CrankResult{
		CrankID: uuid.NewString(),
		Vault:   req.Vault,
		Page:    progress.PaginationCursor,
	}

	// Gate.
	if progress.PaginationCursor == 0 {
		if !progress.DayComplete {
			return nil, ErrDistributionNotComplete
		}
		if progress.LastDistributionTime != 0 && now < progress.NextDayAt() {
			return nil, fmt.Errorf("%w: next day opens at %d, now %d", ErrTooEarlyForDistribution, progress.NextDayAt(), now)
		}
		progress.CurrentDayStart = now
		progress.DailyDistributed = 0
		progress.DayClaimed = 0
		progress.CarryOverDust = 0
		progress.DayComplete = false
		res.DayStarted = true
	} else if progress.DayComplete {
		return nil, fmt.Errorf("%w: cursor %d on a completed day", ErrPaginationStateMismatch, progress.PaginationCursor)
	}

	custodian := tx.Custodian()

	// Claim.
	claimed, err := custodian.ClaimFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim fees: %w", err)
	}
	if progress.DayClaimed, err = checkedAdd(progress.DayClaimed, claimed); err != nil {
		return nil, err
	}
	totalAvailable := progress.DayClaimed
	res.Claimed = claimed
	res.TotalAvailable = totalAvailable

	// Locked amounts.
	snapshots := make([]InvestorLockSnapshot, len(req.Page))
	weights := make([]uint64, len(req.Page))
	var lockedTotal uint64
	for i, entry := range req.Page {
		schedule, err := e.cfg.Vesting.Schedule(ctx, entry.Stream)
		if err != nil {
			if errors.Is(err, vesting.ErrMalformedSchedule) || errors.Is(err, vesting.ErrStreamNotFound) {
				return nil, fmt.Errorf("%w: investor %s: %w", ErrInvalidVestingData, entry.Investor, err)
			}
			return nil, fmt.Errorf("failed to load vesting stream for investor %s: %w", entry.Investor, err)
		}
		locked := schedule.LockedAt(now)
		snapshots[i] = InvestorLockSnapshot{Investor: entry.Investor, PayoutDest: entry.PayoutDest, Locked: locked}
		weights[i] = locked
		if lockedTotal, err = checkedAdd(lockedTotal, locked); err != nil {
			return nil, err
		}
	}
	res.Snapshots = snapshots
	res.LockedTotal = lockedTotal

	// Eligible share.
	fLocked, err := lockedFractionBps(lockedTotal, policy.Y0TotalAllocation)
	if err != nil {
		return nil, err
	}
	eligibleBps := min(uint64(policy.InvestorFeeShareBps), fLocked)
	investorFeeTotal, err := ApplyBps(totalAvailable, eligibleBps)
	if err != nil {
		return nil, err
	}
	if policy.DailyCap != nil {
		investorFeeTotal = min(investorFeeTotal, saturatingSub(*policy.DailyCap, progress.DailyDistributed))
	}
	shareBudget, err := ApplyBps(totalAvailable, uint64(policy.InvestorFeeShareBps))
	if err != nil {
		return nil, err
	}
	apportioned, err := checkedAdd(progress.DailyDistributed, progress.CarryOverDust)
	if err != nil {
		return nil, err
	}
	investorFeeTotal = min(investorFeeTotal, saturatingSub(shareBudget, apportioned))
	res.FLockedBps = fLocked
	res.EligibleBps = eligibleBps
	res.InvestorFeeTotal = investorFeeTotal

	// Pro rata shares.
	shares, err := ProRata(investorFeeTotal, weights)
	if err != nil {
		return nil, err
	}
	var totalDistributed, belowMin uint64
	var payouts []Payout
	var events []Event
	for i, share := range shares {
		if share == 0 || share < policy.MinPayout {
			if belowMin, err = checkedAdd(belowMin, share); err != nil {
				return nil, err
			}
			continue
		}
		if totalDistributed, err = checkedAdd(totalDistributed, share); err != nil {
			return nil, err
		}
		entry := req.Page[i]
		payouts = append(payouts, Payout{Recipient: entry.Investor, Dest: entry.PayoutDest, Amount: share})
		events = append(events, InvestorPayout{
			Vault:        req.Vault,
			Investor:     entry.Investor,
			Amount:       share,
			LockedAmount: weights[i],
			Page:         progress.PaginationCursor,
			Timestamp:    now,
		})
	}
	dust, err := checkedSub(investorFeeTotal, totalDistributed)
	if err != nil {
		return nil, err
	}
	dailyDistributed, err := checkedAdd(progress.DailyDistributed, totalDistributed)
	if err != nil {
		return nil, err
	}

	var creatorAmount uint64
	if req.IsLastPage {
		if creatorAmount, err = checkedSub(totalAvailable, dailyDistributed); err != nil {
			return nil, err
		}
		if creatorAmount > 0 {
			payouts = append(payouts, Payout{Recipient: policy.Creator, Dest: policy.CreatorPayoutDest, Amount: creatorAmount, Creator: true})
		}
	}

	// Solvency, then transfers.
	required, err := checkedAdd(totalDistributed, creatorAmount)
	if err != nil {
		return nil, err
	}
	balance, err := custodian.ClaimableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read treasury balance: %w", err)
	}
	if balance < required {
		return nil, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFeeBalance, balance, required)
	}
	for _, p := range payouts {
		if err := custodian.Transfer(ctx, p.Amount, p.Dest); err != nil {
			return nil, fmt.Errorf("failed to transfer %d to %s: %w", p.Amount, p.Dest, err)
		}
	}

	progress.DailyDistributed = dailyDistributed
	res.TotalDistributed = totalDistributed
	res.Dust = dust
	res.CreatorAmount = creatorAmount
	res.Payouts = payouts

	// Page close.
	if req.IsLastPage {
		if creatorAmount > 0 {
			events = append(events, CreatorPayout{
				Vault:                       req.Vault,
				Creator:                     policy.Creator,
				Amount:                      creatorAmount,
				DayStart:                    progress.CurrentDayStart,
				TotalDistributedToInvestors: progress.DailyDistributed,
				Timestamp:                   now,
			})
		}
		if progress.LifetimeClaimed, err = checkedAdd(progress.LifetimeClaimed, progress.DayClaimed); err != nil {
			return nil, err
		}
		progress.DayComplete = true
		progress.LastDistributionTime = now
		progress.PaginationCursor = 0
		progress.CarryOverDust = 0
		progress.DayClaimed = 0
		res.DayClosed = true
	} else {
		if progress.CarryOverDust, err = checkedAdd(progress.CarryOverDust, dust); err != nil {
			return nil, err
		}
		progress.PaginationCursor++
		// Carry-over also holds the pro rata rounding residue; the event reports withheld shares only.
		events = append(events, DustCarriedOver{
			Vault:      req.Vault,
			DustAmount: belowMin,
			Page:       progress.PaginationCursor,
			Timestamp:  now,
		})
	}
	res.NextCursor = progress.PaginationCursor
	res.CarryOverDust = progress.CarryOverDust

	events = append(events, FeesClaimed{
		Vault:            req.Vault,
		Amount:           claimed,
		TotalDistributed: totalDistributed,
		Page:             progress.PaginationCursor,
		Timestamp:        now,
	})
	res.Events = events
	return res, nil
}
