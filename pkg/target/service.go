package target

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Service computes and caches frozen monthly targets.
type Service struct {
	store  *Store
	logger *slog.Logger
}

func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Calculate returns the frozen target for a recurring item, recomputing it
// only if the input fingerprint has drifted from what's stored (spec §4.3).
func (svc *Service) Calculate(ctx context.Context, in Inputs) (*Result, error) {
	fp := Fingerprint{
		TargetMonth:     in.CurrentMonth,
		Amount:          in.Amount,
		FrequencyMonths: in.FrequencyMonths,
		RolloverAmount:  in.RolloverAmount,
		NextDueDate:     in.NextDueDate,
	}

	stored, err := svc.store.GetRecurring(ctx, in.RecurringID, in.UpstreamCategoryID)
	if err != nil {
		return nil, fmt.Errorf("loading recurring category: %w", err)
	}

	storedFP := Fingerprint{
		TargetMonth:     stored.TargetMonth.String,
		Amount:          stored.FrozenAmount.Float64,
		FrequencyMonths: stored.FrozenFrequencyMonths.Float64,
		RolloverAmount:  stored.FrozenRolloverAmount.Float64,
		NextDueDate:     stored.FrozenNextDueDate.String,
	}

	needsRecalc := !stored.FrozenMonthlyTarget.Valid || !fp.Equal(storedFP)

	var frozenTarget, balanceAtStart float64
	wasRecalculated := needsRecalc

	if needsRecalc {
		frozenTarget = calculateTarget(in.Amount, in.FrequencyMonths, in.MonthsUntilDue, in.RolloverAmount)
		if err := svc.store.SetFrozenTarget(ctx, in.RecurringID, frozenTarget, fp); err != nil {
			return nil, err
		}
		balanceAtStart = in.RolloverAmount
	} else {
		frozenTarget = stored.FrozenMonthlyTarget.Float64
		balanceAtStart = stored.FrozenRolloverAmount.Float64
	}

	contributedThisMonth := math.Max(0, in.BudgetedThisMonth)
	progress := 100.0
	if frozenTarget > 0 {
		progress = contributedThisMonth / frozenTarget * 100
	}

	return &Result{
		RecurringID:            in.RecurringID,
		FrozenTarget:           frozenTarget,
		BalanceAtStart:         balanceAtStart,
		ContributedThisMonth:   contributedThisMonth,
		MonthlyProgressPercent: progress,
		WasRecalculated:        wasRecalculated,
	}, nil
}

// roundMonthlyRate rounds to the nearest dollar, round-half-up, with a $1
// floor for any positive rate (spec §4.3: "minimum $1/mo for non-zero rates,
// so a $5/year expense still shows something rather than rounding to $0").
func roundMonthlyRate(rate float64) int {
	if rate <= 0 {
		return 0
	}
	rounded := int(rate + 0.5)
	if rounded < 1 {
		return 1
	}
	return rounded
}

// calculateTarget implements the three-branch monthly savings rate (spec
// §4.3): sub-monthly frequencies convert to a monthly equivalent, monthly
// items target the plain shortfall, and infrequent items spread the
// shortfall across the months remaining until due.
func calculateTarget(amount, frequencyMonths, monthsUntilDue, startingBalance float64) float64 {
	switch {
	case frequencyMonths < 1:
		monthlyEquivalent := amount / frequencyMonths
		return float64(roundMonthlyRate(math.Max(0, monthlyEquivalent-startingBalance)))
	case frequencyMonths == 1:
		return float64(roundMonthlyRate(math.Max(0, amount-startingBalance)))
	default:
		shortfall := math.Max(0, amount-startingBalance)
		if shortfall <= 0 {
			return 0
		}
		monthsRemaining := math.Max(1, monthsUntilDue)
		return float64(roundMonthlyRate(shortfall / monthsRemaining))
	}
}

// RateAfterCatchup reports what the monthly rate will settle to once a
// currently-catching-up item's shortfall is paid off: items whose frozen
// rate exceeds their steady-state ideal rate drop to the ideal; everything
// else keeps its current rate (spec §4.3 calculate_rate_after_catchup).
func RateAfterCatchup(frozenTarget, idealMonthlyRate float64) float64 {
	if frozenTarget > idealMonthlyRate {
		return idealMonthlyRate
	}
	return frozenTarget
}
