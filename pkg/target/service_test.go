package target

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/eclosion-app/eclosion/internal/platform"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "target_test.db")
	db, err := platform.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := platform.RunMigrations(db, logger); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return NewService(NewStore(db), logger)
}

// TestCalculate_MidMonthRolloverChange is spec scenario 1: a yearly item with
// a mid-month rollover edit recomputes to a new, lower monthly target.
func TestCalculate_MidMonthRolloverChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	in := Inputs{
		RecurringID:         "rec-1",
		UpstreamCategoryID:  "cat-1",
		Amount:              600,
		FrequencyMonths:     12,
		MonthsUntilDue:      10,
		RolloverAmount:      100,
		BudgetedThisMonth:   0,
		NextDueDate:         "2025-12-15",
		CurrentMonth:        "2025-03",
	}

	result, err := svc.Calculate(ctx, in)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if result.FrozenTarget != 50 {
		t.Errorf("FrozenTarget = %v, want 50", result.FrozenTarget)
	}
	if !result.WasRecalculated {
		t.Error("expected WasRecalculated = true on first calculation")
	}

	// Re-calling with the same inputs in the same month must not recompute.
	again, err := svc.Calculate(ctx, in)
	if err != nil {
		t.Fatalf("Calculate (repeat): %v", err)
	}
	if again.WasRecalculated {
		t.Error("expected WasRecalculated = false when fingerprint is unchanged")
	}
	if again.FrozenTarget != result.FrozenTarget {
		t.Errorf("FrozenTarget changed on repeat call: %v != %v", again.FrozenTarget, result.FrozenTarget)
	}

	// Rollover changes mid-month: must recompute to a new, lower target.
	in.RolloverAmount = 200
	changed, err := svc.Calculate(ctx, in)
	if err != nil {
		t.Fatalf("Calculate (rollover changed): %v", err)
	}
	if !changed.WasRecalculated {
		t.Error("expected WasRecalculated = true after rollover_amount changed")
	}
	if changed.FrozenTarget != 40 {
		t.Errorf("FrozenTarget = %v, want 40", changed.FrozenTarget)
	}
}

func TestCalculate_ZeroAmountYieldsZeroTarget(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Calculate(ctx, Inputs{
		RecurringID: "rec-zero", UpstreamCategoryID: "cat-zero",
		Amount: 0, FrequencyMonths: 1, MonthsUntilDue: 1,
		CurrentMonth: "2025-03",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if result.FrozenTarget != 0 {
		t.Errorf("FrozenTarget = %v, want 0", result.FrozenTarget)
	}
	if result.MonthlyProgressPercent != 100 {
		t.Errorf("MonthlyProgressPercent = %v, want 100 when target is 0", result.MonthlyProgressPercent)
	}
}

func TestCalculate_SubMonthlyFrequencyUsesMonthlyEquivalent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// $78/week -> monthly equivalent $78/0.25 = $312.
	result, err := svc.Calculate(ctx, Inputs{
		RecurringID: "rec-weekly", UpstreamCategoryID: "cat-weekly",
		Amount: 78, FrequencyMonths: 0.25, MonthsUntilDue: 1,
		CurrentMonth: "2025-03",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if result.FrozenTarget != 312 {
		t.Errorf("FrozenTarget = %v, want 312", result.FrozenTarget)
	}
}

func TestCalculate_MonthsUntilDueZeroTreatedAsOne(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.Calculate(ctx, Inputs{
		RecurringID: "rec-due-now", UpstreamCategoryID: "cat-due-now",
		Amount: 120, FrequencyMonths: 3, MonthsUntilDue: 0,
		CurrentMonth: "2025-03",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if result.FrozenTarget != 120 {
		t.Errorf("FrozenTarget = %v, want 120 (shortfall / max(1, 0))", result.FrozenTarget)
	}
}

func TestRoundMonthlyRate(t *testing.T) {
	cases := []struct {
		rate float64
		want int
	}{
		{0, 0},
		{-5, 0},
		{0.4, 1}, // minimum $1 floor for any positive rate
		{0.5, 1},
		{1.49, 1},
		{1.5, 2},
		{49.5, 50},
	}
	for _, c := range cases {
		if got := roundMonthlyRate(c.rate); got != c.want {
			t.Errorf("roundMonthlyRate(%v) = %d, want %d", c.rate, got, c.want)
		}
	}
}

func TestRateAfterCatchup(t *testing.T) {
	if got := RateAfterCatchup(50, 30); got != 30 {
		t.Errorf("RateAfterCatchup(50, 30) = %v, want 30", got)
	}
	if got := RateAfterCatchup(20, 30); got != 20 {
		t.Errorf("RateAfterCatchup(20, 30) = %v, want 20", got)
	}
}
