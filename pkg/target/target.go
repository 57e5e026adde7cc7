// Package target implements the Frozen Monthly Target Engine (spec §4.3):
// savings targets for recurring categories are computed once per month and
// held fixed so mid-month balance fluctuations don't change what a user is
// asked to budget. Recalculation is gated by a fingerprint of the inputs
// that would change the answer.
package target

// Fingerprint is the 5-tuple that gates recalculation (spec §4.3): target
// stays frozen as long as none of these change from what produced it.
type Fingerprint struct {
	TargetMonth      string
	Amount           float64
	FrequencyMonths  float64
	RolloverAmount   float64
	NextDueDate      string
}

// Equal reports whether two fingerprints would produce the same frozen
// target, i.e. whether recalculation can be skipped.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.TargetMonth == other.TargetMonth &&
		f.Amount == other.Amount &&
		f.FrequencyMonths == other.FrequencyMonths &&
		f.RolloverAmount == other.RolloverAmount &&
		f.NextDueDate == other.NextDueDate
}

// Result is what a caller gets back from Calculate (spec §4.3 FrozenTargetResult).
type Result struct {
	RecurringID            string  `json:"recurring_id"`
	FrozenTarget           float64 `json:"frozen_target"`
	BalanceAtStart         float64 `json:"balance_at_start"`
	ContributedThisMonth   float64 `json:"contributed_this_month"`
	MonthlyProgressPercent float64 `json:"monthly_progress_percent"`
	WasRecalculated        bool    `json:"was_recalculated"`
}

// Inputs carries the values Calculate needs. UpstreamCategoryID identifies
// the budgeting category this recurring item is linked to; amount,
// frequency, and due date normally come from the upstream API's recurring
// item and rollover/budgeted amounts from its category data for the month.
type Inputs struct {
	RecurringID       string
	UpstreamCategoryID string
	Amount            float64
	FrequencyMonths   float64
	MonthsUntilDue    float64
	RolloverAmount    float64
	BudgetedThisMonth float64
	NextDueDate       string
	CurrentMonth      string
}
