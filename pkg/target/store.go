package target

import (
	"context"
	"database/sql"
	"fmt"
)

// Store persists frozen-target state in the recurring_categories table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// storedTarget mirrors the frozen_* columns of recurring_categories, plus
// the row's own upstream-linked fields used to detect drift.
type storedTarget struct {
	RecurringID           string
	UpstreamCategoryID    string
	TargetAmount          float64
	FrequencyMonths       float64
	RolloverAmount        float64
	NextDueDate           sql.NullString
	FrozenMonthlyTarget   sql.NullFloat64
	TargetMonth           sql.NullString
	FrozenAmount          sql.NullFloat64
	FrozenFrequencyMonths sql.NullFloat64
	FrozenRolloverAmount  sql.NullFloat64
	FrozenNextDueDate     sql.NullString
}

// GetRecurring reads the current row, creating it with zeroed frozen fields
// if it doesn't yet exist — the first Calculate call for a recurring item
// always finds a row to compare fingerprints against.
func (s *Store) GetRecurring(ctx context.Context, recurringID, upstreamCategoryID string) (storedTarget, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT recurring_id, upstream_category_id, target_amount, frequency_months, rollover_amount,
			next_due_date, frozen_monthly_target, target_month, frozen_amount,
			frozen_frequency_months, frozen_rollover_amount, frozen_next_due_date
		FROM recurring_categories WHERE recurring_id = ?`, recurringID)

	var t storedTarget
	err := row.Scan(&t.RecurringID, &t.UpstreamCategoryID, &t.TargetAmount, &t.FrequencyMonths, &t.RolloverAmount,
		&t.NextDueDate, &t.FrozenMonthlyTarget, &t.TargetMonth, &t.FrozenAmount,
		&t.FrozenFrequencyMonths, &t.FrozenRolloverAmount, &t.FrozenNextDueDate)
	if err == sql.ErrNoRows {
		if _, insertErr := s.db.ExecContext(ctx, `
			INSERT INTO recurring_categories (recurring_id, upstream_category_id, target_amount, frequency_months, rollover_amount)
			VALUES (?, ?, 0, 1, 0)
		`, recurringID, upstreamCategoryID); insertErr != nil {
			return storedTarget{}, fmt.Errorf("creating recurring category row: %w", insertErr)
		}
		return storedTarget{RecurringID: recurringID, UpstreamCategoryID: upstreamCategoryID, FrequencyMonths: 1}, nil
	}
	if err != nil {
		return storedTarget{}, fmt.Errorf("reading recurring category: %w", err)
	}
	return t, nil
}

// SetFrozenTarget records a freshly computed target and the fingerprint that
// produced it.
func (s *Store) SetFrozenTarget(ctx context.Context, recurringID string, frozenTarget float64, fp Fingerprint) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recurring_categories SET
			target_amount = ?,
			frequency_months = ?,
			rollover_amount = ?,
			next_due_date = ?,
			frozen_monthly_target = ?,
			target_month = ?,
			frozen_amount = ?,
			frozen_frequency_months = ?,
			frozen_rollover_amount = ?,
			frozen_next_due_date = ?
		WHERE recurring_id = ?
	`, fp.Amount, fp.FrequencyMonths, fp.RolloverAmount, nullableString(fp.NextDueDate),
		frozenTarget, fp.TargetMonth, fp.Amount, fp.FrequencyMonths, fp.RolloverAmount,
		nullableString(fp.NextDueDate), recurringID)
	if err != nil {
		return fmt.Errorf("freezing target: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
