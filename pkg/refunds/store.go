package refunds

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store provides direct-SQL access to the refunds tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetConfig reads the singleton refunds_config row, creating it with
// defaults (spec §3: aging_warning_days default 30, show_badge default true)
// if it doesn't exist yet.
func (s *Store) GetConfig(ctx context.Context) (Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT replacement_tag_id, replace_tag_by_default, aging_warning_days,
			show_badge, hide_matched_transactions, hide_expected_transactions
		FROM refunds_config WHERE id = 1`)

	var c Config
	var replacementTagID sql.NullString
	err := row.Scan(&replacementTagID, &c.ReplaceTagByDefault, &c.AgingWarningDays,
		&c.ShowBadge, &c.HideMatchedTransactions, &c.HideExpectedTransactions)
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO refunds_config (id) VALUES (1)`); err != nil {
			return Config{}, fmt.Errorf("creating default refunds config: %w", err)
		}
		return Config{AgingWarningDays: 30, ShowBadge: true}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading refunds config: %w", err)
	}
	if replacementTagID.Valid {
		c.ReplacementTagID = &replacementTagID.String
	}
	return c, nil
}

func (s *Store) UpdateConfig(ctx context.Context, c Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds_config (id, replacement_tag_id, replace_tag_by_default, aging_warning_days,
			show_badge, hide_matched_transactions, hide_expected_transactions)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			replacement_tag_id = excluded.replacement_tag_id,
			replace_tag_by_default = excluded.replace_tag_by_default,
			aging_warning_days = excluded.aging_warning_days,
			show_badge = excluded.show_badge,
			hide_matched_transactions = excluded.hide_matched_transactions,
			hide_expected_transactions = excluded.hide_expected_transactions
	`, c.ReplacementTagID, c.ReplaceTagByDefault, c.AgingWarningDays,
		c.ShowBadge, c.HideMatchedTransactions, c.HideExpectedTransactions)
	if err != nil {
		return fmt.Errorf("updating refunds config: %w", err)
	}
	return nil
}

func scanView(scanner interface{ Scan(...any) error }) (SavedView, error) {
	var v SavedView
	var tagIDsJSON string
	var categoryIDsJSON sql.NullString
	var excludeFromAll int
	err := scanner.Scan(&v.ID, &v.Name, &tagIDsJSON, &categoryIDsJSON, &v.SortOrder, &excludeFromAll)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(tagIDsJSON), &v.TagIDs); err != nil {
		return v, fmt.Errorf("decoding tag_ids: %w", err)
	}
	if categoryIDsJSON.Valid {
		if err := json.Unmarshal([]byte(categoryIDsJSON.String), &v.CategoryIDs); err != nil {
			return v, fmt.Errorf("decoding category_ids: %w", err)
		}
	}
	v.ExcludeFromAll = excludeFromAll != 0
	return v, nil
}

func (s *Store) GetViews(ctx context.Context) ([]SavedView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tag_ids, category_ids, sort_order, exclude_from_all
		FROM refunds_saved_views ORDER BY sort_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying saved views: %w", err)
	}
	defer rows.Close()

	var out []SavedView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning saved view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) CreateView(ctx context.Context, v SavedView) error {
	tagIDsJSON, err := json.Marshal(v.TagIDs)
	if err != nil {
		return fmt.Errorf("encoding tag_ids: %w", err)
	}
	var categoryIDsJSON sql.NullString
	if v.CategoryIDs != nil {
		b, err := json.Marshal(v.CategoryIDs)
		if err != nil {
			return fmt.Errorf("encoding category_ids: %w", err)
		}
		categoryIDsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refunds_saved_views (id, name, tag_ids, category_ids, sort_order, exclude_from_all)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.ID, v.Name, string(tagIDsJSON), categoryIDsJSON, v.SortOrder, boolToInt(v.ExcludeFromAll))
	if err != nil {
		return fmt.Errorf("creating saved view: %w", err)
	}
	return nil
}

// UpdateView applies a partial update, leaving unset fields untouched (the
// fields parameter is nil to mean "keep current value" per field).
func (s *Store) UpdateView(ctx context.Context, id string, name *string, tagIDs []string, tagIDsSet bool, categoryIDs []string, categoryIDsSet bool, sortOrder *int, excludeFromAll *bool) (bool, error) {
	existing, err := s.getViewByID(ctx, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading saved view: %w", err)
	}

	if name != nil {
		existing.Name = *name
	}
	if tagIDsSet {
		existing.TagIDs = tagIDs
	}
	if categoryIDsSet {
		existing.CategoryIDs = categoryIDs
	}
	if sortOrder != nil {
		existing.SortOrder = *sortOrder
	}
	if excludeFromAll != nil {
		existing.ExcludeFromAll = *excludeFromAll
	}

	tagIDsJSON, err := json.Marshal(existing.TagIDs)
	if err != nil {
		return false, fmt.Errorf("encoding tag_ids: %w", err)
	}
	var categoryIDsJSON sql.NullString
	if existing.CategoryIDs != nil {
		b, err := json.Marshal(existing.CategoryIDs)
		if err != nil {
			return false, fmt.Errorf("encoding category_ids: %w", err)
		}
		categoryIDsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE refunds_saved_views
		SET name = ?, tag_ids = ?, category_ids = ?, sort_order = ?, exclude_from_all = ?
		WHERE id = ?
	`, existing.Name, string(tagIDsJSON), categoryIDsJSON, existing.SortOrder, boolToInt(existing.ExcludeFromAll), id)
	if err != nil {
		return false, fmt.Errorf("updating saved view: %w", err)
	}
	return true, nil
}

func (s *Store) getViewByID(ctx context.Context, id string) (SavedView, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, tag_ids, category_ids, sort_order, exclude_from_all
		FROM refunds_saved_views WHERE id = ?`, id)
	return scanView(row)
}

func (s *Store) DeleteView(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refunds_saved_views WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting saved view: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ReorderViews(ctx context.Context, viewIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reorder transaction: %w", err)
	}
	defer tx.Rollback()

	for i, id := range viewIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE refunds_saved_views SET sort_order = ? WHERE id = ?`, i, id); err != nil {
			return fmt.Errorf("reordering view %s: %w", id, err)
		}
	}
	return tx.Commit()
}

const matchColumns = `id, original_transaction_id, refund_transaction_id, refund_amount,
	refund_merchant, refund_date, refund_account, expected_refund, expected_date,
	expected_account, expected_account_id, expected_note, expected_amount,
	skipped, transaction_data, created_at`

func scanMatch(scanner interface{ Scan(...any) error }) (Match, error) {
	var m Match
	var skipped, expectedRefund int
	var transactionData sql.NullString
	err := scanner.Scan(&m.ID, &m.OriginalTransactionID, &m.RefundTransactionID, &m.RefundAmount,
		&m.RefundMerchant, &m.RefundDate, &m.RefundAccount, &expectedRefund, &m.ExpectedDate,
		&m.ExpectedAccount, &m.ExpectedAccountID, &m.ExpectedNote, &m.ExpectedAmount,
		&skipped, &transactionData, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.Skipped = skipped != 0
	m.ExpectedRefund = expectedRefund != 0
	if transactionData.Valid {
		m.TransactionData = json.RawMessage(transactionData.String)
	}
	return m, nil
}

func (s *Store) GetMatches(ctx context.Context) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM refunds_matches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetMatchByID(ctx context.Context, id string) (Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM refunds_matches WHERE id = ?`, id)
	return scanMatch(row)
}

func (s *Store) GetMatchByOriginalTransactionID(ctx context.Context, originalTransactionID string) (Match, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM refunds_matches WHERE original_transaction_id = ?`, originalTransactionID)
	return scanMatch(row)
}

// GetMatchedOriginalIDs returns the set of original_transaction_id already
// matched, for excluding them from the pending count.
func (s *Store) GetMatchedOriginalIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT original_transaction_id FROM refunds_matches`)
	if err != nil {
		return nil, fmt.Errorf("querying matched transaction ids: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning matched transaction id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *Store) CreateMatch(ctx context.Context, m Match) error {
	var transactionData sql.NullString
	if len(m.TransactionData) > 0 {
		transactionData = sql.NullString{String: string(m.TransactionData), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refunds_matches (id, original_transaction_id, refund_transaction_id, refund_amount,
			refund_merchant, refund_date, refund_account, expected_refund, expected_date,
			expected_account, expected_account_id, expected_note, expected_amount,
			skipped, transaction_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.OriginalTransactionID, m.RefundTransactionID, m.RefundAmount,
		m.RefundMerchant, m.RefundDate, m.RefundAccount, boolToInt(m.ExpectedRefund), m.ExpectedDate,
		m.ExpectedAccount, m.ExpectedAccountID, m.ExpectedNote, m.ExpectedAmount,
		boolToInt(m.Skipped), transactionData, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	return nil
}

func (s *Store) DeleteMatch(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refunds_matches WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting match: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
