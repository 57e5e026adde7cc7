// Package refunds implements the Refund Reconciliation Engine (spec §4.4):
// saved views over upstream transactions, match/expected-refund bookkeeping,
// and the upstream note/tag side-effects that accompany a match.
package refunds

import "encoding/json"

// Config is the singleton refunds configuration (spec §3 RefundsConfig).
type Config struct {
	ReplacementTagID          *string `json:"replacement_tag_id,omitempty"`
	ReplaceTagByDefault       bool    `json:"replace_tag_by_default"`
	AgingWarningDays          int     `json:"aging_warning_days"`
	ShowBadge                 bool    `json:"show_badge"`
	HideMatchedTransactions   bool    `json:"hide_matched_transactions"`
	HideExpectedTransactions  bool    `json:"hide_expected_transactions"`
}

// ConfigUpdate carries only the fields a PATCH actually supplied.
type ConfigUpdate struct {
	ReplacementTagID         *string `json:"replacement_tag_id"`
	ReplaceTagByDefault      *bool   `json:"replace_tag_by_default"`
	AgingWarningDays         *int    `json:"aging_warning_days"`
	ShowBadge                *bool   `json:"show_badge"`
	HideMatchedTransactions  *bool   `json:"hide_matched_transactions"`
	HideExpectedTransactions *bool   `json:"hide_expected_transactions"`
}

// SavedView is a named tag/category filter over refund-candidate
// transactions (spec §3 RefundsSavedView).
type SavedView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	TagIDs         []string `json:"tag_ids"`
	CategoryIDs    []string `json:"category_ids,omitempty"`
	SortOrder      int      `json:"sort_order"`
	ExcludeFromAll bool     `json:"exclude_from_all"`
}

// Match records the resolution of one upstream transaction awaiting a
// refund: a concrete match, an expected-future-refund placeholder, or a
// skip (spec §3 RefundsMatch).
type Match struct {
	ID                    string          `json:"id"`
	OriginalTransactionID string          `json:"original_transaction_id"`
	RefundTransactionID   *string         `json:"refund_transaction_id,omitempty"`
	RefundAmount          *float64        `json:"refund_amount,omitempty"`
	RefundMerchant        *string         `json:"refund_merchant,omitempty"`
	RefundDate            *string         `json:"refund_date,omitempty"`
	RefundAccount         *string         `json:"refund_account,omitempty"`
	Skipped               bool            `json:"skipped"`
	ExpectedRefund        bool            `json:"expected_refund"`
	ExpectedDate          *string         `json:"expected_date,omitempty"`
	ExpectedAccount       *string         `json:"expected_account,omitempty"`
	ExpectedAccountID     *string         `json:"expected_account_id,omitempty"`
	ExpectedNote          *string         `json:"expected_note,omitempty"`
	ExpectedAmount        *float64        `json:"expected_amount,omitempty"`
	TransactionData       json.RawMessage `json:"transaction_data,omitempty"`
	CreatedAt             string          `json:"created_at"`
}

// CreateMatchRequest is the full input to CreateMatch (spec §4.4).
type CreateMatchRequest struct {
	OriginalTransactionID string
	RefundTransactionID   *string
	RefundAmount          *float64
	RefundMerchant        *string
	RefundDate            *string
	RefundAccount         *string
	Skipped               bool
	ExpectedRefund        bool
	ExpectedDate          *string
	ExpectedAccount       *string
	ExpectedAccountID     *string
	ExpectedNote          *string
	ExpectedAmount        *float64
	ReplaceTag            bool
	OriginalTagIDs        []string
	OriginalNotes         string
	ViewTagIDs            []string
	TransactionData       json.RawMessage
}

// PendingCount is the result of GetPendingCount (spec §4.4).
type PendingCount struct {
	Count      int            `json:"count"`
	ViewCounts map[string]int `json:"view_counts"`
}
