package refunds

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eclosion-app/eclosion/internal/apperr"
	"github.com/eclosion-app/eclosion/internal/telemetry"
	"github.com/eclosion-app/eclosion/pkg/upstream"
)

// Service implements the Refund Reconciliation Engine (spec §4.4).
type Service struct {
	store    *Store
	upstream upstream.Client
	logger   *slog.Logger
}

func NewService(store *Store, client upstream.Client, logger *slog.Logger) *Service {
	return &Service{store: store, upstream: client, logger: logger}
}

func (s *Service) GetConfig(ctx context.Context) (Config, error) {
	return s.store.GetConfig(ctx)
}

func (s *Service) UpdateConfig(ctx context.Context, u ConfigUpdate) (Config, error) {
	current, err := s.store.GetConfig(ctx)
	if err != nil {
		return Config{}, err
	}
	if u.ReplacementTagID != nil {
		current.ReplacementTagID = u.ReplacementTagID
	}
	if u.ReplaceTagByDefault != nil {
		current.ReplaceTagByDefault = *u.ReplaceTagByDefault
	}
	if u.AgingWarningDays != nil {
		current.AgingWarningDays = *u.AgingWarningDays
	}
	if u.ShowBadge != nil {
		current.ShowBadge = *u.ShowBadge
	}
	if u.HideMatchedTransactions != nil {
		current.HideMatchedTransactions = *u.HideMatchedTransactions
	}
	if u.HideExpectedTransactions != nil {
		current.HideExpectedTransactions = *u.HideExpectedTransactions
	}
	if err := s.store.UpdateConfig(ctx, current); err != nil {
		return Config{}, err
	}
	return current, nil
}

func (s *Service) GetViews(ctx context.Context) ([]SavedView, error) {
	return s.store.GetViews(ctx)
}

func (s *Service) CreateView(ctx context.Context, v SavedView) (SavedView, error) {
	if len(v.TagIDs) == 0 && len(v.CategoryIDs) == 0 {
		return SavedView{}, apperr.ValidationErr("a saved view needs at least one tag or category")
	}
	v.ID = uuid.NewString()
	if err := s.store.CreateView(ctx, v); err != nil {
		return SavedView{}, err
	}
	return v, nil
}

func (s *Service) UpdateView(ctx context.Context, id string, name *string, tagIDs []string, tagIDsSet bool, categoryIDs []string, categoryIDsSet bool, sortOrder *int, excludeFromAll *bool) (bool, error) {
	return s.store.UpdateView(ctx, id, name, tagIDs, tagIDsSet, categoryIDs, categoryIDsSet, sortOrder, excludeFromAll)
}

func (s *Service) DeleteView(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteView(ctx, id)
}

func (s *Service) ReorderViews(ctx context.Context, viewIDs []string) error {
	return s.store.ReorderViews(ctx, viewIDs)
}

func (s *Service) ListTags(ctx context.Context) ([]upstream.Tag, error) {
	return s.upstream.ListTags(ctx)
}

func (s *Service) GetTransactions(ctx context.Context, filter upstream.TransactionFilter) ([]upstream.Transaction, error) {
	return s.upstream.GetTransactions(ctx, filter)
}

func (s *Service) SearchTransactions(ctx context.Context, filter upstream.SearchFilter) ([]upstream.Transaction, error) {
	return s.upstream.SearchTransactions(ctx, filter)
}

// txnMatchesView implements spec §4.4's per-view predicate: tags intersect
// the view's tag set, AND (the view has no category restriction OR the
// transaction's category is in the view's category set).
func txnMatchesView(txn upstream.Transaction, view SavedView) bool {
	tagsMatch := false
	viewTags := map[string]bool{}
	for _, t := range view.TagIDs {
		viewTags[t] = true
	}
	for _, t := range txn.Tags {
		if viewTags[t.ID] {
			tagsMatch = true
			break
		}
	}
	if !tagsMatch {
		return false
	}
	if len(view.CategoryIDs) == 0 {
		return true
	}
	if txn.Category == nil {
		return false
	}
	for _, c := range view.CategoryIDs {
		if c == txn.Category.ID {
			return true
		}
	}
	return false
}

// GetPendingCount implements spec §4.4's pending-count algorithm: one
// upstream fetch over the union of every view's tags, filtered locally to
// unmatched expenses, then counted per view and as a global union.
func (s *Service) GetPendingCount(ctx context.Context) (PendingCount, error) {
	views, err := s.store.GetViews(ctx)
	if err != nil {
		return PendingCount{}, err
	}
	result := PendingCount{ViewCounts: map[string]int{}}
	if len(views) == 0 {
		return result, nil
	}

	tagSet := map[string]bool{}
	for _, v := range views {
		for _, t := range v.TagIDs {
			tagSet[t] = true
		}
	}
	unionTags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		unionTags = append(unionTags, t)
	}

	txns, err := s.upstream.GetTransactions(ctx, upstream.TransactionFilter{TagIDs: unionTags})
	if err != nil {
		return PendingCount{}, fmt.Errorf("fetching upstream transactions for pending count: %w", err)
	}

	matched, err := s.store.GetMatchedOriginalIDs(ctx)
	if err != nil {
		return PendingCount{}, err
	}

	unmatched := make([]upstream.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.Amount >= 0 {
			continue
		}
		if matched[t.ID] {
			continue
		}
		unmatched = append(unmatched, t)
	}

	unionIDs := map[string]bool{}
	for _, v := range views {
		count := 0
		for _, t := range unmatched {
			if txnMatchesView(t, v) {
				count++
				unionIDs[t.ID] = true
			}
		}
		result.ViewCounts[v.ID] = count
	}
	result.Count = len(unionIDs)
	return result, nil
}

func (s *Service) GetMatches(ctx context.Context) ([]Match, error) {
	return s.store.GetMatches(ctx)
}

// CreateMatch inserts the local match row, then performs the upstream
// note/tag side-effects best-effort (spec §4.4): a failure there is logged
// and swallowed, never rolled back.
func (s *Service) CreateMatch(ctx context.Context, req CreateMatchRequest) (Match, error) {
	if _, err := s.store.GetMatchByOriginalTransactionID(ctx, req.OriginalTransactionID); err == nil {
		return Match{}, apperr.ConflictErr("a refund match already exists for transaction %s", req.OriginalTransactionID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Match{}, fmt.Errorf("checking for existing match: %w", err)
	}

	m := Match{
		ID:                    uuid.NewString(),
		OriginalTransactionID: req.OriginalTransactionID,
		RefundTransactionID:   req.RefundTransactionID,
		RefundAmount:          req.RefundAmount,
		RefundMerchant:        req.RefundMerchant,
		RefundDate:            req.RefundDate,
		RefundAccount:         req.RefundAccount,
		Skipped:               req.Skipped,
		ExpectedRefund:        req.ExpectedRefund,
		ExpectedDate:          req.ExpectedDate,
		ExpectedAccount:       req.ExpectedAccount,
		ExpectedAccountID:     req.ExpectedAccountID,
		ExpectedNote:          req.ExpectedNote,
		ExpectedAmount:        req.ExpectedAmount,
		TransactionData:       req.TransactionData,
		CreatedAt:             time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return Match{}, err
	}

	switch {
	case req.Skipped:
		telemetry.RefundMatchesTotal.WithLabelValues("skipped").Inc()
	case req.ExpectedRefund:
		telemetry.RefundMatchesTotal.WithLabelValues("expected").Inc()
		block := buildExpectedRefundNote(req.ExpectedAmount, derefStr(req.ExpectedDate), derefStr(req.ExpectedAccount), derefStr(req.ExpectedNote))
		s.appendNoteBestEffort(ctx, req.OriginalTransactionID, req.OriginalNotes, block)
	default:
		telemetry.RefundMatchesTotal.WithLabelValues("matched").Inc()
		block := buildRefundNote(req.RefundAmount, derefStr(req.RefundMerchant), derefStr(req.RefundDate), derefStr(req.RefundAccount))
		s.appendNoteBestEffort(ctx, req.OriginalTransactionID, req.OriginalNotes, block)
		if req.ReplaceTag {
			s.replaceTagBestEffort(ctx, req.OriginalTransactionID, req)
		}
	}

	return m, nil
}

func (s *Service) appendNoteBestEffort(ctx context.Context, transactionID, originalNotes, block string) {
	updated := appendNoteBlock(originalNotes, block)
	if err := s.upstream.UpdateNotes(ctx, transactionID, updated); err != nil {
		telemetry.RefundUpstreamSideEffectFailuresTotal.Inc()
		s.logger.Error("refund match: failed to append upstream note", "transaction_id", transactionID, "error", err)
	}
}

func (s *Service) replaceTagBestEffort(ctx context.Context, transactionID string, req CreateMatchRequest) {
	config, err := s.store.GetConfig(ctx)
	if err != nil {
		s.logger.Error("refund match: failed to load config for tag replacement", "transaction_id", transactionID, "error", err)
		return
	}
	if config.ReplacementTagID == nil {
		s.logger.Error("refund match: replace_tag requested but no replacement_tag_id configured", "transaction_id", transactionID)
		return
	}

	toRemove := req.ViewTagIDs
	if len(toRemove) == 0 {
		toRemove = req.OriginalTagIDs
	}
	removeSet := map[string]bool{}
	for _, t := range toRemove {
		removeSet[t] = true
	}

	next := make([]string, 0, len(req.OriginalTagIDs))
	hasReplacement := false
	for _, t := range req.OriginalTagIDs {
		if removeSet[t] {
			continue
		}
		if t == *config.ReplacementTagID {
			hasReplacement = true
		}
		next = append(next, t)
	}
	if !hasReplacement {
		next = append(next, *config.ReplacementTagID)
	}

	if err := s.upstream.SetTags(ctx, transactionID, next); err != nil {
		telemetry.RefundUpstreamSideEffectFailuresTotal.Inc()
		s.logger.Error("refund match: failed to replace upstream tags", "transaction_id", transactionID, "error", err)
	}
}

// DeleteMatch deletes the local row first, then restores the transaction's
// original tags (unless it was an expected refund) and strips the sentinel
// note block, best-effort (spec §4.4: "local delete occurs before upstream
// restoration"; §5: local writes commit before any best-effort upstream
// side-effect).
func (s *Service) DeleteMatch(ctx context.Context, id string) (bool, error) {
	m, err := s.store.GetMatchByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading match: %w", err)
	}

	deleted, err := s.store.DeleteMatch(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}

	if !m.Skipped && !m.ExpectedRefund && len(m.TransactionData) > 0 {
		var snapshot struct {
			TagIDs []string `json:"tag_ids"`
		}
		if err := json.Unmarshal(m.TransactionData, &snapshot); err != nil {
			s.logger.Error("refund unmatch: failed to decode transaction snapshot", "match_id", id, "error", err)
		} else if err := s.upstream.SetTags(ctx, m.OriginalTransactionID, snapshot.TagIDs); err != nil {
			telemetry.RefundUpstreamSideEffectFailuresTotal.Inc()
			s.logger.Error("refund unmatch: failed to restore upstream tags", "match_id", id, "error", err)
		}
	}

	if !m.Skipped {
		if notes, err := s.upstream.GetNotes(ctx, m.OriginalTransactionID); err != nil {
			telemetry.RefundUpstreamSideEffectFailuresTotal.Inc()
			s.logger.Error("refund unmatch: failed to read upstream notes", "match_id", id, "error", err)
		} else if err := s.upstream.UpdateNotes(ctx, m.OriginalTransactionID, stripRefundNotes(html.UnescapeString(notes))); err != nil {
			telemetry.RefundUpstreamSideEffectFailuresTotal.Inc()
			s.logger.Error("refund unmatch: failed to strip upstream note block", "match_id", id, "error", err)
		}
	}

	return true, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
