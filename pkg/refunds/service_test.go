package refunds

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eclosion-app/eclosion/internal/platform"
	"github.com/eclosion-app/eclosion/pkg/upstream"
)

// fakeUpstream is a minimal in-memory upstream.Client for tests.
type fakeUpstream struct {
	transactions []upstream.Transaction
	notes        map[string]string
	tags         map[string][]string
}

func newFakeUpstream(txns []upstream.Transaction) *fakeUpstream {
	notes := map[string]string{}
	tags := map[string][]string{}
	for _, t := range txns {
		var ids []string
		for _, tg := range t.Tags {
			ids = append(ids, tg.ID)
		}
		tags[t.ID] = ids
	}
	return &fakeUpstream{transactions: txns, notes: notes, tags: tags}
}

func (f *fakeUpstream) GetTransactions(ctx context.Context, filter upstream.TransactionFilter) ([]upstream.Transaction, error) {
	wanted := map[string]bool{}
	for _, t := range filter.TagIDs {
		wanted[t] = true
	}
	var out []upstream.Transaction
	for _, t := range f.transactions {
		for _, tg := range t.Tags {
			if wanted[tg.ID] {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeUpstream) SearchTransactions(ctx context.Context, filter upstream.SearchFilter) ([]upstream.Transaction, error) {
	return f.transactions, nil
}

func (f *fakeUpstream) ListTags(ctx context.Context) ([]upstream.Tag, error) { return nil, nil }

func (f *fakeUpstream) ListCategoryGroups(ctx context.Context) ([]upstream.CategoryGroup, error) {
	return nil, nil
}

func (f *fakeUpstream) SetTags(ctx context.Context, transactionID string, tagIDs []string) error {
	f.tags[transactionID] = tagIDs
	return nil
}

func (f *fakeUpstream) UpdateNotes(ctx context.Context, transactionID, notes string) error {
	f.notes[transactionID] = notes
	return nil
}

func (f *fakeUpstream) GetNotes(ctx context.Context, transactionID string) (string, error) {
	return f.notes[transactionID], nil
}

func newTestService(t *testing.T, client upstream.Client) *Service {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "refunds_test.db")
	db, err := platform.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := platform.RunMigrations(db, logger); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	store := NewStore(db)
	return NewService(store, client, logger)
}

// TestGetPendingCount_TwoViewsFourTransactions exercises spec.md §8 scenario
// 4: two views, four upstream transactions, no existing matches.
func TestGetPendingCount_TwoViewsFourTransactions(t *testing.T) {
	txns := []upstream.Transaction{
		{ID: "t1", Amount: -10, Tags: []upstream.Ref{{ID: "A"}}},
		{ID: "t2", Amount: -5, Category: &upstream.Ref{ID: "C1"}, Tags: []upstream.Ref{{ID: "B"}}},
		{ID: "t3", Amount: -1, Category: &upstream.Ref{ID: "C2"}, Tags: []upstream.Ref{{ID: "B"}}},
		{ID: "t4", Amount: 2, Tags: []upstream.Ref{{ID: "A"}}},
	}
	svc := newTestService(t, newFakeUpstream(txns))
	ctx := context.Background()

	v1, err := svc.CreateView(ctx, SavedView{Name: "V1", TagIDs: []string{"A"}})
	if err != nil {
		t.Fatalf("creating view 1: %v", err)
	}
	v2, err := svc.CreateView(ctx, SavedView{Name: "V2", TagIDs: []string{"B"}, CategoryIDs: []string{"C1"}})
	if err != nil {
		t.Fatalf("creating view 2: %v", err)
	}

	result, err := svc.GetPendingCount(ctx)
	if err != nil {
		t.Fatalf("GetPendingCount: %v", err)
	}
	if result.Count != 2 {
		t.Errorf("Count = %d, want 2", result.Count)
	}
	if result.ViewCounts[v1.ID] != 1 {
		t.Errorf("ViewCounts[V1] = %d, want 1", result.ViewCounts[v1.ID])
	}
	if result.ViewCounts[v2.ID] != 1 {
		t.Errorf("ViewCounts[V2] = %d, want 1", result.ViewCounts[v2.ID])
	}
}

func TestGetPendingCount_ExcludesAlreadyMatched(t *testing.T) {
	txns := []upstream.Transaction{
		{ID: "t1", Amount: -10, Tags: []upstream.Ref{{ID: "A"}}},
		{ID: "t2", Amount: -20, Tags: []upstream.Ref{{ID: "A"}}},
	}
	svc := newTestService(t, newFakeUpstream(txns))
	ctx := context.Background()

	if _, err := svc.CreateView(ctx, SavedView{Name: "V1", TagIDs: []string{"A"}}); err != nil {
		t.Fatalf("creating view: %v", err)
	}

	if _, err := svc.CreateMatch(ctx, CreateMatchRequest{
		OriginalTransactionID: "t1",
		Skipped:               true,
	}); err != nil {
		t.Fatalf("creating match: %v", err)
	}

	result, err := svc.GetPendingCount(ctx)
	if err != nil {
		t.Fatalf("GetPendingCount: %v", err)
	}
	if result.Count != 1 {
		t.Errorf("Count = %d, want 1 (t1 already matched)", result.Count)
	}
}

func TestCreateMatch_RejectsDuplicateOriginalTransaction(t *testing.T) {
	svc := newTestService(t, newFakeUpstream(nil))
	ctx := context.Background()

	if _, err := svc.CreateMatch(ctx, CreateMatchRequest{OriginalTransactionID: "t1", Skipped: true}); err != nil {
		t.Fatalf("first CreateMatch: %v", err)
	}
	if _, err := svc.CreateMatch(ctx, CreateMatchRequest{OriginalTransactionID: "t1", Skipped: true}); err == nil {
		t.Fatal("expected duplicate match to be rejected")
	}
}

func TestCreateMatch_AppendsNoteBlockAndReplacesTag(t *testing.T) {
	fu := newFakeUpstream(nil)
	svc := newTestService(t, fu)
	ctx := context.Background()

	replacementTag := "refunded"
	if _, err := svc.UpdateConfig(ctx, ConfigUpdate{ReplacementTagID: &replacementTag}); err != nil {
		t.Fatalf("updating config: %v", err)
	}

	amount := 12.5
	date := "2026-03-01"
	merchant := "Acme Store"
	account := "Checking"
	match, err := svc.CreateMatch(ctx, CreateMatchRequest{
		OriginalTransactionID: "t1",
		RefundTransactionID:   strPtr("r1"),
		RefundAmount:          &amount,
		RefundMerchant:        &merchant,
		RefundDate:            &date,
		RefundAccount:         &account,
		ReplaceTag:            true,
		OriginalTagIDs:        []string{"groceries"},
		OriginalNotes:         "original note text",
	})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if match.RefundTransactionID == nil || *match.RefundTransactionID != "r1" {
		t.Errorf("RefundTransactionID = %v, want r1", match.RefundTransactionID)
	}

	notes := fu.notes["t1"]
	if notes == "" {
		t.Fatal("expected a note block to be appended to upstream notes")
	}
	if !strings.Contains(notes, matchedMarker) {
		t.Errorf("notes = %q, want it to contain %q", notes, matchedMarker)
	}

	tags := fu.tags["t1"]
	if len(tags) != 1 || tags[0] != "refunded" {
		t.Errorf("tags = %v, want [refunded]", tags)
	}
}

func TestDeleteMatch_RestoresTagsAndStripsNoteBlock(t *testing.T) {
	fu := newFakeUpstream(nil)
	svc := newTestService(t, fu)
	ctx := context.Background()

	replacementTag := "refunded"
	if _, err := svc.UpdateConfig(ctx, ConfigUpdate{ReplacementTagID: &replacementTag}); err != nil {
		t.Fatalf("updating config: %v", err)
	}

	snapshot, _ := json.Marshal(map[string][]string{"tag_ids": {"groceries"}})
	amount := 12.5
	match, err := svc.CreateMatch(ctx, CreateMatchRequest{
		OriginalTransactionID: "t1",
		RefundAmount:          &amount,
		ReplaceTag:            true,
		OriginalTagIDs:        []string{"groceries"},
		OriginalNotes:         "original note text",
		TransactionData:       snapshot,
	})
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	found, err := svc.DeleteMatch(ctx, match.ID)
	if err != nil {
		t.Fatalf("DeleteMatch: %v", err)
	}
	if !found {
		t.Fatal("expected DeleteMatch to report found=true")
	}

	if strings.Contains(fu.notes["t1"], matchedMarker) {
		t.Errorf("notes = %q, expected sentinel block stripped", fu.notes["t1"])
	}
	tags := fu.tags["t1"]
	if len(tags) != 1 || tags[0] != "groceries" {
		t.Errorf("tags = %v, want restored to [groceries]", tags)
	}

	if _, err := svc.store.GetMatchByID(ctx, match.ID); err == nil {
		t.Error("expected match to be deleted from local store")
	}
}

func strPtr(s string) *string { return &s }
