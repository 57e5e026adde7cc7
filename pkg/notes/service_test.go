package notes

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/eclosion-app/eclosion/internal/cryptutil"
	"github.com/eclosion-app/eclosion/internal/platform"
)

const testPassphrase = "correct horse battery staple"

// fastCipherParams keeps scrypt cost low so tests run quickly.
var fastCipherParams = cryptutil.Params{N: 16, R: 1, P: 1}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "notes_test.db")
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
	cipher := cryptutil.New(fastCipherParams)
	return NewService(store, cipher, logger)
}

func TestGetEffectiveNote_InheritsFromEarlierMonth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "January plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	eff, err := svc.GetEffectiveNote(ctx, "category", "cat-1", "2026-04", testPassphrase)
	if err != nil {
		t.Fatalf("GetEffectiveNote: %v", err)
	}
	if eff == nil {
		t.Fatal("expected an inherited note, got nil")
	}
	if !eff.IsInherited {
		t.Error("expected IsInherited = true")
	}
	if eff.SourceMonth != "2026-01" {
		t.Errorf("SourceMonth = %q, want 2026-01", eff.SourceMonth)
	}
	if eff.Note.Content != "January plan" {
		t.Errorf("Content = %q, want %q", eff.Note.Content, "January plan")
	}
}

func TestGetEffectiveNote_PrefersExactMonth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "January plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-04", "April plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	eff, err := svc.GetEffectiveNote(ctx, "category", "cat-1", "2026-04", testPassphrase)
	if err != nil {
		t.Fatalf("GetEffectiveNote: %v", err)
	}
	if eff.IsInherited {
		t.Error("expected IsInherited = false for an exact month match")
	}
	if eff.Note.Content != "April plan" {
		t.Errorf("Content = %q, want %q", eff.Note.Content, "April plan")
	}
}

func TestGetEffectiveNote_NoneBeforeTargetMonth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-06", "June plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	eff, err := svc.GetEffectiveNote(ctx, "category", "cat-1", "2026-01", testPassphrase)
	if err != nil {
		t.Fatalf("GetEffectiveNote: %v", err)
	}
	if eff != nil {
		t.Errorf("expected no effective note before any note exists, got %+v", eff)
	}
}

func TestGetInheritanceImpact_CapsAtTwelveMonthsOrNextCustomNote(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "January plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	// No note past 2026-01, so affected_months should run the full 12 months.
	impact, err := svc.GetInheritanceImpact(ctx, "category", "cat-1", "2026-03", testPassphrase)
	if err != nil {
		t.Fatalf("GetInheritanceImpact: %v", err)
	}
	if impact.SourceNote == nil || impact.SourceNote.MonthKey != "2026-01" {
		t.Fatalf("expected source note at 2026-01, got %+v", impact.SourceNote)
	}
	if len(impact.AffectedMonths) != 12 {
		t.Errorf("AffectedMonths len = %d, want 12", len(impact.AffectedMonths))
	}
	if impact.AffectedMonths[0] != "2026-03" {
		t.Errorf("AffectedMonths[0] = %q, want 2026-03", impact.AffectedMonths[0])
	}

	// Introduce a custom note at 2026-07: impact now caps before it.
	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-07", "July plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	impact2, err := svc.GetInheritanceImpact(ctx, "category", "cat-1", "2026-03", testPassphrase)
	if err != nil {
		t.Fatalf("GetInheritanceImpact: %v", err)
	}
	if impact2.NextCustomNoteMonth == nil || *impact2.NextCustomNoteMonth != "2026-07" {
		t.Fatalf("NextCustomNoteMonth = %v, want 2026-07", impact2.NextCustomNoteMonth)
	}
	if len(impact2.AffectedMonths) != 4 {
		t.Errorf("AffectedMonths len = %d, want 4 (2026-03..2026-06)", len(impact2.AffectedMonths))
	}
}

func TestUpdateCheckboxState_ExtendsSparseArray(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	note, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "- a\n- b\n- c", testPassphrase)
	if err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	// Checking index 3 with no prior state must extend with 3 unchecked
	// entries before setting index 3 true.
	if err := svc.UpdateCheckboxState(ctx, note.ID, "2026-01", 3, true); err != nil {
		t.Fatalf("UpdateCheckboxState: %v", err)
	}

	row, err := svc.store.GetCheckboxStatesForNote(ctx, note.ID, "2026-01")
	if err != nil {
		t.Fatalf("GetCheckboxStatesForNote: %v", err)
	}
	states := decodeStates(row.StatesJSON)
	if len(states) != 4 {
		t.Fatalf("len(states) = %d, want 4", len(states))
	}
	for i := 0; i < 3; i++ {
		if states[i] {
			t.Errorf("states[%d] = true, want false (sparse-extended)", i)
		}
	}
	if !states[3] {
		t.Error("states[3] = false, want true")
	}
}

func TestSyncCategories_ArchivesRemovedCategory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	note, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "January plan", testPassphrase)
	if err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if err := svc.UpdateCheckboxState(ctx, note.ID, "2026-01", 0, true); err != nil {
		t.Fatalf("UpdateCheckboxState: %v", err)
	}

	if _, err := svc.SyncCategories(ctx, map[string]string{"cat-1": "Groceries"}); err != nil {
		t.Fatalf("initial SyncCategories: %v", err)
	}

	// cat-1 no longer present upstream.
	result, err := svc.SyncCategories(ctx, map[string]string{})
	if err != nil {
		t.Fatalf("SyncCategories: %v", err)
	}
	if result.ArchivedCount != 1 {
		t.Fatalf("ArchivedCount = %d, want 1", result.ArchivedCount)
	}

	if _, err := svc.store.GetNote(ctx, note.ID); err != sql.ErrNoRows {
		t.Errorf("expected original note to be gone, got err = %v", err)
	}

	archived, err := svc.GetArchivedNotes(ctx, testPassphrase)
	if err != nil {
		t.Fatalf("GetArchivedNotes: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("len(archived) = %d, want 1", len(archived))
	}
	if archived[0].OriginalCategoryName != "Groceries" {
		t.Errorf("OriginalCategoryName = %q, want Groceries", archived[0].OriginalCategoryName)
	}

	if _, err := svc.store.GetCheckboxStatesForNote(ctx, note.ID, "2026-01"); err != sql.ErrNoRows {
		t.Errorf("expected checkbox state to be cleared on archive, got err = %v", err)
	}
}

func TestDeleteGeneralNote_DoesNotCascadeCheckboxStates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveGeneralNote(ctx, "2026-01", "general plan", testPassphrase); err != nil {
		t.Fatalf("SaveGeneralNote: %v", err)
	}
	if err := svc.UpdateGeneralCheckboxState(ctx, "2026-01", "2026-01", 0, true); err != nil {
		t.Fatalf("UpdateGeneralCheckboxState: %v", err)
	}

	if err := svc.DeleteGeneralNote(ctx, "2026-01"); err != nil {
		t.Fatalf("DeleteGeneralNote: %v", err)
	}

	if _, err := svc.store.GetGeneralNote(ctx, "2026-01"); err != sql.ErrNoRows {
		t.Errorf("expected general note to be gone, got err = %v", err)
	}

	row, err := svc.store.GetCheckboxStatesForGeneralNote(ctx, "2026-01", "2026-01")
	if err != nil {
		t.Fatalf("expected checkbox state to survive DeleteGeneralNote, got err = %v", err)
	}
	states := decodeStates(row.StatesJSON)
	if len(states) != 1 || !states[0] {
		t.Errorf("states = %v, want [true]", states)
	}
}

func TestSaveNote_WrongPassphraseFailsDecrypt(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveNote(ctx, "category", "cat-1", "Groceries", nil, nil, "2026-01", "secret plan", testPassphrase); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	if _, err := svc.GetEffectiveNote(ctx, "category", "cat-1", "2026-01", "wrong passphrase"); err == nil {
		t.Fatal("expected error resolving note with wrong passphrase")
	}
}
