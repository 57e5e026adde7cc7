package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eclosion-app/eclosion/internal/cryptutil"
	"github.com/eclosion-app/eclosion/internal/telemetry"
)

// Service implements the notes engine's algorithms (spec §4.2): inheritance
// resolution, checkbox state, archival, and category-sync bookkeeping. All
// content is encrypted at rest; Service is the only layer that ever holds
// plaintext.
type Service struct {
	store  *Store
	cipher *cryptutil.Cipher
	logger *slog.Logger
}

func NewService(store *Store, cipher *cryptutil.Cipher, logger *slog.Logger) *Service {
	return &Service{store: store, cipher: cipher, logger: logger}
}

func (svc *Service) decryptNote(r noteRow, passphrase string) (*Note, error) {
	content, err := svc.cipher.Decrypt(r.ContentEnc, r.Salt, passphrase)
	if err != nil {
		return nil, err // cryptutil already reports this as apperr.Auth
	}
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	n := &Note{
		ID:           r.ID,
		CategoryType: r.CategoryType,
		CategoryID:   r.CategoryID,
		CategoryName: r.CategoryName,
		MonthKey:     r.MonthKey,
		Content:      content,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if r.GroupID.Valid {
		n.GroupID = &r.GroupID.String
	}
	if r.GroupName.Valid {
		n.GroupName = &r.GroupName.String
	}
	return n, nil
}

// SaveNote encrypts content and upserts the note on its logical key.
func (svc *Service) SaveNote(ctx context.Context, categoryType, categoryID, categoryName string, groupID, groupName *string, monthKey, content, passphrase string) (*Note, error) {
	existing, err := svc.store.GetNoteByLogicalKey(ctx, categoryType, categoryID, monthKey)
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	if err == nil {
		id = existing.ID
		createdAt, _ = time.Parse(time.RFC3339, existing.CreatedAt)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking for existing note: %w", err)
	}

	ct, salt, err := svc.cipher.Encrypt(content, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypting note: %w", err)
	}

	now := time.Now().UTC()
	row := noteRow{
		ID:           id,
		CategoryType: categoryType,
		CategoryID:   categoryID,
		CategoryName: categoryName,
		MonthKey:     monthKey,
		ContentEnc:   ct,
		Salt:         salt,
		CreatedAt:    createdAt.Format(time.RFC3339),
		UpdatedAt:    now.Format(time.RFC3339),
	}
	if groupID != nil {
		row.GroupID = sql.NullString{String: *groupID, Valid: true}
	}
	if groupName != nil {
		row.GroupName = sql.NullString{String: *groupName, Valid: true}
	}

	if err := svc.store.SaveNote(ctx, row); err != nil {
		return nil, err
	}
	if err := svc.store.UpsertKnownCategory(ctx, categoryID, categoryName); err != nil {
		return nil, fmt.Errorf("recording known category: %w", err)
	}

	return svc.decryptNote(row, passphrase)
}

func (svc *Service) DeleteNote(ctx context.Context, id string) error {
	if err := svc.store.ClearCheckboxStatesForNote(ctx, id); err != nil {
		return err
	}
	return svc.store.DeleteNote(ctx, id)
}

// GetEffectiveNote resolves inheritance: the latest note with month_key <=
// targetMonth for the given category, scanning notes most-recent-first.
func (svc *Service) GetEffectiveNote(ctx context.Context, categoryType, categoryID, targetMonth, passphrase string) (*EffectiveNote, error) {
	rows, err := svc.store.GetNotesForCategory(ctx, categoryType, categoryID)
	if err != nil {
		return nil, fmt.Errorf("loading notes for category: %w", err)
	}
	for _, r := range rows {
		if r.MonthKey <= targetMonth {
			n, err := svc.decryptNote(r, passphrase)
			if err != nil {
				return nil, err
			}
			inherited := r.MonthKey != targetMonth
			telemetry.NotesInheritanceLookupsTotal.WithLabelValues(inheritedLabel(inherited)).Inc()
			return &EffectiveNote{Note: n, SourceMonth: r.MonthKey, IsInherited: inherited}, nil
		}
	}
	return nil, nil
}

// GetAllNotesForMonth resolves, for a single viewing month, the effective
// category note of every category that has at least one stored note, plus
// the effective general note.
func (svc *Service) GetAllNotesForMonth(ctx context.Context, monthKey, passphrase string) (*AllNotesForMonth, error) {
	allRows, err := svc.store.GetAllNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading notes: %w", err)
	}

	byCategory := map[string][]noteRow{}
	for _, r := range allRows {
		key := r.CategoryType + ":" + r.CategoryID
		byCategory[key] = append(byCategory[key], r)
	}

	result := &AllNotesForMonth{MonthKey: monthKey, EffectiveNotes: map[string]*EffectiveNote{}}
	for key, rows := range byCategory {
		sort.Slice(rows, func(i, j int) bool { return rows[i].MonthKey > rows[j].MonthKey })
		for _, r := range rows {
			if r.MonthKey <= monthKey {
				n, err := svc.decryptNote(r, passphrase)
				if err != nil {
					return nil, err
				}
				result.EffectiveNotes[key] = &EffectiveNote{Note: n, SourceMonth: r.MonthKey, IsInherited: r.MonthKey != monthKey}
				break
			}
		}
	}

	generalEff, err := svc.GetEffectiveGeneralNote(ctx, monthKey, passphrase)
	if err != nil {
		return nil, err
	}
	result.EffectiveGeneralNote = generalEff

	return result, nil
}

// --- general notes ---

func (svc *Service) decryptGeneralNote(r generalNoteRow, passphrase string) (*GeneralNote, error) {
	content, err := svc.cipher.Decrypt(r.ContentEnc, r.Salt, passphrase)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return &GeneralNote{ID: r.ID, MonthKey: r.MonthKey, Content: content, CreatedAt: createdAt, UpdatedAt: updatedAt}, nil
}

func (svc *Service) SaveGeneralNote(ctx context.Context, monthKey, content, passphrase string) (*GeneralNote, error) {
	existing, err := svc.store.GetGeneralNote(ctx, monthKey)
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	if err == nil {
		id = existing.ID
		createdAt, _ = time.Parse(time.RFC3339, existing.CreatedAt)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking for existing general note: %w", err)
	}

	ct, salt, err := svc.cipher.Encrypt(content, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypting general note: %w", err)
	}

	now := time.Now().UTC()
	row := generalNoteRow{
		MonthKey:   monthKey,
		ID:         id,
		ContentEnc: ct,
		Salt:       salt,
		CreatedAt:  createdAt.Format(time.RFC3339),
		UpdatedAt:  now.Format(time.RFC3339),
	}
	if err := svc.store.SaveGeneralNote(ctx, row); err != nil {
		return nil, err
	}
	return svc.decryptGeneralNote(row, passphrase)
}

func (svc *Service) DeleteGeneralNote(ctx context.Context, monthKey string) error {
	return svc.store.DeleteGeneralNote(ctx, monthKey)
}

// GetEffectiveGeneralNote resolves inheritance across all general notes the
// same way GetEffectiveNote does for category notes.
func (svc *Service) GetEffectiveGeneralNote(ctx context.Context, targetMonth, passphrase string) (*EffectiveNote, error) {
	rows, err := svc.store.GetAllGeneralNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading general notes: %w", err)
	}
	for _, r := range rows {
		if r.MonthKey <= targetMonth {
			gn, err := svc.decryptGeneralNote(r, passphrase)
			if err != nil {
				return nil, err
			}
			n := &Note{ID: gn.ID, MonthKey: gn.MonthKey, Content: gn.Content, CreatedAt: gn.CreatedAt, UpdatedAt: gn.UpdatedAt}
			inherited := r.MonthKey != targetMonth
			telemetry.NotesInheritanceLookupsTotal.WithLabelValues(inheritedLabel(inherited)).Inc()
			return &EffectiveNote{Note: n, SourceMonth: r.MonthKey, IsInherited: inherited}, nil
		}
	}
	return nil, nil
}

// --- inheritance impact ---

// GetInheritanceImpact answers "what would creating/editing a note at
// month_key break downstream", per spec §4.2: the note it would shadow
// (source_note), the months that currently inherit from that note and would
// start inheriting from the new one instead (affected_months, capped at 12
// months or the next custom note, whichever comes first), and how many
// checkbox items are checked in each of those affected months.
func (svc *Service) GetInheritanceImpact(ctx context.Context, categoryType, categoryID, monthKey, passphrase string) (*InheritanceImpact, error) {
	rows, err := svc.store.GetNotesForCategory(ctx, categoryType, categoryID)
	if err != nil {
		return nil, fmt.Errorf("loading notes for category: %w", err)
	}

	var sourceRow *noteRow
	var nextCustomMonth *string
	for i := range rows {
		r := rows[i]
		if r.MonthKey < monthKey && sourceRow == nil {
			sourceRow = &rows[i]
		}
		if r.MonthKey > monthKey {
			m := r.MonthKey
			if nextCustomMonth == nil || m < *nextCustomMonth {
				nextCustomMonth = &m
			}
		}
	}

	impact := &InheritanceImpact{NextCustomNoteMonth: nextCustomMonth, MonthsWithCheckboxStates: map[string]int{}}

	cappedEnd, err := addMonths(monthKey, 12)
	if err != nil {
		return nil, err
	}
	rangeEnd := cappedEnd
	if nextCustomMonth != nil && *nextCustomMonth < rangeEnd {
		rangeEnd = *nextCustomMonth
	}

	months, err := monthsInRange(monthKey, rangeEnd)
	if err != nil {
		return nil, err
	}
	impact.AffectedMonths = months

	if sourceRow != nil {
		n, err := svc.decryptNote(*sourceRow, passphrase)
		if err != nil {
			return nil, err
		}
		impact.SourceNote = &SourceNotePreview{
			ID:             sourceRow.ID,
			MonthKey:       sourceRow.MonthKey,
			ContentPreview: preview(n.Content),
		}
		counts, err := svc.store.GetCheckboxStatesByViewingMonths(ctx, sourceRow.ID, months)
		if err != nil {
			return nil, fmt.Errorf("loading checkbox states by viewing month: %w", err)
		}
		impact.MonthsWithCheckboxStates = counts
	}

	return impact, nil
}

// --- archival / category sync ---

// SyncCategories compares the given live upstream categories against the
// last-known set and archives notes for every category that disappeared
// (spec §4.2: upstream category deletion triggers archival, never silent
// data loss).
func (svc *Service) SyncCategories(ctx context.Context, currentCategories map[string]string) (*SyncResult, error) {
	known, err := svc.store.GetKnownCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading known categories: %w", err)
	}

	archived := 0
	for id := range known {
		if _, stillExists := currentCategories[id]; stillExists {
			continue
		}
		n, err := svc.archiveNotesForCategory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("archiving notes for removed category %s: %w", id, err)
		}
		archived += n
		if err := svc.store.DeleteKnownCategory(ctx, id); err != nil {
			return nil, fmt.Errorf("removing known category %s: %w", id, err)
		}
	}

	for id, name := range currentCategories {
		if err := svc.store.UpsertKnownCategory(ctx, id, name); err != nil {
			return nil, fmt.Errorf("recording known category %s: %w", id, err)
		}
	}

	return &SyncResult{ArchivedCount: archived}, nil
}

// archiveNotesForCategory moves every note belonging to a category (of
// either type) into archived_notes and clears their checkbox state.
func (svc *Service) archiveNotesForCategory(ctx context.Context, categoryID string) (int, error) {
	count := 0
	for _, categoryType := range []string{string(CategoryTypeCategory), string(CategoryTypeGroup)} {
		rows, err := svc.store.GetNotesForCategory(ctx, categoryType, categoryID)
		if err != nil {
			return count, err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		for _, r := range rows {
			ar := archivedNoteRow{
				noteRow:              r,
				ArchivedAt:           now,
				OriginalCategoryName: r.CategoryName,
				OriginalGroupName:    r.GroupName,
			}
			if err := svc.store.InsertArchivedNote(ctx, ar); err != nil {
				return count, err
			}
			if err := svc.store.ClearCheckboxStatesForNote(ctx, r.ID); err != nil {
				return count, err
			}
			if err := svc.store.DeleteNote(ctx, r.ID); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (svc *Service) GetArchivedNotes(ctx context.Context, passphrase string) ([]*ArchivedNote, error) {
	rows, err := svc.store.GetArchivedNotes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ArchivedNote, 0, len(rows))
	for _, r := range rows {
		n, err := svc.decryptNote(r.noteRow, passphrase)
		if err != nil {
			return nil, err
		}
		archivedAt, _ := time.Parse(time.RFC3339, r.ArchivedAt)
		an := &ArchivedNote{Note: *n, ArchivedAt: archivedAt, OriginalCategoryName: r.OriginalCategoryName}
		if r.OriginalGroupName.Valid {
			an.OriginalGroupName = &r.OriginalGroupName.String
		}
		out = append(out, an)
	}
	return out, nil
}

func (svc *Service) DeleteArchivedNote(ctx context.Context, id string) error {
	return svc.store.DeleteArchivedNote(ctx, id)
}

// --- checkbox state ---

// UpdateCheckboxState toggles a single checkbox item within a viewing
// month's state array, extending the array with unchecked entries if the
// index is past its current length (spec §4.2: sparse checkbox arrays).
func (svc *Service) UpdateCheckboxState(ctx context.Context, noteID, viewingMonth string, checkboxIndex int, checked bool) error {
	r, err := svc.store.GetCheckboxStatesForNote(ctx, noteID, viewingMonth)
	var states []bool
	if err == nil {
		states = decodeStates(r.StatesJSON)
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("loading checkbox states: %w", err)
	}

	states = extendStates(states, checkboxIndex)
	states[checkboxIndex] = checked

	return svc.store.SaveCheckboxStatesForNote(ctx, noteID, viewingMonth, states, time.Now().UTC())
}

func (svc *Service) UpdateGeneralCheckboxState(ctx context.Context, generalMonthKey, viewingMonth string, checkboxIndex int, checked bool) error {
	r, err := svc.store.GetCheckboxStatesForGeneralNote(ctx, generalMonthKey, viewingMonth)
	var states []bool
	if err == nil {
		states = decodeStates(r.StatesJSON)
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("loading checkbox states: %w", err)
	}

	states = extendStates(states, checkboxIndex)
	states[checkboxIndex] = checked

	return svc.store.SaveCheckboxStatesForGeneralNote(ctx, generalMonthKey, viewingMonth, states, time.Now().UTC())
}

// extendStates grows states with false entries until index is addressable,
// ported from the sparse-array extension the upstream checkbox model uses:
// while len(states) <= index: states = append(states, false).
func extendStates(states []bool, index int) []bool {
	for len(states) <= index {
		states = append(states, false)
	}
	return states
}

func decodeStates(statesJSON string) []bool {
	var states []bool
	_ = json.Unmarshal([]byte(statesJSON), &states)
	return states
}

func (svc *Service) GetCheckboxStatesForMonth(ctx context.Context, viewingMonth string) (map[string][]bool, error) {
	return svc.store.GetAllCheckboxStatesForMonth(ctx, viewingMonth)
}

// RevisionHistory returns every current note recorded for a category,
// newest first, with truncated content previews (spec §6 GET /history).
// Archived notes are not included.
func (svc *Service) RevisionHistory(ctx context.Context, categoryType, categoryID, passphrase string) ([]RevisionEntry, error) {
	rows, err := svc.store.GetNotesForCategory(ctx, categoryType, categoryID)
	if err != nil {
		return nil, err
	}
	out := make([]RevisionEntry, 0, len(rows))
	for _, r := range rows {
		n, err := svc.decryptNote(r, passphrase)
		if err != nil {
			return nil, err
		}
		out = append(out, RevisionEntry{
			MonthKey: n.MonthKey, Content: n.Content, ContentPreview: preview(n.Content),
			CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt,
		})
	}
	return out, nil
}

func inheritedLabel(inherited bool) string {
	if inherited {
		return "true"
	}
	return "false"
}
