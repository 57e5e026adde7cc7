package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store provides direct-SQL access to the notes tables. Content columns hold
// ciphertext; Store never sees or touches plaintext — that's Service's job.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// noteRow mirrors the notes table, content held as ciphertext+salt.
type noteRow struct {
	ID           string
	CategoryType string
	CategoryID   string
	CategoryName string
	GroupID      sql.NullString
	GroupName    sql.NullString
	MonthKey     string
	ContentEnc   string
	Salt         string
	CreatedAt    string
	UpdatedAt    string
}

const noteColumns = `id, category_type, category_id, category_name, group_id, group_name,
	month_key, content_enc, salt, created_at, updated_at`

func scanNoteRow(scanner interface{ Scan(...any) error }) (noteRow, error) {
	var r noteRow
	err := scanner.Scan(&r.ID, &r.CategoryType, &r.CategoryID, &r.CategoryName,
		&r.GroupID, &r.GroupName, &r.MonthKey, &r.ContentEnc, &r.Salt,
		&r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// SaveNote upserts a note on its logical key (category_type, category_id, month_key).
func (s *Store) SaveNote(ctx context.Context, r noteRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, category_type, category_id, category_name, group_id, group_name,
			month_key, content_enc, salt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category_type, category_id, month_key) DO UPDATE SET
			category_name = excluded.category_name,
			group_id = excluded.group_id,
			group_name = excluded.group_name,
			content_enc = excluded.content_enc,
			salt = excluded.salt,
			updated_at = excluded.updated_at
	`, r.ID, r.CategoryType, r.CategoryID, r.CategoryName, r.GroupID, r.GroupName,
		r.MonthKey, r.ContentEnc, r.Salt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

func (s *Store) GetNote(ctx context.Context, id string) (noteRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	return scanNoteRow(row)
}

func (s *Store) GetNoteByLogicalKey(ctx context.Context, categoryType, categoryID, monthKey string) (noteRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+`
		FROM notes WHERE category_type = ? AND category_id = ? AND month_key = ?`,
		categoryType, categoryID, monthKey)
	return scanNoteRow(row)
}

// GetNotesForCategory returns every note for a category, most recent month first —
// the order get_effective_note's inheritance scan depends on.
func (s *Store) GetNotesForCategory(ctx context.Context, categoryType, categoryID string) ([]noteRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+`
		FROM notes WHERE category_type = ? AND category_id = ? ORDER BY month_key DESC`,
		categoryType, categoryID)
	if err != nil {
		return nil, fmt.Errorf("querying notes for category: %w", err)
	}
	defer rows.Close()
	return collectNoteRows(rows)
}

func (s *Store) GetAllNotes(ctx context.Context) ([]noteRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY category_id, month_key DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying all notes: %w", err)
	}
	defer rows.Close()
	return collectNoteRows(rows)
}

func collectNoteRows(rows *sql.Rows) ([]noteRow, error) {
	var out []noteRow
	for rows.Next() {
		r, err := scanNoteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	return err
}

// generalNoteRow mirrors the general_notes table.
type generalNoteRow struct {
	MonthKey   string
	ID         string
	ContentEnc string
	Salt       string
	CreatedAt  string
	UpdatedAt  string
}

const generalNoteColumns = `month_key, id, content_enc, salt, created_at, updated_at`

func scanGeneralNoteRow(scanner interface{ Scan(...any) error }) (generalNoteRow, error) {
	var r generalNoteRow
	err := scanner.Scan(&r.MonthKey, &r.ID, &r.ContentEnc, &r.Salt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) SaveGeneralNote(ctx context.Context, r generalNoteRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO general_notes (month_key, id, content_enc, salt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(month_key) DO UPDATE SET
			content_enc = excluded.content_enc, salt = excluded.salt, updated_at = excluded.updated_at
	`, r.MonthKey, r.ID, r.ContentEnc, r.Salt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving general note: %w", err)
	}
	return nil
}

func (s *Store) GetGeneralNote(ctx context.Context, monthKey string) (generalNoteRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+generalNoteColumns+` FROM general_notes WHERE month_key = ?`, monthKey)
	return scanGeneralNoteRow(row)
}

// GetAllGeneralNotes returns every general note, most recent month first.
func (s *Store) GetAllGeneralNotes(ctx context.Context) ([]generalNoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+generalNoteColumns+` FROM general_notes ORDER BY month_key DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying general notes: %w", err)
	}
	defer rows.Close()

	var out []generalNoteRow
	for rows.Next() {
		r, err := scanGeneralNoteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning general note row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteGeneralNote(ctx context.Context, monthKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM general_notes WHERE month_key = ?`, monthKey)
	return err
}

// archivedNoteRow mirrors the archived_notes table.
type archivedNoteRow struct {
	noteRow
	ArchivedAt           string
	OriginalCategoryName string
	OriginalGroupName    sql.NullString
}

const archivedNoteColumns = `id, category_type, category_id, category_name, group_id, group_name,
	month_key, content_enc, salt, created_at, updated_at,
	archived_at, original_category_name, original_group_name`

func scanArchivedNoteRow(scanner interface{ Scan(...any) error }) (archivedNoteRow, error) {
	var r archivedNoteRow
	err := scanner.Scan(&r.ID, &r.CategoryType, &r.CategoryID, &r.CategoryName,
		&r.GroupID, &r.GroupName, &r.MonthKey, &r.ContentEnc, &r.Salt,
		&r.CreatedAt, &r.UpdatedAt, &r.ArchivedAt, &r.OriginalCategoryName, &r.OriginalGroupName)
	return r, err
}

func (s *Store) InsertArchivedNote(ctx context.Context, r archivedNoteRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_notes (id, category_type, category_id, category_name, group_id, group_name,
			month_key, content_enc, salt, created_at, updated_at,
			archived_at, original_category_name, original_group_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CategoryType, r.CategoryID, r.CategoryName, r.GroupID, r.GroupName,
		r.MonthKey, r.ContentEnc, r.Salt, r.CreatedAt, r.UpdatedAt,
		r.ArchivedAt, r.OriginalCategoryName, r.OriginalGroupName)
	if err != nil {
		return fmt.Errorf("inserting archived note: %w", err)
	}
	return nil
}

func (s *Store) GetArchivedNotes(ctx context.Context) ([]archivedNoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+archivedNoteColumns+` FROM archived_notes ORDER BY archived_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying archived notes: %w", err)
	}
	defer rows.Close()

	var out []archivedNoteRow
	for rows.Next() {
		r, err := scanArchivedNoteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archived note row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteArchivedNote(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM archived_notes WHERE id = ?`, id)
	return err
}

// known_categories tracks the last-seen set of upstream categories, used by
// SyncCategories to detect deletions (spec §4.2).
func (s *Store) GetKnownCategories(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category_id, name FROM known_categories`)
	if err != nil {
		return nil, fmt.Errorf("querying known categories: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning known category: %w", err)
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (s *Store) UpsertKnownCategory(ctx context.Context, categoryID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO known_categories (category_id, name) VALUES (?, ?)
		ON CONFLICT(category_id) DO UPDATE SET name = excluded.name
	`, categoryID, name)
	return err
}

func (s *Store) DeleteKnownCategory(ctx context.Context, categoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM known_categories WHERE category_id = ?`, categoryID)
	return err
}

// checkboxRow mirrors the checkbox_states table. Exactly one of NoteID /
// GeneralNoteMonthKey is set, matching the table's two unique indexes.
type checkboxRow struct {
	ID                  int64
	NoteID              sql.NullString
	GeneralNoteMonthKey sql.NullString
	ViewingMonth        string
	StatesJSON          string
	CreatedAt           string
	UpdatedAt           string
}

func (s *Store) GetCheckboxStatesForNote(ctx context.Context, noteID, viewingMonth string) (checkboxRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, general_note_month_key, viewing_month, states_json, created_at, updated_at
		FROM checkbox_states WHERE note_id = ? AND viewing_month = ?`, noteID, viewingMonth)
	var r checkboxRow
	err := row.Scan(&r.ID, &r.NoteID, &r.GeneralNoteMonthKey, &r.ViewingMonth, &r.StatesJSON, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) GetCheckboxStatesForGeneralNote(ctx context.Context, generalMonthKey, viewingMonth string) (checkboxRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, note_id, general_note_month_key, viewing_month, states_json, created_at, updated_at
		FROM checkbox_states WHERE general_note_month_key = ? AND viewing_month = ?`, generalMonthKey, viewingMonth)
	var r checkboxRow
	err := row.Scan(&r.ID, &r.NoteID, &r.GeneralNoteMonthKey, &r.ViewingMonth, &r.StatesJSON, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) SaveCheckboxStatesForNote(ctx context.Context, noteID, viewingMonth string, states []bool, now time.Time) error {
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encoding checkbox states: %w", err)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkbox_states (note_id, viewing_month, states_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(note_id, viewing_month) DO UPDATE SET states_json = excluded.states_json, updated_at = excluded.updated_at
	`, noteID, viewingMonth, string(statesJSON), ts, ts)
	if err != nil {
		return fmt.Errorf("saving checkbox states: %w", err)
	}
	return nil
}

func (s *Store) SaveCheckboxStatesForGeneralNote(ctx context.Context, generalMonthKey, viewingMonth string, states []bool, now time.Time) error {
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("encoding checkbox states: %w", err)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkbox_states (general_note_month_key, viewing_month, states_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(general_note_month_key, viewing_month) DO UPDATE SET states_json = excluded.states_json, updated_at = excluded.updated_at
	`, generalMonthKey, viewingMonth, string(statesJSON), ts, ts)
	if err != nil {
		return fmt.Errorf("saving checkbox states: %w", err)
	}
	return nil
}

// GetAllCheckboxStatesForMonth returns every checkbox row whose viewing_month
// matches, keyed by note_id (or "general:<month_key>" for general notes).
func (s *Store) GetAllCheckboxStatesForMonth(ctx context.Context, viewingMonth string) (map[string][]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note_id, general_note_month_key, states_json
		FROM checkbox_states WHERE viewing_month = ?`, viewingMonth)
	if err != nil {
		return nil, fmt.Errorf("querying checkbox states for month: %w", err)
	}
	defer rows.Close()

	out := map[string][]bool{}
	for rows.Next() {
		var noteID, generalKey sql.NullString
		var statesJSON string
		if err := rows.Scan(&noteID, &generalKey, &statesJSON); err != nil {
			return nil, fmt.Errorf("scanning checkbox row: %w", err)
		}
		var states []bool
		if err := json.Unmarshal([]byte(statesJSON), &states); err != nil {
			return nil, fmt.Errorf("decoding checkbox states: %w", err)
		}
		key := noteID.String
		if noteID.String == "" {
			key = "general:" + generalKey.String
		}
		out[key] = states
	}
	return out, rows.Err()
}

func (s *Store) ClearCheckboxStatesForNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkbox_states WHERE note_id = ?`, noteID)
	return err
}

func (s *Store) ClearCheckboxStatesForGeneralNote(ctx context.Context, generalMonthKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkbox_states WHERE general_note_month_key = ?`, generalMonthKey)
	return err
}

// ClearCheckboxStatesForViewingMonths clears checkbox state for a specific
// note across a batch of viewing months (used when inheritance changes mean
// the previously-inherited checkbox state no longer applies).
func (s *Store) ClearCheckboxStatesForViewingMonths(ctx context.Context, noteID string, viewingMonths []string) error {
	for _, vm := range viewingMonths {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM checkbox_states WHERE note_id = ? AND viewing_month = ?`, noteID, vm); err != nil {
			return fmt.Errorf("clearing checkbox states for %s: %w", vm, err)
		}
	}
	return nil
}

// GetCheckboxStatesByViewingMonths returns checked-item counts for a note
// across several viewing months, keyed by viewing month.
func (s *Store) GetCheckboxStatesByViewingMonths(ctx context.Context, noteID string, viewingMonths []string) (map[string]int, error) {
	out := map[string]int{}
	for _, vm := range viewingMonths {
		r, err := s.GetCheckboxStatesForNote(ctx, noteID, vm)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("querying checkbox states for %s: %w", vm, err)
		}
		var states []bool
		if err := json.Unmarshal([]byte(r.StatesJSON), &states); err != nil {
			return nil, fmt.Errorf("decoding checkbox states: %w", err)
		}
		count := 0
		for _, checked := range states {
			if checked {
				count++
			}
		}
		out[vm] = count
	}
	return out, nil
}
