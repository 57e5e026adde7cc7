// Package notes implements the Encrypted Notes Engine (spec §3, §4.2):
// per-category/group notes with month-key inheritance, independent
// per-viewing-month checkbox state, and archival on upstream category
// deletion.
package notes

import "time"

// CategoryType distinguishes a category-level note from a group-level one.
type CategoryType string

const (
	CategoryTypeCategory CategoryType = "category"
	CategoryTypeGroup    CategoryType = "group"
)

// Note is a category/group note (spec §3 "Note").
type Note struct {
	ID           string    `json:"id"`
	CategoryType string    `json:"category_type"`
	CategoryID   string    `json:"category_id"`
	CategoryName string    `json:"category_name"`
	GroupID      *string   `json:"group_id,omitempty"`
	GroupName    *string   `json:"group_name,omitempty"`
	MonthKey     string    `json:"month_key"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GeneralNote is a month-scoped note not tied to any category (spec §3).
type GeneralNote struct {
	ID        string    `json:"id"`
	MonthKey  string    `json:"month_key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArchivedNote is a Note preserved after its owning category disappeared
// upstream (spec §3 "ArchivedNote").
type ArchivedNote struct {
	Note
	ArchivedAt           time.Time `json:"archived_at"`
	OriginalCategoryName string    `json:"original_category_name"`
	OriginalGroupName    *string   `json:"original_group_name,omitempty"`
}

// EffectiveNote is the result of inheritance resolution (spec §4.2).
type EffectiveNote struct {
	Note         *Note  `json:"note"`
	SourceMonth  string `json:"source_month"`
	IsInherited  bool   `json:"is_inherited"`
}

// AllNotesForMonth bundles effective category and general notes for a month
// (spec §4.2 get_all_notes_for_month, original_source's equivalent method).
type AllNotesForMonth struct {
	MonthKey              string                    `json:"month_key"`
	EffectiveNotes        map[string]*EffectiveNote `json:"effective_notes"`
	EffectiveGeneralNote  *EffectiveNote            `json:"effective_general_note"`
}

// RevisionEntry is one row of a category's note history (spec §6 GET /history).
type RevisionEntry struct {
	MonthKey       string    `json:"month_key"`
	Content        string    `json:"content"`
	ContentPreview string    `json:"content_preview"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SourceNotePreview is the truncated preview of the note an
// InheritanceImpact would break (spec §4.2).
type SourceNotePreview struct {
	ID             string `json:"id"`
	MonthKey       string `json:"month_key"`
	ContentPreview string `json:"content_preview"`
}

// InheritanceImpact answers "what breaks if I create a note at month_key"
// (spec §4.2 get_inheritance_impact).
type InheritanceImpact struct {
	SourceNote                *SourceNotePreview `json:"source_note"`
	AffectedMonths            []string           `json:"affected_months"`
	MonthsWithCheckboxStates  map[string]int      `json:"months_with_checkbox_states"`
	NextCustomNoteMonth       *string            `json:"next_custom_note_month"`
}

// SyncResult is the return value of SyncCategories (spec §4.2).
type SyncResult struct {
	ArchivedCount int `json:"archived_count"`
}

const previewLen = 100

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen]) + "..."
}
