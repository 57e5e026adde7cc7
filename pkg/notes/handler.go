package notes

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eclosion-app/eclosion/internal/apperr"
	"github.com/eclosion-app/eclosion/internal/httpserver"
)

// Handler provides HTTP handlers for the notes API (spec §6).
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the /notes/* surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/month/{monthKey}", h.handleGetMonth)
	r.Get("/all", h.handleGetAll)
	r.Get("/categories", h.handleGetCategories)
	r.Get("/history/{categoryType}/{categoryId}", h.handleHistory)
	r.Get("/inheritance-impact", h.handleInheritanceImpact)

	r.Post("/category", h.handleSaveCategoryNote)
	r.Delete("/category/{id}", h.handleDeleteCategoryNote)

	r.Get("/general/{monthKey}", h.handleGetGeneralNote)
	r.Post("/general", h.handleSaveGeneralNote)
	r.Delete("/general/{monthKey}", h.handleDeleteGeneralNote)

	r.Get("/archived", h.handleGetArchived)
	r.Delete("/archived/{id}", h.handleDeleteArchived)
	r.Post("/sync-categories", h.handleSyncCategories)

	r.Get("/checkboxes/month/{monthKey}", h.handleCheckboxesForMonth)
	r.Post("/checkboxes/category", h.handleUpdateCategoryCheckbox)
	r.Post("/checkboxes/general", h.handleUpdateGeneralCheckbox)

	return r
}

func passphraseOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	passphrase, err := httpserver.PassphraseFromRequest(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return "", false
	}
	return passphrase, true
}

func (h *Handler) handleGetMonth(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}
	monthKey := chi.URLParam(r, "monthKey")

	result, err := h.svc.GetAllNotesForMonth(r.Context(), monthKey, passphrase)
	if err != nil {
		h.respondServiceErr(w, "resolving notes for month", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleGetAll(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}

	rows, err := h.svc.store.GetAllNotes(r.Context())
	if err != nil {
		h.respondServiceErr(w, "loading notes", err)
		return
	}

	out := make([]*Note, 0, len(rows))
	for _, row := range rows {
		n, err := h.svc.decryptNote(row, passphrase)
		if err != nil {
			h.respondServiceErr(w, "decrypting note", err)
			return
		}
		out = append(out, n)
	}
	httpserver.Respond(w, http.StatusOK, out)
}

// handleGetCategories returns the last-known set of upstream categories
// (spec §6 GET /categories), as recorded by SyncCategories.
func (h *Handler) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	known, err := h.svc.store.GetKnownCategories(r.Context())
	if err != nil {
		h.respondServiceErr(w, "loading known categories", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, known)
}

type saveCategoryNoteRequest struct {
	CategoryType string  `json:"category_type" validate:"required,oneof=category group"`
	CategoryID   string  `json:"category_id" validate:"required"`
	CategoryName string  `json:"category_name" validate:"required"`
	GroupID      *string `json:"group_id"`
	GroupName    *string `json:"group_name"`
	MonthKey     string  `json:"month_key" validate:"required"`
	Content      string  `json:"content"`
}

func (h *Handler) handleSaveCategoryNote(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}

	var req saveCategoryNoteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	note, err := h.svc.SaveNote(r.Context(), req.CategoryType, req.CategoryID, req.CategoryName,
		req.GroupID, req.GroupName, req.MonthKey, req.Content, passphrase)
	if err != nil {
		h.respondServiceErr(w, "saving note", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, note)
}

func (h *Handler) handleDeleteCategoryNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		h.respondServiceErr(w, "deleting note", err)
		return
	}
	Respond204(w)
}

func (h *Handler) handleGetGeneralNote(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}
	monthKey := chi.URLParam(r, "monthKey")

	eff, err := h.svc.GetEffectiveGeneralNote(r.Context(), monthKey, passphrase)
	if err != nil {
		h.respondServiceErr(w, "resolving general note", err)
		return
	}
	if eff == nil {
		httpserver.RespondErrorKind(w, apperr.NotFound, "no general note found for or before this month")
		return
	}
	httpserver.Respond(w, http.StatusOK, eff)
}

type saveGeneralNoteRequest struct {
	MonthKey string `json:"month_key" validate:"required"`
	Content  string `json:"content"`
}

func (h *Handler) handleSaveGeneralNote(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}

	var req saveGeneralNoteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	note, err := h.svc.SaveGeneralNote(r.Context(), req.MonthKey, req.Content, passphrase)
	if err != nil {
		h.respondServiceErr(w, "saving general note", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, note)
}

func (h *Handler) handleDeleteGeneralNote(w http.ResponseWriter, r *http.Request) {
	monthKey := chi.URLParam(r, "monthKey")
	if err := h.svc.DeleteGeneralNote(r.Context(), monthKey); err != nil {
		h.respondServiceErr(w, "deleting general note", err)
		return
	}
	Respond204(w)
}

func (h *Handler) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}

	notes, err := h.svc.GetArchivedNotes(r.Context(), passphrase)
	if err != nil {
		h.respondServiceErr(w, "loading archived notes", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, notes)
}

func (h *Handler) handleDeleteArchived(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteArchivedNote(r.Context(), id); err != nil {
		h.respondServiceErr(w, "deleting archived note", err)
		return
	}
	Respond204(w)
}

type syncCategoriesRequest struct {
	Categories map[string]string `json:"categories" validate:"required"`
}

func (h *Handler) handleSyncCategories(w http.ResponseWriter, r *http.Request) {
	var req syncCategoriesRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.SyncCategories(r.Context(), req.Categories)
	if err != nil {
		h.respondServiceErr(w, "syncing categories", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}
	categoryType := chi.URLParam(r, "categoryType")
	categoryID := chi.URLParam(r, "categoryId")

	history, err := h.svc.RevisionHistory(r.Context(), categoryType, categoryID, passphrase)
	if err != nil {
		h.respondServiceErr(w, "loading note history", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, history)
}

func (h *Handler) handleInheritanceImpact(w http.ResponseWriter, r *http.Request) {
	passphrase, ok := passphraseOrFail(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	categoryType := q.Get("category_type")
	categoryID := q.Get("category_id")
	monthKey := q.Get("month_key")
	if categoryType == "" || categoryID == "" || monthKey == "" {
		httpserver.RespondErrorKind(w, apperr.Validation, "category_type, category_id and month_key are required")
		return
	}

	impact, err := h.svc.GetInheritanceImpact(r.Context(), categoryType, categoryID, monthKey, passphrase)
	if err != nil {
		h.respondServiceErr(w, "computing inheritance impact", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, impact)
}

func (h *Handler) handleCheckboxesForMonth(w http.ResponseWriter, r *http.Request) {
	monthKey := chi.URLParam(r, "monthKey")
	states, err := h.svc.GetCheckboxStatesForMonth(r.Context(), monthKey)
	if err != nil {
		h.respondServiceErr(w, "loading checkbox states", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, states)
}

type updateCheckboxRequest struct {
	NoteID        string `json:"note_id" validate:"required"`
	ViewingMonth  string `json:"viewing_month" validate:"required"`
	CheckboxIndex int    `json:"checkbox_index" validate:"gte=0"`
	Checked       bool   `json:"checked"`
}

func (h *Handler) handleUpdateCategoryCheckbox(w http.ResponseWriter, r *http.Request) {
	var req updateCheckboxRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateCheckboxState(r.Context(), req.NoteID, req.ViewingMonth, req.CheckboxIndex, req.Checked); err != nil {
		h.respondServiceErr(w, "updating checkbox state", err)
		return
	}
	Respond204(w)
}

type updateGeneralCheckboxRequest struct {
	GeneralNoteMonthKey string `json:"general_note_month_key" validate:"required"`
	ViewingMonth        string `json:"viewing_month" validate:"required"`
	CheckboxIndex       int    `json:"checkbox_index" validate:"gte=0"`
	Checked             bool   `json:"checked"`
}

func (h *Handler) handleUpdateGeneralCheckbox(w http.ResponseWriter, r *http.Request) {
	var req updateGeneralCheckboxRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.UpdateGeneralCheckboxState(r.Context(), req.GeneralNoteMonthKey, req.ViewingMonth, req.CheckboxIndex, req.Checked); err != nil {
		h.respondServiceErr(w, "updating general checkbox state", err)
		return
	}
	Respond204(w)
}

// respondServiceErr logs and maps a service-layer error to the standard
// envelope, treating sql.ErrNoRows as NotFound since store methods surface
// it directly rather than wrapping it in *apperr.Error.
func (h *Handler) respondServiceErr(w http.ResponseWriter, action string, err error) {
	if err == sql.ErrNoRows {
		httpserver.RespondErrorKind(w, apperr.NotFound, "not found")
		return
	}
	if _, ok := apperr.As(err); ok {
		httpserver.RespondError(w, err)
		return
	}
	h.logger.Error(action, "error", err)
	httpserver.RespondErrorKind(w, apperr.Internal, "internal error")
}

func Respond204(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
