package refunds

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eclosion-app/eclosion/internal/apperr"
	"github.com/eclosion-app/eclosion/internal/httpserver"
	"github.com/eclosion-app/eclosion/pkg/upstream"
)

// Handler provides HTTP handlers for the refunds API (spec §6).
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the /refunds/* surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/config", h.handleGetConfig)
	r.Patch("/config", h.handleUpdateConfig)

	r.Get("/pending-count", h.handlePendingCount)
	r.Get("/tags", h.handleListTags)

	r.Get("/views", h.handleGetViews)
	r.Post("/views", h.handleCreateView)
	r.Patch("/views/{id}", h.handleUpdateView)
	r.Delete("/views/{id}", h.handleDeleteView)
	r.Post("/views/reorder", h.handleReorderViews)

	r.Post("/transactions", h.handleGetTransactions)
	r.Post("/search", h.handleSearchTransactions)

	r.Get("/matches", h.handleGetMatches)
	r.Post("/match", h.handleCreateMatch)
	r.Delete("/match/{id}", h.handleDeleteMatch)

	return r
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	config, err := h.svc.GetConfig(r.Context())
	if err != nil {
		h.respondServiceErr(w, "loading refunds config", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, config)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdate
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	config, err := h.svc.UpdateConfig(r.Context(), req)
	if err != nil {
		h.respondServiceErr(w, "updating refunds config", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, config)
}

func (h *Handler) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.GetPendingCount(r.Context())
	if err != nil {
		h.respondServiceErr(w, "computing pending refund count", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, count)
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags(r.Context())
	if err != nil {
		h.respondServiceErr(w, "listing upstream tags", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, tags)
}

func (h *Handler) handleGetViews(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.GetViews(r.Context())
	if err != nil {
		h.respondServiceErr(w, "loading saved views", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, views)
}

type createViewRequest struct {
	Name           string   `json:"name" validate:"required"`
	TagIDs         []string `json:"tag_ids"`
	CategoryIDs    []string `json:"category_ids"`
	SortOrder      int      `json:"sort_order"`
	ExcludeFromAll bool     `json:"exclude_from_all"`
}

func (h *Handler) handleCreateView(w http.ResponseWriter, r *http.Request) {
	var req createViewRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	view, err := h.svc.CreateView(r.Context(), SavedView{
		Name:           req.Name,
		TagIDs:         req.TagIDs,
		CategoryIDs:    req.CategoryIDs,
		SortOrder:      req.SortOrder,
		ExcludeFromAll: req.ExcludeFromAll,
	})
	if err != nil {
		h.respondServiceErr(w, "creating saved view", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

type updateViewRequest struct {
	Name           *string  `json:"name"`
	TagIDs         []string `json:"tag_ids"`
	TagIDsSet      bool     `json:"tag_ids_set"`
	CategoryIDs    []string `json:"category_ids"`
	CategoryIDsSet bool     `json:"category_ids_set"`
	SortOrder      *int     `json:"sort_order"`
	ExcludeFromAll *bool    `json:"exclude_from_all"`
}

func (h *Handler) handleUpdateView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateViewRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	found, err := h.svc.UpdateView(r.Context(), id, req.Name, req.TagIDs, req.TagIDsSet,
		req.CategoryIDs, req.CategoryIDsSet, req.SortOrder, req.ExcludeFromAll)
	if err != nil {
		h.respondServiceErr(w, "updating saved view", err)
		return
	}
	if !found {
		httpserver.RespondErrorKind(w, apperr.NotFound, "saved view not found")
		return
	}
	Respond204(w)
}

func (h *Handler) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, err := h.svc.DeleteView(r.Context(), id)
	if err != nil {
		h.respondServiceErr(w, "deleting saved view", err)
		return
	}
	if !found {
		httpserver.RespondErrorKind(w, apperr.NotFound, "saved view not found")
		return
	}
	Respond204(w)
}

type reorderViewsRequest struct {
	ViewIDs []string `json:"view_ids" validate:"required"`
}

func (h *Handler) handleReorderViews(w http.ResponseWriter, r *http.Request) {
	var req reorderViewsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.ReorderViews(r.Context(), req.ViewIDs); err != nil {
		h.respondServiceErr(w, "reordering saved views", err)
		return
	}
	Respond204(w)
}

type transactionsRequest struct {
	TagIDs      []string `json:"tag_ids"`
	CategoryIDs []string `json:"category_ids"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
}

func (h *Handler) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	var req transactionsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	txns, err := h.svc.GetTransactions(r.Context(), upstream.TransactionFilter{
		TagIDs:      req.TagIDs,
		CategoryIDs: req.CategoryIDs,
		Start:       req.Start,
		End:         req.End,
	})
	if err != nil {
		h.respondServiceErr(w, "fetching upstream transactions", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, txns)
}

type searchRequest struct {
	Query       string `json:"query"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
	CreditsOnly bool   `json:"credits_only"`
}

func (h *Handler) handleSearchTransactions(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	txns, err := h.svc.SearchTransactions(r.Context(), upstream.SearchFilter{
		Query:       req.Query,
		Start:       req.Start,
		End:         req.End,
		Limit:       req.Limit,
		Offset:      req.Offset,
		CreditsOnly: req.CreditsOnly,
	})
	if err != nil {
		h.respondServiceErr(w, "searching upstream transactions", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, txns)
}

func (h *Handler) handleGetMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.svc.GetMatches(r.Context())
	if err != nil {
		h.respondServiceErr(w, "loading refund matches", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, matches)
}

type createMatchRequest struct {
	OriginalTransactionID string          `json:"original_transaction_id" validate:"required"`
	RefundTransactionID   *string         `json:"refund_transaction_id"`
	RefundAmount          *float64        `json:"refund_amount"`
	RefundMerchant        *string         `json:"refund_merchant"`
	RefundDate            *string         `json:"refund_date"`
	RefundAccount         *string         `json:"refund_account"`
	Skipped               bool            `json:"skipped"`
	ExpectedRefund        bool            `json:"expected_refund"`
	ExpectedDate          *string         `json:"expected_date"`
	ExpectedAccount       *string         `json:"expected_account"`
	ExpectedAccountID     *string         `json:"expected_account_id"`
	ExpectedNote          *string         `json:"expected_note"`
	ExpectedAmount        *float64        `json:"expected_amount"`
	ReplaceTag            bool            `json:"replace_tag"`
	OriginalTagIDs        []string        `json:"original_tag_ids"`
	OriginalNotes         string          `json:"original_notes"`
	ViewTagIDs            []string        `json:"view_tag_ids"`
	TransactionData       json.RawMessage `json:"transaction_data"`
}

func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	match, err := h.svc.CreateMatch(r.Context(), CreateMatchRequest{
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
		ReplaceTag:            req.ReplaceTag,
		OriginalTagIDs:        req.OriginalTagIDs,
		OriginalNotes:         req.OriginalNotes,
		ViewTagIDs:            req.ViewTagIDs,
		TransactionData:       req.TransactionData,
	})
	if err != nil {
		h.respondServiceErr(w, "creating refund match", err)
		return
	}
	httpserver.Respond(w, http.StatusOK, match)
}

func (h *Handler) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, err := h.svc.DeleteMatch(r.Context(), id)
	if err != nil {
		h.respondServiceErr(w, "deleting refund match", err)
		return
	}
	if !found {
		httpserver.RespondErrorKind(w, apperr.NotFound, "refund match not found")
		return
	}
	Respond204(w)
}

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
