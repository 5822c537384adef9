package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paisabook/backend/internal/middleware"
	"github.com/paisabook/backend/internal/services"
)

type SummaryHandler struct {
	aggregates *services.AggregateService
}

func NewSummaryHandler(aggregates *services.AggregateService) *SummaryHandler {
	return &SummaryHandler{aggregates: aggregates}
}

// RecipientSummary returns the per-recipient running totals
// @Summary Get recipient summary
// @Description Get sent, received and net totals for a recipient
// @Tags summaries
// @Produce json
// @Security BearerAuth
// @Param recipientId path string true "Recipient ID"
// @Success 200 {object} models.RecipientSummary
// @Failure 404 {object} services.ErrorResponse
// @Router /recipients/{recipientId}/summary [get]
func (h *SummaryHandler) RecipientSummary(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	recipientID := chi.URLParam(r, "recipientId")
	if !session.IsAdmin() && session.RecipientID != recipientID {
		services.SendErrorResponse(w, "Summary not found", http.StatusNotFound, nil)
		return
	}

	summary, err := h.aggregates.GetRecipientSummary(r.Context(), recipientID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}
	if summary.LedgerID != session.LedgerID {
		services.SendErrorResponse(w, "Summary not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// LedgerSummary returns the ledger-wide running totals
// @Summary Get ledger summary
// @Description Get sent, received and net totals across a whole ledger
// @Tags summaries
// @Produce json
// @Security BearerAuth
// @Param ledgerId path string true "Ledger ID"
// @Success 200 {object} models.LedgerSummary
// @Failure 404 {object} services.ErrorResponse
// @Router /ledgers/{ledgerId}/summary [get]
func (h *SummaryHandler) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	// The ledger-wide totals span every recipient; coworkers are limited to
	// their own summary.
	if !session.IsAdmin() {
		services.SendErrorResponse(w, "Summary not found", http.StatusNotFound, nil)
		return
	}

	ledgerID := chi.URLParam(r, "ledgerId")
	if ledgerID != session.LedgerID {
		services.SendErrorResponse(w, "Summary not found", http.StatusNotFound, nil)
		return
	}

	summary, err := h.aggregates.GetLedgerSummary(r.Context(), ledgerID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
