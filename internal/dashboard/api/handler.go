package dashboard_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-raffle/internal/dashboard"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/referral"
)

type Handler struct {
	Dashboard *dashboard.Service
	Referrals *referral.Service
	Logger    *logger.Logger
}

func NewHandler(dashboardService *dashboard.Service, referralService *referral.Service) *Handler {
	return &Handler{
		Dashboard: dashboardService,
		Referrals: referralService,
		Logger:    logger.NewLogger(),
	}
}

// GetMetrics serves the admin dashboard aggregates.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.Dashboard.GetMetrics(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetMetrics: %v", err))
		http.Error(w, "Failed to compute metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metrics); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetMetrics: failed to encode response: %v", err))
	}
}

// GetWinners lists prize-winning participants with contact details.
func (h *Handler) GetWinners(w http.ResponseWriter, r *http.Request) {
	winners, err := h.Dashboard.GetWinners(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetWinners: %v", err))
		http.Error(w, "Failed to list winners", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(winners); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetWinners: failed to encode response: %v", err))
	}
}

// CreateReferral registers a referral partner.
func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "CreateReferral: received request")

	var input referral.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.Referrals.Create(r.Context(), input)
	if err != nil {
		h.writeReferralError(w, "CreateReferral", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateReferral: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateReferral: created %s", created.ReferralCode))
}

// GetReferral looks up a referral partner by code. The storefront uses
// this to verify a ?ref= code before attaching it to a checkout.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	ref, err := h.Referrals.GetByCode(r.Context(), code)
	if err != nil {
		h.writeReferralError(w, "GetReferral", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ref); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetReferral: failed to encode response: %v", err))
	}
}

// UpdateReferral patches a referral partner.
func (h *Handler) UpdateReferral(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var input referral.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.Referrals.Update(r.Context(), code, input)
	if err != nil {
		h.writeReferralError(w, "UpdateReferral", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateReferral: failed to encode response: %v", err))
	}
}

// DeleteReferral removes a referral partner.
func (h *Handler) DeleteReferral(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.Referrals.Delete(r.Context(), code); err != nil {
		h.writeReferralError(w, "DeleteReferral", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListReferralStats returns every referral with its completed sales and
// computed commission.
func (h *Handler) ListReferralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Referrals.ListWithStats(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListReferralStats: %v", err))
		http.Error(w, "Failed to list referral stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListReferralStats: failed to encode response: %v", err))
	}
}

func (h *Handler) writeReferralError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, referral.ErrNotFound):
		http.Error(w, "Referral not found", http.StatusNotFound)
	case errors.Is(err, referral.ErrDuplicateCode):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, referral.ErrEmailExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, referral.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		http.Error(w, "Referral operation failed", http.StatusInternalServerError)
	}
}
