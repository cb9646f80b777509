package allocator_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-raffle/internal/allocator"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/receipt"
	"ms-raffle/internal/tickets"
	"ms-raffle/internal/utils"
)

type EntrySource interface {
	GetEntryByID(ctx context.Context, id string) (*models.RaffleEntry, error)
}

type Handler struct {
	Allocator *allocator.Service
	Tickets   *tickets.Service
	Entries   EntrySource
	Receipts  *receipt.QRGenerator
	Logger    *logger.Logger
}

func NewHandler(allocatorService *allocator.Service, ticketService *tickets.Service, entries EntrySource, receipts *receipt.QRGenerator) *Handler {
	return &Handler{
		Allocator: allocatorService,
		Tickets:   ticketService,
		Entries:   entries,
		Receipts:  receipts,
		Logger:    logger.NewLogger(),
	}
}

// RegisterNumbers allocates raffle numbers for a confirmed payment. This
// is the internal entry point used by payment processors and the admin
// transfer flow; the Stripe webhook reaches the same allocator directly.
func (h *Handler) RegisterNumbers(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "RegisterNumbers: received request")

	var req models.AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterNumbers: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Allocator.Allocate(r.Context(), req)
	if err != nil {
		h.writeAllocationError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Status == models.AllocationStatusAlreadyProcessed {
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(utils.SuccessResponse("numbers allocated", result)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterNumbers: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("RegisterNumbers: allocated %d numbers for session %s", len(result.Numbers), req.PaymentSessionID))
}

func (h *Handler) writeAllocationError(w http.ResponseWriter, err error) {
	var allocErr *allocator.AllocationError
	if !errors.As(err, &allocErr) {
		h.Logger.Error("API", fmt.Sprintf("RegisterNumbers: allocation failed: %v", err))
		http.Error(w, "Failed to allocate numbers", http.StatusInternalServerError)
		return
	}

	h.Logger.Error("API", fmt.Sprintf("RegisterNumbers: %s", allocErr.InternalError))

	details := map[string]interface{}{"kind": allocErr.Kind}
	if allocErr.Kind == allocator.KindInsufficientCapacity {
		details["remaining"] = allocErr.Remaining
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(allocErr.StatusCode())
	if err := json.NewEncoder(w).Encode(utils.ErrorResponse("number allocation failed", allocErr.PublicError, details)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterNumbers: failed to encode error response: %v", err))
	}
}

// GetActiveRaffle exposes the raffle the storefront is currently selling.
func (h *Handler) GetActiveRaffle(w http.ResponseWriter, r *http.Request) {
	raffle, err := h.Tickets.GetActiveRaffle(r.Context())
	if err != nil {
		if errors.Is(err, tickets.ErrNoActiveRaffle) {
			http.Error(w, "No active raffle", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetActiveRaffle: %v", err))
		http.Error(w, "Failed to fetch raffle", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(raffle); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetActiveRaffle: failed to encode response: %v", err))
	}
}

// GetSoldCount serves the storefront progress bar.
func (h *Handler) GetSoldCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Tickets.GetSoldCount(r.Context())
	if err != nil {
		if errors.Is(err, tickets.ErrNoActiveRaffle) {
			http.Error(w, "No active raffle", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetSoldCount: %v", err))
		http.Error(w, "Failed to fetch sold count", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"sold": count}); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetSoldCount: failed to encode response: %v", err))
	}
}

// GetBlessedNumbers serves the public prize board.
func (h *Handler) GetBlessedNumbers(w http.ResponseWriter, r *http.Request) {
	views, err := h.Tickets.GetBlessedNumbers(r.Context())
	if err != nil {
		if errors.Is(err, tickets.ErrNoActiveRaffle) {
			http.Error(w, "No active raffle", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetBlessedNumbers: %v", err))
		http.Error(w, "Failed to fetch blessed numbers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetBlessedNumbers: failed to encode response: %v", err))
	}
}

// GetUserTickets returns a buyer's grouped ticket history.
func (h *Handler) GetUserTickets(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	h.Logger.Info("API", fmt.Sprintf("GetUserTickets: email=%s", email))

	if email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	purchases, err := h.Tickets.GetUserTickets(r.Context(), email)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetUserTickets: %v", err))
		http.Error(w, "Failed to retrieve tickets", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(purchases); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetUserTickets: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("GetUserTickets: returned %d purchases", len(purchases)))
}

// GetEntryQR streams the encrypted QR receipt for one entry as PNG.
func (h *Handler) GetEntryQR(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")
	h.Logger.Info("API", fmt.Sprintf("GetEntryQR: entryId=%s", entryID))

	entry, err := h.Entries.GetEntryByID(r.Context(), entryID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEntryQR: entry not found: %v", err))
		http.Error(w, "Entry not found", http.StatusNotFound)
		return
	}

	png, err := h.Receipts.GenerateEncryptedQR(receipt.Payload{
		EntryID:     entry.ID,
		RaffleID:    entry.RaffleID,
		Number:      entry.Number,
		PurchasedAt: entry.PurchasedAt,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEntryQR: failed to generate QR: %v", err))
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetEntryQR: failed to write response: %v", err))
	}
}
