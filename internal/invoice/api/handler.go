package invoice_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-raffle/internal/invoice"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

type Handler struct {
	Invoices *invoice.Service
	DB       invoice.DBLayer
	Logger   *logger.Logger
}

func NewHandler(invoiceService *invoice.Service, db invoice.DBLayer) *Handler {
	return &Handler{
		Invoices: invoiceService,
		DB:       db,
		Logger:   logger.NewLogger(),
	}
}

// CreateInvoice opens a pending invoice, used by the bank-transfer flow
// where no Stripe session exists.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "CreateInvoice: received request")

	var data models.InvoiceCreationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateInvoice: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	inv, err := h.Invoices.Create(r.Context(), data)
	if err != nil {
		if errors.Is(err, invoice.ErrInvalidInvoice) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CreateInvoice: %v", err))
		http.Error(w, "Failed to create invoice", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(inv); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateInvoice: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateInvoice: created %s", inv.OrderNumber))
}

// GetInvoice fetches one invoice by order number.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	h.Logger.Info("API", fmt.Sprintf("GetInvoice: orderNumber=%s", orderNumber))

	inv, err := h.DB.GetByOrderNumber(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			http.Error(w, "Invoice not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetInvoice: %v", err))
		http.Error(w, "Failed to fetch invoice", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(inv); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetInvoice: failed to encode response: %v", err))
	}
}

// CompleteInvoice confirms a payment. For bank transfers this also draws
// the numbers, so capacity failures surface here.
func (h *Handler) CompleteInvoice(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	h.Logger.Info("API", fmt.Sprintf("CompleteInvoice: orderNumber=%s", orderNumber))

	inv, err := h.Invoices.Complete(r.Context(), orderNumber)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			http.Error(w, "Invoice not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CompleteInvoice: %v", err))
		http.Error(w, "Could not complete invoice: "+err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(inv); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CompleteInvoice: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CompleteInvoice: %s completed", orderNumber))
}

// FailInvoice records an abandoned or rejected payment.
func (h *Handler) FailInvoice(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	h.Logger.Info("API", fmt.Sprintf("FailInvoice: orderNumber=%s", orderNumber))

	if err := h.Invoices.MarkFailed(r.Context(), orderNumber); err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			http.Error(w, "Invoice not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("FailInvoice: %v", err))
		http.Error(w, "Failed to update invoice", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListInvoices pages through invoices for the admin panel.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invoices, err := h.Invoices.List(r.Context(), limit, offset)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListInvoices: %v", err))
		http.Error(w, "Failed to list invoices", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(invoices); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListInvoices: failed to encode response: %v", err))
	}
}
