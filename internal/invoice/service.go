package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/utils"
)

var ErrInvalidInvoice = errors.New("invalid invoice data")

// transferSessionPrefix tags allocations triggered by bank-transfer
// invoices; the order number makes the synthetic session id unique and
// keeps completion idempotent.
const transferSessionPrefix = "transfer_"

type DBLayer interface {
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Invoice, error)
	UpdateStatus(ctx context.Context, orderNumber, status string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.Invoice, error)
	ListByParticipant(ctx context.Context, participantID string) ([]models.Invoice, error)
}

type ParticipantResolver interface {
	FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error)
}

type NumberAllocator interface {
	Allocate(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error)
}

type EventPublisher interface {
	PublishInvoiceCompleted(event kafka.InvoiceEvent) error
}

type Service struct {
	DB           DBLayer
	Participants ParticipantResolver
	Allocator    NumberAllocator
	Events       EventPublisher
	Logger       *logger.Logger
}

func NewService(db DBLayer, participants ParticipantResolver, allocator NumberAllocator, events EventPublisher, log *logger.Logger) *Service {
	return &Service{
		DB:           db,
		Participants: participants,
		Allocator:    allocator,
		Events:       events,
		Logger:       log,
	}
}

// Create writes a pending invoice, resolving (or lazily creating) the
// participant from the buyer's email first.
func (s *Service) Create(ctx context.Context, data models.InvoiceCreationData) (*models.Invoice, error) {
	if data.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInvoice)
	}
	if data.PaymentMethod != models.PaymentMethodStripe && data.PaymentMethod != models.PaymentMethodTransfer {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInvoice, data.PaymentMethod)
	}

	email := strings.ToLower(strings.TrimSpace(data.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInvoice)
	}

	participant, err := s.Participants.FindParticipantByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		name := strings.TrimSpace(data.FullName)
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		participant, err = s.Participants.CreateParticipant(ctx, name, email)
		if err != nil {
			return nil, err
		}
	}

	invoice := &models.Invoice{
		ID:            uuid.NewString(),
		OrderNumber:   utils.GenerateOrderNumber(),
		FullName:      data.FullName,
		Email:         email,
		Phone:         data.Phone,
		Country:       data.Country,
		Province:      data.Province,
		City:          data.City,
		Address:       data.Address,
		PaymentMethod: data.PaymentMethod,
		Amount:        data.Amount,
		TotalPrice:    data.TotalPrice,
		Status:        models.PaymentStatusPending,
		ReferralCode:  strings.ToUpper(strings.TrimSpace(data.ReferralCode)),
		ParticipantID: participant.ID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.DB.CreateInvoice(ctx, invoice); err != nil {
		return nil, err
	}

	s.Logger.Info("INVOICE", fmt.Sprintf("Created invoice %s (%s, %d numbers)", invoice.OrderNumber, invoice.PaymentMethod, invoice.Amount))
	return invoice, nil
}

// Complete marks an invoice completed. Bank-transfer invoices allocate
// their numbers here, since no payment webhook will do it for them; the
// synthetic session id keeps retries idempotent. Completing an
// already-completed invoice is a no-op.
func (s *Service) Complete(ctx context.Context, orderNumber string) (*models.Invoice, error) {
	invoice, err := s.DB.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if invoice.Status == models.PaymentStatusCompleted {
		return invoice, nil
	}

	if invoice.PaymentMethod == models.PaymentMethodTransfer {
		_, err := s.Allocator.Allocate(ctx, models.AllocationRequest{
			ParticipantName:  invoice.FullName,
			ParticipantEmail: invoice.Email,
			Quantity:         invoice.Amount,
			PaymentSessionID: transferSessionPrefix + invoice.OrderNumber,
			OrderNumber:      invoice.OrderNumber,
		})
		if err != nil {
			// The invoice stays pending so the admin can retry.
			return nil, fmt.Errorf("allocate transfer invoice %s: %w", orderNumber, err)
		}
	}

	if _, err := s.DB.UpdateStatus(ctx, orderNumber, models.PaymentStatusCompleted); err != nil {
		return nil, err
	}
	invoice.Status = models.PaymentStatusCompleted

	if s.Events != nil {
		event := kafka.InvoiceEvent{
			OrderNumber: invoice.OrderNumber,
			Email:       invoice.Email,
			Status:      invoice.Status,
			TotalPrice:  invoice.TotalPrice,
			OccurredAt:  time.Now().UTC(),
		}
		if err := s.Events.PublishInvoiceCompleted(event); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish invoice completed event for %s: %v", orderNumber, err))
		}
	}

	s.Logger.Info("INVOICE", fmt.Sprintf("Invoice %s marked completed", orderNumber))
	return invoice, nil
}

// MarkFailed records a failed payment without touching any entries.
func (s *Service) MarkFailed(ctx context.Context, orderNumber string) error {
	updated, err := s.DB.UpdateStatus(ctx, orderNumber, models.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !updated {
		return ErrNotFound
	}
	s.Logger.Info("INVOICE", fmt.Sprintf("Invoice %s marked failed", orderNumber))
	return nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Invoice, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.DB.List(ctx, limit, offset)
}
