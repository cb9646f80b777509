package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-raffle/internal/kafka"
	"ms-raffle/internal/ledger"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

var (
	ErrNotFound      = errors.New("referral not found")
	ErrDuplicateCode = errors.New("referral code already exists")
	ErrEmailExists   = errors.New("a referral with this email already exists")
	ErrInvalidInput  = errors.New("invalid referral data")
)

type EventPublisher interface {
	PublishReferralCreated(event kafka.ReferralEvent) error
}

// Service manages referral partners and their sales stats.
type Service struct {
	db            *bun.DB
	events        EventPublisher
	logger        *logger.Logger
	publicBaseURL string
}

func NewService(db *bun.DB, events EventPublisher, log *logger.Logger, publicBaseURL string) *Service {
	return &Service{
		db:            db,
		events:        events,
		logger:        log,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

type CreateInput struct {
	ReferralCode   string  `json:"referral_code"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	CommissionRate float64 `json:"commission_rate"`
}

// Create registers a referral partner. Codes are stored uppercase so the
// storefront can match them case-insensitively.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Referral, error) {
	code := strings.ToUpper(strings.TrimSpace(input.ReferralCode))
	if code == "" {
		return nil, fmt.Errorf("%w: referral code is required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if input.CommissionRate < 0 || input.CommissionRate > 100 {
		return nil, fmt.Errorf("%w: commission rate must be between 0 and 100", ErrInvalidInput)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email != "" {
		exists, err := s.db.NewSelect().
			Model((*models.Referral)(nil)).
			Where("email = ?", email).
			Exists(ctx)
		if err != nil {
			return nil, fmt.Errorf("check referral email: %w", err)
		}
		if exists {
			return nil, ErrEmailExists
		}
	}

	referral := &models.Referral{
		ID:             uuid.NewString(),
		ReferralCode:   code,
		Name:           strings.TrimSpace(input.Name),
		Email:          email,
		Phone:          strings.TrimSpace(input.Phone),
		CommissionRate: input.CommissionRate,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := s.db.NewInsert().Model(referral).Exec(ctx); err != nil {
		if ledger.IsUniqueViolation(err) {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	s.logger.Info("REFERRAL", fmt.Sprintf("Created referral %s (%s)", referral.ReferralCode, referral.Name))

	if s.events != nil {
		event := kafka.ReferralEvent{
			ReferralCode: referral.ReferralCode,
			Name:         referral.Name,
			Email:        referral.Email,
			ReferralLink: fmt.Sprintf("%s/?ref=%s", s.publicBaseURL, url.QueryEscape(referral.ReferralCode)),
			VerifyURL:    fmt.Sprintf("%s/verifyuser?email=%s", s.publicBaseURL, url.QueryEscape(referral.Email)),
			OccurredAt:   time.Now().UTC(),
		}
		if err := s.events.PublishReferralCreated(event); err != nil {
			s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish referral created event for %s: %v", referral.ReferralCode, err))
		}
	}

	return referral, nil
}

// GetByCode looks up a referral by its code, case-insensitively.
func (s *Service) GetByCode(ctx context.Context, code string) (*models.Referral, error) {
	var referral models.Referral
	err := s.db.NewSelect().
		Model(&referral).
		Where("referral_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return &referral, nil
}

type UpdateInput struct {
	Name           *string  `json:"name"`
	Phone          *string  `json:"phone"`
	CommissionRate *float64 `json:"commission_rate"`
	IsActive       *bool    `json:"is_active"`
}

// Update patches a referral. Only the fields present in the input change;
// the code and email are immutable once created.
func (s *Service) Update(ctx context.Context, code string, input UpdateInput) (*models.Referral, error) {
	referral, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		referral.Name = strings.TrimSpace(*input.Name)
	}
	if input.Phone != nil {
		referral.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.CommissionRate != nil {
		if *input.CommissionRate < 0 || *input.CommissionRate > 100 {
			return nil, fmt.Errorf("%w: commission rate must be between 0 and 100", ErrInvalidInput)
		}
		referral.CommissionRate = *input.CommissionRate
	}
	if input.IsActive != nil {
		referral.IsActive = *input.IsActive
	}
	referral.UpdatedAt = time.Now().UTC()

	_, err = s.db.NewUpdate().
		Model(referral).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update referral: %w", err)
	}
	return referral, nil
}

// Delete removes a referral partner. Invoices keep the code string, so
// past sales remain attributable.
func (s *Service) Delete(ctx context.Context, code string) error {
	res, err := s.db.NewDelete().
		Model((*models.Referral)(nil)).
		Where("referral_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.logger.Info("REFERRAL", fmt.Sprintf("Deleted referral %s", strings.ToUpper(code)))
	return nil
}

type statsRow struct {
	models.Referral
	TotalInvoices int     `bun:"total_invoices"`
	TotalSales    float64 `bun:"total_sales"`
}

// ListWithStats returns every referral together with the completed sales
// it drove. Commission is computed from the partner's rate.
func (s *Service) ListWithStats(ctx context.Context) ([]models.ReferralStats, error) {
	var rows []statsRow
	err := s.db.NewSelect().
		ColumnExpr("r.*").
		ColumnExpr("COUNT(i.id) AS total_invoices").
		ColumnExpr("COALESCE(SUM(i.total_price), 0) AS total_sales").
		TableExpr("referrals AS r").
		Join("LEFT JOIN invoices AS i ON i.referral_code = r.referral_code AND i.status = ?", models.PaymentStatusCompleted).
		GroupExpr("r.id").
		OrderExpr("total_sales DESC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list referral stats: %w", err)
	}

	stats := make([]models.ReferralStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, models.ReferralStats{
			Referral:        row.Referral,
			TotalInvoices:   row.TotalInvoices,
			TotalSales:      row.TotalSales,
			TotalCommission: row.TotalSales * row.CommissionRate / 100,
		})
	}
	return stats, nil
}
