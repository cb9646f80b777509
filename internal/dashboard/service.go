package dashboard

import (
	"context"
	"fmt"
	"math"

	"github.com/uptrace/bun"

	"ms-raffle/internal/models"
)

// Service computes the aggregates behind the admin dashboard.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// GetMetrics aggregates sales figures across all raffles. Only completed
// invoices count toward revenue; the method split ignores pending and
// failed ones.
func (s *Service) GetMetrics(ctx context.Context) (*models.DashboardMetrics, error) {
	totalSales, err := s.sumInvoices(ctx, "")
	if err != nil {
		return nil, err
	}
	transferSales, err := s.sumInvoices(ctx, models.PaymentMethodTransfer)
	if err != nil {
		return nil, err
	}
	stripeSales, err := s.sumInvoices(ctx, models.PaymentMethodStripe)
	if err != nil {
		return nil, err
	}

	invoiceCount, err := s.db.NewSelect().
		Model((*models.Invoice)(nil)).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}

	numbersSold, err := s.db.NewSelect().
		Model((*models.RaffleEntry)(nil)).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}

	winners, err := s.db.NewSelect().
		Model((*models.RaffleEntry)(nil)).
		Where("is_winner = ?", true).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count winners: %w", err)
	}

	metrics := &models.DashboardMetrics{
		TotalSales:       totalSales,
		TotalNumbersSold: numbersSold,
		TotalWinners:     winners,
		TransferSales:    transferSales,
		StripeSales:      stripeSales,
	}

	if invoiceCount > 0 {
		metrics.ConversionRate = round2(totalSales / float64(invoiceCount))
	}

	totalMethodSales := transferSales + stripeSales
	if totalMethodSales > 0 {
		metrics.TransferPercentage = round1(transferSales / totalMethodSales * 100)
		metrics.StripePercentage = round1(stripeSales / totalMethodSales * 100)
	}

	return metrics, nil
}

func (s *Service) sumInvoices(ctx context.Context, paymentMethod string) (float64, error) {
	var total float64
	q := s.db.NewSelect().
		Model((*models.Invoice)(nil)).
		ColumnExpr("COALESCE(SUM(total_price), 0)").
		Where("status = ?", models.PaymentStatusCompleted)
	if paymentMethod != "" {
		q = q.Where("payment_method = ?", paymentMethod)
	}
	if err := q.Scan(ctx, &total); err != nil {
		return 0, fmt.Errorf("sum invoices: %w", err)
	}
	return total, nil
}

type winnerRow struct {
	ParticipantID string `bun:"participant_id"`
	Name          string `bun:"name"`
	Email         string `bun:"email"`
}

// GetWinners groups winning entries by participant and joins phone numbers
// in from their invoices.
func (s *Service) GetWinners(ctx context.Context) ([]models.Winner, error) {
	var rows []winnerRow
	err := s.db.NewSelect().
		ColumnExpr("e.participant_id AS participant_id").
		ColumnExpr("p.name AS name").
		ColumnExpr("p.email AS email").
		TableExpr("raffle_entries AS e").
		Join("JOIN participants AS p ON p.id = e.participant_id").
		Where("e.is_winner = ?", true).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list winners: %w", err)
	}

	byEmail := make(map[string]*models.Winner)
	var order []string
	for _, row := range rows {
		if row.Email == "" {
			continue
		}
		if winner, ok := byEmail[row.Email]; ok {
			winner.Total++
			continue
		}
		byEmail[row.Email] = &models.Winner{
			Name:  row.Name,
			Email: row.Email,
			Total: 1,
		}
		order = append(order, row.Email)
	}

	if len(order) > 0 {
		type phoneRow struct {
			Email string `bun:"email"`
			Phone string `bun:"phone"`
		}
		var phones []phoneRow
		err = s.db.NewSelect().
			Model((*models.Invoice)(nil)).
			Column("email", "phone").
			Where("email IN (?)", bun.In(order)).
			Scan(ctx, &phones)
		if err != nil {
			return nil, fmt.Errorf("fetch winner phones: %w", err)
		}
		for _, row := range phones {
			if winner, ok := byEmail[row.Email]; ok && row.Phone != "" && winner.Phone == "" {
				winner.Phone = row.Phone
			}
		}
	}

	winners := make([]models.Winner, 0, len(order))
	for _, email := range order {
		winners = append(winners, *byEmail[email])
	}
	return winners, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
