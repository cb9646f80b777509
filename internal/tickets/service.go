package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

var ErrNoActiveRaffle = errors.New("no active raffle")

// soldCountTTL bounds how stale the storefront counter may get. The
// consumer invalidates it on every allocation, so the TTL is a backstop.
const soldCountTTL = 30 * time.Second

type Ledger interface {
	GetActiveRaffle(ctx context.Context) (*models.Raffle, error)
	FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	ListEntriesByParticipant(ctx context.Context, participantID string) ([]models.RaffleEntry, error)
	ListBlessedNumbers(ctx context.Context, raffleID string) ([]models.BlessedNumber, error)
	SoldCount(ctx context.Context, raffleID string) (int, error)
}

type SoldCountCache interface {
	GetSoldCount(raffleID string) (int, bool, error)
	SetSoldCount(raffleID string, count int, ttl time.Duration) error
}

// Service serves the storefront's read side: the active raffle, the sold
// counter and a buyer's ticket history.
type Service struct {
	Ledger Ledger
	Cache  SoldCountCache
	Logger *logger.Logger
}

func NewService(ledger Ledger, cache SoldCountCache, log *logger.Logger) *Service {
	return &Service{Ledger: ledger, Cache: cache, Logger: log}
}

func (s *Service) GetActiveRaffle(ctx context.Context) (*models.Raffle, error) {
	raffle, err := s.Ledger.GetActiveRaffle(ctx)
	if err != nil {
		return nil, err
	}
	if raffle == nil {
		return nil, ErrNoActiveRaffle
	}
	return raffle, nil
}

// GetSoldCount returns the number of tickets sold in the active raffle,
// served from redis when the cache is warm. Cache failures fall through to
// the database.
func (s *Service) GetSoldCount(ctx context.Context) (int, error) {
	raffle, err := s.GetActiveRaffle(ctx)
	if err != nil {
		return 0, err
	}

	if s.Cache != nil {
		if count, ok, err := s.Cache.GetSoldCount(raffle.ID); err == nil && ok {
			return count, nil
		} else if err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Sold count cache read failed: %v", err))
		}
	}

	count, err := s.Ledger.SoldCount(ctx, raffle.ID)
	if err != nil {
		return 0, err
	}

	if s.Cache != nil {
		if err := s.Cache.SetSoldCount(raffle.ID, count, soldCountTTL); err != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("Sold count cache write failed: %v", err))
		}
	}
	return count, nil
}

// BlessedNumberView is the public shape of a prize number: whether it has
// been claimed is exposed, but never by whom.
type BlessedNumberView struct {
	Number   int  `json:"number"`
	Assigned bool `json:"assigned"`
}

// GetBlessedNumbers returns the prize board of the active raffle. Only
// major prizes are shown.
func (s *Service) GetBlessedNumbers(ctx context.Context) ([]BlessedNumberView, error) {
	raffle, err := s.GetActiveRaffle(ctx)
	if err != nil {
		return nil, err
	}

	blessed, err := s.Ledger.ListBlessedNumbers(ctx, raffle.ID)
	if err != nil {
		return nil, err
	}

	views := make([]BlessedNumberView, 0, len(blessed))
	for _, b := range blessed {
		if b.IsMinorPrize {
			continue
		}
		views = append(views, BlessedNumberView{
			Number:   b.Number,
			Assigned: b.AssignedTo != "",
		})
	}
	return views, nil
}

// GetUserTickets returns a buyer's entries grouped by raffle, payment
// status and purchase day, newest group first. An unknown email yields an
// empty list rather than an error.
func (s *Service) GetUserTickets(ctx context.Context, email string) ([]models.TicketPurchase, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email is required")
	}

	participant, err := s.Ledger.FindParticipantByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return []models.TicketPurchase{}, nil
	}

	entries, err := s.Ledger.ListEntriesByParticipant(ctx, participant.ID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*models.TicketPurchase)
	var order []string
	for _, entry := range entries {
		day := entry.PurchasedAt.UTC().Format("2006-01-02")
		key := entry.RaffleID + "|" + entry.PaymentStatus + "|" + day

		group, ok := groups[key]
		if !ok {
			group = &models.TicketPurchase{
				ID:            key,
				Email:         email,
				PaymentStatus: entry.PaymentStatus,
				PurchaseDate:  entry.PurchasedAt,
			}
			groups[key] = group
			order = append(order, key)
		}
		group.Numbers = append(group.Numbers, models.TicketNumber{
			Number:   entry.Number,
			IsWinner: entry.IsWinner,
		})
	}

	purchases := make([]models.TicketPurchase, 0, len(order))
	for _, key := range order {
		purchases = append(purchases, *groups[key])
	}
	return purchases, nil
}
