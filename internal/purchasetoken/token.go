package purchasetoken

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ms-raffle/internal/models"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrTokenInvalid    = errors.New("purchase token is invalid")
	ErrTokenExpired    = errors.New("purchase token has expired")
	// ErrStaleToken means the raffle rotated or its price changed after the
	// token was issued; the buyer has to re-select.
	ErrStaleToken      = errors.New("purchase token no longer matches the active raffle")
	ErrNoActiveRaffle  = errors.New("no active raffle is available")
)

// priceTolerance absorbs float rounding when comparing the token's price
// against the recomputed one.
const priceTolerance = 0.01

// maxQuantity mirrors the allocator's request bound.
const maxQuantity = 10000

// ActiveRaffleSource is the slice of the ledger the token service needs.
type ActiveRaffleSource interface {
	GetActiveRaffle(ctx context.Context) (*models.Raffle, error)
}

type purchaseClaims struct {
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	RaffleID string  `json:"raffle_id"`
	jwt.RegisteredClaims
}

// Service issues and validates short-lived signed tokens that pin a
// quantity, its computed price and the raffle they were quoted against.
type Service struct {
	secret  []byte
	ttl     time.Duration
	raffles ActiveRaffleSource

	now func() time.Time
}

func NewService(secret string, ttl time.Duration, raffles ActiveRaffleSource) *Service {
	return &Service{
		secret:  []byte(secret),
		ttl:     ttl,
		raffles: raffles,
		now:     time.Now,
	}
}

// Issue computes the price from the active raffle's unit price and signs
// {quantity, price, raffleId} with the configured expiry.
func (s *Service) Issue(ctx context.Context, quantity int) (string, *models.PurchaseTokenClaims, error) {
	if quantity <= 0 || quantity > maxQuantity {
		return "", nil, ErrInvalidQuantity
	}

	raffle, err := s.raffles.GetActiveRaffle(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("issue purchase token: %w", err)
	}
	if raffle == nil {
		return "", nil, ErrNoActiveRaffle
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := purchaseClaims{
		Quantity: quantity,
		Price:    float64(quantity) * raffle.Price,
		RaffleID: raffle.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign purchase token: %w", err)
	}

	return signed, &models.PurchaseTokenClaims{
		Quantity:  quantity,
		Price:     claims.Price,
		RaffleID:  raffle.ID,
		ExpiresAt: expiresAt.Unix(),
	}, nil
}

// Validate fails closed: bad signature, expiry, raffle rotation and price
// drift all reject the token.
func (s *Service) Validate(ctx context.Context, token string) (*models.PurchaseTokenClaims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	var claims purchaseClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	raffle, err := s.raffles.GetActiveRaffle(ctx)
	if err != nil {
		return nil, fmt.Errorf("validate purchase token: %w", err)
	}
	if raffle == nil {
		return nil, ErrNoActiveRaffle
	}
	if claims.RaffleID != raffle.ID {
		return nil, ErrStaleToken
	}

	currentPrice := float64(claims.Quantity) * raffle.Price
	if math.Abs(currentPrice-claims.Price) > priceTolerance {
		return nil, ErrStaleToken
	}

	return &models.PurchaseTokenClaims{
		Quantity:  claims.Quantity,
		Price:     claims.Price,
		RaffleID:  claims.RaffleID,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}
