package purchasetoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-raffle/internal/models"
)

type fakeRaffleSource struct {
	raffle *models.Raffle
	err    error
}

func (f *fakeRaffleSource) GetActiveRaffle(ctx context.Context) (*models.Raffle, error) {
	return f.raffle, f.err
}

func testRaffle() *models.Raffle {
	return &models.Raffle{ID: "raffle-1", Name: "Test Raffle", TotalNumbers: 1000, Price: 2.5, IsActive: true}
}

func newTokenService(source ActiveRaffleSource) *Service {
	return NewService("test-secret", 15*time.Minute, source)
}

func TestIssueAndValidate_Roundtrip(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	token, issued, err := svc.Issue(context.Background(), 4)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, 4, issued.Quantity)
	assert.InDelta(t, 10.0, issued.Price, 0.001)
	assert.Equal(t, "raffle-1", issued.RaffleID)

	claims, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, issued.Quantity, claims.Quantity)
	assert.Equal(t, issued.Price, claims.Price)
	assert.Equal(t, issued.RaffleID, claims.RaffleID)
}

func TestIssue_InvalidQuantity(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	for _, quantity := range []int{0, -1, maxQuantity + 1} {
		_, _, err := svc.Issue(context.Background(), quantity)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestIssue_NoActiveRaffle(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{})

	_, _, err := svc.Issue(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNoActiveRaffle)
}

func TestValidate_Expired(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }
	token, _, err := svc.Issue(context.Background(), 2)
	require.NoError(t, err)

	// One second past the 15-minute window.
	svc.now = func() time.Time { return issuedAt.Add(15*time.Minute + time.Second) }
	_, err = svc.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidate_StillValidJustBeforeExpiry(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }
	token, _, err := svc.Issue(context.Background(), 2)
	require.NoError(t, err)

	svc.now = func() time.Time { return issuedAt.Add(15*time.Minute - time.Second) }
	_, err = svc.Validate(context.Background(), token)
	assert.NoError(t, err)
}

func TestValidate_RaffleRotated(t *testing.T) {
	source := &fakeRaffleSource{raffle: testRaffle()}
	svc := newTokenService(source)

	token, _, err := svc.Issue(context.Background(), 2)
	require.NoError(t, err)

	source.raffle = &models.Raffle{ID: "raffle-2", TotalNumbers: 1000, Price: 2.5, IsActive: true}
	_, err = svc.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrStaleToken)
}

func TestValidate_PriceDrift(t *testing.T) {
	source := &fakeRaffleSource{raffle: testRaffle()}
	svc := newTokenService(source)

	token, _, err := svc.Issue(context.Background(), 2)
	require.NoError(t, err)

	// Price change beyond the rounding tolerance invalidates the quote.
	source.raffle = &models.Raffle{ID: "raffle-1", TotalNumbers: 1000, Price: 3.0, IsActive: true}
	_, err = svc.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrStaleToken)
}

func TestValidate_WithinPriceTolerance(t *testing.T) {
	source := &fakeRaffleSource{raffle: testRaffle()}
	svc := newTokenService(source)

	token, _, err := svc.Issue(context.Background(), 2)
	require.NoError(t, err)

	// A sub-cent difference is float noise, not a price change.
	source.raffle = &models.Raffle{ID: "raffle-1", TotalNumbers: 1000, Price: 2.5000001, IsActive: true}
	_, err = svc.Validate(context.Background(), token)
	assert.NoError(t, err)
}

func TestValidate_TamperedSignature(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	other := NewService("other-secret", 15*time.Minute, &fakeRaffleSource{raffle: testRaffle()})
	token, _, err := other.Issue(context.Background(), 2)
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidate_EmptyToken(t *testing.T) {
	svc := newTokenService(&fakeRaffleSource{raffle: testRaffle()})

	_, err := svc.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
