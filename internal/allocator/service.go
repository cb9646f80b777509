package allocator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

const (
	// Numbers are drawn from the 5-digit space.
	MinNumber = 10000
	MaxNumber = 99999

	// MaxQuantity rejects absurd requests outright instead of clamping.
	MaxQuantity = 10000
)

// Ledger is the persistence the allocator needs. Implemented by
// internal/ledger over Postgres.
type Ledger interface {
	GetActiveRaffle(ctx context.Context) (*models.Raffle, error)
	FindEntriesBySession(ctx context.Context, raffleID, sessionID string) ([]models.RaffleEntry, error)
	FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error)
	CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error)
	ListUsedNumbers(ctx context.Context, raffleID string) ([]int, error)
	ListBlessedNumbers(ctx context.Context, raffleID string) ([]models.BlessedNumber, error)
	InsertEntries(ctx context.Context, entries []models.RaffleEntry) (models.InsertOutcome, error)
	AssignBlessedNumber(ctx context.Context, id, participantID string) error
}

// SessionLock serializes webhook deliveries for the same payment session.
// The database constraints stay authoritative; the lock only avoids two
// deliveries racing through the full draw.
type SessionLock interface {
	AcquireSessionLock(sessionID, ownerID string) (bool, error)
	ReleaseSessionLock(sessionID, ownerID string) error
}

// EventPublisher streams allocation results, best-effort.
type EventPublisher interface {
	PublishEntriesAllocated(event models.AllocationEvent) error
}

type Service struct {
	Ledger Ledger
	Lock   SessionLock
	Events EventPublisher
	Logger *logger.Logger

	// shuffle permutes the candidate pool; swapped out in tests for a
	// deterministic draw.
	shuffle func(n int, swap func(i, j int))
}

func NewService(ledger Ledger, lock SessionLock, events EventPublisher, log *logger.Logger) *Service {
	return &Service{
		Ledger:  ledger,
		Lock:    lock,
		Events:  events,
		Logger:  log,
		shuffle: rand.Shuffle,
	}
}

// Allocate issues req.Quantity unique numbers within the active raffle for
// one payment session. Calling it again with the same session id is a
// no-op that returns the already-assigned numbers.
func (s *Service) Allocate(ctx context.Context, req models.AllocationRequest) (*models.AllocationResult, error) {
	if req.Quantity <= 0 || req.Quantity > MaxQuantity {
		return nil, errInvalidQuantity(req.Quantity)
	}
	if req.PaymentSessionID == "" {
		return nil, &AllocationError{
			Kind:          KindInvalidQuantity,
			PublicError:   "missing payment session id",
			InternalError: "allocation request without payment session id",
		}
	}

	raffle, err := s.Ledger.GetActiveRaffle(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	if raffle == nil {
		return nil, errNoActiveRaffle()
	}
	if req.RaffleID != "" && req.RaffleID != raffle.ID {
		return nil, &AllocationError{
			Kind:          KindNoActiveRaffle,
			PublicError:   "the requested raffle is no longer active",
			InternalError: fmt.Sprintf("raffle %s requested but %s is active", req.RaffleID, raffle.ID),
		}
	}

	// Idempotency: a redelivered webhook must not allocate twice.
	if result, done, err := s.checkAlreadyProcessed(ctx, raffle.ID, req.PaymentSessionID); err != nil {
		return nil, err
	} else if done {
		return result, nil
	}

	ownerID := uuid.NewString()
	locked, err := s.Lock.AcquireSessionLock(req.PaymentSessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !locked {
		// Another delivery of the same session is mid-flight. If it already
		// persisted, answer idempotently; otherwise let the caller retry.
		if result, done, err := s.checkAlreadyProcessed(ctx, raffle.ID, req.PaymentSessionID); err == nil && done {
			return result, nil
		}
		return nil, &AllocationError{
			Kind:          KindAllocationInProgress,
			PublicError:   "allocation for this payment is already in progress",
			InternalError: fmt.Sprintf("session %s locked by a concurrent allocation", req.PaymentSessionID),
		}
	}
	defer func() {
		if err := s.Lock.ReleaseSessionLock(req.PaymentSessionID, ownerID); err != nil {
			s.Logger.Warn("ALLOCATOR", fmt.Sprintf("Failed to release session lock %s: %v", req.PaymentSessionID, err))
		}
	}()

	// Re-check under the lock; the first check raced an earlier delivery.
	if result, done, err := s.checkAlreadyProcessed(ctx, raffle.ID, req.PaymentSessionID); err != nil {
		return nil, err
	} else if done {
		return result, nil
	}

	participant, err := s.resolveParticipant(ctx, req.ParticipantName, req.ParticipantEmail)
	if err != nil {
		return nil, err
	}

	used, err := s.Ledger.ListUsedNumbers(ctx, raffle.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	remaining := raffle.TotalNumbers - len(used)
	if remaining < req.Quantity {
		return nil, errInsufficientCapacity(req.Quantity, remaining)
	}

	pool := buildPool(raffle.TotalNumbers, used)
	// The declared capacity can exceed the 5-digit space; the pool is what
	// can actually be issued.
	if len(pool) < req.Quantity {
		return nil, errInsufficientCapacity(req.Quantity, len(pool))
	}

	s.shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	drawn := pool[:req.Quantity]

	blessed, err := s.Ledger.ListBlessedNumbers(ctx, raffle.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	availableBlessed := make(map[int]models.BlessedNumber, len(blessed))
	for _, b := range blessed {
		if b.AssignedTo == "" {
			availableBlessed[b.Number] = b
		}
	}

	now := time.Now().UTC()
	entries := make([]models.RaffleEntry, 0, len(drawn))
	var winning []int
	var winningBlessed []models.BlessedNumber
	for _, number := range drawn {
		entry := models.RaffleEntry{
			ID:              uuid.NewString(),
			RaffleID:        raffle.ID,
			ParticipantID:   participant.ID,
			Number:          number,
			PaymentStatus:   models.PaymentStatusCompleted,
			StripeSessionID: req.PaymentSessionID,
			PurchasedAt:     now,
		}
		if b, ok := availableBlessed[number]; ok {
			entry.IsWinner = true
			winning = append(winning, number)
			winningBlessed = append(winningBlessed, b)
		}
		entries = append(entries, entry)
	}

	outcome, err := s.Ledger.InsertEntries(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	if outcome == models.InsertSessionExists {
		// The session key caught a delivery the lock did not serialize,
		// e.g. after lock expiry. The committed batch is authoritative.
		result, done, err := s.checkAlreadyProcessed(ctx, raffle.ID, req.PaymentSessionID)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		return nil, &AllocationError{
			Kind:          KindAllocationInProgress,
			PublicError:   "allocation for this payment is already in progress",
			InternalError: fmt.Sprintf("session %s committed concurrently, entries not yet visible", req.PaymentSessionID),
		}
	}
	if outcome == models.InsertConflict {
		// A concurrent allocation won the race for at least one drawn
		// number. The batch is atomic, so nothing was written; skipping the
		// conflicting numbers would shrink the buyer's purchase silently.
		s.Logger.Warn("ALLOCATOR", fmt.Sprintf("Number conflict for session %s, no entries written", req.PaymentSessionID))
		return nil, &AllocationError{
			Kind:          KindPartialAllocation,
			PublicError:   "number assignment conflicted with a concurrent purchase, please retry",
			InternalError: fmt.Sprintf("insert conflict for session %s", req.PaymentSessionID),
		}
	}

	result := &models.AllocationResult{
		Status:         models.AllocationStatusAllocated,
		RaffleID:       raffle.ID,
		ParticipantID:  participant.ID,
		Numbers:        append([]int(nil), drawn...),
		WinningNumbers: winning,
	}

	// Blessed ownership is best-effort: the entry's winning flag is the
	// source of truth, so a failed update must not undo the purchase.
	for _, b := range winningBlessed {
		if err := s.Ledger.AssignBlessedNumber(ctx, b.ID, participant.ID); err != nil {
			warning := fmt.Sprintf("blessed number %d not assigned: %v", b.Number, err)
			s.Logger.Warn("ALLOCATOR", warning)
			result.Warnings = append(result.Warnings, warning)
		}
	}

	if s.Events != nil {
		event := models.AllocationEvent{
			RaffleID:         raffle.ID,
			ParticipantEmail: participant.Email,
			PaymentSessionID: req.PaymentSessionID,
			OrderNumber:      req.OrderNumber,
			Numbers:          result.Numbers,
			WinningNumbers:   result.WinningNumbers,
			AllocatedAt:      now,
		}
		if err := s.Events.PublishEntriesAllocated(event); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish allocation event for session %s: %v", req.PaymentSessionID, err))
		}
	}

	s.Logger.LogAllocation("ALLOCATED", req.PaymentSessionID,
		fmt.Sprintf("%d numbers (%d winning) in raffle %s", len(drawn), len(winning), raffle.ID))

	return result, nil
}

// checkAlreadyProcessed reports whether the session was allocated before,
// returning the original assignment when it was.
func (s *Service) checkAlreadyProcessed(ctx context.Context, raffleID, sessionID string) (*models.AllocationResult, bool, error) {
	existing, err := s.Ledger.FindEntriesBySession(ctx, raffleID, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency check: %w", err)
	}
	if len(existing) == 0 {
		return nil, false, nil
	}

	result := &models.AllocationResult{
		Status:        models.AllocationStatusAlreadyProcessed,
		RaffleID:      raffleID,
		ParticipantID: existing[0].ParticipantID,
	}
	for _, entry := range existing {
		result.Numbers = append(result.Numbers, entry.Number)
		if entry.IsWinner {
			result.WinningNumbers = append(result.WinningNumbers, entry.Number)
		}
	}
	s.Logger.LogAllocation("SKIPPED", sessionID, "session already processed")
	return result, true, nil
}

// resolveParticipant finds or lazily creates the buyer. Emails are matched
// case-insensitively by lowercasing at this boundary; an empty name falls
// back to the email local part.
func (s *Service) resolveParticipant(ctx context.Context, name, email string) (*models.Participant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &AllocationError{
			Kind:          KindInvalidQuantity,
			PublicError:   "missing participant email",
			InternalError: "allocation request without participant email",
		}
	}

	participant, err := s.Ledger.FindParticipantByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}
	if participant != nil {
		return participant, nil
	}

	if name = strings.TrimSpace(name); name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	participant, err = s.Ledger.CreateParticipant(ctx, name, email)
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}
	return participant, nil
}

// buildPool returns the 5-digit numbers still available in the raffle.
// A raffle declaring less capacity than the 5-digit floor has nothing to
// issue.
func buildPool(totalNumbers int, used []int) []int {
	max := totalNumbers
	if max > MaxNumber {
		max = MaxNumber
	}
	if max < MinNumber {
		return nil
	}

	usedSet := make(map[int]struct{}, len(used))
	for _, n := range used {
		usedSet[n] = struct{}{}
	}

	pool := make([]int, 0, max-MinNumber+1)
	for n := MinNumber; n <= max; n++ {
		if _, ok := usedSet[n]; !ok {
			pool = append(pool, n)
		}
	}
	return pool
}
