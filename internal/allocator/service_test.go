package allocator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

// Mock implementations
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetActiveRaffle(ctx context.Context) (*models.Raffle, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Raffle), args.Error(1)
}

func (m *MockLedger) FindEntriesBySession(ctx context.Context, raffleID, sessionID string) ([]models.RaffleEntry, error) {
	args := m.Called(raffleID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RaffleEntry), args.Error(1)
}

func (m *MockLedger) FindParticipantByEmail(ctx context.Context, email string) (*models.Participant, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockLedger) CreateParticipant(ctx context.Context, name, email string) (*models.Participant, error) {
	args := m.Called(name, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockLedger) ListUsedNumbers(ctx context.Context, raffleID string) ([]int, error) {
	args := m.Called(raffleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockLedger) ListBlessedNumbers(ctx context.Context, raffleID string) ([]models.BlessedNumber, error) {
	args := m.Called(raffleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BlessedNumber), args.Error(1)
}

func (m *MockLedger) InsertEntries(ctx context.Context, entries []models.RaffleEntry) (models.InsertOutcome, error) {
	args := m.Called(entries)
	return args.Get(0).(models.InsertOutcome), args.Error(1)
}

func (m *MockLedger) AssignBlessedNumber(ctx context.Context, id, participantID string) error {
	args := m.Called(id, participantID)
	return args.Error(0)
}

type MockLock struct {
	mock.Mock
}

func (m *MockLock) AcquireSessionLock(sessionID, ownerID string) (bool, error) {
	args := m.Called(sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLock) ReleaseSessionLock(sessionID, ownerID string) error {
	args := m.Called(sessionID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEntriesAllocated(event models.AllocationEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

func newTestService(ledger *MockLedger, lock *MockLock, events EventPublisher) *Service {
	svc := NewService(ledger, lock, events, logger.NewLogger())
	// Identity shuffle makes the draw deterministic: the lowest available
	// numbers are taken in order.
	svc.shuffle = func(n int, swap func(i, j int)) {}
	return svc
}

func activeRaffle(total int) *models.Raffle {
	return &models.Raffle{ID: "raffle-1", Name: "Test Raffle", TotalNumbers: total, Price: 2.5, IsActive: true}
}

func participant() *models.Participant {
	return &models.Participant{ID: "participant-1", Name: "Jamie", Email: "jamie@example.com"}
}

func TestAllocate_InvalidQuantity(t *testing.T) {
	svc := newTestService(new(MockLedger), new(MockLock), nil)

	for _, quantity := range []int{0, -3, MaxQuantity + 1} {
		_, err := svc.Allocate(context.Background(), models.AllocationRequest{
			ParticipantEmail: "jamie@example.com",
			Quantity:         quantity,
			PaymentSessionID: "cs_test_1",
		})
		var allocErr *AllocationError
		require.ErrorAs(t, err, &allocErr)
		assert.Equal(t, KindInvalidQuantity, allocErr.Kind)
	}
}

func TestAllocate_MissingSessionID(t *testing.T) {
	svc := newTestService(new(MockLedger), new(MockLock), nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         1,
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindInvalidQuantity, allocErr.Kind)
}

func TestAllocate_NoActiveRaffle(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetActiveRaffle").Return(nil, nil)

	svc := newTestService(ledger, new(MockLock), nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindNoActiveRaffle, allocErr.Kind)
}

func TestAllocate_RaffleMismatch(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)

	svc := newTestService(ledger, new(MockLock), nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		RaffleID:         "raffle-old",
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindNoActiveRaffle, allocErr.Kind)
}

func TestAllocate_Success(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{10000, 10002}, nil)
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertOK, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "Jamie@Example.com",
		Quantity:         3,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.AllocationStatusAllocated, result.Status)
	assert.Equal(t, "participant-1", result.ParticipantID)
	// Identity shuffle: the lowest free numbers are drawn, skipping used.
	assert.Equal(t, []int{10001, 10003, 10004}, result.Numbers)
	assert.Empty(t, result.WinningNumbers)

	seen := make(map[int]bool)
	for _, n := range result.Numbers {
		assert.GreaterOrEqual(t, n, MinNumber)
		assert.LessOrEqual(t, n, MaxNumber)
		assert.False(t, seen[n], "duplicate number %d", n)
		seen[n] = true
	}

	ledger.AssertExpectations(t)
	lock.AssertExpectations(t)
}

func TestAllocate_IdempotentRedelivery(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{
		{ParticipantID: "participant-1", Number: 10005, IsWinner: false},
		{ParticipantID: "participant-1", Number: 10007, IsWinner: true},
	}, nil)

	svc := newTestService(ledger, new(MockLock), nil)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.AllocationStatusAlreadyProcessed, result.Status)
	assert.Equal(t, []int{10005, 10007}, result.Numbers)
	assert.Equal(t, []int{10007}, result.WinningNumbers)
	// No lock, no draw, no insert on the idempotent path.
	ledger.AssertNotCalled(t, "InsertEntries", mock.Anything)
}

func TestAllocate_InsufficientCapacity(t *testing.T) {
	used := make([]int, 95)
	for i := range used {
		used[i] = 10000 + i
	}

	ledger := new(MockLedger)
	lock := new(MockLock)
	ledger.On("GetActiveRaffle").Return(activeRaffle(100), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return(used, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         10,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindInsufficientCapacity, allocErr.Kind)
	assert.Equal(t, 5, allocErr.Remaining)
	ledger.AssertNotCalled(t, "InsertEntries", mock.Anything)
}

func TestAllocate_PoolBoundedToFiveDigits(t *testing.T) {
	// The raffle declares more capacity than the 5-digit space holds; all
	// but three pool numbers are taken.
	used := make([]int, 0, 89997)
	for n := MinNumber; n <= MaxNumber-3; n++ {
		used = append(used, n)
	}

	ledger := new(MockLedger)
	lock := new(MockLock)
	ledger.On("GetActiveRaffle").Return(activeRaffle(200000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return(used, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         10,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindInsufficientCapacity, allocErr.Kind)
	assert.Equal(t, 3, allocErr.Remaining)
}

func TestAllocate_CapacityBelowNumberFloor(t *testing.T) {
	// A raffle declaring fewer numbers than the 5-digit floor has nothing
	// to issue, even while its counted capacity looks sufficient.
	ledger := new(MockLedger)
	lock := new(MockLock)
	ledger.On("GetActiveRaffle").Return(activeRaffle(100), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         5,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindInsufficientCapacity, allocErr.Kind)
	assert.Equal(t, 0, allocErr.Remaining)
	ledger.AssertNotCalled(t, "InsertEntries", mock.Anything)
}

func TestBuildPool_SmallCapacity(t *testing.T) {
	assert.Empty(t, buildPool(100, nil))
	assert.Empty(t, buildPool(MinNumber-1, nil))
	assert.Equal(t, []int{MinNumber}, buildPool(MinNumber, nil))
}

func TestAllocate_SessionKeyCatchesExpiredLock(t *testing.T) {
	// The lock expired mid-flight and a second delivery got through it, so
	// both idempotency reads see nothing. The store-level session key
	// rejects the second batch and the stored assignment is returned.
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil).Twice()
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{
		{ParticipantID: "participant-1", Number: 10005},
		{ParticipantID: "participant-1", Number: 10007, IsWinner: true},
	}, nil).Once()
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertSessionExists, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.AllocationStatusAlreadyProcessed, result.Status)
	assert.Equal(t, []int{10005, 10007}, result.Numbers)
	assert.Equal(t, []int{10007}, result.WinningNumbers)
	ledger.AssertNotCalled(t, "AssignBlessedNumber", mock.Anything, mock.Anything)
}

func TestAllocate_BlessedNumbersMarkWinners(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)
	events := new(MockPublisher)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	// 10001 and 10003 are in the drawn range; 10002 is already claimed and
	// must not win again; 10900 is outside the draw.
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{
		{ID: "b1", Number: 10001},
		{ID: "b2", Number: 10002, AssignedTo: "someone-else"},
		{ID: "b3", Number: 10003},
		{ID: "b4", Number: 10900},
	}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertOK, nil)
	ledger.On("AssignBlessedNumber", "b1", "participant-1").Return(nil)
	ledger.On("AssignBlessedNumber", "b3", "participant-1").Return(nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)
	events.On("PublishEntriesAllocated", mock.Anything).Return(nil)

	svc := newTestService(ledger, lock, events)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         5,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	assert.Equal(t, []int{10000, 10001, 10002, 10003, 10004}, result.Numbers)
	assert.Equal(t, []int{10001, 10003}, result.WinningNumbers)
	assert.Empty(t, result.Warnings)
	ledger.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestAllocate_BlessedAssignmentFailureIsWarning(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{
		{ID: "b1", Number: 10000},
	}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertOK, nil)
	ledger.On("AssignBlessedNumber", "b1", "participant-1").Return(errors.New("blessed number already assigned"))
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         1,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)

	// The purchase stands; the unassigned blessed row is only a warning.
	assert.Equal(t, []int{10000}, result.Numbers)
	assert.Equal(t, []int{10000}, result.WinningNumbers)
	assert.Len(t, result.Warnings, 1)
}

func TestAllocate_InsertConflict(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "jamie@example.com").Return(participant(), nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertConflict, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindPartialAllocation, allocErr.Kind)
	ledger.AssertNotCalled(t, "AssignBlessedNumber", mock.Anything, mock.Anything)
}

func TestAllocate_LockHeldByConcurrentDelivery(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(false, nil)

	svc := newTestService(ledger, lock, nil)

	_, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "jamie@example.com",
		Quantity:         2,
		PaymentSessionID: "cs_test_1",
	})
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, KindAllocationInProgress, allocErr.Kind)
}

func TestAllocate_NewParticipantCreatedFromEmail(t *testing.T) {
	ledger := new(MockLedger)
	lock := new(MockLock)

	ledger.On("GetActiveRaffle").Return(activeRaffle(1000), nil)
	ledger.On("FindEntriesBySession", "raffle-1", "cs_test_1").Return([]models.RaffleEntry{}, nil)
	ledger.On("FindParticipantByEmail", "new.buyer@example.com").Return(nil, nil)
	ledger.On("CreateParticipant", "new.buyer", "new.buyer@example.com").
		Return(&models.Participant{ID: "participant-2", Name: "new.buyer", Email: "new.buyer@example.com"}, nil)
	ledger.On("ListUsedNumbers", "raffle-1").Return([]int{}, nil)
	ledger.On("ListBlessedNumbers", "raffle-1").Return([]models.BlessedNumber{}, nil)
	ledger.On("InsertEntries", mock.Anything).Return(models.InsertOK, nil)
	lock.On("AcquireSessionLock", "cs_test_1").Return(true, nil)
	lock.On("ReleaseSessionLock", "cs_test_1").Return(nil)

	svc := newTestService(ledger, lock, nil)

	result, err := svc.Allocate(context.Background(), models.AllocationRequest{
		ParticipantEmail: "New.Buyer@Example.COM",
		Quantity:         1,
		PaymentSessionID: "cs_test_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "participant-2", result.ParticipantID)
	ledger.AssertExpectations(t)
}
