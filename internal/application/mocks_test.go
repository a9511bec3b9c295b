package application

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/journey"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/payment"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
	"github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/queue"
)

// === Mock implementations ===

// MockTxManager implements transaction.Manager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(transaction.Tx), args.Error(1)
}

// MockTx implements transaction.Tx
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockSeatLockRepository implements seatlock.Repository
type MockSeatLockRepository struct {
	mock.Mock
}

func (m *MockSeatLockRepository) CreateActive(ctx context.Context, tx transaction.Tx, lock *seatlock.SeatLock) error {
	args := m.Called(ctx, tx, lock)
	return args.Error(0)
}

func (m *MockSeatLockRepository) GetActiveByKey(ctx context.Context, key seatlock.SeatKey) (*seatlock.SeatLock, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*seatlock.SeatLock), args.Error(1)
}

func (m *MockSeatLockRepository) GetActiveByHolder(ctx context.Context, holder string) ([]*seatlock.SeatLock, error) {
	args := m.Called(ctx, holder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*seatlock.SeatLock), args.Error(1)
}

func (m *MockSeatLockRepository) Release(ctx context.Context, tx transaction.Tx, key seatlock.SeatKey, holder string) (bool, error) {
	args := m.Called(ctx, tx, key, holder)
	return args.Bool(0), args.Error(1)
}

func (m *MockSeatLockRepository) ReleaseByHolder(ctx context.Context, tx transaction.Tx, holder string, keys []string) ([]string, error) {
	args := m.Called(ctx, tx, holder, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSeatLockRepository) MarkExpired(ctx context.Context, tx transaction.Tx, id string) (bool, error) {
	args := m.Called(ctx, tx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockSeatLockRepository) ExtendExpiry(ctx context.Context, key seatlock.SeatKey, holder string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, key, holder, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockSeatLockRepository) GetExpiredActive(ctx context.Context, limit int) ([]*seatlock.SeatLock, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*seatlock.SeatLock), args.Error(1)
}

// MockInventoryRepository implements inventory.Repository
type MockInventoryRepository struct {
	mock.Mock
}

func (m *MockInventoryRepository) Create(ctx context.Context, c *inventory.Counter) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockInventoryRepository) Get(ctx context.Context, key inventory.CounterKey) (*inventory.Counter, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Counter), args.Error(1)
}

func (m *MockInventoryRepository) GetByTrainDate(ctx context.Context, trainNumber, journeyDate string) ([]*inventory.Counter, error) {
	args := m.Called(ctx, trainNumber, journeyDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*inventory.Counter), args.Error(1)
}

func (m *MockInventoryRepository) TryDecrement(ctx context.Context, tx transaction.Tx, key inventory.CounterKey) (bool, error) {
	args := m.Called(ctx, tx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockInventoryRepository) Increment(ctx context.Context, tx transaction.Tx, key inventory.CounterKey) error {
	args := m.Called(ctx, tx, key)
	return args.Error(0)
}

// MockJourneyRepository implements journey.Repository
type MockJourneyRepository struct {
	mock.Mock
}

func (m *MockJourneyRepository) Create(ctx context.Context, tx transaction.Tx, j *journey.Journey) error {
	args := m.Called(ctx, tx, j)
	return args.Error(0)
}

func (m *MockJourneyRepository) GetByBookingReference(ctx context.Context, ref string) (*journey.Journey, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*journey.Journey), args.Error(1)
}

func (m *MockJourneyRepository) GetByID(ctx context.Context, id string) (*journey.Journey, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*journey.Journey), args.Error(1)
}

func (m *MockJourneyRepository) Update(ctx context.Context, tx transaction.Tx, j *journey.Journey) error {
	args := m.Called(ctx, tx, j)
	return args.Error(0)
}

func (m *MockJourneyRepository) UpdateTicket(ctx context.Context, tx transaction.Tx, t *journey.Ticket) error {
	args := m.Called(ctx, tx, t)
	return args.Error(0)
}

func (m *MockJourneyRepository) GetExpiredBlocked(ctx context.Context, limit int) ([]*journey.Journey, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*journey.Journey), args.Error(1)
}

// MockPaymentRepository implements payment.Repository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, tx transaction.Tx, t *payment.Transaction) error {
	args := m.Called(ctx, tx, t)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockPaymentRepository) GetByJourneyID(ctx context.Context, journeyID string) ([]*payment.Transaction, error) {
	args := m.Called(ctx, journeyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Transaction), args.Error(1)
}

func (m *MockPaymentRepository) Update(ctx context.Context, tx transaction.Tx, t *payment.Transaction) error {
	args := m.Called(ctx, tx, t)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetExpiredPending(ctx context.Context, limit int) ([]*payment.Transaction, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*payment.Transaction), args.Error(1)
}

// MockCatalogRepository implements catalog.Repository
type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) GetTrain(ctx context.Context, trainNumber string) (*catalog.Train, error) {
	args := m.Called(ctx, trainNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Train), args.Error(1)
}

func (m *MockCatalogRepository) GetCoaches(ctx context.Context, trainNumber string) ([]*catalog.Coach, error) {
	args := m.Called(ctx, trainNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalog.Coach), args.Error(1)
}

func (m *MockCatalogRepository) GetCoach(ctx context.Context, trainNumber, coachNumber string) (*catalog.Coach, error) {
	args := m.Called(ctx, trainNumber, coachNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Coach), args.Error(1)
}

func (m *MockCatalogRepository) GetCoachesByClass(ctx context.Context, trainNumber, coachClass string) ([]*catalog.Coach, error) {
	args := m.Called(ctx, trainNumber, coachClass)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*catalog.Coach), args.Error(1)
}

// MockIdempotencyRepository implements idempotency.Repository
type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) TryInsert(ctx context.Context, r *idempotency.Record) (bool, error) {
	args := m.Called(ctx, r)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyRepository) GetByKey(ctx context.Context, key string) (*idempotency.Record, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Record), args.Error(1)
}

func (m *MockIdempotencyRepository) Update(ctx context.Context, r *idempotency.Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) TakeOver(ctx context.Context, r *idempotency.Record, newHash string) (bool, error) {
	args := m.Called(ctx, r, newHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyRepository) PurgeExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockSeatLocker implements SeatLocker
type MockSeatLocker struct {
	mock.Mock
}

func (m *MockSeatLocker) Acquire(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) (*AcquireResult, error) {
	args := m.Called(ctx, keys, holder, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AcquireResult), args.Error(1)
}

func (m *MockSeatLocker) Release(ctx context.Context, keys []seatlock.SeatKey, holder string) error {
	args := m.Called(ctx, keys, holder)
	return args.Error(0)
}

func (m *MockSeatLocker) Extend(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) error {
	args := m.Called(ctx, keys, holder, ttl)
	return args.Error(0)
}

// MockRefundNotifier implements RefundNotifier
type MockRefundNotifier struct {
	mock.Mock
}

func (m *MockRefundNotifier) Publish(ctx context.Context, event queue.RefundRequestedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockAvailabilityCache implements AvailabilityCacher and AvailabilityInvalidator
type MockAvailabilityCache struct {
	mock.Mock
}

func (m *MockAvailabilityCache) GetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string) (int, error) {
	args := m.Called(ctx, trainNumber, journeyDate, coachNumber)
	return args.Int(0), args.Error(1)
}

func (m *MockAvailabilityCache) SetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string, count int, ttl time.Duration) error {
	args := m.Called(ctx, trainNumber, journeyDate, coachNumber, count, ttl)
	return args.Error(0)
}

func (m *MockAvailabilityCache) Invalidate(ctx context.Context, trainNumber, journeyDate string) error {
	args := m.Called(ctx, trainNumber, journeyDate)
	return args.Error(0)
}

// newCommittableTx は Commit/Rollback をどちらも許容するトランザクションモックを返す
func newCommittableTx() *MockTx {
	tx := new(MockTx)
	tx.On("Commit").Return(nil).Maybe()
	tx.On("Rollback").Return(nil).Maybe()
	return tx
}
