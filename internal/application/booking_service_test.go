package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-train-seat-reservation/internal/config"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/journey"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/payment"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/queue"
)

type bookingMocks struct {
	txm     *MockTxManager
	jr      *MockJourneyRepository
	pr      *MockPaymentRepository
	cr      *MockCatalogRepository
	lr      *MockSeatLockRepository
	ir      *MockInventoryRepository
	locker  *MockSeatLocker
	cache   *MockAvailabilityCache
	refunds *MockRefundNotifier
}

func newBookingMocks() *bookingMocks {
	return &bookingMocks{
		txm:     new(MockTxManager),
		jr:      new(MockJourneyRepository),
		pr:      new(MockPaymentRepository),
		cr:      new(MockCatalogRepository),
		lr:      new(MockSeatLockRepository),
		ir:      new(MockInventoryRepository),
		locker:  new(MockSeatLocker),
		cache:   new(MockAvailabilityCache),
		refunds: new(MockRefundNotifier),
	}
}

func (m *bookingMocks) service(cfg *config.BookingConfig) *BookingService {
	return NewBookingService(m.txm, m.jr, m.pr, m.cr, m.lr, m.ir, m.locker, m.cache, m.refunds, cfg)
}

func testBookingConfig() *config.BookingConfig {
	return &config.BookingConfig{
		DefaultBlockTTL: 3 * time.Minute,
		ConfirmRetryMax: 3,
	}
}

func testTrain() *catalog.Train {
	return &catalog.Train{
		ID:          "train-1",
		TrainNumber: "12345",
		TrainName:   "ラジダーニ急行",
		IsActive:    true,
	}
}

func testCoach() *catalog.Coach {
	return &catalog.Coach{
		ID:          "coach-1",
		TrainNumber: "12345",
		CoachNumber: "A1",
		CoachClass:  "2A",
		TotalSeats:  72,
		BaseFare:    150000,
	}
}

func testBlockInput() *BlockSeatsInput {
	return &BlockSeatsInput{
		UserID:             "user-1",
		TrainNumber:        "12345",
		JourneyDate:        "2026-09-15",
		SourceStation:      "NDLS",
		DestinationStation: "BCT",
		Seats: []SeatSelection{
			{CoachNumber: "A1", SeatNumber: "10", Passenger: PassengerInput{Name: "山田太郎", Age: 30, Gender: "MALE"}},
			{CoachNumber: "A1", SeatNumber: "21", Passenger: PassengerInput{Name: "山田花子", Age: 28, Gender: "FEMALE"}},
		},
	}
}

func testSeatKey(seatNumber string) seatlock.SeatKey {
	return seatlock.SeatKey{
		TrainNumber: "12345",
		JourneyDate: "2026-09-15",
		CoachNumber: "A1",
		SeatNumber:  seatNumber,
	}
}

// blockedBookingJourney は座席ブロック済みのジャーニーを作る
// ttl に負値を渡すとブロック期限切れの状態になる
func blockedBookingJourney(ttl time.Duration) *journey.Journey {
	j := journey.NewJourney("user-1", "12345", "NDLS", "BCT", "2026-09-15")
	j.ID = "journey-1"
	_ = j.StartAvailabilityCheck()
	t1 := journey.NewTicket("A1", "10", journey.Passenger{Name: "山田太郎", Age: 30, Gender: journey.GenderMale}, 150000)
	t1.ID = "ticket-1"
	t2 := journey.NewTicket("A1", "21", journey.Passenger{Name: "山田花子", Age: 28, Gender: journey.GenderFemale}, 150000)
	t2.ID = "ticket-2"
	j.Tickets = []*journey.Ticket{t1, t2}
	for _, t := range j.Tickets {
		_ = t.Block(ttl)
	}
	_ = j.BlockSeats()
	j.TotalFare = 300000
	return j
}

func confirmedBookingJourney() *journey.Journey {
	j := blockedBookingJourney(time.Minute)
	_ = j.Confirm()
	for _, t := range j.Tickets {
		_ = t.Confirm()
	}
	return j
}

func TestBookingService_BlockSeats(t *testing.T) {
	t.Run("全席確保でブロック成立", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		keys := []seatlock.SeatKey{testSeatKey("10"), testSeatKey("21")}

		m.cr.On("GetTrain", mock.Anything, "12345").Return(testTrain(), nil)
		m.cr.On("GetCoach", mock.Anything, "12345", "A1").Return(testCoach(), nil)
		m.locker.On("Acquire", mock.Anything, keys, mock.Anything, 3*time.Minute).
			Return(&AcquireResult{Granted: keys, ExpiresAt: time.Now().Add(3 * time.Minute)}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("Create", mock.Anything, tx, mock.Anything).Return(nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		svc := m.service(testBookingConfig())
		result, err := svc.BlockSeats(context.Background(), testBlockInput())

		require.NoError(t, err)
		assert.True(t, result.Blocked())
		assert.Equal(t, journey.StatusSeatsBlocked, result.Status)
		assert.Equal(t, int64(300000), result.TotalFare)
		assert.Len(t, result.Tickets, 2)
		assert.Empty(t, result.UnavailableSeats)
		assert.NotEmpty(t, result.BookingReference)
	})

	t.Run("1席でも取れなければ全体が不成立", func(t *testing.T) {
		m := newBookingMocks()
		granted := []seatlock.SeatKey{testSeatKey("10")}
		denied := []seatlock.SeatKey{testSeatKey("21")}

		m.cr.On("GetTrain", mock.Anything, "12345").Return(testTrain(), nil)
		m.cr.On("GetCoach", mock.Anything, "12345", "A1").Return(testCoach(), nil)
		m.locker.On("Acquire", mock.Anything, mock.Anything, mock.Anything, 3*time.Minute).
			Return(&AcquireResult{Granted: granted, Denied: denied}, nil)
		m.locker.On("Release", mock.Anything, granted, mock.Anything).Return(nil)

		svc := m.service(testBookingConfig())
		result, err := svc.BlockSeats(context.Background(), testBlockInput())

		require.NoError(t, err)
		assert.False(t, result.Blocked())
		assert.Equal(t, journey.StatusDraft, result.Status)
		assert.Equal(t, []string{"A1-21"}, result.UnavailableSeats)
		// 確保済みの席は巻き戻され、ジャーニーは永続化されない
		m.locker.AssertCalled(t, "Release", mock.Anything, granted, mock.Anything)
		m.jr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ベストエフォートでは確保分のみでブロック成立", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		granted := []seatlock.SeatKey{testSeatKey("10")}
		denied := []seatlock.SeatKey{testSeatKey("21")}

		m.cr.On("GetTrain", mock.Anything, "12345").Return(testTrain(), nil)
		m.cr.On("GetCoach", mock.Anything, "12345", "A1").Return(testCoach(), nil)
		m.locker.On("Acquire", mock.Anything, mock.Anything, mock.Anything, 3*time.Minute).
			Return(&AcquireResult{Granted: granted, Denied: denied, ExpiresAt: time.Now().Add(3 * time.Minute)}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("Create", mock.Anything, tx, mock.Anything).Return(nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		cfg := testBookingConfig()
		cfg.BestEffortBlock = true
		svc := m.service(cfg)
		result, err := svc.BlockSeats(context.Background(), testBlockInput())

		require.NoError(t, err)
		assert.True(t, result.Blocked())
		assert.Len(t, result.Tickets, 1)
		assert.Equal(t, "10", result.Tickets[0].SeatNumber)
		assert.Equal(t, int64(150000), result.TotalFare)
		assert.Equal(t, []string{"A1-21"}, result.UnavailableSeats)
	})

	t.Run("座席指定なしはエラー", func(t *testing.T) {
		m := newBookingMocks()
		input := testBlockInput()
		input.Seats = nil

		svc := m.service(testBookingConfig())
		_, err := svc.BlockSeats(context.Background(), input)
		assert.ErrorIs(t, err, journey.ErrNoSeatsRequested)
	})

	t.Run("座席数上限超過はエラー", func(t *testing.T) {
		m := newBookingMocks()
		input := testBlockInput()
		for i := 0; i < maxSeatsPerBooking; i++ {
			input.Seats = append(input.Seats, input.Seats[0])
		}

		svc := m.service(testBookingConfig())
		_, err := svc.BlockSeats(context.Background(), input)
		assert.ErrorIs(t, err, journey.ErrTooManySeats)
	})

	t.Run("同一座席の重複指定はエラー", func(t *testing.T) {
		m := newBookingMocks()
		input := testBlockInput()
		input.Seats[1].SeatNumber = "10"

		m.cr.On("GetTrain", mock.Anything, "12345").Return(testTrain(), nil)
		m.cr.On("GetCoach", mock.Anything, "12345", "A1").Return(testCoach(), nil)

		svc := m.service(testBookingConfig())
		_, err := svc.BlockSeats(context.Background(), input)
		assert.ErrorIs(t, err, journey.ErrDuplicateSeats)
		m.locker.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("運行停止中の列車は予約不可", func(t *testing.T) {
		m := newBookingMocks()
		train := testTrain()
		train.IsActive = false
		m.cr.On("GetTrain", mock.Anything, "12345").Return(train, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.BlockSeats(context.Background(), testBlockInput())
		assert.ErrorIs(t, err, catalog.ErrTrainNotBookable)
	})

	t.Run("永続化失敗時はロックを解放する", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		keys := []seatlock.SeatKey{testSeatKey("10"), testSeatKey("21")}

		m.cr.On("GetTrain", mock.Anything, "12345").Return(testTrain(), nil)
		m.cr.On("GetCoach", mock.Anything, "12345", "A1").Return(testCoach(), nil)
		m.locker.On("Acquire", mock.Anything, keys, mock.Anything, 3*time.Minute).
			Return(&AcquireResult{Granted: keys, ExpiresAt: time.Now().Add(3 * time.Minute)}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("Create", mock.Anything, tx, mock.Anything).Return(assert.AnError)
		m.locker.On("Release", mock.Anything, keys, mock.Anything).Return(nil)

		svc := m.service(testBookingConfig())
		_, err := svc.BlockSeats(context.Background(), testBlockInput())

		assert.Error(t, err)
		m.locker.AssertCalled(t, "Release", mock.Anything, keys, mock.Anything)
	})
}

func TestBookingService_InitiatePayment(t *testing.T) {
	initiateInput := func(j *journey.Journey) *InitiatePaymentInput {
		return &InitiatePaymentInput{
			BookingReference:     j.BookingReference,
			PaymentTransactionID: "pay-1",
			Amount:               j.TotalFare,
		}
	}

	t.Run("決済待ちへ遷移しブロック期限が延長される", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)
		before := *j.Tickets[0].BlockExpiresAt

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.locker.On("Extend", mock.Anything, mock.Anything, j.BookingReference, mock.Anything).Return(nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("Create", mock.Anything, tx, mock.MatchedBy(func(txn *payment.Transaction) bool {
			return txn.Status == payment.StatusInitiated && txn.Amount == int64(300000)
		})).Return(nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)

		svc := m.service(testBookingConfig())
		result, err := svc.InitiatePayment(context.Background(), initiateInput(j))

		require.NoError(t, err)
		assert.Equal(t, journey.StatusPaymentPending, result.Status)
		assert.Equal(t, "pay-1", result.TransactionID)
		assert.False(t, result.PaymentExpiresAt.IsZero())
		assert.True(t, result.BlockExpiresAt.After(before))
		for _, ticket := range j.Tickets {
			assert.Equal(t, journey.TicketStatusBlocked, ticket.Status)
			assert.True(t, ticket.BlockExpiresAt.After(before))
		}
		m.locker.AssertCalled(t, "Extend", mock.Anything, mock.Anything, j.BookingReference, mock.Anything)
	})

	t.Run("運賃不一致は開始できない", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		input := initiateInput(j)
		input.Amount = 100
		svc := m.service(testBookingConfig())
		_, err := svc.InitiatePayment(context.Background(), input)

		assert.ErrorIs(t, err, journey.ErrFareMismatch)
		m.pr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ブロック済み以外の状態からは開始できない", func(t *testing.T) {
		m := newBookingMocks()
		j := confirmedBookingJourney()

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.InitiatePayment(context.Background(), initiateInput(j))
		assert.ErrorIs(t, err, journey.ErrInvalidState)
	})

	t.Run("ブロック期限切れは開始できない", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(-time.Second)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.InitiatePayment(context.Background(), initiateInput(j))
		assert.ErrorIs(t, err, journey.ErrBlockExpired)
	})

	t.Run("未完了トランザクションが既にあれば開始できない", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.locker.On("Extend", mock.Anything, mock.Anything, j.BookingReference, mock.Anything).Return(nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("Create", mock.Anything, tx, mock.Anything).Return(payment.ErrPendingTransactionExist)

		svc := m.service(testBookingConfig())
		_, err := svc.InitiatePayment(context.Background(), initiateInput(j))

		assert.ErrorIs(t, err, payment.ErrPendingTransactionExist)
		m.jr.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ロック延長に失敗したら台帳には何も乗らない", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.locker.On("Extend", mock.Anything, mock.Anything, j.BookingReference, mock.Anything).
			Return(seatlock.ErrLockExpired)

		svc := m.service(testBookingConfig())
		_, err := svc.InitiatePayment(context.Background(), initiateInput(j))

		assert.ErrorIs(t, err, seatlock.ErrLockExpired)
		m.pr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, journey.StatusSeatsBlocked, j.Status)
	})
}

func TestBookingService_ConfirmBooking(t *testing.T) {
	confirmInput := func(j *journey.Journey) *ConfirmBookingInput {
		return &ConfirmBookingInput{
			BookingReference:     j.BookingReference,
			PaymentTransactionID: "pay-1",
			Amount:               j.TotalFare,
		}
	}

	t.Run("決済成功で予約確定", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(nil, payment.ErrTransactionNotFound)
		m.pr.On("Create", mock.Anything, tx, mock.MatchedBy(func(txn *payment.Transaction) bool {
			return txn.Status == payment.StatusSuccess && txn.Amount == int64(300000)
		})).Return(nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything).
			Return([]string{testSeatKey("10").String(), testSeatKey("21").String()}, nil)

		svc := m.service(testBookingConfig())
		result, err := svc.ConfirmBooking(context.Background(), confirmInput(j))

		require.NoError(t, err)
		assert.Equal(t, journey.StatusConfirmed, result.Status)
		assert.False(t, result.ConfirmedAt.IsZero())
		for _, v := range result.Tickets {
			assert.Equal(t, journey.TicketStatusConfirmed, v.Status)
			assert.NotEmpty(t, v.PNR)
		}
		// ロックは解放するが在庫は戻さない
		m.lr.AssertCalled(t, "ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything)
		m.ir.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("運賃不一致は失敗トランザクションとして記録", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(nil, payment.ErrTransactionNotFound)
		m.pr.On("Create", mock.Anything, tx, mock.MatchedBy(func(txn *payment.Transaction) bool {
			return txn.Status == payment.StatusFailed && txn.FailureReason == "運賃不一致"
		})).Return(nil)

		input := confirmInput(j)
		input.Amount = 100 // 正しくは 300000
		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), input)

		assert.ErrorIs(t, err, journey.ErrFareMismatch)
		m.pr.AssertNumberOfCalls(t, "Create", 1)
		m.jr.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("決済開始済みのトランザクションを成功へ更新して確定", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(5 * time.Minute)
		require.NoError(t, j.StartPayment())
		initiated := payment.NewTransaction("pay-1", j.ID, j.TotalFare)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(initiated, nil)
		m.pr.On("Update", mock.Anything, tx, mock.MatchedBy(func(txn *payment.Transaction) bool {
			return txn.Status == payment.StatusSuccess
		})).Return(nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything).
			Return([]string{}, nil)

		svc := m.service(testBookingConfig())
		result, err := svc.ConfirmBooking(context.Background(), confirmInput(j))

		require.NoError(t, err)
		assert.Equal(t, journey.StatusConfirmed, result.Status)
		// 開始済みトランザクションの更新であり、新規作成ではない
		m.pr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("別ジャーニーのトランザクションIDでは確定できない", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)
		other := payment.NewTransaction("pay-1", "journey-other", 300000)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(other, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), confirmInput(j))

		assert.ErrorIs(t, err, payment.ErrDuplicateTransactionID)
		m.pr.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("運賃不一致は開始済みトランザクションを失敗へ更新", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(5 * time.Minute)
		require.NoError(t, j.StartPayment())
		initiated := payment.NewTransaction("pay-1", j.ID, j.TotalFare)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(initiated, nil)
		m.pr.On("Update", mock.Anything, tx, mock.MatchedBy(func(txn *payment.Transaction) bool {
			return txn.Status == payment.StatusFailed && txn.FailureReason == "運賃不一致"
		})).Return(nil)

		input := confirmInput(j)
		input.Amount = 100
		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), input)

		assert.ErrorIs(t, err, journey.ErrFareMismatch)
		m.pr.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ブロック期限切れは確定できない", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(-time.Second)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), confirmInput(j))
		assert.ErrorIs(t, err, journey.ErrBlockExpired)
	})

	t.Run("確定済み予約の再確定は不可", func(t *testing.T) {
		m := newBookingMocks()
		j := confirmedBookingJourney()

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), confirmInput(j))
		assert.ErrorIs(t, err, journey.ErrInvalidState)
	})

	t.Run("バージョン競合はリトライして成功", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j1 := blockedBookingJourney(time.Minute)
		j2 := blockedBookingJourney(time.Minute)
		j2.BookingReference = j1.BookingReference

		m.jr.On("GetByBookingReference", mock.Anything, j1.BookingReference).Return(j1, nil).Once()
		m.jr.On("GetByBookingReference", mock.Anything, j1.BookingReference).Return(j2, nil).Once()
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(nil, payment.ErrTransactionNotFound)
		m.pr.On("Create", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j1).Return(journey.ErrConcurrentModification).Once()
		m.jr.On("Update", mock.Anything, tx, j2).Return(nil).Once()
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j1.BookingReference, mock.Anything).
			Return([]string{}, nil)

		svc := m.service(testBookingConfig())
		result, err := svc.ConfirmBooking(context.Background(), confirmInput(j1))

		require.NoError(t, err)
		assert.Equal(t, journey.StatusConfirmed, result.Status)
		m.jr.AssertNumberOfCalls(t, "GetByBookingReference", 2)
	})

	t.Run("リトライ上限を超えた競合はエラー", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()

		for i := 0; i < 3; i++ {
			j := blockedBookingJourney(time.Minute)
			j.BookingReference = "BLK-20260915-AAAAAA"
			m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil).Once()
			m.jr.On("Update", mock.Anything, tx, j).Return(journey.ErrConcurrentModification).Once()
		}
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("GetByTransactionID", mock.Anything, "pay-1").Return(nil, payment.ErrTransactionNotFound)
		m.pr.On("Create", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)

		svc := m.service(testBookingConfig())
		_, err := svc.ConfirmBooking(context.Background(), &ConfirmBookingInput{
			BookingReference:     "BLK-20260915-AAAAAA",
			PaymentTransactionID: "pay-1",
			Amount:               300000,
		})

		assert.ErrorIs(t, err, journey.ErrConcurrentModification)
		m.jr.AssertNumberOfCalls(t, "GetByBookingReference", 3)
	})
}

func TestBookingService_ReleaseSeats(t *testing.T) {
	t.Run("ブロック中の座席を解放して在庫を戻す", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything).
			Return([]string{testSeatKey("10").String(), testSeatKey("21").String()}, nil)
		m.ir.On("Increment", mock.Anything, tx, mock.Anything).Return(nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		svc := m.service(testBookingConfig())
		require.NoError(t, svc.ReleaseSeats(context.Background(), j.BookingReference))

		assert.Equal(t, journey.StatusCancelled, j.Status)
		for _, ticket := range j.Tickets {
			assert.Equal(t, journey.TicketStatusCancelled, ticket.Status)
		}
		m.ir.AssertNumberOfCalls(t, "Increment", 2)
	})

	t.Run("一部のロックだけ解放された場合は解放分だけ在庫を戻す", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		// 座席10のロックは既に期限切れ回収済み
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything).
			Return([]string{testSeatKey("21").String()}, nil)
		m.ir.On("Increment", mock.Anything, tx, mock.Anything).Return(nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		svc := m.service(testBookingConfig())
		require.NoError(t, svc.ReleaseSeats(context.Background(), j.BookingReference))
		m.ir.AssertNumberOfCalls(t, "Increment", 1)
	})

	t.Run("キャンセル済み予約の解放はno-op", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(time.Minute)
		_ = j.Cancel()

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		require.NoError(t, svc.ReleaseSeats(context.Background(), j.BookingReference))
		m.txm.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("確定済み予約は解放できない", func(t *testing.T) {
		m := newBookingMocks()
		j := confirmedBookingJourney()

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		assert.ErrorIs(t, svc.ReleaseSeats(context.Background(), j.BookingReference), journey.ErrInvalidState)
	})
}

func TestBookingService_CancelBooking(t *testing.T) {
	t.Run("確定済み予約をキャンセルして返金要求を発行", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := confirmedBookingJourney()
		paid := payment.NewTransaction("pay-1", j.ID, j.TotalFare)
		require.NoError(t, paid.Succeed())

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.pr.On("GetByJourneyID", mock.Anything, j.ID).Return([]*payment.Transaction{paid}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.pr.On("Update", mock.Anything, tx, paid).Return(nil)
		m.refunds.On("Publish", mock.Anything, mock.MatchedBy(func(e queue.RefundRequestedEvent) bool {
			return e.BookingReference == j.BookingReference && e.Amount == int64(300000)
		})).Return(nil)

		svc := m.service(testBookingConfig())
		result, err := svc.CancelBooking(context.Background(), j.BookingReference, "予定変更")

		require.NoError(t, err)
		assert.NotEmpty(t, result.CancellationID)
		assert.Equal(t, journey.StatusCancelled, result.Status)
		assert.Equal(t, payment.StatusRefundPending, result.RefundStatus)
		assert.Equal(t, int64(300000), result.RefundAmount)
		// 在庫・ロックには触れない
		m.ir.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
		m.lr.AssertNotCalled(t, "ReleaseByHolder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("返金イベント発行に失敗してもキャンセルは成立", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := confirmedBookingJourney()
		paid := payment.NewTransaction("pay-1", j.ID, j.TotalFare)
		require.NoError(t, paid.Succeed())

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.pr.On("GetByJourneyID", mock.Anything, j.ID).Return([]*payment.Transaction{paid}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.pr.On("Update", mock.Anything, tx, paid).Return(nil)
		m.refunds.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError)

		svc := m.service(testBookingConfig())
		result, err := svc.CancelBooking(context.Background(), j.BookingReference, "予定変更")

		require.NoError(t, err)
		// 台帳は refund_pending のまま。リコンサイルで再送される
		assert.Equal(t, payment.StatusRefundPending, result.RefundStatus)
	})

	t.Run("決済記録のない確定予約もキャンセルできる", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := confirmedBookingJourney()

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.pr.On("GetByJourneyID", mock.Anything, j.ID).Return([]*payment.Transaction{}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)

		svc := m.service(testBookingConfig())
		result, err := svc.CancelBooking(context.Background(), j.BookingReference, "予定変更")

		require.NoError(t, err)
		assert.Zero(t, result.RefundAmount)
		m.refunds.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("未確定予約はキャンセルできない", func(t *testing.T) {
		m := newBookingMocks()
		j := blockedBookingJourney(time.Minute)

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)

		svc := m.service(testBookingConfig())
		_, err := svc.CancelBooking(context.Background(), j.BookingReference, "予定変更")
		assert.ErrorIs(t, err, journey.ErrInvalidState)
	})
}

func TestBookingService_ReclaimExpiredBlocks(t *testing.T) {
	t.Run("期限切れブロックを回収してチケットを失効させる", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(-time.Second)

		m.jr.On("GetExpiredBlocked", mock.Anything, 100).Return([]*journey.Journey{j}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.Anything).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j.BookingReference, mock.Anything).
			Return([]string{testSeatKey("10").String(), testSeatKey("21").String()}, nil)
		m.ir.On("Increment", mock.Anything, tx, mock.Anything).Return(nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		svc := m.service(testBookingConfig())
		count, err := svc.ReclaimExpiredBlocks(context.Background(), 100)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, journey.StatusCancelled, j.Status)
		for _, ticket := range j.Tickets {
			assert.Equal(t, journey.TicketStatusBlockExpired, ticket.Status)
		}
	})

	t.Run("回収に失敗したジャーニーはスキップして続行", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j1 := blockedBookingJourney(-time.Second)
		j2 := blockedBookingJourney(-time.Second)

		m.jr.On("GetExpiredBlocked", mock.Anything, 100).Return([]*journey.Journey{j1, j2}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.jr.On("UpdateTicket", mock.Anything, tx, mock.MatchedBy(func(t *journey.Ticket) bool {
			return t.JourneyID == ""
		})).Return(nil)
		m.jr.On("Update", mock.Anything, tx, j1).Return(journey.ErrConcurrentModification)
		m.jr.On("Update", mock.Anything, tx, j2).Return(nil)
		m.lr.On("ReleaseByHolder", mock.Anything, tx, j2.BookingReference, mock.Anything).
			Return([]string{}, nil)
		m.cache.On("Invalidate", mock.Anything, "12345", "2026-09-15").Return(nil)

		svc := m.service(testBookingConfig())
		count, err := svc.ReclaimExpiredBlocks(context.Background(), 100)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestBookingService_ExpireTransactions(t *testing.T) {
	expiredTxn := func(journeyID string) *payment.Transaction {
		txn := payment.NewTransaction("pay-1", journeyID, 300000)
		txn.ExpiresAt = time.Now().Add(-time.Second)
		return txn
	}

	t.Run("期限切れ決済を失効させジャーニーを決済失敗へ", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)
		require.NoError(t, j.StartPayment())
		txn := expiredTxn(j.ID)

		m.pr.On("GetExpiredPending", mock.Anything, 100).Return([]*payment.Transaction{txn}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("Update", mock.Anything, tx, txn).Return(nil)
		m.jr.On("GetByID", mock.Anything, j.ID).Return(j, nil)
		m.jr.On("Update", mock.Anything, tx, j).Return(nil)

		svc := m.service(testBookingConfig())
		count, err := svc.ExpireTransactions(context.Background(), 100)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, payment.StatusExpired, txn.Status)
		assert.Equal(t, journey.StatusPaymentFailed, j.Status)
	})

	t.Run("ジャーニーが決済待ちでなければ決済だけ失効させる", func(t *testing.T) {
		m := newBookingMocks()
		tx := newCommittableTx()
		j := blockedBookingJourney(time.Minute)
		txn := expiredTxn(j.ID)

		m.pr.On("GetExpiredPending", mock.Anything, 100).Return([]*payment.Transaction{txn}, nil)
		m.txm.On("Begin", mock.Anything).Return(tx, nil)
		m.pr.On("Update", mock.Anything, tx, txn).Return(nil)
		m.jr.On("GetByID", mock.Anything, j.ID).Return(j, nil)

		svc := m.service(testBookingConfig())
		count, err := svc.ExpireTransactions(context.Background(), 100)

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, journey.StatusSeatsBlocked, j.Status)
		m.jr.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBookingService_GetBookingDetails(t *testing.T) {
	t.Run("予約と決済履歴を返す", func(t *testing.T) {
		m := newBookingMocks()
		j := confirmedBookingJourney()
		txns := []*payment.Transaction{payment.NewTransaction("pay-1", j.ID, j.TotalFare)}

		m.jr.On("GetByBookingReference", mock.Anything, j.BookingReference).Return(j, nil)
		m.pr.On("GetByJourneyID", mock.Anything, j.ID).Return(txns, nil)

		svc := m.service(testBookingConfig())
		details, err := svc.GetBookingDetails(context.Background(), j.BookingReference)

		require.NoError(t, err)
		assert.Equal(t, j, details.Journey)
		assert.Len(t, details.Transactions, 1)
	})
}
