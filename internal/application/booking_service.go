package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/config"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/journey"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/payment"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
	"github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/queue"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/metrics"
)

// 1予約あたりの座席数の上限
const maxSeatsPerBooking = 6

// SeatLocker は座席ロック操作のインターフェース（テスト用にモック可能）
type SeatLocker interface {
	Acquire(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) (*AcquireResult, error)
	Release(ctx context.Context, keys []seatlock.SeatKey, holder string) error
	Extend(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) error
}

var _ SeatLocker = (*LockService)(nil)

// RefundNotifier は返金要求イベントの発行インターフェース
type RefundNotifier interface {
	Publish(ctx context.Context, event queue.RefundRequestedEvent) error
}

// AvailabilityInvalidator は空席数キャッシュの無効化インターフェース
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, trainNumber, journeyDate string) error
}

// PassengerInput は乗客の入力情報
type PassengerInput struct {
	Name   string
	Age    int
	Gender string
}

// SeatSelection は座席1件の指定
type SeatSelection struct {
	CoachNumber string
	SeatNumber  string
	Passenger   PassengerInput
}

// BlockSeatsInput は座席ブロックの入力
type BlockSeatsInput struct {
	UserID             string
	TrainNumber        string
	JourneyDate        string
	SourceStation      string
	DestinationStation string
	Seats              []SeatSelection
}

// TicketView はチケットの参照用ビュー
type TicketView struct {
	TicketID       string
	PNR            string
	CoachNumber    string
	SeatNumber     string
	PassengerName  string
	Fare           int64
	Status         journey.TicketStatus
	BlockExpiresAt *time.Time
}

// BlockSeatsResult は座席ブロックの結果
// UnavailableSeats が空でなければ一部または全部の座席が確保できていない
type BlockSeatsResult struct {
	BookingReference string
	Status           journey.Status
	TotalFare        int64
	Currency         string
	BlockExpiresAt   time.Time
	Tickets          []TicketView
	UnavailableSeats []string // "号車-座席" ラベル
}

// Blocked はブロックが成立したか（ベストエフォート時は一部でも可）を返す
func (r *BlockSeatsResult) Blocked() bool {
	return len(r.Tickets) > 0
}

// InitiatePaymentInput は決済開始の入力
type InitiatePaymentInput struct {
	BookingReference     string
	PaymentTransactionID string
	Amount               int64
}

// InitiatePaymentResult は決済開始の結果
type InitiatePaymentResult struct {
	BookingReference string
	Status           journey.Status
	TransactionID    string
	Amount           int64
	Currency         string
	PaymentExpiresAt time.Time
	BlockExpiresAt   time.Time
}

// ConfirmBookingInput は予約確定の入力
type ConfirmBookingInput struct {
	BookingReference     string
	PaymentTransactionID string
	Amount               int64
}

// ConfirmBookingResult は予約確定の結果
type ConfirmBookingResult struct {
	BookingReference string
	Status           journey.Status
	TotalFare        int64
	ConfirmedAt      time.Time
	Tickets          []TicketView
}

// CancellationResult は確定後キャンセルの結果
type CancellationResult struct {
	CancellationID   string
	BookingReference string
	Status           journey.Status
	RefundStatus     payment.Status
	RefundAmount     int64
}

// BookingDetails は予約照会の結果
type BookingDetails struct {
	Journey      *journey.Journey
	Transactions []*payment.Transaction
}

// BookingService は予約のライフサイクル全体を担うアプリケーションサービス
// 座席ブロック、決済確定、解放、確定後キャンセルを提供する
type BookingService struct {
	txManager   transaction.Manager
	journeyRepo journey.Repository
	paymentRepo payment.Repository
	catalogRepo catalog.Repository
	lockRepo    seatlock.Repository
	invRepo     inventory.Repository
	locker      SeatLocker
	cache       AvailabilityInvalidator
	refunds     RefundNotifier
	cfg         *config.BookingConfig
}

func NewBookingService(
	tm transaction.Manager,
	jr journey.Repository,
	pr payment.Repository,
	cr catalog.Repository,
	lr seatlock.Repository,
	ir inventory.Repository,
	locker SeatLocker,
	cache AvailabilityInvalidator,
	refunds RefundNotifier,
	cfg *config.BookingConfig,
) *BookingService {
	return &BookingService{
		txManager:   tm,
		journeyRepo: jr,
		paymentRepo: pr,
		catalogRepo: cr,
		lockRepo:    lr,
		invRepo:     ir,
		locker:      locker,
		cache:       cache,
		refunds:     refunds,
		cfg:         cfg,
	}
}

// BlockSeats は指定座席のブロックを試みる
// 既定は all-or-nothing: 1席でも確保できなければ確保済みの席も
// すべて解放し、ジャーニーは永続化されない
// ベストエフォート設定時は確保できた席だけでブロックを成立させる
func (s *BookingService) BlockSeats(ctx context.Context, input *BlockSeatsInput) (*BlockSeatsResult, error) {
	if len(input.Seats) == 0 {
		return nil, journey.ErrNoSeatsRequested
	}
	if len(input.Seats) > maxSeatsPerBooking {
		return nil, journey.ErrTooManySeats
	}

	train, err := s.catalogRepo.GetTrain(ctx, input.TrainNumber)
	if err != nil {
		return nil, err
	}
	if !train.IsBookable() {
		return nil, catalog.ErrTrainNotBookable
	}

	j := journey.NewJourney(input.UserID, input.TrainNumber, input.SourceStation, input.DestinationStation, input.JourneyDate)
	if err := j.Validate(); err != nil {
		return nil, err
	}
	if err := j.StartAvailabilityCheck(); err != nil {
		return nil, err
	}

	// 座席ごとに号車を引いて運賃を確定する
	seen := make(map[seatlock.SeatKey]bool, len(input.Seats))
	keyByTicket := make(map[*journey.Ticket]seatlock.SeatKey, len(input.Seats))
	for _, sel := range input.Seats {
		coach, err := s.catalogRepo.GetCoach(ctx, input.TrainNumber, sel.CoachNumber)
		if err != nil {
			return nil, err
		}
		t := journey.NewTicket(sel.CoachNumber, sel.SeatNumber, journey.Passenger{
			Name:   sel.Passenger.Name,
			Age:    sel.Passenger.Age,
			Gender: journey.Gender(sel.Passenger.Gender),
		}, coach.FarePerPassenger())
		if err := t.Validate(); err != nil {
			return nil, err
		}
		key := seatlock.SeatKey{
			TrainNumber: input.TrainNumber,
			JourneyDate: input.JourneyDate,
			CoachNumber: sel.CoachNumber,
			SeatNumber:  sel.SeatNumber,
		}
		if seen[key] {
			return nil, journey.ErrDuplicateSeats
		}
		seen[key] = true
		j.Tickets = append(j.Tickets, t)
		keyByTicket[t] = key
	}

	keys := make([]seatlock.SeatKey, 0, len(j.Tickets))
	for _, t := range j.Tickets {
		keys = append(keys, keyByTicket[t])
	}

	acquired, err := s.locker.Acquire(ctx, keys, j.BookingReference, s.cfg.DefaultBlockTTL)
	if err != nil {
		metrics.Get().SeatBlocksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if !acquired.AllGranted() {
		unavailable := seatLabels(acquired.Denied)
		allOrNothing := !s.cfg.BestEffortBlock
		if allOrNothing || len(acquired.Granted) == 0 {
			// 確保済みの席を巻き戻す。ジャーニーは永続化しない
			if err := s.locker.Release(ctx, acquired.Granted, j.BookingReference); err != nil {
				logger.Error("部分取得の巻き戻しに失敗",
					zap.String("booking_reference", j.BookingReference), zap.Error(err))
			}
			metrics.Get().SeatBlocksTotal.WithLabelValues("unavailable").Inc()
			return &BlockSeatsResult{
				Status:           journey.StatusDraft,
				UnavailableSeats: unavailable,
			}, nil
		}
		// ベストエフォート: 確保できなかった席のチケットを落とす
		granted := make(map[seatlock.SeatKey]bool, len(acquired.Granted))
		for _, key := range acquired.Granted {
			granted[key] = true
		}
		kept := j.Tickets[:0]
		for _, t := range j.Tickets {
			if granted[keyByTicket[t]] {
				kept = append(kept, t)
			}
		}
		j.Tickets = kept
	}

	for _, t := range j.Tickets {
		if err := t.Block(s.cfg.DefaultBlockTTL); err != nil {
			return nil, err
		}
		j.TotalFare += t.Fare
	}
	if err := j.BlockSeats(); err != nil {
		return nil, err
	}

	if err := s.persistNewJourney(ctx, j); err != nil {
		// ロックは取れているが台帳に乗らなかった。席を戻して失敗を返す
		if relErr := s.locker.Release(ctx, acquired.Granted, j.BookingReference); relErr != nil {
			logger.Error("永続化失敗後のロック解放に失敗",
				zap.String("booking_reference", j.BookingReference), zap.Error(relErr))
		}
		metrics.Get().SeatBlocksTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.invalidateAvailability(ctx, input.TrainNumber, input.JourneyDate)
	metrics.Get().ActiveBlockedTickets.Add(float64(len(j.Tickets)))
	if len(acquired.Denied) > 0 {
		metrics.Get().SeatBlocksTotal.WithLabelValues("partially_blocked").Inc()
	} else {
		metrics.Get().SeatBlocksTotal.WithLabelValues("blocked").Inc()
	}

	return &BlockSeatsResult{
		BookingReference: j.BookingReference,
		Status:           j.Status,
		TotalFare:        j.TotalFare,
		Currency:         "INR",
		BlockExpiresAt:   acquired.ExpiresAt,
		Tickets:          ticketViews(j.Tickets),
		UnavailableSeats: seatLabels(acquired.Denied),
	}, nil
}

func (s *BookingService) persistNewJourney(ctx context.Context, j *journey.Journey) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.journeyRepo.Create(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

// InitiatePayment は決済開始を台帳に記録し、ジャーニーを決済待ちへ遷移させる
// ゲートウェイに渡る前にトランザクションを INITIATED で作成し、
// 決済手続きの間にブロックが切れないよう期限を決済の有効期限まで延長する
// 非終端トランザクションが既にあれば ErrPendingTransactionExist
func (s *BookingService) InitiatePayment(ctx context.Context, input *InitiatePaymentInput) (*InitiatePaymentResult, error) {
	j, err := s.journeyRepo.GetByBookingReference(ctx, input.BookingReference)
	if err != nil {
		return nil, err
	}
	if j.Status != journey.StatusSeatsBlocked {
		return nil, journey.ErrInvalidState
	}
	if input.Amount != j.TotalFare {
		return nil, journey.ErrFareMismatch
	}
	for _, t := range j.Tickets {
		if t.IsBlockExpired() {
			return nil, journey.ErrBlockExpired
		}
	}

	txn := payment.NewTransaction(input.PaymentTransactionID, j.ID, input.Amount)
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	blockTTL := time.Until(txn.ExpiresAt)

	// 座席ロックを先に延長する。失敗したら台帳には何も乗らない
	if err := s.locker.Extend(ctx, seatKeysOf(j), j.BookingReference, blockTTL); err != nil {
		return nil, err
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := s.paymentRepo.Create(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := j.StartPayment(); err != nil {
		return nil, err
	}
	var blockExpiresAt time.Time
	for _, t := range j.Tickets {
		if t.Status != journey.TicketStatusBlocked {
			continue
		}
		if err := t.ExtendBlock(blockTTL); err != nil {
			return nil, err
		}
		blockExpiresAt = *t.BlockExpiresAt
		if err := s.journeyRepo.UpdateTicket(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if err := s.journeyRepo.Update(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	logger.Info("決済を開始",
		zap.String("booking_reference", j.BookingReference),
		zap.String("transaction_id", txn.TransactionID))

	return &InitiatePaymentResult{
		BookingReference: j.BookingReference,
		Status:           j.Status,
		TransactionID:    txn.TransactionID,
		Amount:           txn.Amount,
		Currency:         txn.Currency,
		PaymentExpiresAt: txn.ExpiresAt,
		BlockExpiresAt:   blockExpiresAt,
	}, nil
}

// ConfirmBooking は決済結果を受けて予約を確定する
// 運賃不一致は失敗トランザクションとして台帳に記録される
// 楽観的ロック競合時は設定回数までリトライする
func (s *BookingService) ConfirmBooking(ctx context.Context, input *ConfirmBookingInput) (*ConfirmBookingResult, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ConfirmRetryMax; attempt++ {
		result, err := s.confirmOnce(ctx, input)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, journey.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		logger.Info("予約確定がバージョン競合でリトライ",
			zap.String("booking_reference", input.BookingReference),
			zap.Int("attempt", attempt+1))
	}
	metrics.Get().ConfirmationsTotal.WithLabelValues("conflict").Inc()
	return nil, lastErr
}

func (s *BookingService) confirmOnce(ctx context.Context, input *ConfirmBookingInput) (*ConfirmBookingResult, error) {
	j, err := s.journeyRepo.GetByBookingReference(ctx, input.BookingReference)
	if err != nil {
		return nil, err
	}

	if j.Status != journey.StatusSeatsBlocked && j.Status != journey.StatusPaymentPending {
		metrics.Get().ConfirmationsTotal.WithLabelValues("invalid_state").Inc()
		return nil, journey.ErrInvalidState
	}

	if input.Amount != j.TotalFare {
		if err := s.recordFailedPayment(ctx, j, input, "運賃不一致"); err != nil {
			logger.Error("失敗トランザクションの記録に失敗",
				zap.String("booking_reference", j.BookingReference), zap.Error(err))
		}
		metrics.Get().ConfirmationsTotal.WithLabelValues("fare_mismatch").Inc()
		return nil, journey.ErrFareMismatch
	}

	for _, t := range j.Tickets {
		if t.IsBlockExpired() {
			metrics.Get().ConfirmationsTotal.WithLabelValues("expired").Inc()
			return nil, journey.ErrBlockExpired
		}
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	// 決済開始済みならそのトランザクションを成功へ更新し、
	// 開始を経ない確定は成功済みトランザクションとして新規記録する
	txn, err := s.paymentRepo.GetByTransactionID(ctx, input.PaymentTransactionID)
	switch {
	case err == nil:
		if txn.JourneyID != j.ID {
			return nil, payment.ErrDuplicateTransactionID
		}
		if err := txn.Succeed(); err != nil {
			return nil, err
		}
		if err := s.paymentRepo.Update(ctx, tx, txn); err != nil {
			return nil, err
		}
	case errors.Is(err, payment.ErrTransactionNotFound):
		txn = payment.NewTransaction(input.PaymentTransactionID, j.ID, input.Amount)
		if err := txn.Succeed(); err != nil {
			return nil, err
		}
		if err := s.paymentRepo.Create(ctx, tx, txn); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	// ジャーニーの確定判定は全チケットが BLOCKED のうちに行う
	if err := j.Confirm(); err != nil {
		return nil, err
	}
	for _, t := range j.Tickets {
		if err := t.Confirm(); err != nil {
			return nil, err
		}
		if err := s.journeyRepo.UpdateTicket(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if err := s.journeyRepo.Update(ctx, tx, j); err != nil {
		return nil, err
	}

	// 確定した座席のロックは解放するが、在庫は戻さない
	// （確定チケットが座席を恒久的に保持する）
	if _, err := s.lockRepo.ReleaseByHolder(ctx, tx, j.BookingReference, lockKeysOf(j)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	metrics.Get().ActiveBlockedTickets.Sub(float64(len(j.Tickets)))
	metrics.Get().ConfirmationsTotal.WithLabelValues("confirmed").Inc()

	return &ConfirmBookingResult{
		BookingReference: j.BookingReference,
		Status:           j.Status,
		TotalFare:        j.TotalFare,
		ConfirmedAt:      *j.ConfirmedAt,
		Tickets:          ticketViews(j.Tickets),
	}, nil
}

// recordFailedPayment は失敗した決済試行を台帳に記録する
// 決済開始済みのトランザクションがあればそれを失敗へ更新する
func (s *BookingService) recordFailedPayment(ctx context.Context, j *journey.Journey, input *ConfirmBookingInput, reason string) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txn, err := s.paymentRepo.GetByTransactionID(ctx, input.PaymentTransactionID)
	switch {
	case err == nil:
		if txn.JourneyID != j.ID {
			return payment.ErrDuplicateTransactionID
		}
		if err := txn.Fail(reason); err != nil {
			return err
		}
		if err := s.paymentRepo.Update(ctx, tx, txn); err != nil {
			return err
		}
	case errors.Is(err, payment.ErrTransactionNotFound):
		txn = payment.NewTransaction(input.PaymentTransactionID, j.ID, input.Amount)
		if err := txn.Fail(reason); err != nil {
			return err
		}
		if err := s.paymentRepo.Create(ctx, tx, txn); err != nil {
			return err
		}
	default:
		return err
	}
	return tx.Commit()
}

// ReleaseSeats は未確定予約の座席を明示的に解放する
// 確定済み予約には使えない。既にキャンセル済みなら no-op
func (s *BookingService) ReleaseSeats(ctx context.Context, bookingReference string) error {
	j, err := s.journeyRepo.GetByBookingReference(ctx, bookingReference)
	if err != nil {
		return err
	}
	if j.Status == journey.StatusCancelled {
		return nil // 冪等
	}
	if j.Status == journey.StatusConfirmed {
		return journey.ErrInvalidState
	}
	return s.releaseJourney(ctx, j, false)
}

// releaseJourney は座席ブロックの解放経路の唯一の実装
// expired=true はTTL超過による回収（チケットは BLOCK_EXPIRED）、
// false は明示的な解放（チケットは CANCELLED）
func (s *BookingService) releaseJourney(ctx context.Context, j *journey.Journey, expired bool) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	blockedCount := 0
	for _, t := range j.Tickets {
		switch t.Status {
		case journey.TicketStatusBlocked:
			blockedCount++
			if expired {
				if err := t.ExpireBlock(); err != nil {
					return err
				}
			} else {
				if err := t.Cancel(); err != nil {
					return err
				}
			}
		case journey.TicketStatusCheckingAvailability:
			if err := t.Cancel(); err != nil {
				return err
			}
		default:
			continue
		}
		if err := s.journeyRepo.UpdateTicket(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := j.Cancel(); err != nil {
		return err
	}
	if err := s.journeyRepo.Update(ctx, tx, j); err != nil {
		return err
	}

	// 解放されたロックの分だけ在庫を戻す
	released, err := s.lockRepo.ReleaseByHolder(ctx, tx, j.BookingReference, lockKeysOf(j))
	if err != nil {
		return err
	}
	releasedSet := make(map[string]bool, len(released))
	for _, key := range released {
		releasedSet[key] = true
	}
	for _, t := range j.Tickets {
		key := seatlock.SeatKey{
			TrainNumber: j.TrainNumber,
			JourneyDate: j.JourneyDate,
			CoachNumber: t.CoachNumber,
			SeatNumber:  t.SeatNumber,
		}
		if !releasedSet[key.String()] {
			continue
		}
		counterKey := inventory.CounterKey{
			TrainNumber: j.TrainNumber,
			JourneyDate: j.JourneyDate,
			CoachNumber: t.CoachNumber,
		}
		if err := s.invRepo.Increment(ctx, tx, counterKey); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}

	s.invalidateAvailability(ctx, j.TrainNumber, j.JourneyDate)
	metrics.Get().ActiveBlockedTickets.Sub(float64(blockedCount))
	return nil
}

// CancelBooking は確定済み予約をキャンセルし、返金要求を発行する
// 在庫・ロックには触れない（確定済み座席の再販は運行側の別プロセス）
func (s *BookingService) CancelBooking(ctx context.Context, bookingReference, reason string) (*CancellationResult, error) {
	j, err := s.journeyRepo.GetByBookingReference(ctx, bookingReference)
	if err != nil {
		return nil, err
	}
	if j.Status != journey.StatusConfirmed {
		return nil, journey.ErrInvalidState
	}

	txns, err := s.paymentRepo.GetByJourneyID(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	var paid *payment.Transaction
	for _, txn := range txns {
		if txn.Status == payment.StatusSuccess {
			paid = txn
			break
		}
	}

	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	for _, t := range j.Tickets {
		if t.Status != journey.TicketStatusConfirmed {
			continue
		}
		if err := t.Cancel(); err != nil {
			return nil, err
		}
		if err := s.journeyRepo.UpdateTicket(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	if err := j.CancelConfirmed(); err != nil {
		return nil, err
	}
	if err := s.journeyRepo.Update(ctx, tx, j); err != nil {
		return nil, err
	}

	var refundStatus payment.Status
	var refundAmount int64
	if paid != nil {
		if err := paid.RequestRefund(); err != nil {
			return nil, err
		}
		if err := s.paymentRepo.Update(ctx, tx, paid); err != nil {
			return nil, err
		}
		refundStatus = paid.Status
		refundAmount = paid.Amount
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("コミットに失敗: %w", err)
	}

	cancellationID := uuid.New().String()
	if paid != nil && s.refunds != nil {
		event := queue.RefundRequestedEvent{
			CancellationID:   cancellationID,
			BookingReference: j.BookingReference,
			JourneyID:        j.ID,
			TransactionID:    paid.TransactionID,
			Amount:           paid.Amount,
			Currency:         paid.Currency,
			Reason:           reason,
			RequestedAt:      time.Now().UTC().Format(time.RFC3339),
		}
		if err := s.refunds.Publish(ctx, event); err != nil {
			// 台帳は refund_pending のまま。リコンサイルで再送される
			logger.Error("返金要求イベントの発行に失敗",
				zap.String("booking_reference", j.BookingReference), zap.Error(err))
		}
	}

	return &CancellationResult{
		CancellationID:   cancellationID,
		BookingReference: j.BookingReference,
		Status:           j.Status,
		RefundStatus:     refundStatus,
		RefundAmount:     refundAmount,
	}, nil
}

// GetBookingDetails は予約参照から予約の詳細（決済履歴込み）を取得する
func (s *BookingService) GetBookingDetails(ctx context.Context, bookingReference string) (*BookingDetails, error) {
	j, err := s.journeyRepo.GetByBookingReference(ctx, bookingReference)
	if err != nil {
		return nil, err
	}
	txns, err := s.paymentRepo.GetByJourneyID(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	return &BookingDetails{Journey: j, Transactions: txns}, nil
}

// ReclaimExpiredBlocks はブロック期限切れのジャーニーを回収する
// スイーパーから呼ばれる。回収に成功した件数を返す
func (s *BookingService) ReclaimExpiredBlocks(ctx context.Context, limit int) (int, error) {
	journeys, err := s.journeyRepo.GetExpiredBlocked(ctx, limit)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, j := range journeys {
		if err := s.releaseJourney(ctx, j, true); err != nil {
			// 競合は次回のスイープに回す
			logger.Warn("期限切れブロックの回収に失敗",
				zap.String("booking_reference", j.BookingReference), zap.Error(err))
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

// ExpireTransactions は期限切れの未完了決済を回収する
// 対応するジャーニーが決済待ちなら決済失敗へ遷移させる
// （座席の回収はブロック期限切れの経路に委ねる）
func (s *BookingService) ExpireTransactions(ctx context.Context, limit int) (int, error) {
	txns, err := s.paymentRepo.GetExpiredPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, txn := range txns {
		if err := s.expireTransaction(ctx, txn); err != nil {
			logger.Warn("期限切れ決済の回収に失敗",
				zap.String("transaction_id", txn.TransactionID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *BookingService) expireTransaction(ctx context.Context, txn *payment.Transaction) error {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := txn.Expire(); err != nil {
		return err
	}
	if err := s.paymentRepo.Update(ctx, tx, txn); err != nil {
		return err
	}

	j, err := s.journeyRepo.GetByID(ctx, txn.JourneyID)
	if err != nil {
		return err
	}
	if j.Status == journey.StatusPaymentPending {
		if err := j.FailPayment(); err != nil {
			return err
		}
		if err := s.journeyRepo.Update(ctx, tx, j); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *BookingService) invalidateAvailability(ctx context.Context, trainNumber, journeyDate string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, trainNumber, journeyDate); err != nil {
		logger.Warn("空席数キャッシュの無効化に失敗",
			zap.String("train_number", trainNumber), zap.Error(err))
	}
}

// seatKeysOf はジャーニーの全チケットの座席キーを返す
func seatKeysOf(j *journey.Journey) []seatlock.SeatKey {
	keys := make([]seatlock.SeatKey, 0, len(j.Tickets))
	for _, t := range j.Tickets {
		keys = append(keys, seatlock.SeatKey{
			TrainNumber: j.TrainNumber,
			JourneyDate: j.JourneyDate,
			CoachNumber: t.CoachNumber,
			SeatNumber:  t.SeatNumber,
		})
	}
	return keys
}

// lockKeysOf はジャーニーの全チケットのロックキー文字列を返す
func lockKeysOf(j *journey.Journey) []string {
	keys := make([]string, 0, len(j.Tickets))
	for _, key := range seatKeysOf(j) {
		keys = append(keys, key.String())
	}
	return keys
}

func seatLabels(keys []seatlock.SeatKey) []string {
	if len(keys) == 0 {
		return nil
	}
	labels := make([]string, len(keys))
	for i, key := range keys {
		labels[i] = key.CoachNumber + "-" + key.SeatNumber
	}
	return labels
}

func ticketViews(tickets []*journey.Ticket) []TicketView {
	views := make([]TicketView, len(tickets))
	for i, t := range tickets {
		views[i] = TicketView{
			TicketID:       t.ID,
			PNR:            t.PNR,
			CoachNumber:    t.CoachNumber,
			SeatNumber:     t.SeatNumber,
			PassengerName:  t.Passenger.Name,
			Fare:           t.Fare,
			Status:         t.Status,
			BlockExpiresAt: t.BlockExpiresAt,
		}
	}
	return views
}
