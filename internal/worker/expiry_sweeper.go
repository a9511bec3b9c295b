package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/metrics"
)

// LockReclaimer は期限切れ座席ロックを回収するインターフェース
type LockReclaimer interface {
	ReclaimExpiredLocks(ctx context.Context, limit int) (int, error)
}

// BlockReclaimer は期限切れブロックと期限切れ決済を回収するインターフェース
type BlockReclaimer interface {
	ReclaimExpiredBlocks(ctx context.Context, limit int) (int, error)
	ExpireTransactions(ctx context.Context, limit int) (int, error)
}

// IdempotencyPurger はTTL切れ冪等性レコードを削除するインターフェース
type IdempotencyPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// ExpirySweeper は期限切れエンティティを定期回収するワーカー
// ロック、座席ブロック、決済、冪等性レコードの4種を1周期で掃く
type ExpirySweeper struct {
	locks     LockReclaimer
	bookings  BlockReclaimer
	purger    IdempotencyPurger
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewExpirySweeper は新しいスイーパーを作成
func NewExpirySweeper(
	locks LockReclaimer,
	bookings BlockReclaimer,
	purger IdempotencyPurger,
	interval time.Duration,
	batchSize int,
) *ExpirySweeper {
	return &ExpirySweeper{
		locks:     locks,
		bookings:  bookings,
		purger:    purger,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start はスイーパーを開始
func (s *ExpirySweeper) Start(ctx context.Context) {
	logger.Info("期限切れスイーパー開始",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("期限切れスイーパー停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("期限切れスイーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止
func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は1周期分の回収を行う
// 種別ごとの失敗は独立に扱い、残りの回収は続行する
func (s *ExpirySweeper) sweep(ctx context.Context) {
	log := logger.Get()
	log.Debug("期限切れ回収の開始")

	if count, err := s.locks.ReclaimExpiredLocks(ctx, s.batchSize); err != nil {
		log.Error("期限切れロックの回収失敗", zap.Error(err))
	} else if count > 0 {
		metrics.Get().SweepReclaimedTotal.WithLabelValues("lock").Add(float64(count))
		log.Info("期限切れロックを回収", zap.Int("count", count))
	}

	if count, err := s.bookings.ReclaimExpiredBlocks(ctx, s.batchSize); err != nil {
		log.Error("期限切れブロックの回収失敗", zap.Error(err))
	} else if count > 0 {
		metrics.Get().SweepReclaimedTotal.WithLabelValues("block").Add(float64(count))
		log.Info("期限切れブロックを回収", zap.Int("count", count))
	}

	if count, err := s.bookings.ExpireTransactions(ctx, s.batchSize); err != nil {
		log.Error("期限切れ決済の回収失敗", zap.Error(err))
	} else if count > 0 {
		metrics.Get().SweepReclaimedTotal.WithLabelValues("transaction").Add(float64(count))
		log.Info("期限切れ決済を回収", zap.Int("count", count))
	}

	if count, err := s.purger.PurgeExpired(ctx); err != nil {
		log.Error("冪等性レコードの削除失敗", zap.Error(err))
	} else if count > 0 {
		metrics.Get().SweepReclaimedTotal.WithLabelValues("idempotency").Add(float64(count))
		log.Info("冪等性レコードを削除", zap.Int("count", count))
	}
}
