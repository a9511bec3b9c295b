package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/redis"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/metrics"
)

const (
	// 分散ロック自体のTTL（座席ロックのTTLとは別。取得処理の間だけ保持する）
	advisoryLockTTL    = 10 * time.Second
	advisoryMaxRetries = 3
	advisoryRetryDelay = 100 * time.Millisecond
)

// AcquireResult は座席ロック取得の結果
// 部分的な成功は許され、all-or-nothing にするかは呼び出し側の方針
type AcquireResult struct {
	Granted   []seatlock.SeatKey
	Denied    []seatlock.SeatKey
	ExpiresAt time.Time
}

// AllGranted はすべてのキーが取得できたかを返す
func (r *AcquireResult) AllGranted() bool {
	return len(r.Denied) == 0
}

// LockService は座席ロックの取得・解放・延長を担う
// 座席キー単位の排他は Redis の advisory ロックと
// DBの部分ユニークインデックス（アクティブロック）の二段構え
type LockService struct {
	txManager   transaction.Manager
	lockRepo    seatlock.Repository
	invRepo     inventory.Repository
	catalogRepo catalog.Repository
	lockManager *redisinfra.LockManager
}

func NewLockService(tm transaction.Manager, lr seatlock.Repository, ir inventory.Repository, cr catalog.Repository, lm *redisinfra.LockManager) *LockService {
	return &LockService{txManager: tm, lockRepo: lr, invRepo: ir, catalogRepo: cr, lockManager: lm}
}

// Acquire は要求された座席キー集合のロック取得を試みる
// キーは正規順序で処理され、キーごとに「在庫確認＋ロック作成」が
// 1トランザクションの原子的単位になる。キー間は独立に評価される
func (s *LockService) Acquire(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) (*AcquireResult, error) {
	start := time.Now()
	sorted := seatlock.SortKeys(keys)

	// advisory ロックで同一座席集合への同時進入を抑える
	advisory, err := s.acquireAdvisory(ctx, sorted)
	if err != nil {
		metrics.Get().SeatLockDuration.WithLabelValues("acquire", "lock_failed").Observe(time.Since(start).Seconds())
		return nil, err
	}
	if advisory != nil {
		defer advisory.Release(ctx)
	}

	result := &AcquireResult{ExpiresAt: time.Now().Add(ttl)}
	for _, key := range sorted {
		granted, err := s.acquireOne(ctx, key, holder, ttl)
		if err != nil {
			// 失敗したらここまでの grant を巻き戻して呼び出し側に伝える
			if relErr := s.releaseRestoring(ctx, result.Granted, holder); relErr != nil {
				logger.Error("ロック巻き戻しに失敗", zap.Error(relErr), zap.String("holder", holder))
			}
			metrics.Get().SeatLockDuration.WithLabelValues("acquire", "error").Observe(time.Since(start).Seconds())
			return nil, err
		}
		if granted {
			result.Granted = append(result.Granted, key)
		} else {
			result.Denied = append(result.Denied, key)
		}
	}

	status := "granted"
	if !result.AllGranted() {
		status = "partial"
	}
	metrics.Get().SeatLockDuration.WithLabelValues("acquire", status).Observe(time.Since(start).Seconds())
	return result, nil
}

// acquireOne は1キーの在庫確認とロック作成を単一トランザクションで行う
func (s *LockService) acquireOne(ctx context.Context, key seatlock.SeatKey, holder string, ttl time.Duration) (bool, error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	counterKey := inventory.CounterKey{
		TrainNumber: key.TrainNumber,
		JourneyDate: key.JourneyDate,
		CoachNumber: key.CoachNumber,
	}
	ok, err := s.invRepo.TryDecrement(ctx, tx, counterKey)
	if err != nil {
		return false, err
	}
	if !ok {
		// カウンタ行が未作成の号車は号車定義から遅延初期化して再試行する
		ok, err = s.initCounter(ctx, tx, key, counterKey)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil // 在庫なし
		}
	}

	lock := seatlock.NewSeatLock(key, holder, ttl)
	if err := lock.Validate(); err != nil {
		return false, err
	}
	if err := s.lockRepo.CreateActive(ctx, tx, lock); err != nil {
		if errors.Is(err, seatlock.ErrSeatUnavailable) {
			return false, nil // 同一キーのアクティブロックが既に存在
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("コミットに失敗: %w", err)
	}
	return true, nil
}

// initCounter はカウンタ行が存在しない号車を号車定義から初期化し、
// デクリメントをやり直す。行が既にあり満席なら false を返す
func (s *LockService) initCounter(ctx context.Context, tx transaction.Tx, key seatlock.SeatKey, counterKey inventory.CounterKey) (bool, error) {
	counter, err := s.invRepo.Get(ctx, counterKey)
	if err == nil {
		if counter.IsSoldOut() {
			return false, nil
		}
		// 解放と競合していた可能性がある。もう一度だけ試す
		return s.invRepo.TryDecrement(ctx, tx, counterKey)
	}
	if !errors.Is(err, inventory.ErrCounterNotFound) {
		return false, err
	}

	coach, err := s.catalogRepo.GetCoach(ctx, key.TrainNumber, key.CoachNumber)
	if err != nil {
		return false, err
	}
	counter = inventory.NewCounter(counterKey, coach.CoachClass, coach.TotalSeats)
	if err := counter.Validate(); err != nil {
		return false, err
	}
	// 同時初期化は ON CONFLICT DO NOTHING で片方だけが行を作る
	if err := s.invRepo.Create(ctx, counter); err != nil {
		return false, err
	}
	return s.invRepo.TryDecrement(ctx, tx, counterKey)
}

// Release は保持者のロックを解放し、在庫を戻す
// 既に解放済み・存在しないロックの解放は no-op
// 他者のロックの解放は ErrLockNotOwned
func (s *LockService) Release(ctx context.Context, keys []seatlock.SeatKey, holder string) error {
	start := time.Now()
	for _, key := range seatlock.SortKeys(keys) {
		existing, err := s.lockRepo.GetActiveByKey(ctx, key)
		if err != nil {
			if errors.Is(err, seatlock.ErrLockNotFound) {
				continue // 冪等: 解放するものがない
			}
			return err
		}
		if existing.Holder != holder {
			metrics.Get().SeatLockDuration.WithLabelValues("release", "not_owned").Observe(time.Since(start).Seconds())
			return seatlock.ErrLockNotOwned
		}
	}
	if err := s.releaseRestoring(ctx, keys, holder); err != nil {
		metrics.Get().SeatLockDuration.WithLabelValues("release", "error").Observe(time.Since(start).Seconds())
		return err
	}
	metrics.Get().SeatLockDuration.WithLabelValues("release", "released").Observe(time.Since(start).Seconds())
	return nil
}

// releaseRestoring はアクティブで所有一致のロックを解放し、在庫を戻す
func (s *LockService) releaseRestoring(ctx context.Context, keys []seatlock.SeatKey, holder string) error {
	for _, key := range keys {
		tx, err := s.txManager.Begin(ctx)
		if err != nil {
			return fmt.Errorf("トランザクション開始に失敗: %w", err)
		}
		released, err := s.lockRepo.Release(ctx, tx, key, holder)
		if err != nil {
			tx.Rollback()
			return err
		}
		if !released {
			tx.Rollback()
			continue
		}
		counterKey := inventory.CounterKey{
			TrainNumber: key.TrainNumber,
			JourneyDate: key.JourneyDate,
			CoachNumber: key.CoachNumber,
		}
		if err := s.invRepo.Increment(ctx, tx, counterKey); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("コミットに失敗: %w", err)
		}
	}
	return nil
}

// Extend は保持者の全ロックの期限を延長する
// 1つでもアクティブかつ所有一致でないキーがあれば失敗する
func (s *LockService) Extend(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) error {
	start := time.Now()
	sorted := seatlock.SortKeys(keys)

	advisory, err := s.acquireAdvisory(ctx, sorted)
	if err != nil {
		return err
	}
	if advisory != nil {
		defer advisory.Release(ctx)
	}

	// 先に全キーを検証してから延長する（途中失敗による部分延長を避ける）
	for _, key := range sorted {
		existing, err := s.lockRepo.GetActiveByKey(ctx, key)
		if err != nil {
			if errors.Is(err, seatlock.ErrLockNotFound) {
				return seatlock.ErrLockNotActive
			}
			return err
		}
		if existing.Holder != holder {
			return seatlock.ErrLockNotOwned
		}
		if existing.IsExpired() {
			return seatlock.ErrLockExpired
		}
	}

	expiresAt := time.Now().Add(ttl)
	for _, key := range sorted {
		ok, err := s.lockRepo.ExtendExpiry(ctx, key, holder, expiresAt)
		if err != nil {
			return err
		}
		if !ok {
			return seatlock.ErrLockNotActive
		}
	}
	metrics.Get().SeatLockDuration.WithLabelValues("extend", "extended").Observe(time.Since(start).Seconds())
	return nil
}

// ReleaseHolder は保持者（ロックID）のアクティブなロックをすべて解放する
// 保持するロックがない場合は no-op
func (s *LockService) ReleaseHolder(ctx context.Context, holder string) error {
	locks, err := s.lockRepo.GetActiveByHolder(ctx, holder)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		return nil // 冪等
	}
	keys := make([]seatlock.SeatKey, len(locks))
	for i, lock := range locks {
		keys[i] = lock.Key
	}
	return s.releaseRestoring(ctx, seatlock.SortKeys(keys), holder)
}

// ExtendHolder は保持者（ロックID）のアクティブなロックをまとめて延長する
// 保持するロックがない場合は ErrLockNotFound
func (s *LockService) ExtendHolder(ctx context.Context, holder string, ttl time.Duration) (time.Time, error) {
	locks, err := s.lockRepo.GetActiveByHolder(ctx, holder)
	if err != nil {
		return time.Time{}, err
	}
	if len(locks) == 0 {
		return time.Time{}, seatlock.ErrLockNotFound
	}
	keys := make([]seatlock.SeatKey, len(locks))
	for i, lock := range locks {
		keys[i] = lock.Key
	}
	if err := s.Extend(ctx, keys, holder, ttl); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(ttl), nil
}

// ReclaimExpiredLocks は期限切れのままアクティブなロックを回収する
// スイーパーから呼ばれる。期限切れ化と在庫戻しは同一トランザクション
func (s *LockService) ReclaimExpiredLocks(ctx context.Context, limit int) (int, error) {
	expired, err := s.lockRepo.GetExpiredActive(ctx, limit)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, lock := range expired {
		tx, err := s.txManager.Begin(ctx)
		if err != nil {
			return reclaimed, fmt.Errorf("トランザクション開始に失敗: %w", err)
		}
		ok, err := s.lockRepo.MarkExpired(ctx, tx, lock.ID)
		if err != nil {
			tx.Rollback()
			return reclaimed, err
		}
		if !ok {
			// 別経路で解放済み
			tx.Rollback()
			continue
		}
		counterKey := inventory.CounterKey{
			TrainNumber: lock.Key.TrainNumber,
			JourneyDate: lock.Key.JourneyDate,
			CoachNumber: lock.Key.CoachNumber,
		}
		if err := s.invRepo.Increment(ctx, tx, counterKey); err != nil {
			tx.Rollback()
			return reclaimed, err
		}
		if err := tx.Commit(); err != nil {
			return reclaimed, fmt.Errorf("コミットに失敗: %w", err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// acquireAdvisory はRedisの advisory ロックを取得する
// LockManager が未設定（単体テスト）の場合はスキップして nil を返す
func (s *LockService) acquireAdvisory(ctx context.Context, sorted []seatlock.SeatKey) (*redisinfra.KeySetLock, error) {
	if s.lockManager == nil {
		return nil, nil
	}
	lockKeys := make([]string, len(sorted))
	for i, key := range sorted {
		lockKeys[i] = key.String()
	}
	set, err := s.lockManager.AcquireKeysWithRetry(ctx, lockKeys, advisoryLockTTL, advisoryMaxRetries, advisoryRetryDelay)
	if err != nil {
		if errors.Is(err, redisinfra.ErrLockNotAcquired) {
			return nil, fmt.Errorf("座席が他のユーザーによって処理中です: %w", seatlock.ErrSeatUnavailable)
		}
		return nil, fmt.Errorf("分散ロック取得に失敗: %w", err)
	}
	return set, nil
}
