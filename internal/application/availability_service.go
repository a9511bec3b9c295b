package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/inventory"
	redisinfra "github.com/sanosuguru/go-train-seat-reservation/internal/infrastructure/redis"
	"github.com/sanosuguru/go-train-seat-reservation/internal/pkg/logger"
)

// 空席数キャッシュのTTL
const availabilityCacheTTL = 30 * time.Second

// AvailabilityCacher は空席数キャッシュの読み書きインターフェース
type AvailabilityCacher interface {
	GetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string) (int, error)
	SetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string, count int, ttl time.Duration) error
}

// CoachAvailability は号車1つの空席状況
type CoachAvailability struct {
	CoachNumber    string
	CoachClass     string
	TotalSeats     int
	AvailableSeats int
	BaseFare       int64
}

// TrainAvailability は列車・乗車日の空席状況
type TrainAvailability struct {
	TrainNumber string
	TrainName   string
	JourneyDate string
	Coaches     []CoachAvailability
}

// AvailabilityService は空席照会を担うアプリケーションサービス
// 在庫カウンタを正とし、Redisキャッシュで読み取りを軽くする
type AvailabilityService struct {
	catalogRepo catalog.Repository
	invRepo     inventory.Repository
	cache       AvailabilityCacher
}

func NewAvailabilityService(cr catalog.Repository, ir inventory.Repository, cache AvailabilityCacher) *AvailabilityService {
	return &AvailabilityService{catalogRepo: cr, invRepo: ir, cache: cache}
}

// CheckAvailability は列車・乗車日の空席状況を返す
// coachClass が空でなければそのクラスの号車に絞る
func (s *AvailabilityService) CheckAvailability(ctx context.Context, trainNumber, journeyDate, coachClass string) (*TrainAvailability, error) {
	train, err := s.catalogRepo.GetTrain(ctx, trainNumber)
	if err != nil {
		return nil, err
	}

	var coaches []*catalog.Coach
	if coachClass != "" {
		coaches, err = s.catalogRepo.GetCoachesByClass(ctx, trainNumber, coachClass)
	} else {
		coaches, err = s.catalogRepo.GetCoaches(ctx, trainNumber)
	}
	if err != nil {
		return nil, err
	}

	result := &TrainAvailability{
		TrainNumber: train.TrainNumber,
		TrainName:   train.TrainName,
		JourneyDate: journeyDate,
		Coaches:     make([]CoachAvailability, 0, len(coaches)),
	}
	for _, coach := range coaches {
		available, err := s.availableCount(ctx, trainNumber, journeyDate, coach)
		if err != nil {
			return nil, err
		}
		result.Coaches = append(result.Coaches, CoachAvailability{
			CoachNumber:    coach.CoachNumber,
			CoachClass:     coach.CoachClass,
			TotalSeats:     coach.TotalSeats,
			AvailableSeats: available,
			BaseFare:       coach.BaseFare,
		})
	}
	return result, nil
}

// availableCount は号車の空席数をキャッシュ経由で取得する
// カウンタが未作成の号車は満席扱いではなく全席空席として扱う
func (s *AvailabilityService) availableCount(ctx context.Context, trainNumber, journeyDate string, coach *catalog.Coach) (int, error) {
	if s.cache != nil {
		count, err := s.cache.GetAvailableCount(ctx, trainNumber, journeyDate, coach.CoachNumber)
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			// キャッシュ障害では照会を止めず、DBへフォールバック
			logger.Warn("空席数キャッシュの取得に失敗",
				zap.String("train_number", trainNumber), zap.Error(err))
		}
	}

	key := inventory.CounterKey{
		TrainNumber: trainNumber,
		JourneyDate: journeyDate,
		CoachNumber: coach.CoachNumber,
	}
	counter, err := s.invRepo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, inventory.ErrCounterNotFound) {
			return coach.TotalSeats, nil
		}
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.SetAvailableCount(ctx, trainNumber, journeyDate, coach.CoachNumber, counter.Available, availabilityCacheTTL); err != nil {
			logger.Warn("空席数キャッシュの保存に失敗",
				zap.String("train_number", trainNumber), zap.Error(err))
		}
	}
	return counter.Available, nil
}

// GetTrain は列車情報を号車一覧つきで返す
func (s *AvailabilityService) GetTrain(ctx context.Context, trainNumber string) (*catalog.Train, []*catalog.Coach, error) {
	train, err := s.catalogRepo.GetTrain(ctx, trainNumber)
	if err != nil {
		return nil, nil, err
	}
	coaches, err := s.catalogRepo.GetCoaches(ctx, trainNumber)
	if err != nil {
		return nil, nil, err
	}
	return train, coaches, nil
}
