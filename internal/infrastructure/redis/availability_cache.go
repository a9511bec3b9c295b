package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// AvailabilityCache は列車・乗車日ごとの空席数キャッシュを管理する
type AvailabilityCache struct {
	client *redis.Client
}

// NewAvailabilityCache は新しいAvailabilityCacheインスタンスを作成する
func NewAvailabilityCache(client *redis.Client) *AvailabilityCache {
	return &AvailabilityCache{client: client}
}

// GetAvailableCount は号車の空席数をキャッシュから取得する
func (c *AvailabilityCache) GetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string) (int, error) {
	key := c.availableCountKey(trainNumber, journeyDate, coachNumber)
	val, err := c.client.Get(ctx, key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	return val, nil
}

// SetAvailableCount は号車の空席数をキャッシュに保存する
func (c *AvailabilityCache) SetAvailableCount(ctx context.Context, trainNumber, journeyDate, coachNumber string, count int, ttl time.Duration) error {
	key := c.availableCountKey(trainNumber, journeyDate, coachNumber)
	if err := c.client.Set(ctx, key, count, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate は列車・乗車日のキャッシュをまとめて無効化する
// ブロック・解放・失効で空席数が変わったときに呼ぶ
func (c *AvailabilityCache) Invalidate(ctx context.Context, trainNumber, journeyDate string) error {
	pattern := fmt.Sprintf("availability:%s:%s:*", trainNumber, journeyDate)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("キャッシュ走査に失敗: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) availableCountKey(trainNumber, journeyDate, coachNumber string) string {
	return fmt.Sprintf("availability:%s:%s:%s", trainNumber, journeyDate, coachNumber)
}
