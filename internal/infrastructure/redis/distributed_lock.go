package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("ロックを取得できませんでした")
	ErrLockNotOwned    = errors.New("ロックの所有者ではありません")
)

// DistributedLock は Redis を使用した分散ロック
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// KeySetLock は複数キーにまたがる分散ロックの集合
// キーは正規順序で取得されるため、重複する座席集合を
// 別々の順序で要求する呼び出し同士がデッドロックすることはない
type KeySetLock struct {
	locks []*DistributedLock
}

// LockManager は分散ロックを管理する
type LockManager struct {
	client *redis.Client
}

func NewLockManager(client *redis.Client) *LockManager {
	return &LockManager{client: client}
}

// AcquireLock は単一キーのロックを取得する
func (m *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := fmt.Sprintf("lock:%s", key)
	lockValue := uuid.New().String()

	// SetNX を使用してロックを取得（キーが存在しない場合のみ設定）
	ok, err := m.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ロック取得に失敗: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &DistributedLock{
		client: m.client,
		key:    lockKey,
		value:  lockValue,
		ttl:    ttl,
	}, nil
}

// AcquireKeys は複数キーのロックを正規順序（辞書順）で取得する
// 途中で1つでも取得に失敗した場合は取得済みロックをすべて解放して
// ErrLockNotAcquired を返す
func (m *LockManager) AcquireKeys(ctx context.Context, keys []string, ttl time.Duration) (*KeySetLock, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	set := &KeySetLock{locks: make([]*DistributedLock, 0, len(sorted))}
	for _, key := range sorted {
		lock, err := m.AcquireLock(ctx, key, ttl)
		if err != nil {
			set.Release(ctx)
			if errors.Is(err, ErrLockNotAcquired) {
				return nil, ErrLockNotAcquired
			}
			return nil, err
		}
		set.locks = append(set.locks, lock)
	}
	return set, nil
}

// AcquireKeysWithRetry はリトライ付きで複数キーのロックを取得する
func (m *LockManager) AcquireKeysWithRetry(ctx context.Context, keys []string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (*KeySetLock, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		set, err := m.AcquireKeys(ctx, keys, ttl)
		if err == nil {
			return set, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, lastErr
}

// Release は取得済みロックを逆順に解放する
// 個別の解放失敗は握りつぶさず最後のエラーを返す
func (s *KeySetLock) Release(ctx context.Context) error {
	var lastErr error
	for i := len(s.locks) - 1; i >= 0; i-- {
		if err := s.locks[i].Release(ctx); err != nil && !errors.Is(err, ErrLockNotOwned) {
			lastErr = err
		}
	}
	s.locks = nil
	return lastErr
}

// Release はロックを解放する（Lua スクリプトで安全に解放）
func (l *DistributedLock) Release(ctx context.Context) error {
	// Lua スクリプトで所有者確認と削除をアトミックに実行
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Int()
	if err != nil {
		return fmt.Errorf("ロック解放に失敗: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// Extend はロックの有効期限を延長する
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("ロック延長に失敗: %w", err)
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	l.ttl = ttl
	return nil
}
