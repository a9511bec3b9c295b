package seatlock

import (
	"fmt"
	"sort"
	"time"
)

// Status は座席ロックの状態を表す
type Status string

const (
	StatusActive   Status = "active"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"
)

// SeatKey は物理座席1つを一意に識別するキー
// (列車番号, 乗車日, 号車, 座席番号) の組
type SeatKey struct {
	TrainNumber string
	JourneyDate string // YYYY-MM-DD
	CoachNumber string
	SeatNumber  string
}

// String はロックキー文字列を返す
// 形式: "lock:seat:{train}:{date}:{coach}:{seat}"
func (k SeatKey) String() string {
	return fmt.Sprintf("lock:seat:%s:%s:%s:%s", k.TrainNumber, k.JourneyDate, k.CoachNumber, k.SeatNumber)
}

// SortKeys は座席キーを正規順序（辞書順）に並べ替えたコピーを返す
// 複数キーの取得順を統一してデッドロックを防ぐ
func SortKeys(keys []SeatKey) []SeatKey {
	sorted := make([]SeatKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	return sorted
}

// SeatLock は座席の短期排他ホールドを表す
type SeatLock struct {
	ID        string
	Key       SeatKey
	Holder    string // ユーザーまたは予約参照
	LockedAt  time.Time
	ExpiresAt time.Time
	Status    Status
}

// NewSeatLock は新しいアクティブなロックを作成する
func NewSeatLock(key SeatKey, holder string, ttl time.Duration) *SeatLock {
	now := time.Now()
	return &SeatLock{
		Key:       key,
		Holder:    holder,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusActive,
	}
}

// IsActive はロックが有効かを返す
func (l *SeatLock) IsActive() bool {
	return l.Status == StatusActive
}

// IsExpired は有効期限が過ぎているかを返す
func (l *SeatLock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// Release はロックを解放済みにする
// 終端状態からの遷移は許されない
func (l *SeatLock) Release(holder string) error {
	if l.Holder != holder {
		return ErrLockNotOwned
	}
	if l.Status != StatusActive {
		return nil // 解放済み・期限切れの解放は no-op
	}
	l.Status = StatusReleased
	return nil
}

// Expire は期限切れ状態にする
func (l *SeatLock) Expire() error {
	if l.Status != StatusActive {
		return ErrLockNotActive
	}
	if !l.IsExpired() {
		return ErrLockNotExpired
	}
	l.Status = StatusExpired
	return nil
}

// Extend は有効期限を延長する
func (l *SeatLock) Extend(holder string, ttl time.Duration) error {
	if l.Holder != holder {
		return ErrLockNotOwned
	}
	if l.Status != StatusActive {
		return ErrLockNotActive
	}
	if l.IsExpired() {
		return ErrLockExpired
	}
	l.ExpiresAt = time.Now().Add(ttl)
	return nil
}

// Validate はロックの検証を行う
func (l *SeatLock) Validate() error {
	if l.Key.TrainNumber == "" {
		return ErrTrainNumberRequired
	}
	if l.Key.SeatNumber == "" || l.Key.CoachNumber == "" {
		return ErrSeatRequired
	}
	if l.Holder == "" {
		return ErrHolderRequired
	}
	return nil
}
