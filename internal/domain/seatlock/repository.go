package seatlock

import (
	"context"
	"time"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

// Repository は座席ロックリポジトリのインターフェース
type Repository interface {
	// CreateActive はアクティブなロックを作成する（トランザクション必須）
	// 同じキーのアクティブロックが既に存在する場合は ErrSeatUnavailable
	CreateActive(ctx context.Context, tx transaction.Tx, lock *SeatLock) error

	// GetActiveByKey はキーからアクティブなロックを取得する
	GetActiveByKey(ctx context.Context, key SeatKey) (*SeatLock, error)

	// GetActiveByHolder は保持者のアクティブなロック一覧を取得する
	GetActiveByHolder(ctx context.Context, holder string) ([]*SeatLock, error)

	// Release はアクティブなロックを解放済みに更新する（トランザクション必須）
	// 対象がアクティブでない場合は false を返す
	Release(ctx context.Context, tx transaction.Tx, key SeatKey, holder string) (bool, error)

	// ReleaseByHolder は保持者の指定キーのアクティブロックを一括解放する
	// 実際に解放されたキーの一覧を返す（トランザクション必須）
	ReleaseByHolder(ctx context.Context, tx transaction.Tx, holder string, keys []string) ([]string, error)

	// MarkExpired はアクティブなロックを期限切れに更新する（トランザクション必須）
	MarkExpired(ctx context.Context, tx transaction.Tx, id string) (bool, error)

	// ExtendExpiry はアクティブなロックの期限を延長する
	ExtendExpiry(ctx context.Context, key SeatKey, holder string, expiresAt time.Time) (bool, error)

	// GetExpiredActive は期限切れのままアクティブなロック一覧を取得する
	GetExpiredActive(ctx context.Context, limit int) ([]*SeatLock, error)
}
