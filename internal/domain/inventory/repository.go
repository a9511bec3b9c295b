package inventory

import (
	"context"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

// Repository は在庫カウンタリポジトリのインターフェース
type Repository interface {
	// Create は新しい在庫カウンタを作成する
	Create(ctx context.Context, counter *Counter) error

	// Get はキーからカウンタを取得する
	Get(ctx context.Context, key CounterKey) (*Counter, error)

	// GetByTrainDate は列車・乗車日の全号車カウンタを取得する
	GetByTrainDate(ctx context.Context, trainNumber, journeyDate string) ([]*Counter, error)

	// TryDecrement は空席数を1減らす（トランザクション必須）
	// 空席が無い場合は false（0未満には決してならない）
	TryDecrement(ctx context.Context, tx transaction.Tx, key CounterKey) (bool, error)

	// Increment は空席数を1増やす（トランザクション必須）
	// total を超える増加は無視される
	Increment(ctx context.Context, tx transaction.Tx, key CounterKey) error
}
