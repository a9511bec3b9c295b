package payment

import (
	"context"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

// Repository は決済台帳リポジトリのインターフェース
type Repository interface {
	// Create は決済トランザクションを記録する（トランザクション必須）
	// 同一ジャーニーに非終端のトランザクションが存在する場合は
	// ErrPendingTransactionExist
	Create(ctx context.Context, tx transaction.Tx, t *Transaction) error

	// GetByTransactionID はゲートウェイIDから取得する
	GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	// GetByJourneyID はジャーニーの決済履歴を取得する
	GetByJourneyID(ctx context.Context, journeyID string) ([]*Transaction, error)

	// Update は楽観的ロック付きで更新する（トランザクション必須）
	Update(ctx context.Context, tx transaction.Tx, t *Transaction) error

	// GetExpiredPending は期限切れの非終端トランザクション一覧を取得する
	GetExpiredPending(ctx context.Context, limit int) ([]*Transaction, error)
}
