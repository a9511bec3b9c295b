package journey

import (
	"context"

	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/transaction"
)

// Repository はジャーニーリポジトリのインターフェース
// Journey と所有する Ticket を集約単位で永続化する
type Repository interface {
	// Create はジャーニーとチケットを作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, j *Journey) error

	// GetByBookingReference は予約参照からジャーニーを取得する（チケット込み）
	GetByBookingReference(ctx context.Context, ref string) (*Journey, error)

	// GetByID はIDからジャーニーを取得する（チケット込み）
	GetByID(ctx context.Context, id string) (*Journey, error)

	// Update はジャーニーを楽観的ロック付きで更新する（トランザクション必須）
	// バージョン不一致の場合は ErrConcurrentModification
	Update(ctx context.Context, tx transaction.Tx, j *Journey) error

	// UpdateTicket はチケットを楽観的ロック付きで更新する（トランザクション必須）
	UpdateTicket(ctx context.Context, tx transaction.Tx, t *Ticket) error

	// GetExpiredBlocked はブロック期限切れのままのジャーニー一覧を取得する
	GetExpiredBlocked(ctx context.Context, limit int) ([]*Journey, error)
}
