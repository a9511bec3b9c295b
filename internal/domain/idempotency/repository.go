package idempotency

import "context"

// Repository は冪等性レコードリポジトリのインターフェース
type Repository interface {
	// TryInsert は新しい処理中レコードの挿入を試みる
	// 同じキーのレコードが既に存在する場合は false（挿入なし）
	TryInsert(ctx context.Context, r *Record) (bool, error)

	// GetByKey はキーからレコードを取得する
	GetByKey(ctx context.Context, key string) (*Record, error)

	// Update は楽観的ロック付きで更新する
	// バージョン不一致の場合は ErrRecordNotFound ではなく競合として扱う
	Update(ctx context.Context, r *Record) error

	// TakeOver は放棄された処理中レコードをバージョン確認付きで引き継ぐ
	// 別のリトライが先に引き継いだ場合は false
	TakeOver(ctx context.Context, r *Record, newHash string) (bool, error)

	// PurgeExpired はTTL切れレコードを削除し、削除件数を返す
	PurgeExpired(ctx context.Context) (int, error)
}
