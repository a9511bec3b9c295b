package idempotency

import "errors"

// Idempotency ドメインのエラー定義
var (
	ErrRecordNotFound        = errors.New("冪等性レコードが見つかりません")
	ErrKeyConflict           = errors.New("同じ冪等性キーで異なるリクエストが送信されました")
	ErrRequestInProgress     = errors.New("同じリクエストが処理中です")
	ErrRecordNotProcessing   = errors.New("冪等性レコードは処理中ではありません")
	ErrKeyRequired           = errors.New("冪等性キーは必須です")
	ErrRequestHashRequired   = errors.New("リクエストハッシュは必須です")
	ErrOperationTypeRequired = errors.New("操作種別は必須です")
)
