package payment

import "errors"

// Payment ドメインのエラー定義
var (
	ErrTransactionNotFound     = errors.New("決済トランザクションが見つかりません")
	ErrTransactionTerminal     = errors.New("決済トランザクションは既に終端状態です")
	ErrTransactionNotExpired   = errors.New("決済トランザクションはまだ有効期限内です")
	ErrPendingTransactionExist = errors.New("未完了の決済トランザクションが既に存在します")
	ErrDuplicateTransactionID  = errors.New("同一の決済トランザクションIDが既に記録されています")
	ErrRefundNotAllowed        = errors.New("返金は成功した決済に対してのみ可能です")
	ErrTransactionIDRequired   = errors.New("決済トランザクションIDは必須です")
	ErrJourneyIDRequired       = errors.New("ジャーニーIDは必須です")
	ErrInvalidAmount           = errors.New("決済金額は正の値である必要があります")
)
