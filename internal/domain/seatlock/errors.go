package seatlock

import "errors"

// SeatLock ドメインのエラー定義
var (
	ErrLockNotFound        = errors.New("ロックが見つかりません")
	ErrSeatUnavailable     = errors.New("座席は既に確保されています")
	ErrLockNotOwned        = errors.New("ロックの所有者ではありません")
	ErrLockNotActive       = errors.New("ロックは有効ではありません")
	ErrLockExpired         = errors.New("ロックの有効期限が切れています")
	ErrLockNotExpired      = errors.New("ロックはまだ有効期限内です")
	ErrTrainNumberRequired = errors.New("列車番号は必須です")
	ErrSeatRequired        = errors.New("号車と座席番号は必須です")
	ErrHolderRequired      = errors.New("ロック保持者は必須です")
)
