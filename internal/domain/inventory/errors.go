package inventory

import "errors"

// Inventory ドメインのエラー定義
var (
	ErrCounterNotFound    = errors.New("在庫カウンタが見つかりません")
	ErrCounterKeyRequired = errors.New("列車番号と号車は必須です")
	ErrInvalidTotalSeats  = errors.New("総座席数は1以上である必要があります")
	ErrCounterOutOfRange  = errors.New("空席数が範囲外です")
)
