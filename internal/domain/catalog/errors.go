package catalog

import "errors"

// Catalog ドメインのエラー定義
var (
	ErrTrainNotFound    = errors.New("列車が見つかりません")
	ErrCoachNotFound    = errors.New("号車が見つかりません")
	ErrTrainNotBookable = errors.New("列車は予約を受け付けていません")
)
