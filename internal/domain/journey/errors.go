package journey

import "errors"

// Journey ドメインのエラー定義
var (
	ErrJourneyNotFound        = errors.New("ジャーニーが見つかりません")
	ErrInvalidState           = errors.New("現在の状態では許可されない操作です")
	ErrTicketNotBlocked       = errors.New("チケットはブロックされていません")
	ErrBlockExpired           = errors.New("座席ブロックの有効期限が切れています")
	ErrFareMismatch           = errors.New("支払金額が合計運賃と一致しません")
	ErrConcurrentModification = errors.New("他の更新と競合しました（バージョン不一致）")
	ErrUserIDRequired         = errors.New("ユーザーIDは必須です")
	ErrTrainNumberRequired    = errors.New("列車番号は必須です")
	ErrStationsRequired       = errors.New("乗車駅と降車駅は必須です")
	ErrJourneyDateRequired    = errors.New("乗車日は必須です")
	ErrSeatRequired           = errors.New("号車と座席番号は必須です")
	ErrNoSeatsRequested       = errors.New("座席が指定されていません")
	ErrTooManySeats           = errors.New("1予約あたりの座席数の上限を超えています")
	ErrDuplicateSeats         = errors.New("同じ座席が重複して指定されています")
	ErrPassengerNameRequired  = errors.New("乗客名は必須です")
	ErrInvalidPassengerAge    = errors.New("乗客の年齢が不正です")
	ErrInvalidFare            = errors.New("運賃は0以上である必要があります")
)
