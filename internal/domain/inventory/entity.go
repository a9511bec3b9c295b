package inventory

// CounterKey は在庫カウンタを識別するキー（列車, 乗車日, 号車）
type CounterKey struct {
	TrainNumber string
	JourneyDate string // YYYY-MM-DD
	CoachNumber string
}

// Counter は号車ごとの座席在庫カウンタ
// available は座席が free → locked/blocked になるときのみ減り、
// free に戻るとき（解放・期限切れ・キャンセル）のみ増える
type Counter struct {
	Key        CounterKey
	CoachClass string
	TotalSeats int
	Available  int
}

// NewCounter は新しい在庫カウンタを作成する
func NewCounter(key CounterKey, coachClass string, totalSeats int) *Counter {
	return &Counter{
		Key:        key,
		CoachClass: coachClass,
		TotalSeats: totalSeats,
		Available:  totalSeats,
	}
}

// IsSoldOut は満席かを返す
func (c *Counter) IsSoldOut() bool {
	return c.Available <= 0
}

// Validate はカウンタの検証を行う
// 不変条件: 0 <= available <= total
func (c *Counter) Validate() error {
	if c.Key.TrainNumber == "" || c.Key.CoachNumber == "" {
		return ErrCounterKeyRequired
	}
	if c.TotalSeats <= 0 {
		return ErrInvalidTotalSeats
	}
	if c.Available < 0 || c.Available > c.TotalSeats {
		return ErrCounterOutOfRange
	}
	return nil
}
