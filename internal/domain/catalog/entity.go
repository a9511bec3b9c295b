package catalog

import "time"

// Train は列車のカタログ情報（読み取り専用）
type Train struct {
	ID            string
	TrainNumber   string
	TrainName     string
	SourceStation string
	DestStation   string
	DepartureTime string // HH:MM
	ArrivalTime   string // HH:MM
	OperatingDays string // MON,TUE,...
	IsActive      bool
	CreatedAt     time.Time
}

// Coach は号車のカタログ情報
type Coach struct {
	ID          string
	TrainNumber string
	CoachNumber string // A1, B2 など
	CoachClass  string // 1A, 2A, 3A, SL, CC
	TotalSeats  int
	BaseFare    int64 // 最小通貨単位
}

// FarePerPassenger は号車クラスの1乗客あたり運賃を返す
// 運賃計算の詳細（距離按分等）はカタログ側の責務
func (c *Coach) FarePerPassenger() int64 {
	return c.BaseFare
}

// IsBookable は予約受付可能かを返す
func (t *Train) IsBookable() bool {
	return t.IsActive
}
