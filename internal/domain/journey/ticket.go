package journey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketStatus はチケットの状態を表す
type TicketStatus string

const (
	TicketStatusCheckingAvailability TicketStatus = "checking_availability"
	TicketStatusBlocked              TicketStatus = "blocked"
	TicketStatusBlockExpired         TicketStatus = "block_expired"
	TicketStatusConfirmed            TicketStatus = "confirmed"
	TicketStatusCancelled            TicketStatus = "cancelled"
)

// IsTerminal は終端状態かを返す
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusConfirmed || s == TicketStatusCancelled || s == TicketStatusBlockExpired
}

// Gender は乗客の性別
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// Passenger は乗客情報
type Passenger struct {
	Name   string
	Age    int
	Gender Gender
}

// Ticket はジャーニー内の1座席割当を表す
// 座席ロックを保持するのは BLOCKED / CHECKING_AVAILABILITY の間のみ
// CONFIRMED チケットは当該列車・乗車日の座席を恒久的に保持する
type Ticket struct {
	ID             string
	JourneyID      string
	PNR            string // 確定時に採番される
	CoachNumber    string
	SeatNumber     string
	Passenger      Passenger
	Fare           int64
	Status         TicketStatus
	BlockedAt      *time.Time
	BlockExpiresAt *time.Time
	ConfirmedAt    *time.Time
	Version        int // 楽観的ロック用
}

// NewTicket は新しいチケットを空席確認中の状態で作成する
func NewTicket(coachNumber, seatNumber string, p Passenger, fare int64) *Ticket {
	return &Ticket{
		CoachNumber: coachNumber,
		SeatNumber:  seatNumber,
		Passenger:   p,
		Fare:        fare,
		Status:      TicketStatusCheckingAvailability,
		Version:     0,
	}
}

// NewPNR はPNR番号を採番する
// 形式: "PNR" + 10桁の英数字
func NewPNR() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("PNR%s", raw[:10])
}

// Block はチケットをブロック状態にする
func (t *Ticket) Block(ttl time.Duration) error {
	if t.Status != TicketStatusCheckingAvailability {
		return ErrInvalidState
	}
	now := time.Now()
	expires := now.Add(ttl)
	t.Status = TicketStatusBlocked
	t.BlockedAt = &now
	t.BlockExpiresAt = &expires
	return nil
}

// IsBlockExpired はブロック期限が過ぎているかを返す
func (t *Ticket) IsBlockExpired() bool {
	return t.BlockExpiresAt != nil && time.Now().After(*t.BlockExpiresAt)
}

// Confirm はチケットを確定しPNRを割り当てる
func (t *Ticket) Confirm() error {
	if t.Status != TicketStatusBlocked {
		return ErrTicketNotBlocked
	}
	if t.IsBlockExpired() {
		return ErrBlockExpired
	}
	now := time.Now()
	t.Status = TicketStatusConfirmed
	t.PNR = NewPNR()
	t.ConfirmedAt = &now
	return nil
}

// ExtendBlock はブロック期限を延長する（決済待ちへの遷移時）
func (t *Ticket) ExtendBlock(ttl time.Duration) error {
	if t.Status != TicketStatusBlocked {
		return ErrTicketNotBlocked
	}
	if t.IsBlockExpired() {
		return ErrBlockExpired
	}
	expires := time.Now().Add(ttl)
	t.BlockExpiresAt = &expires
	return nil
}

// Cancel はチケットをキャンセルする
func (t *Ticket) Cancel() error {
	if t.Status.IsTerminal() && t.Status != TicketStatusConfirmed {
		return ErrInvalidState
	}
	t.Status = TicketStatusCancelled
	return nil
}

// ExpireBlock はTTL超過によるブロック失効を記録する
func (t *Ticket) ExpireBlock() error {
	if t.Status != TicketStatusBlocked {
		return ErrTicketNotBlocked
	}
	t.Status = TicketStatusBlockExpired
	return nil
}

// SeatLabel は "号車-座席" 形式のラベルを返す
func (t *Ticket) SeatLabel() string {
	return t.CoachNumber + "-" + t.SeatNumber
}

// Validate はチケットの検証を行う
func (t *Ticket) Validate() error {
	if t.CoachNumber == "" || t.SeatNumber == "" {
		return ErrSeatRequired
	}
	if t.Passenger.Name == "" {
		return ErrPassengerNameRequired
	}
	if t.Passenger.Age < 0 || t.Passenger.Age > 150 {
		return ErrInvalidPassengerAge
	}
	if t.Fare < 0 {
		return ErrInvalidFare
	}
	return nil
}
