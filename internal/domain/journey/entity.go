package journey

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status はジャーニー（予約全体）の状態を表す
type Status string

const (
	StatusDraft             Status = "draft"
	StatusAvailabilityCheck Status = "availability_check"
	StatusSeatsBlocked      Status = "seats_blocked"
	StatusPaymentPending    Status = "payment_pending"
	StatusPaymentFailed     Status = "payment_failed"
	StatusConfirmed         Status = "confirmed"
	StatusCancelled         Status = "cancelled"
)

// IsTerminal は終端状態かを返す
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Journey はユーザーの予約意図全体を表す集約ルート
// Ticket と Transaction を排他的に所有する
type Journey struct {
	ID                 string
	BookingReference   string // クライアント向けの予約参照
	UserID             string
	TrainNumber        string
	SourceStation      string
	DestinationStation string
	JourneyDate        string // YYYY-MM-DD
	Status             Status
	TotalFare          int64 // 最小通貨単位（パイサ）
	Tickets            []*Ticket
	CreatedAt          time.Time
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	UpdatedAt          time.Time
	Version            int // 楽観的ロック用
}

// NewJourney は新しいジャーニーを DRAFT 状態で作成する
func NewJourney(userID, trainNumber, source, destination, journeyDate string) *Journey {
	now := time.Now()
	return &Journey{
		BookingReference:   NewBookingReference(now),
		UserID:             userID,
		TrainNumber:        trainNumber,
		SourceStation:      source,
		DestinationStation: destination,
		JourneyDate:        journeyDate,
		Status:             StatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            0,
	}
}

// NewBookingReference は予約参照を生成する
// 形式: "BLK-YYYYMMDD-XXXXXX"
func NewBookingReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return fmt.Sprintf("BLK-%s-%s", now.Format("20060102"), suffix)
}

// StartAvailabilityCheck は空席確認フェーズへ遷移する
func (j *Journey) StartAvailabilityCheck() error {
	if j.Status != StatusDraft {
		return ErrInvalidState
	}
	j.Status = StatusAvailabilityCheck
	j.UpdatedAt = time.Now()
	return nil
}

// BlockSeats は全チケットのブロック成功後に SEATS_BLOCKED へ遷移する
func (j *Journey) BlockSeats() error {
	if j.Status != StatusAvailabilityCheck {
		return ErrInvalidState
	}
	j.Status = StatusSeatsBlocked
	j.UpdatedAt = time.Now()
	return nil
}

// StartPayment は決済待ちへ遷移する
func (j *Journey) StartPayment() error {
	if j.Status != StatusSeatsBlocked {
		return ErrInvalidState
	}
	j.Status = StatusPaymentPending
	j.UpdatedAt = time.Now()
	return nil
}

// Confirm はジャーニーを確定する
// SEATS_BLOCKED または PAYMENT_PENDING からのみ遷移可能
func (j *Journey) Confirm() error {
	if j.Status != StatusSeatsBlocked && j.Status != StatusPaymentPending {
		return ErrInvalidState
	}
	for _, t := range j.Tickets {
		if t.Status != TicketStatusBlocked {
			return ErrTicketNotBlocked
		}
		if t.IsBlockExpired() {
			return ErrBlockExpired
		}
	}
	now := time.Now()
	j.Status = StatusConfirmed
	j.ConfirmedAt = &now
	j.UpdatedAt = now
	return nil
}

// FailPayment は決済失敗を記録する
func (j *Journey) FailPayment() error {
	if j.Status != StatusPaymentPending && j.Status != StatusSeatsBlocked {
		return ErrInvalidState
	}
	j.Status = StatusPaymentFailed
	j.UpdatedAt = time.Now()
	return nil
}

// Cancel は非終端状態からキャンセルへ遷移する
func (j *Journey) Cancel() error {
	if j.Status.IsTerminal() {
		return ErrInvalidState
	}
	now := time.Now()
	j.Status = StatusCancelled
	j.CancelledAt = &now
	j.UpdatedAt = now
	return nil
}

// CancelConfirmed は確定済み予約のキャンセルを記録する
// 在庫・ロックには触れない。返金は別プロセスで処理される
func (j *Journey) CancelConfirmed() error {
	if j.Status != StatusConfirmed {
		return ErrInvalidState
	}
	now := time.Now()
	j.Status = StatusCancelled
	j.CancelledAt = &now
	j.UpdatedAt = now
	return nil
}

// IsConsistent はジャーニー状態がチケット状態の和と整合しているかを返す
// 例: CONFIRMED はすべてのチケットが CONFIRMED の場合のみ
func (j *Journey) IsConsistent() bool {
	if j.Status != StatusConfirmed {
		return true
	}
	for _, t := range j.Tickets {
		if t.Status != TicketStatusConfirmed {
			return false
		}
	}
	return true
}

// Validate はジャーニーの検証を行う
func (j *Journey) Validate() error {
	if j.UserID == "" {
		return ErrUserIDRequired
	}
	if j.TrainNumber == "" {
		return ErrTrainNumberRequired
	}
	if j.SourceStation == "" || j.DestinationStation == "" {
		return ErrStationsRequired
	}
	if j.JourneyDate == "" {
		return ErrJourneyDateRequired
	}
	return nil
}
