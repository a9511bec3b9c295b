package handler

import (
	"context"
	"time"

	"github.com/sanosuguru/go-train-seat-reservation/internal/application"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/catalog"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
)

// LockServiceInterface は座席ロックサービスのインターフェース
type LockServiceInterface interface {
	Acquire(ctx context.Context, keys []seatlock.SeatKey, holder string, ttl time.Duration) (*application.AcquireResult, error)
	ReleaseHolder(ctx context.Context, holder string) error
	ExtendHolder(ctx context.Context, holder string, ttl time.Duration) (time.Time, error)
}

// BookingServiceInterface は予約サービスのインターフェース
type BookingServiceInterface interface {
	BlockSeats(ctx context.Context, input *application.BlockSeatsInput) (*application.BlockSeatsResult, error)
	InitiatePayment(ctx context.Context, input *application.InitiatePaymentInput) (*application.InitiatePaymentResult, error)
	ConfirmBooking(ctx context.Context, input *application.ConfirmBookingInput) (*application.ConfirmBookingResult, error)
	ReleaseSeats(ctx context.Context, bookingReference string) error
	CancelBooking(ctx context.Context, bookingReference, reason string) (*application.CancellationResult, error)
	GetBookingDetails(ctx context.Context, bookingReference string) (*application.BookingDetails, error)
}

// AvailabilityServiceInterface は空席照会サービスのインターフェース
type AvailabilityServiceInterface interface {
	CheckAvailability(ctx context.Context, trainNumber, journeyDate, coachClass string) (*application.TrainAvailability, error)
	GetTrain(ctx context.Context, trainNumber string) (*catalog.Train, []*catalog.Coach, error)
}

// IdempotencyRunnerInterface は冪等実行器のインターフェース
type IdempotencyRunnerInterface interface {
	Run(ctx context.Context, key string, op idempotency.OperationType, payload []byte, fn application.IdempotentFunc) (*application.RunResult, error)
}
