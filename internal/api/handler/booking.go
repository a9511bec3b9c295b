package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-train-seat-reservation/internal/application"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/idempotency"
	"github.com/sanosuguru/go-train-seat-reservation/internal/domain/seatlock"
)

type BookingHandler struct {
	service BookingServiceInterface
	runner  IdempotencyRunnerInterface
}

func NewBookingHandler(s BookingServiceInterface, r IdempotencyRunnerInterface) *BookingHandler {
	return &BookingHandler{service: s, runner: r}
}

type PassengerRequest struct {
	Name   string `json:"name" validate:"required" example:"山田太郎"`
	Age    int    `json:"age" validate:"required,min=1,max=150" example:"34"`
	Gender string `json:"gender" validate:"required,oneof=MALE FEMALE OTHER" example:"MALE"`
}

type SeatRequest struct {
	CoachNumber string           `json:"coach_number" validate:"required" example:"A1"`
	SeatNumber  string           `json:"seat_number" validate:"required" example:"21"`
	Passenger   PassengerRequest `json:"passenger" validate:"required"`
}

type BlockSeatsRequest struct {
	TrainNumber        string        `json:"train_number" validate:"required" example:"12345"`
	JourneyDate        string        `json:"journey_date" validate:"required,journeydate" example:"2026-09-15"`
	SourceStation      string        `json:"source_station" validate:"required" example:"NDLS"`
	DestinationStation string        `json:"destination_station" validate:"required" example:"BCT"`
	Seats              []SeatRequest `json:"seats" validate:"required,min=1,max=6,dive"`
}

type TicketResponse struct {
	TicketID       string     `json:"ticket_id,omitempty"`
	PNR            string     `json:"pnr,omitempty" example:"PNR4F7A2C91B3"`
	CoachNumber    string     `json:"coach_number" example:"A1"`
	SeatNumber     string     `json:"seat_number" example:"21"`
	PassengerName  string     `json:"passenger_name" example:"山田太郎"`
	Fare           int64      `json:"fare" example:"125000"`
	Status         string     `json:"status" example:"blocked"`
	BlockExpiresAt *time.Time `json:"block_expires_at,omitempty"`
}

type BlockSeatsResponse struct {
	BookingReference string           `json:"booking_reference" example:"BLK-20260915-4F7A2C"`
	Status           string           `json:"status" example:"seats_blocked"`
	TotalFare        int64            `json:"total_fare" example:"250000"`
	Currency         string           `json:"currency" example:"INR"`
	BlockExpiresAt   time.Time        `json:"block_expires_at"`
	Tickets          []TicketResponse `json:"tickets"`
	UnavailableSeats []string         `json:"unavailable_seats,omitempty"`
}

type InitiatePaymentRequest struct {
	BookingReference     string `json:"booking_reference" validate:"required" example:"BLK-20260915-4F7A2C"`
	PaymentTransactionID string `json:"payment_transaction_id" validate:"required" example:"pay_9f8e7d6c"`
	Amount               int64  `json:"amount" validate:"required,min=1" example:"250000"`
}

type InitiatePaymentResponse struct {
	BookingReference string    `json:"booking_reference"`
	Status           string    `json:"status" example:"payment_pending"`
	TransactionID    string    `json:"transaction_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency" example:"INR"`
	PaymentExpiresAt time.Time `json:"payment_expires_at"`
	BlockExpiresAt   time.Time `json:"block_expires_at"`
}

type ConfirmBookingRequest struct {
	BookingReference     string `json:"booking_reference" validate:"required" example:"BLK-20260915-4F7A2C"`
	PaymentTransactionID string `json:"payment_transaction_id" validate:"required" example:"pay_9f8e7d6c"`
	Amount               int64  `json:"amount" validate:"required,min=1" example:"250000"`
}

type ConfirmBookingResponse struct {
	BookingReference string           `json:"booking_reference"`
	Status           string           `json:"status" example:"confirmed"`
	TotalFare        int64            `json:"total_fare"`
	ConfirmedAt      time.Time        `json:"confirmed_at"`
	Tickets          []TicketResponse `json:"tickets"`
}

type ReleaseSeatsRequest struct {
	BookingReference string `json:"booking_reference" validate:"required" example:"BLK-20260915-4F7A2C"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500" example:"予定変更"`
}

type CancellationResponse struct {
	CancellationID   string `json:"cancellation_id"`
	BookingReference string `json:"booking_reference"`
	Status           string `json:"status" example:"cancelled"`
	RefundStatus     string `json:"refund_status,omitempty" example:"refund_pending"`
	RefundAmount     int64  `json:"refund_amount,omitempty"`
}

type TransactionResponse struct {
	TransactionID string     `json:"transaction_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type BookingDetailsResponse struct {
	BookingReference   string                `json:"booking_reference"`
	UserID             string                `json:"user_id"`
	TrainNumber        string                `json:"train_number"`
	SourceStation      string                `json:"source_station"`
	DestinationStation string                `json:"destination_station"`
	JourneyDate        string                `json:"journey_date"`
	Status             string                `json:"status"`
	TotalFare          int64                 `json:"total_fare"`
	ConfirmedAt        *time.Time            `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time            `json:"cancelled_at,omitempty"`
	Tickets            []TicketResponse      `json:"tickets"`
	Transactions       []TransactionResponse `json:"transactions,omitempty"`
}

// Block godoc
// @Summary 座席をブロック
// @Description 決済までの短時間、指定座席を仮押さえします（既定3分）
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param X-Idempotency-Key header string true "冪等性キー"
// @Param request body BlockSeatsRequest true "ブロック対象"
// @Success 201 {object} BlockSeatsResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 401 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "座席が確保できない"
// @Router /seats/block [post]
func (h *BookingHandler) Block(c echo.Context) error {
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "ユーザーIDが必要です")
	}
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "冪等性キーが必要です")
	}

	var req BlockSeatsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	payload, err := json.Marshal(struct {
		UserID string `json:"user_id"`
		BlockSeatsRequest
	}{UserID: userID, BlockSeatsRequest: req})
	if err != nil {
		return err
	}

	result, err := h.runner.Run(c.Request().Context(), key, idempotency.OpBlockSeats, payload, func(ctx context.Context) ([]byte, string, error) {
		input := &application.BlockSeatsInput{
			UserID:             userID,
			TrainNumber:        req.TrainNumber,
			JourneyDate:        req.JourneyDate,
			SourceStation:      req.SourceStation,
			DestinationStation: req.DestinationStation,
		}
		for _, s := range req.Seats {
			input.Seats = append(input.Seats, application.SeatSelection{
				CoachNumber: s.CoachNumber,
				SeatNumber:  s.SeatNumber,
				Passenger: application.PassengerInput{
					Name:   s.Passenger.Name,
					Age:    s.Passenger.Age,
					Gender: s.Passenger.Gender,
				},
			})
		}
		blocked, err := h.service.BlockSeats(ctx, input)
		if err != nil {
			return nil, "", err
		}
		if !blocked.Blocked() {
			return nil, "", fmt.Errorf("%w: %s",
				seatlock.ErrSeatUnavailable, strings.Join(blocked.UnavailableSeats, ", "))
		}
		body, err := json.Marshal(toBlockSeatsResponse(blocked))
		if err != nil {
			return nil, "", err
		}
		return body, blocked.BookingReference, nil
	})
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusCreated, result.Response)
}

// InitiatePayment godoc
// @Summary 決済を開始
// @Description ブロック済み予約の決済開始を記録し、決済完了までブロック期限を延長します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-Idempotency-Key header string true "冪等性キー"
// @Param request body InitiatePaymentRequest true "決済開始情報"
// @Success 201 {object} InitiatePaymentResponse
// @Failure 400 {object} api.ErrorResponse "運賃不一致"
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "未完了の決済が既に存在"
// @Failure 410 {object} api.ErrorResponse "ブロック期限切れ"
// @Router /bookings/payment [post]
func (h *BookingHandler) InitiatePayment(c echo.Context) error {
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "冪等性キーが必要です")
	}

	var req InitiatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	result, err := h.runner.Run(c.Request().Context(), key, idempotency.OpInitiatePayment, payload, func(ctx context.Context) ([]byte, string, error) {
		initiated, err := h.service.InitiatePayment(ctx, &application.InitiatePaymentInput{
			BookingReference:     req.BookingReference,
			PaymentTransactionID: req.PaymentTransactionID,
			Amount:               req.Amount,
		})
		if err != nil {
			return nil, "", err
		}
		body, err := json.Marshal(InitiatePaymentResponse{
			BookingReference: initiated.BookingReference,
			Status:           string(initiated.Status),
			TransactionID:    initiated.TransactionID,
			Amount:           initiated.Amount,
			Currency:         initiated.Currency,
			PaymentExpiresAt: initiated.PaymentExpiresAt,
			BlockExpiresAt:   initiated.BlockExpiresAt,
		})
		if err != nil {
			return nil, "", err
		}
		return body, initiated.BookingReference, nil
	})
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusCreated, result.Response)
}

// Confirm godoc
// @Summary 予約を確定
// @Description 決済結果を受けてブロック済みの予約を確定し、PNRを採番します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-Idempotency-Key header string true "冪等性キー"
// @Param request body ConfirmBookingRequest true "決済結果"
// @Success 200 {object} ConfirmBookingResponse
// @Failure 400 {object} api.ErrorResponse "運賃不一致"
// @Failure 404 {object} api.ErrorResponse
// @Failure 410 {object} api.ErrorResponse "ブロック期限切れ"
// @Router /bookings/confirm [post]
func (h *BookingHandler) Confirm(c echo.Context) error {
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "冪等性キーが必要です")
	}

	var req ConfirmBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	result, err := h.runner.Run(c.Request().Context(), key, idempotency.OpConfirmBooking, payload, func(ctx context.Context) ([]byte, string, error) {
		confirmed, err := h.service.ConfirmBooking(ctx, &application.ConfirmBookingInput{
			BookingReference:     req.BookingReference,
			PaymentTransactionID: req.PaymentTransactionID,
			Amount:               req.Amount,
		})
		if err != nil {
			return nil, "", err
		}
		body, err := json.Marshal(ConfirmBookingResponse{
			BookingReference: confirmed.BookingReference,
			Status:           string(confirmed.Status),
			TotalFare:        confirmed.TotalFare,
			ConfirmedAt:      confirmed.ConfirmedAt,
			Tickets:          toTicketResponses(confirmed.Tickets),
		})
		if err != nil {
			return nil, "", err
		}
		return body, confirmed.BookingReference, nil
	})
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, result.Response)
}

// Release godoc
// @Summary ブロック済み座席を解放
// @Description 未確定予約の座席を解放し、在庫を戻します（冪等）
// @Tags bookings
// @Accept json
// @Produce json
// @Param request body ReleaseSeatsRequest true "解放対象"
// @Success 204 "解放済み"
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "確定済み予約は解放できない"
// @Router /seats/release [post]
func (h *BookingHandler) Release(c echo.Context) error {
	var req ReleaseSeatsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := h.service.ReleaseSeats(c.Request().Context(), req.BookingReference); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Cancel godoc
// @Summary 確定済み予約をキャンセル
// @Description 確定済み予約をキャンセルし、返金要求を発行します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-Idempotency-Key header string true "冪等性キー"
// @Param bookingId path string true "予約参照"
// @Param request body CancelBookingRequest false "キャンセル理由"
// @Success 200 {object} CancellationResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse "確定済みでない"
// @Router /bookings/{bookingId}/cancel [post]
func (h *BookingHandler) Cancel(c echo.Context) error {
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "冪等性キーが必要です")
	}

	bookingRef := c.Param("bookingId")
	var req CancelBookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	payload, err := json.Marshal(struct {
		BookingReference string `json:"booking_reference"`
		CancelBookingRequest
	}{BookingReference: bookingRef, CancelBookingRequest: req})
	if err != nil {
		return err
	}

	result, err := h.runner.Run(c.Request().Context(), key, idempotency.OpCancelBooking, payload, func(ctx context.Context) ([]byte, string, error) {
		cancelled, err := h.service.CancelBooking(ctx, bookingRef, req.Reason)
		if err != nil {
			return nil, "", err
		}
		body, err := json.Marshal(CancellationResponse{
			CancellationID:   cancelled.CancellationID,
			BookingReference: cancelled.BookingReference,
			Status:           string(cancelled.Status),
			RefundStatus:     string(cancelled.RefundStatus),
			RefundAmount:     cancelled.RefundAmount,
		})
		if err != nil {
			return nil, "", err
		}
		return body, cancelled.BookingReference, nil
	})
	if err != nil {
		return err
	}
	return c.JSONBlob(http.StatusOK, result.Response)
}

// GetByID godoc
// @Summary 予約を照会
// @Description 予約参照から予約の詳細（決済履歴込み）を取得します
// @Tags bookings
// @Produce json
// @Param bookingId path string true "予約参照"
// @Success 200 {object} BookingDetailsResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /bookings/{bookingId} [get]
func (h *BookingHandler) GetByID(c echo.Context) error {
	details, err := h.service.GetBookingDetails(c.Request().Context(), c.Param("bookingId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBookingDetailsResponse(details))
}

func toBlockSeatsResponse(r *application.BlockSeatsResult) BlockSeatsResponse {
	return BlockSeatsResponse{
		BookingReference: r.BookingReference,
		Status:           string(r.Status),
		TotalFare:        r.TotalFare,
		Currency:         r.Currency,
		BlockExpiresAt:   r.BlockExpiresAt,
		Tickets:          toTicketResponses(r.Tickets),
		UnavailableSeats: r.UnavailableSeats,
	}
}

func toTicketResponses(tickets []application.TicketView) []TicketResponse {
	out := make([]TicketResponse, len(tickets))
	for i, t := range tickets {
		out[i] = TicketResponse{
			TicketID:       t.TicketID,
			PNR:            t.PNR,
			CoachNumber:    t.CoachNumber,
			SeatNumber:     t.SeatNumber,
			PassengerName:  t.PassengerName,
			Fare:           t.Fare,
			Status:         string(t.Status),
			BlockExpiresAt: t.BlockExpiresAt,
		}
	}
	return out
}

func toBookingDetailsResponse(d *application.BookingDetails) BookingDetailsResponse {
	j := d.Journey
	resp := BookingDetailsResponse{
		BookingReference:   j.BookingReference,
		UserID:             j.UserID,
		TrainNumber:        j.TrainNumber,
		SourceStation:      j.SourceStation,
		DestinationStation: j.DestinationStation,
		JourneyDate:        j.JourneyDate,
		Status:             string(j.Status),
		TotalFare:          j.TotalFare,
		ConfirmedAt:        j.ConfirmedAt,
		CancelledAt:        j.CancelledAt,
		Tickets:            make([]TicketResponse, 0, len(j.Tickets)),
	}
	for _, t := range j.Tickets {
		resp.Tickets = append(resp.Tickets, TicketResponse{
			TicketID:       t.ID,
			PNR:            t.PNR,
			CoachNumber:    t.CoachNumber,
			SeatNumber:     t.SeatNumber,
			PassengerName:  t.Passenger.Name,
			Fare:           t.Fare,
			Status:         string(t.Status),
			BlockExpiresAt: t.BlockExpiresAt,
		})
	}
	for _, txn := range d.Transactions {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			TransactionID: txn.TransactionID,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			Status:        string(txn.Status),
			FailureReason: txn.FailureReason,
			CompletedAt:   txn.CompletedAt,
		})
	}
	return resp
}
